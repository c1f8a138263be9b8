package session

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"diaglog/internal/entry"
)

type memStore struct {
	mu     sync.Mutex
	data   strings.Builder
	broken bool
}

func (s *memStore) Append(e entry.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.WriteString(e.Fragment().Text)
}

func (s *memStore) ReadAll() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return nil, false
	}
	return []byte(s.data.String()), true
}

func fixedNow() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

func TestSessionsNewestFirst(t *testing.T) {
	store := &memStore{}
	m := New(store, Options{Now: fixedNow})

	m.StartSession()
	store.Append(entry.NewMessage("first", ""))
	m.StartSession()
	store.Append(entry.NewMessage("second", ""))

	sessions := m.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if !strings.Contains(sessions[0].Body, "second") || strings.Contains(sessions[0].Body, "first") {
		t.Fatalf("newest session body = %q", sessions[0].Body)
	}
	if !strings.Contains(sessions[1].Body, "first") {
		t.Fatalf("older session body = %q", sessions[1].Body)
	}
	for _, s := range sessions {
		if s.Legacy {
			t.Fatal("structured session reported as legacy")
		}
		if s.Title != "2026-03-04 05:06:07" {
			t.Fatalf("Title = %q", s.Title)
		}
		if !entry.IsSessionHeader(s.Header) {
			t.Fatalf("Header = %q", s.Header)
		}
	}
}

func TestLegacyContent(t *testing.T) {
	legacy := "old plain line one\nold plain line two\n"
	store := &memStore{}
	store.data.WriteString(legacy)
	m := New(store, Options{Now: fixedNow})
	m.StartSession()
	store.Append(entry.NewMessage("new", ""))

	sessions := m.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	old := sessions[1]
	if !old.Legacy || old.Title != "old plain line one" || old.Header != "" {
		t.Fatalf("legacy session = %+v", old)
	}
	if old.Text() != legacy {
		t.Fatalf("legacy Text() = %q", old.Text())
	}
}

func TestParseOnlyLegacy(t *testing.T) {
	sessions := Parse("\n\nhello\nworld")
	if len(sessions) != 1 || !sessions[0].Legacy || sessions[0].Title != "hello" {
		t.Fatalf("Parse() = %+v", sessions)
	}
}

func TestParseHeaderAfterPartialDelimiter(t *testing.T) {
	header := strings.TrimLeft(entry.SessionStart{Meta: entry.Metadata{StartedAt: fixedNow()}}.Fragment().Text, "\n-")
	body := entry.NewMessage("kept", "").Fragment().Text
	for _, lead := range []string{"\n", "---\n\n", "\n---\n\n"} {
		sessions := Parse(lead + header + body)
		if len(sessions) != 1 {
			t.Fatalf("lead %q: got %d sessions", lead, len(sessions))
		}
		if s := sessions[0]; s.Legacy || s.Title != "2026-03-04 05:06:07" || !strings.Contains(s.Body, "kept") {
			t.Fatalf("lead %q: session = %+v", lead, s)
		}
	}
}

func TestParseEmpty(t *testing.T) {
	for _, text := range []string{"", "\n\n---\n\n", "   \n"} {
		if got := Parse(text); len(got) != 0 {
			t.Fatalf("Parse(%q) = %+v, want none", text, got)
		}
	}
}

func TestSessionLineFilters(t *testing.T) {
	store := &memStore{}
	m := New(store, Options{Now: fixedNow})
	m.StartSession()
	store.Append(entry.NewMessage("dbg", ""))
	store.Append(entry.NewError(errors.New("bad"), "", ""))
	store.Append(entry.NewCapturedLine("captured", ""))

	s := m.Sessions()[0]
	if got := s.Errors(); len(got) != 1 || !strings.Contains(got[0], "ERROR: bad") {
		t.Fatalf("Errors() = %q", got)
	}
	if got := s.Debug(); len(got) != 2 {
		t.Fatalf("Debug() = %q", got)
	}
	if got := s.System(); len(got) != 0 {
		t.Fatalf("System() = %q, header must not be part of the body", got)
	}
}

func TestSessionsUnreadable(t *testing.T) {
	m := New(&memStore{broken: true}, Options{})
	if got := m.Sessions(); got != nil {
		t.Fatalf("Sessions() = %+v, want nil", got)
	}
}

func TestMetadata(t *testing.T) {
	m := New(&memStore{}, Options{
		AppName:    "demo",
		AppVersion: "1.2.3",
		LogPath:    "/var/log/demo.log",
		FreeSpace:  func(string) (uint64, error) { return 3 << 30, nil },
		Extra:      []entry.Field{{Name: "Build", Value: "abc"}},
		Now:        fixedNow,
	})
	meta := m.Metadata()
	if meta.SessionID == "" || meta.SessionID == m.Metadata().SessionID {
		t.Fatalf("SessionID = %q, want unique ids", meta.SessionID)
	}
	if meta.FreeDisk != "3.0 GiB" {
		t.Fatalf("FreeDisk = %q", meta.FreeDisk)
	}
	if meta.AppName != "demo" || meta.AppVersion != "1.2.3" || meta.ProcessID <= 0 {
		t.Fatalf("meta = %+v", meta)
	}
	if meta.User == "" || strings.ContainsAny(meta.User, `\@ `) {
		t.Fatalf("User = %q", meta.User)
	}
	header := entry.SessionStart{Meta: meta}.Fragment().Text
	for _, want := range []string{"demo 1.2.3", "3.0 GiB", "Build: </span>abc"} {
		if !strings.Contains(header, want) {
			t.Fatalf("header %q missing %q", header, want)
		}
	}
}

func TestMetadataFreeSpaceError(t *testing.T) {
	m := New(&memStore{}, Options{
		LogPath:   "/x",
		FreeSpace: func(string) (uint64, error) { return 0, errors.New("statfs failed") },
	})
	if got := m.Metadata().FreeDisk; got != "" {
		t.Fatalf("FreeDisk = %q, want empty", got)
	}
}

func TestSanitizeUsername(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "alice", want: "alice"},
		{name: "domain user", input: "DOMAIN\\user", want: "DOMAIN_user"},
		{name: "email", input: "user@domain.com", want: "user_domain.com"},
		{name: "empty", input: "", want: "unknown"},
		{name: "whitespace", input: "  ", want: "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeUsername(tt.input); got != tt.want {
				t.Fatalf("sanitizeUsername(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
