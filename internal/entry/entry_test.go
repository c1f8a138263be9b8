package entry

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var fixedTime = time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)

type describedError struct{}

func (describedError) Error() string       { return "testCase" }
func (describedError) Description() string { return "<b>described by type</b>" }

func TestMessageFragment(t *testing.T) {
	frag := Message{At: fixedTime, Text: "<b>hello</b>"}.Fragment()
	want := `<p class="debug"><span class="log-date">2026-03-01 12:30:45</span><span class="log-separator"> | </span>` +
		`<span class="log-message">&lt;b&gt;hello&lt;/b&gt;</span></p>` + "\n"
	if frag.Text != want {
		t.Fatalf("fragment = %q, want %q", frag.Text, want)
	}
	if frag.Class != ClassDebug {
		t.Fatalf("class = %q, want %q", frag.Class, ClassDebug)
	}
}

func TestFragmentsAreSingleLine(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
	}{
		{name: "message", entry: Message{At: fixedTime, Text: "a\nb\r\nc\n"}},
		{name: "error", entry: Error{At: fixedTime, Err: errors.New("x\ny")}},
		{name: "captured", entry: CapturedLine{At: fixedTime, Source: "make", Text: "line"}},
		{name: "crash", entry: Crash{At: fixedTime, Description: "boom", Stack: "goroutine 1\nmain.main()\n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := tt.entry.Fragment().Text
			if strings.Count(text, "\n") != 1 || !strings.HasSuffix(text, "\n") {
				t.Fatalf("fragment is not exactly one terminated line: %q", text)
			}
		})
	}
}

func TestErrorFragment(t *testing.T) {
	tests := []struct {
		name string
		err  Error
		want string
	}{
		{
			name: "explicit description",
			err:  Error{At: fixedTime, Err: errors.New("testCase"), Description: "<b>example description</b>"},
			want: `<span class="log-message">ERROR: testCase | &lt;b&gt;example description&lt;/b&gt;</span>`,
		},
		{
			name: "describer",
			err:  Error{At: fixedTime, Err: describedError{}},
			want: `<span class="log-message">ERROR: testCase | &lt;b&gt;described by type&lt;/b&gt;</span>`,
		},
		{
			name: "no description",
			err:  Error{At: fixedTime, Err: errors.New("plain")},
			want: `<span class="log-message">ERROR: plain</span>`,
		},
		{
			name: "nil error",
			err:  Error{At: fixedTime},
			want: `ERROR: &lt;nil&gt;`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag := tt.err.Fragment()
			if frag.Class != ClassError {
				t.Fatalf("class = %q, want error", frag.Class)
			}
			if !strings.Contains(frag.Text, tt.want) {
				t.Fatalf("fragment %q does not contain %q", frag.Text, tt.want)
			}
		})
	}
}

func TestCapturedLinePrefix(t *testing.T) {
	frag := CapturedLine{At: fixedTime, Source: "go<test>", Text: "ok"}.Fragment()
	if !strings.Contains(frag.Text, `<span class="log-prefix">go&lt;test&gt;</span>`) {
		t.Fatalf("missing escaped source prefix: %q", frag.Text)
	}
	if frag.Class != ClassDebug {
		t.Fatalf("class = %q, want debug", frag.Class)
	}
}

func TestCrashFragment(t *testing.T) {
	frag := Crash{At: fixedTime, Description: "Uncaught panic", Stack: "goroutine 1 [running]:\nmain.main()\n"}.Fragment()
	if frag.Class != ClassError {
		t.Fatalf("class = %q, want error", frag.Class)
	}
	if !strings.Contains(frag.Text, "CRASH: Uncaught panic<br>goroutine 1 [running]:<br>main.main()") {
		t.Fatalf("unexpected crash text %q", frag.Text)
	}
}

func TestSessionStartFragment(t *testing.T) {
	frag := SessionStart{Meta: Metadata{
		StartedAt: fixedTime,
		SessionID: "abc",
		Platform:  "linux/amd64",
		AppName:   "demo",
		ProcessID: 42,
	}}.Fragment()
	if !strings.HasPrefix(frag.Text, SessionDelimiter) {
		t.Fatalf("session start must begin with the delimiter: %q", frag.Text)
	}
	if !IsSessionHeader(frag.Text) {
		t.Fatalf("session start missing header marker: %q", frag.Text)
	}
	header := strings.TrimPrefix(frag.Text, SessionDelimiter)
	if strings.Count(header, "\n") != 1 {
		t.Fatalf("header should be one line: %q", header)
	}
	for _, want := range []string{"Date: </span>2026-03-01 12:30:45", "Session: </span>abc", "PID: </span>42", "App: </span>demo"} {
		if !strings.Contains(header, want) {
			t.Errorf("header missing %q: %q", want, header)
		}
	}
	if c, ok := Classify(strings.TrimRight(header, "\n")); !ok || c != ClassSystem {
		t.Fatalf("Classify(header) = %q, %v; want system", c, ok)
	}
}

func TestRenderingIsDeterministic(t *testing.T) {
	e := Error{At: fixedTime, Caller: "main.go:10 main.run", Err: errors.New("x"), Description: "y"}
	if e.Fragment() != e.Fragment() {
		t.Fatal("rendering the same entry twice produced different fragments")
	}
}
