package session

import (
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"diaglog/internal/entry"
)

// Store is the part of the log store the manager needs.
type Store interface {
	Append(entry.Entry)
	ReadAll() ([]byte, bool)
}

// FreeSpaceFunc reports free bytes on the volume holding path.
type FreeSpaceFunc func(path string) (uint64, error)

// Options configures a Manager.
type Options struct {
	AppName    string
	AppVersion string
	// LogPath locates the volume whose free space is recorded.
	LogPath   string
	FreeSpace FreeSpaceFunc
	Extra     []entry.Field
	Logger    *slog.Logger
	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Manager appends session markers and reads sessions back.
type Manager struct {
	store Store
	opts  Options
}

// New creates a Manager over store.
func New(store Store, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{store: store, opts: opts}
}

// StartSession appends a SessionStart marker and returns its metadata.
func (m *Manager) StartSession() entry.Metadata {
	meta := m.Metadata()
	m.store.Append(entry.SessionStart{Meta: meta})
	m.opts.Logger.Debug("[DEBUG-SESSION] session started", "session", meta.SessionID)
	return meta
}

// Sessions reads the log and returns its sessions, newest first. It returns
// nil when the log cannot be read.
func (m *Manager) Sessions() []Session {
	data, ok := m.store.ReadAll()
	if !ok {
		return nil
	}
	return Parse(string(data))
}

// Metadata collects the environment description for a new session.
func (m *Manager) Metadata() entry.Metadata {
	meta := entry.Metadata{
		StartedAt:   m.opts.Now(),
		SessionID:   uuid.NewString(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
		GoVersion:   runtime.Version(),
		AppName:     m.opts.AppName,
		AppVersion:  m.opts.AppVersion,
		User:        currentUser(),
		ProcessID:   os.Getpid(),
		ExtraFields: m.opts.Extra,
	}
	if host, err := os.Hostname(); err == nil {
		meta.Host = host
	}
	if exe, err := os.Executable(); err == nil {
		meta.Executable = filepath.Base(exe)
	}
	if m.opts.FreeSpace != nil && m.opts.LogPath != "" {
		free, err := m.opts.FreeSpace(m.opts.LogPath)
		if err != nil {
			m.opts.Logger.Debug("[DEBUG-SESSION] free space unavailable", "path", m.opts.LogPath, "error", err)
		} else {
			meta.FreeDisk = humanize.IBytes(free)
		}
	}
	return meta
}

var invalidUsernameRune = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// sanitizeUsername keeps user names safe to show in a header line.
func sanitizeUsername(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return invalidUsernameRune.ReplaceAllString(value, "_")
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return sanitizeUsername(u.Username)
	}
	for _, key := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return sanitizeUsername(v)
		}
	}
	return sanitizeUsername("")
}
