package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"diaglog"
	"diaglog/internal/testutil"
)

type cliEnv struct {
	configPath string
	logPath    string
}

// newCLIEnv writes a config pointing at a fresh log with a free-space
// threshold low enough for any test machine.
func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	dir := t.TempDir()
	env := cliEnv{
		configPath: filepath.Join(dir, "config.yaml"),
		logPath:    testutil.TempLogPath(t, "diaglog.txt"),
	}
	data := fmt.Sprintf("log_path: %q\nmin_free_space: 1KiB\n", env.logPath)
	if err := os.WriteFile(env.configPath, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return env
}

func (e cliEnv) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// seed writes two sessions directly through the library.
func (e cliEnv) seed(t *testing.T) {
	t.Helper()
	l, err := diaglog.New(diaglog.Options{
		LogPath:      e.logPath,
		AppName:      "seed",
		StartSession: testutil.Ptr(false),
		Logger:       testutil.DiscardLogger(),
		DisableWatch: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer l.Close()
	if err := l.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	l.StartSession()
	l.LogMessage("older message")
	l.StartSession()
	l.LogMessage("newer message")
	l.LogError(errors.New("newer failure"), "")
	l.Flush()
}

func TestSessionsListsNewestFirst(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t)

	out, err := env.execute(t, "sessions")
	if err != nil {
		t.Fatalf("sessions error = %v\n%s", err, out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("sessions output has %d lines:\n%s", len(lines), out)
	}
	// Newest session: one error, its own debug message.
	if fields := strings.Fields(lines[1]); fields[0] != "0" || fields[len(fields)-3] != "1" {
		t.Fatalf("newest row = %q", lines[1])
	}
	if fields := strings.Fields(lines[2]); fields[0] != "1" || fields[len(fields)-3] != "0" {
		t.Fatalf("oldest row = %q", lines[2])
	}
}

func TestShowFiltersByClassAndSession(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t)

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
	}{
		{
			name: "everything",
			args: []string{"show"},
			want: []string{"older message", "newer message", "ERROR: newer failure", "App: seed"},
		},
		{
			name:    "errors only",
			args:    []string{"show", "--class", "error"},
			want:    []string{"ERROR: newer failure"},
			notWant: []string{"older message", "newer message"},
		},
		{
			name:    "oldest session",
			args:    []string{"show", "--session", "1"},
			want:    []string{"older message"},
			notWant: []string{"newer message"},
		},
		{
			name: "raw fragments",
			args: []string{"show", "--raw", "--class", "debug"},
			want: []string{`<span class="log-message">older message</span>`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := env.execute(t, tt.args...)
			if err != nil {
				t.Fatalf("show error = %v\n%s", err, out)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("output contains %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestShowRejectsBadInput(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t)

	if _, err := env.execute(t, "show", "--class", "verbose"); err == nil {
		t.Fatal("show --class verbose succeeded")
	}
	if _, err := env.execute(t, "show", "--session", "9"); err == nil {
		t.Fatal("show --session 9 succeeded")
	}
}

func TestClearRemovesLog(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t)

	out, err := env.execute(t, "clear")
	if err != nil {
		t.Fatalf("clear error = %v\n%s", err, out)
	}
	if _, err := os.Stat(env.logPath); !os.IsNotExist(err) {
		t.Fatalf("log still present after clear: %v", err)
	}
	out, err = env.execute(t, "sessions")
	if err != nil {
		t.Fatalf("sessions error = %v", err)
	}
	if strings.Count(strings.TrimSpace(out), "\n") != 0 {
		t.Fatalf("sessions after clear:\n%s", out)
	}
}

func TestRunRecordsCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	env := newCLIEnv(t)

	if out, err := env.execute(t, "run", "sh", "-c", "echo from-child"); err != nil {
		t.Fatalf("run error = %v\n%s", err, out)
	}
	out, err := env.execute(t, "show", "--class", "debug")
	if err != nil {
		t.Fatalf("show error = %v", err)
	}
	if !strings.Contains(out, "sh from-child") {
		t.Fatalf("captured line missing:\n%s", out)
	}
	if !strings.Contains(out, "command sh exited with status 0") {
		t.Fatalf("exit status missing:\n%s", out)
	}

	if _, err := env.execute(t, "run", "--session=false", "sh", "-c", "exit 2"); err == nil {
		t.Fatal("run of failing command succeeded")
	}
	out, _ = env.execute(t, "sessions")
	if got := strings.Count(strings.TrimSpace(out), "\n"); got != 1 {
		t.Fatalf("want one session after run --session=false:\n%s", out)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "nested", "config.yaml")
	logPath := filepath.Join(dir, "logs", "diag.txt")
	env := cliEnv{configPath: cfgPath, logPath: logPath}

	out, err := env.execute(t, "--log", logPath, "config", "init")
	if err != nil {
		t.Fatalf("config init error = %v\n%s", err, out)
	}
	if !strings.Contains(testutil.ReadFile(t, cfgPath), "log_path: "+logPath) {
		t.Fatalf("config file does not carry the log path:\n%s", testutil.ReadFile(t, cfgPath))
	}
	if _, err := env.execute(t, "config", "init"); err == nil {
		t.Fatal("second config init succeeded without --force")
	}
	if _, err := env.execute(t, "config", "init", "--force"); err != nil {
		t.Fatalf("config init --force error = %v", err)
	}

	out, err = env.execute(t, "config", "show")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	for _, want := range []string{"max_size:        2.0 MiB", "probe_every:     5"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q:\n%s", want, out)
		}
	}
}

func TestTailRequiresAddress(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.execute(t, "tail")
	if err == nil || !strings.Contains(err.Error(), "no live tail address") {
		t.Fatalf("tail error = %v", err)
	}
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{
			name: "message with prefix",
			line: `<p class="debug"><span class="log-date">2026-01-02 03:04:05</span><span class="log-separator"> | </span><span class="log-prefix">main.go:7 main.main</span><span class="log-message">a &lt;b&gt;</span></p>`,
			want: "2026-01-02 03:04:05 | main.go:7 main.main a <b>",
		},
		{
			name: "message without prefix",
			line: `<p class="debug"><span class="log-date">2026-01-02 03:04:05</span><span class="log-separator"> | </span><span class="log-message">plain</span></p>`,
			want: "2026-01-02 03:04:05 | plain",
		},
		{
			name: "multi-line crash",
			line: `<p class="error"><span class="log-message">CRASH: x<br>frame 1</span></p>`,
			want: "CRASH: x\n    frame 1",
		},
		{
			name: "header",
			line: `<summary class="system session-header"><p><span>Date: </span>2026-01-02 03:04:05</p><p><span>Go: </span>go1.26</p></summary>`,
			want: "Date: 2026-01-02 03:04:05  Go: go1.26",
		},
		{
			name: "legacy text",
			line: "just text",
			want: "just text",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := plainText(tt.line); got != tt.want {
				t.Fatalf("plainText() = %q, want %q", got, tt.want)
			}
		})
	}
}
