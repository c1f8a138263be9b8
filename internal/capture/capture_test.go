package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"testing"

	"diaglog/internal/entry"
	"diaglog/internal/logstore"
	"diaglog/internal/testutil"
)

type recordingSink struct {
	mu    sync.Mutex
	lines []entry.CapturedLine
}

func (s *recordingSink) Append(e entry.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cl, ok := e.(entry.CapturedLine); ok {
		s.lines = append(s.lines, cl)
	}
}

func (s *recordingSink) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	for i, l := range s.lines {
		out[i] = l.Text
	}
	return out
}

// runPump drives the pump over a private pipe and returns once everything
// written by write has been forwarded.
func runPump(t *testing.T, c *Capturer, echo io.Writer, write func(w io.Writer)) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() error = %v", err)
	}
	defer r.Close()
	c.logger = c.newReporter(io.Discard)
	c.startPump(context.Background(), r, echo)
	write(w)
	if err := w.Close(); err != nil {
		t.Fatalf("close pipe: %v", err)
	}
	c.wg.Wait()
}

func TestStartDisabledUnderTest(t *testing.T) {
	c := New(&recordingSink{}, Options{})
	if err := c.Start(); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Start() error = %v, want ErrDisabled", err)
	}
	if c.Active() {
		t.Fatal("capture active after disabled Start")
	}
	if c.Original() != os.Stdout {
		t.Fatal("Original() should be os.Stdout while inactive")
	}
}

func TestStopBeforeStartPreventsStart(t *testing.T) {
	c := New(&recordingSink{}, Options{Force: true})
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := c.Start(); !errors.Is(err, ErrStopped) {
		t.Fatalf("Start() after Stop error = %v, want ErrStopped", err)
	}
}

func TestPumpForwardsLinesAndEchoes(t *testing.T) {
	sink := &recordingSink{}
	c := New(sink, Options{})
	var echo bytes.Buffer

	runPump(t, c, &echo, func(w io.Writer) {
		fmt.Fprint(w, "first line\n\nsecond line\r\nthird")
	})

	want := []string{"first line", "second line", "third"}
	got := sink.texts()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("forwarded %q, want %q", got, want)
	}
	if echo.String() != "first line\n\nsecond line\r\nthird" {
		t.Fatalf("echo = %q", echo.String())
	}
	for _, l := range sink.lines {
		if l.Source != "" {
			t.Fatalf("host stream line has source %q", l.Source)
		}
		if l.Fragment().Class != entry.ClassDebug {
			t.Fatalf("captured line class = %q, want debug", l.Fragment().Class)
		}
	}
}

func TestPumpStoresEscapedDebugLine(t *testing.T) {
	store, err := logstore.New(logstore.Options{
		Path:         testutil.TempLogPath(t, "capture.log"),
		Logger:       testutil.DiscardLogger(),
		DisableWatch: true,
	})
	if err != nil {
		t.Fatalf("logstore.New() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	runPump(t, New(store, Options{}), io.Discard, func(w io.Writer) {
		fmt.Fprintln(w, "<b>UUID</b>")
	})
	data, ok := store.ReadAll()
	if !ok {
		t.Fatal("ReadAll() reported failure")
	}
	text := string(data)
	if strings.Contains(text, "<b>") {
		t.Fatalf("markup stored unescaped: %q", text)
	}
	debug := entry.FilterLines(text, entry.ClassDebug)
	if len(debug) != 1 || !strings.Contains(debug[0], "&lt;b&gt;UUID&lt;/b&gt;") {
		t.Fatalf("debug lines = %q", debug)
	}
}

func TestPumpJoinsLinesSplitAcrossChunks(t *testing.T) {
	sink := &recordingSink{}
	c := New(sink, Options{ChunkSize: 4})

	runPump(t, c, io.Discard, func(w io.Writer) {
		fmt.Fprint(w, "a line longer than one chunk\nshort\n")
	})

	got := sink.texts()
	if len(got) != 2 || got[0] != "a line longer than one chunk" || got[1] != "short" {
		t.Fatalf("forwarded %q", got)
	}
}

func TestPumpDropsInvalidUTF8(t *testing.T) {
	sink := &recordingSink{}
	c := New(sink, Options{})
	report := &testutil.LogBuffer{}
	c.opts.Report = report

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	c.logger = c.newReporter(report)
	c.startPump(context.Background(), r, io.Discard)
	_, _ = w.Write([]byte("ok\n\xff\xfe bad\nafter\n"))
	_ = w.Close()
	c.wg.Wait()

	got := sink.texts()
	if strings.Join(got, "|") != "ok|after" {
		t.Fatalf("forwarded %q", got)
	}
	if !strings.Contains(report.String(), ErrDecode.Error()) {
		t.Fatalf("decode failure not reported: %q", report.String())
	}
}

func TestPumpKeepsMultibyteRunesAcrossChunks(t *testing.T) {
	sink := &recordingSink{}
	c := New(sink, Options{ChunkSize: 3})

	runPump(t, c, io.Discard, func(w io.Writer) {
		fmt.Fprint(w, "héllo wörld ✓\n")
	})

	if got := sink.texts(); len(got) != 1 || got[0] != "héllo wörld ✓" {
		t.Fatalf("forwarded %q", got)
	}
}

type panicSink struct{ calls int }

func (p *panicSink) Append(entry.Entry) {
	p.calls++
	if p.calls == 1 {
		panic("sink exploded")
	}
}

func TestPumpSurvivesSinkPanic(t *testing.T) {
	sink := &panicSink{}
	c := New(sink, Options{})
	report := &testutil.LogBuffer{}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	c.logger = c.newReporter(report)
	c.startPump(context.Background(), r, io.Discard)
	fmt.Fprint(w, "boom\n")
	// Give the pump a separate read for the second line.
	testutil.WaitFor(t, testTimeout, "first line to be handled", func() bool {
		return strings.Contains(report.String(), "sink exploded")
	})
	fmt.Fprint(w, "fine\n")
	_ = w.Close()
	c.wg.Wait()

	if sink.calls != 2 {
		t.Fatalf("sink calls = %d, want 2", sink.calls)
	}
}

func TestStartRedirectsStandardStreams(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("descriptor redirection is exercised on unix only")
	}
	sink := &recordingSink{}
	c := New(sink, Options{Force: true, Report: io.Discard})
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
	if c.Original() == os.Stdout {
		t.Fatal("Original() should be the preserved stdout while active")
	}

	fmt.Fprintln(os.Stdout, "captured via stdout")
	fmt.Fprintln(os.Stderr, "captured via stderr")

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	got := strings.Join(sink.texts(), "|")
	if !strings.Contains(got, "captured via stdout") || !strings.Contains(got, "captured via stderr") {
		t.Fatalf("forwarded %q", got)
	}
	if c.Active() {
		t.Fatal("capture still active after Stop")
	}
}
