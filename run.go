package diaglog

import (
	"context"
	"fmt"
	"unicode/utf8"

	"diaglog/internal/capture"
	"diaglog/internal/childproc"
	"diaglog/internal/entry"
	"diaglog/internal/failsafe"
)

// RunCommand runs name with args, echoing its output to the terminal (or
// Options.CommandOutput) and logging every line as a CapturedLine prefixed
// with name. The exit status is logged as a message on success and as an
// error otherwise. Cancelling ctx kills the command.
func (l *Logger) RunCommand(ctx context.Context, name string, args ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	proc, err := childproc.Start(childproc.Config{Name: name, Args: args, Logger: l.report})
	if err != nil {
		err = fmt.Errorf("start %s: %w", name, err)
		l.store.Append(entry.NewError(err, "", name))
		return err
	}
	defer proc.Close()
	stop := context.AfterFunc(ctx, func() { _ = proc.Close() })
	defer stop()

	echo := l.opts.CommandOutput
	if echo == nil {
		echo = l.terminal()
	}

	var split streamSplitter
	proc.ReadLoop(func(stream childproc.Stream, chunk []byte) {
		if ferr := failsafe.Do("command-output", func() error {
			if _, werr := echo.Write(chunk); werr != nil {
				l.report.Warn("[WARN-CHILD] echo command output failed", "command", name, "error", werr)
			}
			for _, line := range split.feed(stream, chunk) {
				l.appendCommandLine(name, line)
			}
			return nil
		}); ferr != nil {
			l.report.Warn("[WARN-CHILD] "+ferr.Error(), "command", name)
		}
	})
	for _, rest := range split.flush() {
		l.appendCommandLine(name, rest)
	}

	waitErr := proc.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%s: %w", name, ctxErr)
		l.store.Append(entry.NewError(err, "command cancelled", name))
		return err
	}
	if waitErr != nil {
		err = fmt.Errorf("%s: %w", name, waitErr)
		l.store.Append(entry.NewError(err, fmt.Sprintf("exit status %d", proc.ExitCode()), name))
		return err
	}
	l.store.Append(entry.NewMessage(fmt.Sprintf("command %s exited with status 0", name), name))
	return nil
}

func (l *Logger) appendCommandLine(name string, line []byte) {
	if !utf8.Valid(line) {
		l.report.Warn("[WARN-CHILD] dropping command output", "command", name,
			"error", fmt.Errorf("%w: %d bytes", ErrDecode, len(line)))
		return
	}
	l.store.Append(entry.NewCapturedLine(string(line), name))
}

// streamSplitter splits each output stream on its own, so a partial stdout
// line is never joined with stderr output.
type streamSplitter [2]capture.LineSplitter

func (s *streamSplitter) feed(stream childproc.Stream, chunk []byte) [][]byte {
	return s[stream].Feed(chunk)
}

func (s *streamSplitter) flush() [][]byte {
	var rest [][]byte
	for i := range s {
		if r := s[i].Flush(); r != nil {
			rest = append(rest, r)
		}
	}
	return rest
}
