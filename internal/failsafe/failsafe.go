// Package failsafe converts faults on critical paths into reported errors.
//
// Code that runs on the host process's own output path (stream capture, the
// log writer, subscriber callbacks) must never take the process down. Do wraps
// a single operation; RunWithPanicRecovery keeps a long-lived worker alive.
package failsafe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// ErrPanic wraps every error produced from a recovered panic.
var ErrPanic = errors.New("recovered panic")

// PanicError carries the recovered value and the stack at the point of panic.
type PanicError struct {
	Op    string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: panic: %v", e.Op, e.Value)
}

func (e *PanicError) Unwrap() error { return ErrPanic }

// Do runs fn and converts a panic inside it into a *PanicError.
// Errors returned by fn are passed through unchanged.
func Do(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Op: op, Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

const (
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultMaxRetries     = 10
)

// RecoveryOptions configures RunWithPanicRecovery. Zero values use defaults:
// InitialBackoff=100ms, MaxBackoff=5s, MaxRetries=10.
type RecoveryOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxRetries bounds the number of runs. 1 means run once, no restart.
	MaxRetries int

	// Logger receives panic reports. Nil uses slog.Default().
	Logger *slog.Logger

	// OnPanic is called after each recovered panic, attempt is 1-based. May be nil.
	OnPanic func(worker string, attempt int, err *PanicError)
	// OnFatal is called once the worker is permanently stopped. May be nil.
	OnFatal func(worker string, maxRetries int)
}

func (opts RecoveryOptions) applyDefaults() RecoveryOptions {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// RunWithPanicRecovery launches fn in a goroutine tracked by wg. A panic in fn
// is reported and fn is restarted after an exponential backoff, until it
// returns normally, ctx is cancelled, or MaxRetries runs have panicked.
func RunWithPanicRecovery(ctx context.Context, name string, wg *sync.WaitGroup, fn func(ctx context.Context), opts RecoveryOptions) {
	opts = opts.applyDefaults()
	wg.Go(func() {
		runRecoveryLoop(ctx, name, fn, opts)
	})
}

func runRecoveryLoop(ctx context.Context, name string, fn func(ctx context.Context), opts RecoveryOptions) {
	delay := opts.InitialBackoff

	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		err := Do(name, func() error {
			fn(ctx)
			return nil
		})
		var pe *PanicError
		if !errors.As(err, &pe) || ctx.Err() != nil {
			return
		}

		opts.Logger.Error("[ERROR-PANIC] worker recovered from panic",
			"worker", name,
			"panic", pe.Value,
			"attempt", attempt+1,
			"stack", string(pe.Stack),
		)
		if opts.OnPanic != nil {
			opts.OnPanic(name, attempt+1, pe)
		}
		if attempt == opts.MaxRetries-1 {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = nextBackoff(delay, opts.MaxBackoff)
	}

	opts.Logger.Error("[ERROR-PANIC] worker exceeded max retries, giving up",
		"worker", name, "maxRetries", opts.MaxRetries)
	if opts.OnFatal != nil {
		opts.OnFatal(name, opts.MaxRetries)
	}
}

// nextBackoff doubles current, capped at maxBackoff and guarded against overflow.
func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	if current <= 0 {
		return defaultInitialBackoff
	}
	if current >= maxBackoff {
		return maxBackoff
	}
	next := current * 2
	if next > maxBackoff || next < current {
		return maxBackoff
	}
	return next
}
