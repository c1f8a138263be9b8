// Package diskguard decides whether the log store may write, based on the
// free space of the volume holding the log.
//
// Querying free space can itself make the platform emit log lines, which the
// stream capture would feed straight back into the store. The guard therefore
// only probes every N calls; the calls in between are always allowed.
package diskguard

import (
	"log/slog"
)

const (
	// DefaultMinFree is the free-space threshold at or below which writes are refused.
	DefaultMinFree uint64 = 500 * 1024 * 1024
	// DefaultProbeEvery is the number of calls per real free-space probe.
	DefaultProbeEvery = 5
)

// Prober reports the free space available to the current user on the volume
// containing path.
type Prober interface {
	FreeBytes(path string) (uint64, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(path string) (uint64, error)

func (f ProberFunc) FreeBytes(path string) (uint64, error) { return f(path) }

// Options configures a Guard. Zero values select the defaults.
type Options struct {
	Path       string
	MinFree    uint64
	ProbeEvery int
	Prober     Prober
	Logger     *slog.Logger
}

// Guard throttles free-space probes. It is not safe for concurrent use; the
// log store only calls it from its writer goroutine.
type Guard struct {
	path       string
	minFree    uint64
	probeEvery int
	prober     Prober
	logger     *slog.Logger

	sinceProbe int
	lastFree   uint64
	probes     int
}

// New creates a Guard.
func New(opts Options) *Guard {
	if opts.MinFree == 0 {
		opts.MinFree = DefaultMinFree
	}
	if opts.ProbeEvery <= 0 {
		opts.ProbeEvery = DefaultProbeEvery
	}
	if opts.Prober == nil {
		opts.Prober = SystemProber()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Guard{
		path:       opts.Path,
		minFree:    opts.MinFree,
		probeEvery: opts.ProbeEvery,
		prober:     opts.Prober,
		logger:     opts.Logger,
	}
}

// MayWrite reports whether a new entry may be written.
func (g *Guard) MayWrite() bool {
	g.sinceProbe++
	if g.sinceProbe < g.probeEvery {
		return true
	}
	g.sinceProbe = 0
	g.probes++

	free, err := g.prober.FreeBytes(g.path)
	if err != nil {
		g.logger.Warn("[WARN-DISKGUARD] free space probe failed, allowing write", "path", g.path, "error", err)
		return true
	}
	g.lastFree = free
	if free <= g.minFree {
		g.logger.Warn("[WARN-DISKGUARD] free space below threshold, dropping entry",
			"path", g.path, "free", free, "minFree", g.minFree)
		return false
	}
	return true
}

// Probes returns how many real probes have been performed.
func (g *Guard) Probes() int {
	return g.probes
}

// LastFree returns the free space seen by the most recent successful probe.
func (g *Guard) LastFree() uint64 {
	return g.lastFree
}
