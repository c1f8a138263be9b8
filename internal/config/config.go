// Package config loads and saves the YAML configuration of the diagnostic log.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"go.yaml.in/yaml/v3"

	"diaglog/internal/fsutil"
)

const (
	maxConfigFileBytes int64 = 1 << 20 // 1MB
	appDirName               = "diaglog"

	DefaultMaxSize      ByteSize = 2 * humanize.MiByte
	DefaultTrimHeadroom ByteSize = 100 * humanize.KiByte
	DefaultMinFreeSpace ByteSize = 500 * humanize.MiByte
	DefaultProbeEvery            = 5
)

var ErrInvalid = errors.New("invalid config")

var userHomeDirFn = os.UserHomeDir
var windowsEnvTokenPattern = regexp.MustCompile(`%[A-Za-z_][A-Za-z0-9_]*%`)
var posixEnvTokenPattern = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}|\$[A-Za-z_][A-Za-z0-9_]*`)

// ByteSize is a byte count written as a human readable string ("2MiB",
// "100 KiB", "500MB") or a plain integer.
type ByteSize uint64

func (b ByteSize) String() string { return humanize.IBytes(uint64(b)) }

// MarshalYAML writes the human readable form when it parses back to the
// same value, otherwise the exact integer.
func (b ByteSize) MarshalYAML() (any, error) {
	s := b.String()
	if n, err := humanize.ParseBytes(s); err == nil && n == uint64(b) {
		return s, nil
	}
	return uint64(b), nil
}

// UnmarshalYAML accepts any value go-humanize can parse. Unparseable values
// leave the size at zero so the default applies; a warning is logged.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	raw := strings.TrimSpace(value.Value)
	if value.Kind != yaml.ScalarNode || raw == "" {
		*b = 0
		return nil
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		slog.Warn("[WARN-CONFIG] invalid byte size, using default", "line", value.Line, "value", raw, "error", err)
		*b = 0
		return nil
	}
	*b = ByteSize(n)
	return nil
}

// Config is the on-disk configuration.
type Config struct {
	LogPath        string   `yaml:"log_path"`
	MaxSize        ByteSize `yaml:"max_size"`
	TrimHeadroom   ByteSize `yaml:"trim_headroom"`
	MinFreeSpace   ByteSize `yaml:"min_free_space"`
	ProbeEvery     int      `yaml:"probe_every"`
	CaptureStreams bool     `yaml:"capture_streams"`
	CrashSidecar   bool     `yaml:"crash_sidecar"`
	LiveTailAddr   string   `yaml:"live_tail_addr"`
	AppName        string   `yaml:"app_name"`
	AppVersion     string   `yaml:"app_version"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		LogPath:        DefaultLogPath(),
		MaxSize:        DefaultMaxSize,
		TrimHeadroom:   DefaultTrimHeadroom,
		MinFreeSpace:   DefaultMinFreeSpace,
		ProbeEvery:     DefaultProbeEvery,
		CaptureStreams: true,
		CrashSidecar:   true,
	}
}

// baseDir resolves the per-user directory holding diaglog files: LOCALAPPDATA
// on Windows, otherwise XDG_CONFIG_HOME or ~/.config, and the temp dir when
// nothing else resolves.
func baseDir() string {
	var base string
	if runtime.GOOS == "windows" {
		base = strings.TrimSpace(os.Getenv("LOCALAPPDATA"))
		if base == "" {
			base = strings.TrimSpace(os.Getenv("APPDATA"))
		}
	} else {
		base = strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	}
	if base == "" {
		home, err := userHomeDirFn()
		if err != nil {
			slog.Warn("[WARN-CONFIG] using temp dir as config path fallback", "error", err)
			return filepath.Join(os.TempDir(), appDirName)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appDirName)
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(baseDir(), "config.yaml")
}

// DefaultLogPath returns the default log file location.
func DefaultLogPath() string {
	return filepath.Join(baseDir(), "diaglog.txt")
}

// Load reads the config file at path. A missing or empty file yields the
// defaults. On a parse error the defaults are returned with the error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, errors.New("config path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		slog.Warn("[WARN-CONFIG] failed to parse config, using defaults", "path", path, "error", err)
		return DefaultConfig(), err
	}
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// EnsureFile writes the default config if path does not exist and returns
// the loaded config.
func EnsureFile(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if _, err := Save(path, cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// Save validates cfg and writes it to path atomically. It returns the
// normalized config that was written.
func Save(path string, cfg Config) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return cfg, errors.New("config path required")
	}
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return cfg, fmt.Errorf("save config: %w", err)
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("save config: marshal: %w", err)
	}
	if err := fsutil.AtomicWriteFile(path, raw, 0o600); err != nil {
		return cfg, fmt.Errorf("save config: %w", err)
	}
	slog.Debug("[DEBUG-CONFIG] config saved", "path", path)
	return cfg, nil
}

// applyDefaultsAndValidate fills missing values and validates cfg in place.
// Used by both Load and Save.
func applyDefaultsAndValidate(cfg *Config) error {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.TrimHeadroom == 0 {
		cfg.TrimHeadroom = DefaultTrimHeadroom
	}
	if cfg.MinFreeSpace == 0 {
		cfg.MinFreeSpace = DefaultMinFreeSpace
	}
	if cfg.ProbeEvery == 0 {
		cfg.ProbeEvery = DefaultProbeEvery
	}
	if cfg.ProbeEvery < 0 {
		return fmt.Errorf("%w: probe_every must be at least 1, got %d", ErrInvalid, cfg.ProbeEvery)
	}
	if cfg.TrimHeadroom >= cfg.MaxSize {
		return fmt.Errorf("%w: trim_headroom (%s) must be smaller than max_size (%s)", ErrInvalid, cfg.TrimHeadroom, cfg.MaxSize)
	}

	logPath, err := normalizeLogPath(cfg.LogPath)
	if err != nil {
		return err
	}
	cfg.LogPath = logPath
	cfg.LiveTailAddr = strings.TrimSpace(cfg.LiveTailAddr)
	cfg.AppName = strings.TrimSpace(cfg.AppName)
	cfg.AppVersion = strings.TrimSpace(cfg.AppVersion)
	return nil
}

// normalizeLogPath expands ~ and environment tokens and requires the result
// to be absolute. An empty path selects the default.
func normalizeLogPath(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return DefaultLogPath(), nil
	}
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: log_path contains a NUL byte", ErrInvalid)
	}
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		home, err := userHomeDirFn()
		if err != nil {
			return "", fmt.Errorf("%w: log_path: expand ~: %w", ErrInvalid, err)
		}
		p = filepath.Join(home, p[1:])
	}
	p = filepath.Clean(expandEnv(p))
	if !filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: log_path must be absolute, got %q", ErrInvalid, p)
	}
	return p, nil
}

func expandEnv(s string) string {
	// Expand Windows-style %VAR% tokens on all platforms for portability.
	expanded := windowsEnvTokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		if value, ok := os.LookupEnv(token[1 : len(token)-1]); ok {
			return value
		}
		return token
	})
	// '$' is a valid character in Windows paths.
	if runtime.GOOS == "windows" {
		return expanded
	}
	return posixEnvTokenPattern.ReplaceAllStringFunc(expanded, func(token string) string {
		key := strings.TrimPrefix(token, "$")
		key = strings.TrimPrefix(key, "{")
		key = strings.TrimSuffix(key, "}")
		if value, ok := os.LookupEnv(key); ok {
			return value
		}
		return token
	})
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}
