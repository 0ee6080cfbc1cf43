package measure

import (
	"os"
	"strings"

	"github.com/behrlich/go-measure/internal/timer"
)

// Configuration variables, read from the environment once at runtime
// construction. Each variable has exactly one parser per type and a
// documented default.
const (
	// EnvMemoryRecording enables allocation tracking (bool, default
	// true).
	EnvMemoryRecording = "MEASURE_MEMORY_RECORDING"

	// EnvTimer selects the timestamp source (one of
	// timer.Available(), default the first available backend).
	EnvTimer = "MEASURE_TIMER"

	// EnvThreadExperimentalReuse lets completed thread locations be
	// reused for later threads (bool, default false).
	EnvThreadExperimentalReuse = "MEASURE_THREAD_EXPERIMENTAL_REUSE"

	// EnvThreadExperimentalReuseAlways extends reuse to threads with
	// live descendants (bool, default false). Implies
	// EnvThreadExperimentalReuse.
	EnvThreadExperimentalReuseAlways = "MEASURE_THREAD_EXPERIMENTAL_REUSE_ALWAYS"

	// EnvFilteringFile names a filter specification file (path, no
	// default).
	EnvFilteringFile = "MEASURE_FILTERING_FILE"

	// EnvVerbose enables verbose diagnostics (bool, default false).
	EnvVerbose = "MEASURE_VERBOSE"
)

// Config holds the configuration consumed by the measurement core.
type Config struct {
	MemoryRecording               bool
	Timer                         timer.Kind
	ThreadExperimentalReuse       bool
	ThreadExperimentalReuseAlways bool
	FilteringFile                 string
	Verbose                       bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		MemoryRecording: true,
		Timer:           timer.Default(),
	}
}

// parseBool is the single bool parser: true/yes/on/1 enable,
// false/no/off/0 disable, case-insensitively.
func parseBool(op, value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	default:
		return false, NewError(op, ErrCodeInvalidConfig,
			"expected a boolean value, got '"+value+"'")
	}
}

// parseTimer is the single option-set parser for the timer variable.
func parseTimer(op, value string) (timer.Kind, error) {
	kind, ok := timer.Parse(strings.ToLower(value))
	if !ok {
		return 0, NewError(op, ErrCodeInvalidConfig,
			"unknown timer '"+value+"', available: "+strings.Join(timer.Available(), ", "))
	}
	return kind, nil
}

// ConfigFromEnv builds a Config from the environment, starting from
// the defaults.
func ConfigFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv(EnvMemoryRecording); ok {
		b, err := parseBool(EnvMemoryRecording, v)
		if err != nil {
			return nil, err
		}
		cfg.MemoryRecording = b
	}

	if v, ok := os.LookupEnv(EnvTimer); ok {
		kind, err := parseTimer(EnvTimer, v)
		if err != nil {
			return nil, err
		}
		cfg.Timer = kind
	}

	if v, ok := os.LookupEnv(EnvThreadExperimentalReuse); ok {
		b, err := parseBool(EnvThreadExperimentalReuse, v)
		if err != nil {
			return nil, err
		}
		cfg.ThreadExperimentalReuse = b
	}

	if v, ok := os.LookupEnv(EnvThreadExperimentalReuseAlways); ok {
		b, err := parseBool(EnvThreadExperimentalReuseAlways, v)
		if err != nil {
			return nil, err
		}
		cfg.ThreadExperimentalReuseAlways = b
		if b {
			cfg.ThreadExperimentalReuse = true
		}
	}

	if v, ok := os.LookupEnv(EnvFilteringFile); ok {
		cfg.FilteringFile = v
	}

	if v, ok := os.LookupEnv(EnvVerbose); ok {
		b, err := parseBool(EnvVerbose, v)
		if err != nil {
			return nil, err
		}
		cfg.Verbose = b
	}

	return cfg, nil
}
