package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
)

// SpecExecPolicy selects how the speculative scheduler picks a candidate
// from the lock-queue window.
type SpecExecPolicy string

const (
	// PolicyFirst returns the first non-conflicting candidate (cheapest).
	PolicyFirst SpecExecPolicy = "first"
	// PolicyShortest picks the candidate with the minimum estimated
	// remaining execution time in the window.
	PolicyShortest SpecExecPolicy = "shortest"
	// PolicyLongest picks the candidate with the maximum estimated
	// remaining execution time in the window.
	PolicyLongest SpecExecPolicy = "longest"
)

type Config struct {
	SiteID     int    `toml:"site-id"`
	Partitions int    `toml:"partitions"`
	LogLevel   string `toml:"log-level"`

	DBPath string `toml:"db-path"` // Directory to store the data in. Should exist and be writable.

	// How long the executor loop waits on the work queue before looking
	// for utility work.
	WorkQueuePollInterval Duration `toml:"work-queue-poll-interval"`
	WorkQueueCapacity     int      `toml:"work-queue-capacity"`

	// Interval between ticks to the storage engine carrying the last
	// committed txn id. Snapshot and stats maintenance piggyback on it.
	TickInterval Duration `toml:"tick-interval"`

	// How long the fragment dispatcher waits for remote results before
	// declaring the cluster unhealthy.
	ResponseTimeout Duration `toml:"response-timeout"`

	SpecExecEnabled    bool           `toml:"spec-exec-enabled"`
	SpecExecPolicy     SpecExecPolicy `toml:"spec-exec-policy"`
	SpecExecWindowSize int            `toml:"spec-exec-window-size"`

	// Don't reset the scheduler's cached iterator when the lock queue
	// changed (inserts or removals) between scans.
	SpecExecIgnoreQueueSizeChange bool `toml:"spec-exec-ignore-queue-size-change"`
	// Don't reset the scheduler's cached iterator when the speculation
	// type changes between scans.
	SpecExecIgnoreSpecTypeChange bool `toml:"spec-exec-ignore-spec-type-change"`
	// Skip candidate scans while the current dtxn is based at this
	// partition and runs entirely on this site; the wait is too short to be
	// worth filling.
	SpecExecIgnoreAllLocal bool `toml:"spec-exec-ignore-all-local"`

	// Always execute write rounds with a fresh undo token, even when the
	// estimator says the remainder of the txn cannot abort.
	ForceUndoLogging bool `toml:"force-undo-logging"`
	// Let the prediction-driven fast path disable undo logging for the
	// rest of a single-partition txn.
	NoUndoLogging bool `toml:"no-undo-logging"`
}

func (c *Config) Validate() error {
	if c.Partitions <= 0 {
		return errors.New("partitions must be greater than 0")
	}
	if c.WorkQueuePollInterval.Duration <= 0 {
		return errors.New("work-queue-poll-interval must be greater than 0")
	}
	if c.SpecExecWindowSize < 1 {
		return errors.New("spec-exec-window-size must be at least 1")
	}
	switch c.SpecExecPolicy {
	case PolicyFirst, PolicyShortest, PolicyLongest:
	default:
		return errors.Errorf("unknown spec-exec-policy %q", c.SpecExecPolicy)
	}
	if c.ResponseTimeout.Duration < c.WorkQueuePollInterval.Duration {
		return fmt.Errorf("response-timeout %s is shorter than the work queue poll interval", c.ResponseTimeout)
	}
	return nil
}

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		SiteID:                0,
		Partitions:            1,
		LogLevel:              getLogLevel(),
		DBPath:                "/tmp/tinyoltp",
		WorkQueuePollInterval: NewDuration(10 * time.Microsecond),
		WorkQueueCapacity:     1024,
		TickInterval:          NewDuration(1 * time.Second),
		ResponseTimeout:       NewDuration(10 * time.Second),
		SpecExecEnabled:       true,
		SpecExecPolicy:        PolicyFirst,
		SpecExecWindowSize:    10,
	}
}

func NewTestConfig() *Config {
	return &Config{
		SiteID:                0,
		Partitions:            2,
		LogLevel:              getLogLevel(),
		DBPath:                "/tmp/tinyoltp-test",
		WorkQueuePollInterval: NewDuration(1 * time.Millisecond),
		WorkQueueCapacity:     128,
		TickInterval:          NewDuration(50 * time.Millisecond),
		ResponseTimeout:       NewDuration(2 * time.Second),
		SpecExecEnabled:       true,
		SpecExecPolicy:        PolicyFirst,
		SpecExecWindowSize:    10,
	}
}

// LoadFromFile overlays the TOML file at path onto c.
func (c *Config) LoadFromFile(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return errors.WithStack(err)
	}
	return nil
}
