package sweeper

import (
	"time"

	"github.com/smallbiznis/creditgate/internal/config"
)

const leaderLockKey = "quota:sweeper:leader"

// Config controls run timeouts and leader election. Interval, grace window
// and batch size come from the hot-reloaded quota policy on every run.
type Config struct {
	RunTimeout  time.Duration
	RowTimeout  time.Duration
	LeaderLock  bool
	CounterKeep time.Duration
	MaxBatches  int
}

func DefaultConfig() Config {
	return Config{
		RunTimeout:  2 * time.Minute,
		RowTimeout:  5 * time.Second,
		LeaderLock:  true,
		CounterKeep: 48 * time.Hour,
		MaxBatches:  50,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	if c.RowTimeout <= 0 {
		c.RowTimeout = defaults.RowTimeout
	}
	if c.CounterKeep <= 0 {
		c.CounterKeep = defaults.CounterKeep
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = defaults.MaxBatches
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	c := DefaultConfig()
	c.LeaderLock = cfg.Quota.SweeperLeaderLock
	return c
}
