package scheduler

import (
	"time"

	"github.com/smallbiznis/leakradar/internal/config"
)

const JobDailyRevenueScan = "daily_revenue_scan"

// Config controls scheduler intervals and the daily scan window.
type Config struct {
	RunInterval time.Duration
	ScanHourUTC int
	ScanTimeout time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 15 * time.Minute,
		ScanHourUTC: 6,
		ScanTimeout: 2 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.ScanHourUTC < 0 || c.ScanHourUTC > 23 {
		c.ScanHourUTC = defaults.ScanHourUTC
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = defaults.ScanTimeout
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.Scheduler.RunInterval,
		ScanHourUTC: cfg.Scheduler.ScanHourUTC,
		ScanTimeout: cfg.Scheduler.ScanTimeout,
		EnabledJobs: cfg.Scheduler.EnabledJobs,
	}.withDefaults()
}
