package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/clinicledger/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval     time.Duration
	ReminderCron    string
	ReminderLockTTL time.Duration
	OutboxBatchSize int
	OverdueBatch    int
	JobTimeout      time.Duration
	// EnabledJobs limits which jobs run; empty runs all of them.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:     30 * time.Second,
		ReminderCron:    "0 8 * * *",
		ReminderLockTTL: 30 * time.Minute,
		OutboxBatchSize: 50,
		OverdueBatch:    200,
		JobTimeout:      30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	c := Config{
		RunInterval:     cfg.Jobs.TickInterval,
		ReminderCron:    cfg.Jobs.ReminderCron,
		OutboxBatchSize: cfg.Jobs.OutboxBatchSize,
		OverdueBatch:    cfg.Jobs.OverdueBatch,
		EnabledJobs:     cfg.Jobs.EnabledJobs,
	}
	return c.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if strings.TrimSpace(c.ReminderCron) == "" {
		c.ReminderCron = defaults.ReminderCron
	}
	if c.ReminderLockTTL <= 0 {
		c.ReminderLockTTL = defaults.ReminderLockTTL
	}
	if c.OutboxBatchSize <= 0 {
		c.OutboxBatchSize = defaults.OutboxBatchSize
	}
	if c.OverdueBatch <= 0 {
		c.OverdueBatch = defaults.OverdueBatch
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
