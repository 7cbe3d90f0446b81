package scheduler

import (
	"time"

	"github.com/Ajamix/saas-platform-api/internal/config"
)

// Config controls sweep triggers, batch sizes and per-task retry.
type Config struct {
	Enabled          bool
	DailySpec        string
	MonthlySpec      string
	BatchSize        int
	Concurrency      int
	MaxAttempts      int
	InitialBackoff   time.Duration
	AttemptTimeout   time.Duration
	JobTimeout       time.Duration
	ClaimTTL         time.Duration
	ReminderLeadDays int
	BillingURL       string
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		DailySpec:        "0 0 * * *",
		MonthlySpec:      "0 0 1 * *",
		BatchSize:        100,
		Concurrency:      8,
		MaxAttempts:      3,
		InitialBackoff:   time.Minute,
		AttemptTimeout:   30 * time.Second,
		JobTimeout:       6 * time.Hour,
		ClaimTTL:         time.Hour,
		ReminderLeadDays: 7,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.DailySpec == "" {
		c.DailySpec = defaults.DailySpec
	}
	if c.MonthlySpec == "" {
		c.MonthlySpec = defaults.MonthlySpec
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = defaults.AttemptTimeout
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = defaults.ClaimTTL
	}
	if c.ReminderLeadDays <= 0 {
		c.ReminderLeadDays = defaults.ReminderLeadDays
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:          cfg.Scheduler.Enabled,
		DailySpec:        cfg.Scheduler.DailySpec,
		MonthlySpec:      cfg.Scheduler.MonthlySpec,
		BatchSize:        cfg.Scheduler.BatchSize,
		Concurrency:      cfg.Scheduler.Concurrency,
		MaxAttempts:      cfg.Scheduler.MaxAttempts,
		InitialBackoff:   cfg.Scheduler.InitialBackoff,
		AttemptTimeout:   cfg.Scheduler.AttemptTimeout,
		ReminderLeadDays: cfg.Scheduler.ReminderLeadDays,
		BillingURL:       cfg.BillingURL,
	}
}
