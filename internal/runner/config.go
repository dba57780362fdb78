package runner

import "time"

// Config of the trader manager. Zero values fall back to defaults.
type Config struct {
	MaxTraders           int           `mapstructure:"max_traders"`
	HealthInterval       time.Duration `mapstructure:"health_interval"`
	HealthCheckTimeout   time.Duration `mapstructure:"health_check_timeout"`
	MetricsInterval      time.Duration `mapstructure:"metrics_interval"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
	MaxErrorCount        int64         `mapstructure:"max_error_count"`
	RecoveryDelay        time.Duration `mapstructure:"recovery_delay"`
	ErrorHistory         int           `mapstructure:"error_history"`
	StopTimeout          time.Duration `mapstructure:"stop_timeout"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
}

func DefaultConfig() Config {
	return Config{
		MaxTraders:           10,
		HealthInterval:       30 * time.Second,
		HealthCheckTimeout:   5 * time.Second,
		MetricsInterval:      60 * time.Second,
		MaxConsecutiveErrors: 3,
		MaxErrorCount:        10,
		RecoveryDelay:        10 * time.Second,
		ErrorHistory:         100,
		StopTimeout:          30 * time.Second,
		PollInterval:         15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTraders <= 0 {
		c.MaxTraders = d.MaxTraders
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = d.HealthInterval
	}
	if c.HealthCheckTimeout <= 0 {
		c.HealthCheckTimeout = d.HealthCheckTimeout
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = d.MetricsInterval
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = d.MaxConsecutiveErrors
	}
	if c.MaxErrorCount <= 0 {
		c.MaxErrorCount = d.MaxErrorCount
	}
	if c.RecoveryDelay < 0 {
		c.RecoveryDelay = 0
	}
	if c.ErrorHistory <= 0 {
		c.ErrorHistory = d.ErrorHistory
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}
