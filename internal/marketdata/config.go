package marketdata

import "time"

type Config struct {
	MaxCandles   int           `mapstructure:"max_candles"`
	MinCandles   int           `mapstructure:"min_candles"`
	TTL          time.Duration `mapstructure:"ttl"`
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	IdleTTL      time.Duration `mapstructure:"idle_ttl"`
	Workers      int           `mapstructure:"workers"`
}

func DefaultConfig() Config {
	return Config{
		MaxCandles:   500,
		MinCandles:   96,
		TTL:          60 * time.Second,
		SyncInterval: 60 * time.Second,
		IdleTTL:      30 * time.Minute,
		Workers:      4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxCandles <= 0 {
		c.MaxCandles = d.MaxCandles
	}
	if c.MinCandles <= 0 {
		c.MinCandles = d.MinCandles
	}
	if c.MinCandles > c.MaxCandles {
		c.MinCandles = c.MaxCandles
	}
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = d.SyncInterval
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = d.IdleTTL
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	return c
}
