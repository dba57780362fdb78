package ratelimit

import (
	"strings"
	"time"
)

const (
	EndpointGetCandles   = "get_candles"
	EndpointGetPositions = "get_positions"
	EndpointPlaceOrder   = "place_order"
	EndpointCancelOrder  = "cancel_order"
	EndpointPing         = "ping"
)

// Limit admits at most MaxRequests calls within any rolling Window.
type Limit struct {
	MaxRequests int           `mapstructure:"max_requests" yaml:"max_requests"`
	Window      time.Duration `mapstructure:"window" yaml:"window"`
}

type Config struct {
	CacheSize   int              `mapstructure:"cache_size"`
	CacheTTL    time.Duration    `mapstructure:"cache_ttl"`
	MaxRetries  int              `mapstructure:"max_retries"`
	BaseBackoff time.Duration    `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration    `mapstructure:"max_backoff"`
	RetryDelay  time.Duration    `mapstructure:"retry_delay"`
	CallTimeout time.Duration    `mapstructure:"call_timeout"`
	IdleTTL     time.Duration    `mapstructure:"idle_ttl"`
	Default     Limit            `mapstructure:"default"`
	Endpoints   map[string]Limit `mapstructure:"endpoints"`
}

// Верхняя граница экспоненциального бэкоффа.
const backoffCeiling = 60 * time.Second

// DefaultEndpoints: reads get loose windows, order mutations tight sub-second ones.
func DefaultEndpoints() map[string]Limit {
	return map[string]Limit{
		EndpointGetCandles:   {MaxRequests: 20, Window: 2 * time.Second},
		EndpointGetPositions: {MaxRequests: 10, Window: 2 * time.Second},
		EndpointPing:         {MaxRequests: 5, Window: time.Second},
		EndpointPlaceOrder:   {MaxRequests: 2, Window: 500 * time.Millisecond},
		EndpointCancelOrder:  {MaxRequests: 2, Window: 500 * time.Millisecond},
	}
}

func DefaultConfig() Config {
	return Config{
		CacheSize:   1000,
		CacheTTL:    5 * time.Second,
		MaxRetries:  5,
		BaseBackoff: time.Second,
		MaxBackoff:  backoffCeiling,
		RetryDelay:  500 * time.Millisecond,
		CallTimeout: 10 * time.Second,
		IdleTTL:     10 * time.Minute,
		Default:     Limit{MaxRequests: 10, Window: time.Second},
		Endpoints:   DefaultEndpoints(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CacheSize <= 0 {
		c.CacheSize = d.CacheSize
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	if c.MaxBackoff <= 0 || c.MaxBackoff > backoffCeiling {
		c.MaxBackoff = backoffCeiling
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = d.IdleTTL
	}
	if c.Default.MaxRequests <= 0 || c.Default.Window <= 0 {
		c.Default = d.Default
	}
	endpoints := DefaultEndpoints()
	for name, l := range c.Endpoints {
		if l.MaxRequests > 0 && l.Window > 0 {
			endpoints[name] = l
		}
	}
	c.Endpoints = endpoints
	return c
}

// limitFor resolves "okx/place_order" by full name first, then by the part after the slash.
func (c Config) limitFor(endpoint string) Limit {
	if l, ok := c.Endpoints[endpoint]; ok {
		return l
	}
	if i := strings.LastIndexByte(endpoint, '/'); i >= 0 {
		if l, ok := c.Endpoints[endpoint[i+1:]]; ok {
			return l
		}
	}
	return c.Default
}
