package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/dedup"
	"trade_supervisor/internal/marketdata"
	"trade_supervisor/internal/models"
	binance "trade_supervisor/internal/modules/binance_client/service"
	"trade_supervisor/internal/modules/health"
	okx "trade_supervisor/internal/modules/okx_client/service"
	okxws "trade_supervisor/internal/modules/okx_websocket/service"
	telegram "trade_supervisor/internal/modules/telegram_bot/service"
	"trade_supervisor/internal/ratelimit"
	"trade_supervisor/internal/runner"
	"trade_supervisor/pkg/logger"
	"trade_supervisor/pkg/tracing"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"

	defaultConfigDir  = "configs"
	defaultConfigFile = "values_local.yaml"

	envPrefix = "TS"
)

type Exchanges struct {
	OKX     okx.Config     `mapstructure:"okx"`
	OKXWS   okxws.Config   `mapstructure:"okx_ws"`
	Binance binance.Config `mapstructure:"binance"`
}

// Config ...
type Config struct {
	Log       logger.Config     `mapstructure:"log"`
	Tracing   tracing.Config    `mapstructure:"tracing"`
	DB        string            `mapstructure:"db_dsn"`
	DBPool    int32             `mapstructure:"db_max_conns"`
	Service   health.Config     `mapstructure:"service"`
	Telegram  telegram.Config   `mapstructure:"telegram"`
	Manager   runner.Config     `mapstructure:"manager"`
	Cache     marketdata.Config `mapstructure:"cache"`
	RateLimit ratelimit.Config  `mapstructure:"rate_limit"`
	Dedup     dedup.Config      `mapstructure:"dedup"`
	Exchanges Exchanges         `mapstructure:"exchanges"`

	// Путь к списку трейдеров, относительно каталога конфигов.
	TradersFile string                `mapstructure:"traders_file"`
	Traders     []models.TraderConfig `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service", "trade_supervisor")
	v.SetDefault("log.development", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "trade_supervisor")
	v.SetDefault("tracing.host", "localhost")
	v.SetDefault("tracing.port", 6831)

	v.SetDefault("db_dsn", "")
	v.SetDefault("db_max_conns", 8)
	v.SetDefault("service.addr", ":8080")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("telegram.queue_size", 256)

	m := runner.DefaultConfig()
	v.SetDefault("manager.max_traders", m.MaxTraders)
	v.SetDefault("manager.health_interval", m.HealthInterval)
	v.SetDefault("manager.health_check_timeout", m.HealthCheckTimeout)
	v.SetDefault("manager.metrics_interval", m.MetricsInterval)
	v.SetDefault("manager.max_consecutive_errors", m.MaxConsecutiveErrors)
	v.SetDefault("manager.max_error_count", m.MaxErrorCount)
	v.SetDefault("manager.recovery_delay", m.RecoveryDelay)
	v.SetDefault("manager.error_history", m.ErrorHistory)
	v.SetDefault("manager.stop_timeout", m.StopTimeout)
	v.SetDefault("manager.poll_interval", m.PollInterval)

	c := marketdata.DefaultConfig()
	v.SetDefault("cache.max_candles", c.MaxCandles)
	v.SetDefault("cache.min_candles", c.MinCandles)
	v.SetDefault("cache.ttl", c.TTL)
	v.SetDefault("cache.sync_interval", c.SyncInterval)
	v.SetDefault("cache.idle_ttl", c.IdleTTL)
	v.SetDefault("cache.workers", c.Workers)

	// rate_limit.endpoints не задаём: свои лимиты сливаются с дефолтными
	r := ratelimit.DefaultConfig()
	v.SetDefault("rate_limit.cache_size", r.CacheSize)
	v.SetDefault("rate_limit.cache_ttl", r.CacheTTL)
	v.SetDefault("rate_limit.max_retries", r.MaxRetries)
	v.SetDefault("rate_limit.base_backoff", r.BaseBackoff)
	v.SetDefault("rate_limit.max_backoff", r.MaxBackoff)
	v.SetDefault("rate_limit.retry_delay", r.RetryDelay)
	v.SetDefault("rate_limit.call_timeout", r.CallTimeout)
	v.SetDefault("rate_limit.idle_ttl", r.IdleTTL)
	v.SetDefault("rate_limit.default.max_requests", r.Default.MaxRequests)
	v.SetDefault("rate_limit.default.window", r.Default.Window)

	d := dedup.DefaultConfig()
	v.SetDefault("dedup.ttl", d.TTL)
	v.SetDefault("dedup.bucket", d.Bucket)
	v.SetDefault("dedup.retention", d.Retention)
	v.SetDefault("dedup.purge_interval", d.PurgeInterval)

	v.SetDefault("exchanges.okx.api_key", "")
	v.SetDefault("exchanges.okx.api_secret", "")
	v.SetDefault("exchanges.okx.passphrase", "")
	v.SetDefault("exchanges.okx.base_url", okx.DefaultBaseURL)
	v.SetDefault("exchanges.okx.simulated", false)
	v.SetDefault("exchanges.okx.timeout", "10s")
	v.SetDefault("exchanges.okx_ws.enabled", true)
	v.SetDefault("exchanges.okx_ws.url", okxws.DefaultURL)
	v.SetDefault("exchanges.okx_ws.ping_interval", "20s")
	v.SetDefault("exchanges.okx_ws.reconnect_delay", "1s")
	v.SetDefault("exchanges.binance.api_key", "")
	v.SetDefault("exchanges.binance.api_secret", "")
	v.SetDefault("exchanges.binance.base_url", "")
	v.SetDefault("exchanges.binance.testnet", false)

	v.SetDefault("traders_file", "traders.yaml")
}

// NewConfig reads configs/$CONFIG_FILE (values_local.yaml by default) and the trader list.
func NewConfig() (*Config, error) {
	name := os.Getenv(configFilePathENV)
	if name == "" {
		name = defaultConfigFile
	}
	return Load(defaultConfigDir, name)
}

// Load reads dir/name. Every key can be overridden from env: manager.max_traders -> TS_MANAGER_MAX_TRADERS.
func Load(dir, name string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(filepath.Join(dir, name))
	if err := v.ReadInConfig(); err != nil {
		return nil, apperr.Wrap(apperr.Configuration, "read config "+name, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperr.Wrap(apperr.Configuration, "decode config", err)
	}

	// старые переменные окружения тоже поддерживаем
	if token := os.Getenv(tokenTelegramENV); token != "" {
		cfg.Telegram.Token = token
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		cfg.DB = dsn
	}

	if cfg.TradersFile != "" {
		path := cfg.TradersFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		traders, err := LoadTraders(path)
		if err != nil {
			return nil, err
		}
		cfg.Traders = traders
	}
	return &cfg, nil
}

type tradersFile struct {
	Traders []models.TraderConfig `yaml:"traders"`
}

// LoadTraders reads the trader list. A missing file means no traders.
func LoadTraders(path string) ([]models.TraderConfig, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}

	var f tradersFile
	if err := yaml.UnmarshalStrict(raw, &f); err != nil {
		return nil, apperr.Wrap(apperr.Configuration, "decode "+path, err)
	}

	seen := make(map[string]struct{}, len(f.Traders))
	for _, t := range f.Traders {
		if t.ID == "" {
			return nil, apperr.Newf(apperr.Configuration, "%s: trader without id", path)
		}
		if _, dup := seen[t.ID]; dup {
			return nil, apperr.Newf(apperr.Configuration, "%s: duplicate trader id %q", path, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return f.Traders, nil
}
