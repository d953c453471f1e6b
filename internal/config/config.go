package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"lp-range-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Networks  []Network       `mapstructure:"networks"`
	Targets   []Target        `mapstructure:"targets"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StorageConfig selects and parameterises the state document backend.
type StorageConfig struct {
	Backend         string        `mapstructure:"backend"` // "file" or "postgres"
	FilePath        string        `mapstructure:"file_path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// SchedulerConfig governs sweep cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// MonitorConfig tunes sweep execution.
type MonitorConfig struct {
	Retention      time.Duration `mapstructure:"retention"`
	FanOut         int           `mapstructure:"fan_out"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RPCRateLimit   float64       `mapstructure:"rpc_rate_limit"` // calls per second per network, 0 = unlimited
}

// AlertingConfig defines alert throttling and routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// Network describes one supported chain and its contract address set.
type Network struct {
	Name            string `mapstructure:"name"`
	RPCURL          string `mapstructure:"rpc_url"`
	ChainID         int64  `mapstructure:"chain_id"`
	Protocol        string `mapstructure:"protocol"`
	ProxyFactory    string `mapstructure:"proxy_factory"`
	PositionManager string `mapstructure:"position_manager"`
	PoolFactory     string `mapstructure:"pool_factory"`
}

// Target is one monitored user: a notification destination plus the
// externally owned addresses whose proxy wallets are swept.
type Target struct {
	User      string   `mapstructure:"user"`
	ChatID    string   `mapstructure:"chat_id"`
	Addresses []string `mapstructure:"addresses"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LPWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "lpwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.file_path", "outOfRange.json")
	v.SetDefault("storage.max_open_conns", 5)
	v.SetDefault("storage.max_idle_conns", 2)
	v.SetDefault("storage.conn_max_lifetime", "30m")
	v.SetDefault("storage.advisory_lock_key", int64(0x6c707774))

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("monitor.retention", "24h")
	v.SetDefault("monitor.fan_out", 4)
	v.SetDefault("monitor.request_timeout", "15s")
	v.SetDefault("monitor.rpc_rate_limit", 10.0)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.cooldown", "24h")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9090")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs the one-time startup sanity checks. Malformed user
// addresses and inconsistent settings are configuration errors and fail here
// rather than mid-sweep. Per-network protocol and contract-address problems
// disable only the affected network, at assembly time.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Monitor.Retention <= 0 {
		return fmt.Errorf("monitor.retention must be greater than zero")
	}
	if c.Monitor.FanOut <= 0 {
		return fmt.Errorf("monitor.fan_out must be greater than zero")
	}
	if c.Alerting.Cooldown <= 0 {
		return fmt.Errorf("alerting.cooldown must be greater than zero")
	}

	switch c.Storage.Backend {
	case "file":
		if c.Storage.FilePath == "" {
			return fmt.Errorf("storage.file_path 必须配置")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn 必须配置")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported (use file or postgres)", c.Storage.Backend)
	}

	if c.Alerting.Enabled && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token 必须配置")
	}

	seen := make(map[string]struct{}, len(c.Networks))
	for _, n := range c.Networks {
		if n.Name == "" {
			return fmt.Errorf("network name cannot be empty")
		}
		if _, dup := seen[n.Name]; dup {
			return fmt.Errorf("duplicate network %q", n.Name)
		}
		seen[n.Name] = struct{}{}
		if n.RPCURL == "" {
			return fmt.Errorf("network %s: rpc_url is required", n.Name)
		}
	}

	for _, t := range c.Targets {
		if t.User == "" {
			return fmt.Errorf("target user cannot be empty")
		}
		if t.ChatID == "" {
			return fmt.Errorf("target %s: chat_id is required", t.User)
		}
		for _, addr := range t.Addresses {
			if !common.IsHexAddress(addr) {
				return fmt.Errorf("target %s: malformed address %q", t.User, addr)
			}
		}
	}

	return nil
}

// Usable reports whether the network carries a complete, non-placeholder
// contract address set. Networks that fail this are skipped with a startup
// warning, not treated as fatal.
func (n Network) Usable() bool {
	for _, addr := range []string{n.ProxyFactory, n.PositionManager, n.PoolFactory} {
		if !common.IsHexAddress(addr) {
			return false
		}
		if common.HexToAddress(addr) == (common.Address{}) {
			return false
		}
	}
	return true
}
