package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "router"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "5s")

	v.SetDefault("router.mode", "sandbox")
	v.SetDefault("router.daily_notional_limit", 1_000_000)
	v.SetDefault("router.fallback_price", 1.0)
	v.SetDefault("router.min_price", 1e-8)
	v.SetDefault("router.sandbox_max_quantity", 0)
	v.SetDefault("router.alert_buffer", 256)

	v.SetDefault("risk.default_stop_loss", 0)
	v.SetDefault("risk.alert_ratio", 0.8)
	v.SetDefault("risk.max_daily_loss", 0)
	v.SetDefault("risk.daily_loss_reset_hour", 0)
	v.SetDefault("risk.default_max_notional", 0)

	for _, venue := range []string{"spot", "gateway", "ccxt"} {
		prefix := "venues." + venue
		v.SetDefault(prefix+".enabled", false)
		v.SetDefault(prefix+".retry.max_attempts", 3)
		v.SetDefault(prefix+".retry.min_delay", "200ms")
		v.SetDefault(prefix+".retry.max_delay", "5s")
		v.SetDefault(prefix+".rate_limit.requests", 10)
		v.SetDefault(prefix+".rate_limit.window", "1s")
	}
	v.SetDefault("venues.spot.name", "spot")
	v.SetDefault("venues.spot.recv_window", "5s")
	v.SetDefault("venues.spot.timeout", "10s")
	v.SetDefault("venues.gateway.name", "gateway")
	v.SetDefault("venues.gateway.timeout", "10s")
	v.SetDefault("venues.ccxt.name", "ccxt")
	v.SetDefault("venues.ccxt.exchange", "binanceusdm")
	v.SetDefault("venues.paper.enabled", true)
	v.SetDefault("venues.paper.name", "paper")

	v.SetDefault("publisher.enabled", false)
	v.SetDefault("publisher.transport", "http")
	v.SetDefault("publisher.redis_stream", "router-events")
	v.SetDefault("publisher.queue_size", 1024)
	v.SetDefault("publisher.workers", 2)
	v.SetDefault("publisher.max_attempts", 3)
	v.SetDefault("publisher.backoff", "500ms")
	v.SetDefault("publisher.timeout", "5s")
	v.SetDefault("publisher.replay_on_start", true)

	v.SetDefault("database.path", "data/router.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
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
