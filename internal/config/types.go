package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了路由服务运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Router    RouterConfig    `mapstructure:"router"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Venues    VenuesConfig    `mapstructure:"venues"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// HTTPConfig 描述对外 HTTP 接口。
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RouterConfig 控制路由器初始状态。
type RouterConfig struct {
	Mode               string  `mapstructure:"mode"`
	DailyNotionalLimit float64 `mapstructure:"daily_notional_limit"`
	FallbackPrice      float64 `mapstructure:"fallback_price"`
	MinPrice           float64 `mapstructure:"min_price"`
	SandboxMaxQuantity float64 `mapstructure:"sandbox_max_quantity"`
	AlertBuffer        int     `mapstructure:"alert_buffer"`
}

// RiskConfig 管理风控规则参数。
type RiskConfig struct {
	DefaultStopLoss    float64             `mapstructure:"default_stop_loss"`
	AlertRatio         float64             `mapstructure:"alert_ratio"`
	MaxDailyLoss       float64             `mapstructure:"max_daily_loss"`
	DailyLossResetHour int                 `mapstructure:"daily_loss_reset_hour"`
	DefaultMaxNotional float64             `mapstructure:"default_max_notional"`
	SymbolNotional     map[string]float64  `mapstructure:"symbol_notional"`
	SymbolLimits       []SymbolLimitConfig `mapstructure:"symbol_limits"`
}

// SymbolLimitConfig 描述单个交易对的仓位与名义价值上限，Account 为空表示默认值。
// Venue 填场所名（如 ccxt 的 binanceusdm）或券商名，两者都会被匹配。
type SymbolLimitConfig struct {
	Venue       string  `mapstructure:"venue"`
	Symbol      string  `mapstructure:"symbol"`
	Account     string  `mapstructure:"account"`
	MaxPosition float64 `mapstructure:"max_position"`
	MaxNotional float64 `mapstructure:"max_notional"`
}

// VenuesConfig 汇总所有执行场所。
type VenuesConfig struct {
	Spot    SpotVenueConfig    `mapstructure:"spot"`
	Gateway GatewayVenueConfig `mapstructure:"gateway"`
	CCXT    CCXTVenueConfig    `mapstructure:"ccxt"`
	Paper   PaperVenueConfig   `mapstructure:"paper"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// RateLimitConfig 描述滑动窗口限流。
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// SpotVenueConfig 描述签名现货交易所。
type SpotVenueConfig struct {
	Enabled        bool            `mapstructure:"enabled"`
	Name           string          `mapstructure:"name"`
	BaseURL        string          `mapstructure:"base_url"`
	SandboxBaseURL string          `mapstructure:"sandbox_base_url"`
	APIKey         string          `mapstructure:"api_key"`
	APISecret      string          `mapstructure:"api_secret"`
	RecvWindow     time.Duration   `mapstructure:"recv_window"`
	Timeout        time.Duration   `mapstructure:"timeout"`
	Retry          RetryConfig     `mapstructure:"retry"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// GatewayVenueConfig 描述基于会话的券商网关。
type GatewayVenueConfig struct {
	Enabled        bool            `mapstructure:"enabled"`
	Name           string          `mapstructure:"name"`
	BaseURL        string          `mapstructure:"base_url"`
	SandboxBaseURL string          `mapstructure:"sandbox_base_url"`
	APIKey         string          `mapstructure:"api_key"`
	ClientCode     string          `mapstructure:"client_code"`
	Password       string          `mapstructure:"password"`
	TOTPSecret     string          `mapstructure:"totp_secret"`
	Timeout        time.Duration   `mapstructure:"timeout"`
	Retry          RetryConfig     `mapstructure:"retry"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// CCXTVenueConfig 描述通过 ccxt 接入的交易所。
type CCXTVenueConfig struct {
	Enabled    bool            `mapstructure:"enabled"`
	Name       string          `mapstructure:"name"`
	Exchange   string          `mapstructure:"exchange"`
	APIKey     string          `mapstructure:"api_key"`
	APISecret  string          `mapstructure:"api_secret"`
	APIPass    string          `mapstructure:"api_password"`
	Wallet     string          `mapstructure:"wallet_address"`
	PrivateKey string          `mapstructure:"private_key"`
	Retry      RetryConfig     `mapstructure:"retry"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
}

// PaperVenueConfig 控制本地纸面撮合适配器。
type PaperVenueConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Name    string `mapstructure:"name"`
}

// PublisherConfig 控制下游事件推送。
type PublisherConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Transport     string        `mapstructure:"transport"`
	Endpoint      string        `mapstructure:"endpoint"`
	Token         string        `mapstructure:"token"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisStream   string        `mapstructure:"redis_stream"`
	QueueSize     int           `mapstructure:"queue_size"`
	Workers       int           `mapstructure:"workers"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	Backoff       time.Duration `mapstructure:"backoff"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ReplayOnStart bool          `mapstructure:"replay_on_start"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MetricsConfig 控制 prometheus 暴露。
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.HTTP.Addr == "" {
		err = multierr.Append(err, errors.New("http.addr 不能为空"))
	}

	switch strings.ToLower(c.Router.Mode) {
	case "sandbox", "live", "dry_run":
	default:
		err = multierr.Append(err, fmt.Errorf("router.mode 取值非法: %q", c.Router.Mode))
	}
	if c.Router.DailyNotionalLimit <= 0 {
		err = multierr.Append(err, errors.New("router.daily_notional_limit 必须大于0"))
	}
	if c.Router.MinPrice <= 0 {
		err = multierr.Append(err, errors.New("router.min_price 必须大于0"))
	}
	if c.Router.FallbackPrice < c.Router.MinPrice {
		err = multierr.Append(err, errors.New("router.fallback_price 不能小于 min_price"))
	}
	if c.Router.SandboxMaxQuantity < 0 {
		err = multierr.Append(err, errors.New("router.sandbox_max_quantity 不能为负"))
	}

	if c.Risk.DefaultStopLoss < 0 {
		err = multierr.Append(err, errors.New("risk.default_stop_loss 不能为负"))
	}
	if c.Risk.AlertRatio <= 0 || c.Risk.AlertRatio > 1 {
		err = multierr.Append(err, errors.New("risk.alert_ratio 必须位于(0,1]"))
	}
	if c.Risk.MaxDailyLoss < 0 {
		err = multierr.Append(err, errors.New("risk.max_daily_loss 不能为负"))
	}
	if c.Risk.DailyLossResetHour < 0 || c.Risk.DailyLossResetHour > 23 {
		err = multierr.Append(err, errors.New("risk.daily_loss_reset_hour 必须位于[0,23]"))
	}
	for i, limit := range c.Risk.SymbolLimits {
		if limit.Symbol == "" {
			err = multierr.Append(err, fmt.Errorf("risk.symbol_limits[%d].symbol 不能为空", i))
		}
		if strings.TrimSpace(limit.Venue) == "" {
			err = multierr.Append(err, fmt.Errorf("risk.symbol_limits[%d].venue 不能为空", i))
		}
		if limit.MaxPosition < 0 || limit.MaxNotional < 0 {
			err = multierr.Append(err, fmt.Errorf("risk.symbol_limits[%d] 上限不能为负", i))
		}
	}

	enabled := 0
	if c.Venues.Spot.Enabled {
		enabled++
		err = multierr.Append(err, validateVenue("venues.spot", c.Venues.Spot.Name, c.Venues.Spot.BaseURL, c.Venues.Spot.Retry, c.Venues.Spot.RateLimit))
		if c.Venues.Spot.APIKey == "" || c.Venues.Spot.APISecret == "" {
			err = multierr.Append(err, errors.New("venues.spot 需要配置 api_key 与 api_secret"))
		}
	}
	if c.Venues.Gateway.Enabled {
		enabled++
		err = multierr.Append(err, validateVenue("venues.gateway", c.Venues.Gateway.Name, c.Venues.Gateway.BaseURL, c.Venues.Gateway.Retry, c.Venues.Gateway.RateLimit))
		if c.Venues.Gateway.ClientCode == "" || c.Venues.Gateway.Password == "" {
			err = multierr.Append(err, errors.New("venues.gateway 需要配置 client_code 与 password"))
		}
	}
	if c.Venues.CCXT.Enabled {
		enabled++
		err = multierr.Append(err, validateVenue("venues.ccxt", c.Venues.CCXT.Name, "ccxt", c.Venues.CCXT.Retry, c.Venues.CCXT.RateLimit))
		if strings.EqualFold(c.Venues.CCXT.Exchange, "hyperliquid") {
			if c.Venues.CCXT.Wallet == "" || c.Venues.CCXT.PrivateKey == "" {
				err = multierr.Append(err, errors.New("hyperliquid 交易需要配置 wallet_address 与 private_key"))
			}
		}
	}
	if c.Venues.Paper.Enabled {
		enabled++
		if c.Venues.Paper.Name == "" {
			err = multierr.Append(err, errors.New("venues.paper.name 不能为空"))
		}
	}
	if enabled == 0 {
		err = multierr.Append(err, errors.New("venues 至少需要启用一个执行场所"))
	}

	if c.Publisher.Enabled {
		switch strings.ToLower(c.Publisher.Transport) {
		case "http":
			if c.Publisher.Endpoint == "" {
				err = multierr.Append(err, errors.New("publisher.endpoint 不能为空"))
			}
		case "redis":
			if c.Publisher.RedisAddr == "" || c.Publisher.RedisStream == "" {
				err = multierr.Append(err, errors.New("publisher.redis_addr 与 redis_stream 不能为空"))
			}
		default:
			err = multierr.Append(err, fmt.Errorf("publisher.transport 取值非法: %q", c.Publisher.Transport))
		}
		if c.Publisher.QueueSize <= 0 {
			err = multierr.Append(err, errors.New("publisher.queue_size 必须大于0"))
		}
		if c.Publisher.Workers <= 0 {
			err = multierr.Append(err, errors.New("publisher.workers 必须大于0"))
		}
		if c.Publisher.MaxAttempts <= 0 {
			err = multierr.Append(err, errors.New("publisher.max_attempts 必须大于0"))
		}
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func validateVenue(prefix, name, baseURL string, retry RetryConfig, limit RateLimitConfig) error {
	var err error
	if name == "" {
		err = multierr.Append(err, fmt.Errorf("%s.name 不能为空", prefix))
	}
	if baseURL == "" {
		err = multierr.Append(err, fmt.Errorf("%s.base_url 不能为空", prefix))
	}
	if retry.MaxAttempts <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.retry.max_attempts 必须大于0", prefix))
	}
	if retry.MinDelay <= 0 || retry.MaxDelay <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.retry.delay 必须为正", prefix))
	}
	if retry.MinDelay > retry.MaxDelay {
		err = multierr.Append(err, fmt.Errorf("%s.retry.min_delay 不能大于 max_delay", prefix))
	}
	if limit.Requests <= 0 || limit.Window <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.rate_limit 必须为正", prefix))
	}
	return err
}
