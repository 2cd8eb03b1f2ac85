package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"msgwindow/cmd/internal/bus"
	"msgwindow/cmd/internal/pager"
	"msgwindow/cmd/internal/realtime"
	"msgwindow/cmd/internal/window"
	"msgwindow/cmd/internal/wsclient"
)

// Config is the full runtime configuration.
//
// Load order: built-in defaults, then the optional TOML file, then MSGWIN_*
// environment variables. Later layers win.
type Config struct {
	HTTP    HTTPConfig    `toml:"http"`
	Log     LogConfig     `toml:"log"`
	DB      DBConfig      `toml:"db"`
	Gateway GatewayConfig `toml:"gateway"`
	AMQP    AMQPConfig    `toml:"amqp"`
	Window  WindowConfig  `toml:"window"`
	Watch   WatchConfig   `toml:"watch"`
}

type HTTPConfig struct {
	Addr              string        `toml:"addr"`
	ReadHeaderTimeout time.Duration `toml:"read_header_timeout"`
	ReadTimeout       time.Duration `toml:"read_timeout"`
	WriteTimeout      time.Duration `toml:"write_timeout"`
	IdleTimeout       time.Duration `toml:"idle_timeout"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout"`
	MaxHeaderBytes    int           `toml:"max_header_bytes"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json | pretty
	Color  bool   `toml:"color"`
}

type DBConfig struct {
	URL      string `toml:"url"`
	Schema   string `toml:"schema"`
	MaxConns int32  `toml:"max_conns"`
	MinConns int32  `toml:"min_conns"`
	Migrate  bool   `toml:"migrate"`

	// ReadinessRequire makes /readyz fail unless a database is configured and reachable.
	ReadinessRequire bool `toml:"readiness_require"`
}

type GatewayConfig struct {
	DevInsecure    bool          `toml:"dev_insecure"`
	OriginRequired bool          `toml:"origin_required"`
	AllowedOrigins []string      `toml:"allowed_origins"`
	SendQueueSize  int           `toml:"send_queue_size"`
	WriteTimeout   time.Duration `toml:"write_timeout"`
	ReadIdle       time.Duration `toml:"read_idle_timeout"`
	RateEvents     int           `toml:"rate_events"`
	RateWindow     time.Duration `toml:"rate_window"`
}

type AMQPConfig struct {
	URL           string        `toml:"url"`
	Exchange      string        `toml:"exchange"`
	RetryAttempts int           `toml:"retry_attempts"`
	RetryDelay    time.Duration `toml:"retry_delay"`
}

type WindowConfig struct {
	PageSize     int  `toml:"page_size"`
	BaseOrigin   int  `toml:"base_origin"`
	LowWater     int  `toml:"low_water"`
	MaxPageSize  int  `toml:"max_page_size"`
	MaxWalkPages int  `toml:"max_walk_pages"`
	DisableTail  bool `toml:"disable_tail"`
}

type WatchConfig struct {
	URL          string `toml:"url"`
	Origin       string `toml:"origin"`
	Conversation string `toml:"conversation"`
	Role         string `toml:"role"`
	// PushVia selects the push source: "ws" (gateway broadcast) or "amqp".
	PushVia string `toml:"push_via"`
	// MetricsAddr, when set, serves the window metrics of the watch session.
	MetricsAddr string `toml:"metrics_addr"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	gw := realtime.DefaultGatewayConfig()
	return Config{
		HTTP: HTTPConfig{
			Addr:              "0.0.0.0:8080",
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		DB:  DBConfig{Schema: "msgwindow", MaxConns: 10, Migrate: true},
		Gateway: GatewayConfig{
			OriginRequired: gw.OriginRequired,
			AllowedOrigins: gw.AllowedOrigins,
			SendQueueSize:  gw.SendQueueSize,
			WriteTimeout:   gw.WriteTimeout,
			ReadIdle:       gw.ReadIdleTimeout,
			RateEvents:     gw.RateEvents,
			RateWindow:     gw.RateWindow,
		},
		AMQP: AMQPConfig{Exchange: bus.DefaultExchange, RetryAttempts: 5, RetryDelay: 500 * time.Millisecond},
		Window: WindowConfig{
			PageSize:     window.DefaultPageSize,
			BaseOrigin:   window.DefaultBaseOrigin,
			LowWater:     window.DefaultLowWater,
			MaxPageSize:  pager.DefaultMaxPageSize,
			MaxWalkPages: pager.DefaultMaxWalkPages,
		},
		Watch: WatchConfig{
			URL:     "ws://127.0.0.1:8080/ws",
			Origin:  "http://localhost",
			Role:    "operator",
			PushVia: "ws",
		},
	}
}

// LoadConfig layers path (optional) and the environment over the defaults.
// An empty path falls back to MSGWIN_CONFIG_FILE.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = EnvString("MSGWIN_CONFIG_FILE", "")
	}
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			keys := make([]string, 0, len(undec))
			for _, k := range undec {
				keys = append(keys, k.String())
			}
			return Config{}, fmt.Errorf("config: %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTP.Addr = EnvString("MSGWIN_HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.ReadHeaderTimeout = EnvDuration("MSGWIN_HTTP_READ_HEADER_TIMEOUT", c.HTTP.ReadHeaderTimeout)
	c.HTTP.ReadTimeout = EnvDuration("MSGWIN_HTTP_READ_TIMEOUT", c.HTTP.ReadTimeout)
	c.HTTP.WriteTimeout = EnvDuration("MSGWIN_HTTP_WRITE_TIMEOUT", c.HTTP.WriteTimeout)
	c.HTTP.IdleTimeout = EnvDuration("MSGWIN_HTTP_IDLE_TIMEOUT", c.HTTP.IdleTimeout)
	c.HTTP.MaxHeaderBytes = EnvInt("MSGWIN_HTTP_MAX_HEADER_BYTES", c.HTTP.MaxHeaderBytes)

	c.Log.Level = EnvString("MSGWIN_LOG_LEVEL", c.Log.Level)
	c.Log.Format = EnvString("MSGWIN_LOG_FORMAT", c.Log.Format)
	c.Log.Color = EnvBool("MSGWIN_LOG_COLOR", c.Log.Color)

	c.DB.URL = EnvString("MSGWIN_DATABASE_URL", c.DB.URL)
	c.DB.Schema = EnvString("MSGWIN_DB_SCHEMA", c.DB.Schema)
	c.DB.MaxConns = EnvInt32("MSGWIN_DB_MAX_CONNS", c.DB.MaxConns)
	c.DB.MinConns = EnvInt32("MSGWIN_DB_MIN_CONNS", c.DB.MinConns)
	c.DB.Migrate = EnvBool("MSGWIN_DB_MIGRATE", c.DB.Migrate)
	c.DB.ReadinessRequire = EnvBool("MSGWIN_READINESS_REQUIRE_DB", c.DB.ReadinessRequire)

	c.Gateway.DevInsecure = EnvBool("MSGWIN_WS_DEV_INSECURE", c.Gateway.DevInsecure)
	c.Gateway.OriginRequired = EnvBool("MSGWIN_WS_ORIGIN_REQUIRED", c.Gateway.OriginRequired)
	c.Gateway.AllowedOrigins = EnvList("MSGWIN_WS_ALLOWED_ORIGINS", c.Gateway.AllowedOrigins)
	c.Gateway.SendQueueSize = EnvInt("MSGWIN_WS_SEND_QUEUE", c.Gateway.SendQueueSize)
	c.Gateway.WriteTimeout = EnvDuration("MSGWIN_WS_WRITE_TIMEOUT", c.Gateway.WriteTimeout)
	c.Gateway.ReadIdle = EnvDuration("MSGWIN_WS_READ_IDLE_TIMEOUT", c.Gateway.ReadIdle)
	c.Gateway.RateEvents = EnvInt("MSGWIN_WS_RATE_EVENTS", c.Gateway.RateEvents)
	c.Gateway.RateWindow = EnvDuration("MSGWIN_WS_RATE_WINDOW", c.Gateway.RateWindow)

	c.AMQP.URL = EnvString("MSGWIN_AMQP_URL", c.AMQP.URL)
	c.AMQP.Exchange = EnvString("MSGWIN_AMQP_EXCHANGE", c.AMQP.Exchange)

	c.Window.PageSize = EnvInt("MSGWIN_PAGE_SIZE", c.Window.PageSize)
	c.Window.BaseOrigin = EnvInt("MSGWIN_BASE_ORIGIN", c.Window.BaseOrigin)
	c.Window.LowWater = EnvInt("MSGWIN_LOW_WATER", c.Window.LowWater)
	c.Window.MaxPageSize = EnvInt("MSGWIN_MAX_PAGE_SIZE", c.Window.MaxPageSize)
	c.Window.MaxWalkPages = EnvInt("MSGWIN_MAX_WALK_PAGES", c.Window.MaxWalkPages)
	c.Window.DisableTail = EnvBool("MSGWIN_DISABLE_TAIL", c.Window.DisableTail)

	c.Watch.URL = EnvString("MSGWIN_WATCH_URL", c.Watch.URL)
	c.Watch.Origin = EnvString("MSGWIN_WATCH_ORIGIN", c.Watch.Origin)
	c.Watch.Conversation = EnvString("MSGWIN_WATCH_CONVERSATION", c.Watch.Conversation)
	c.Watch.Role = EnvString("MSGWIN_WATCH_ROLE", c.Watch.Role)
	c.Watch.PushVia = EnvString("MSGWIN_WATCH_PUSH_VIA", c.Watch.PushVia)
	c.Watch.MetricsAddr = EnvString("MSGWIN_WATCH_METRICS_ADDR", c.Watch.MetricsAddr)
}

// Validate rejects combinations that cannot work.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Log.Format) {
	case "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or pretty, got %q", c.Log.Format))
	}
	if c.Window.BaseOrigin <= 0 {
		errs = append(errs, errors.New("window.base_origin must be positive"))
	}
	if c.Window.LowWater < 0 || c.Window.LowWater >= c.Window.BaseOrigin {
		errs = append(errs, errors.New("window.low_water must be in [0, base_origin)"))
	}
	if c.Window.MaxPageSize > 0 && c.Window.PageSize > c.Window.MaxPageSize {
		errs = append(errs, errors.New("window.page_size exceeds window.max_page_size"))
	}
	switch c.Watch.PushVia {
	case "ws", "":
	case "amqp":
		if c.AMQP.URL == "" {
			errs = append(errs, errors.New("watch.push_via=amqp requires amqp.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("watch.push_via must be ws or amqp, got %q", c.Watch.PushVia))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// GatewayOptions converts the gateway section.
func (c Config) GatewayOptions() realtime.GatewayConfig {
	return realtime.GatewayConfig{
		DevInsecure:     c.Gateway.DevInsecure,
		OriginRequired:  c.Gateway.OriginRequired,
		AllowedOrigins:  c.Gateway.AllowedOrigins,
		WriteTimeout:    c.Gateway.WriteTimeout,
		ReadIdleTimeout: c.Gateway.ReadIdle,
		SendQueueSize:   c.Gateway.SendQueueSize,
		RateEvents:      c.Gateway.RateEvents,
		RateWindow:      c.Gateway.RateWindow,
	}
}

// WindowOptions converts the window section.
func (c Config) WindowOptions() window.Config {
	return window.Config{PageSize: c.Window.PageSize, BaseOrigin: c.Window.BaseOrigin, LowWater: c.Window.LowWater}
}

// PagerOptions converts the pager tunables.
func (c Config) PagerOptions() pager.Config {
	return pager.Config{
		DefaultLimit: c.Window.PageSize,
		MaxPageSize:  c.Window.MaxPageSize,
		MaxWalkPages: c.Window.MaxWalkPages,
		DisableTail:  c.Window.DisableTail,
	}
}

// ClientOptions converts the watch section.
func (c Config) ClientOptions() wsclient.Config {
	return wsclient.Config{
		URL:            c.Watch.URL,
		Origin:         c.Watch.Origin,
		ConversationID: c.Watch.Conversation,
		Role:           c.Watch.Role,
	}
}

// BusOptions converts the amqp section.
func (c Config) BusOptions() bus.Config {
	return bus.Config{
		URL:           c.AMQP.URL,
		Exchange:      c.AMQP.Exchange,
		RetryAttempts: c.AMQP.RetryAttempts,
		RetryDelay:    c.AMQP.RetryDelay,
	}
}
