// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Engine() EngineConfig
	Bridge() BridgeConfig
	Coordinator() CoordinatorConfig
	Backend() BackendConfig
	Database() DatabaseConfig

	// Setters driven by CLI flags.
	SetBrowserHeadless(bool)
	SetBridgeURL(string)
}

// Config holds the entire application configuration.
// Sections are exported for viper's decoder and read through the Interface getters.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger" validate:"required"`
	BrowserCfg     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	EngineCfg      EngineConfig      `mapstructure:"engine" yaml:"engine"`
	BridgeCfg      BridgeConfig      `mapstructure:"bridge" yaml:"bridge"`
	CoordinatorCfg CoordinatorConfig `mapstructure:"coordinator" yaml:"coordinator"`
	BackendCfg     BackendConfig     `mapstructure:"backend" yaml:"backend"`
	DatabaseCfg    DatabaseConfig    `mapstructure:"database" yaml:"database"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig         { return c.BrowserCfg }
func (c *Config) Engine() EngineConfig           { return c.EngineCfg }
func (c *Config) Bridge() BridgeConfig           { return c.BridgeCfg }
func (c *Config) Coordinator() CoordinatorConfig { return c.CoordinatorCfg }
func (c *Config) Backend() BackendConfig         { return c.BackendCfg }
func (c *Config) Database() DatabaseConfig       { return c.DatabaseCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }
func (c *Config) SetBridgeURL(u string)     { c.BridgeCfg.URL = u }

// LoggerConfig holds the configuration for the zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error dpanic panic fatal"`
	Format      string      `mapstructure:"format" yaml:"format" validate:"oneof=console json"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size" validate:"gte=0"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age" validate:"gte=0"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls the Chrome instance the engine drives.
type BrowserConfig struct {
	Headless    bool   `mapstructure:"headless" yaml:"headless"`
	ExecPath    string `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir string `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	// RemoteURL attaches to a running Chrome's DevTools endpoint instead of
	// launching one, so runs can use the user's signed-in profile.
	RemoteURL         string        `mapstructure:"remote_url" yaml:"remote_url" validate:"omitempty,url"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width" validate:"gt=0"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height" validate:"gt=0"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout" validate:"gt=0"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout" validate:"gt=0"`
	Pacing            PacingConfig  `mapstructure:"pacing" yaml:"pacing"`
}

// EngineConfig holds the flow controller and matcher parameters.
type EngineConfig struct {
	MatchThreshold     int           `mapstructure:"match_threshold" yaml:"match_threshold" validate:"gte=85,lte=100"`
	MatchTimeout       time.Duration `mapstructure:"match_timeout" yaml:"match_timeout" validate:"gt=0"`
	ProfileTimeout     time.Duration `mapstructure:"profile_timeout" yaml:"profile_timeout" validate:"gt=0"`
	StepWait           time.Duration `mapstructure:"step_wait" yaml:"step_wait"`
	StepPollInterval   time.Duration `mapstructure:"step_poll_interval" yaml:"step_poll_interval" validate:"gt=0"`
	MaxStepTransitions int           `mapstructure:"max_step_transitions" yaml:"max_step_transitions" validate:"gt=0,lte=10"`
}

// BridgeConfig points the engine at its coordinator.
type BridgeConfig struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	Token          string        `mapstructure:"token" yaml:"token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" validate:"gt=0"`
	// ProfileFile enables offline runs: the profile is read from disk and
	// question matching always reports not-found.
	ProfileFile string `mapstructure:"profile_file" yaml:"profile_file"`
}

// CoordinatorConfig holds the out-of-page coordinator settings.
type CoordinatorConfig struct {
	ListenAddr string        `mapstructure:"listen_addr" yaml:"listen_addr" validate:"required"`
	JWTSecret  string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl" yaml:"token_ttl" validate:"gt=0"`
	CacheSize  int           `mapstructure:"cache_size" yaml:"cache_size" validate:"gt=0"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl" validate:"gt=0"`
	EventQueue int           `mapstructure:"event_queue" yaml:"event_queue" validate:"gte=0"`
}

// BackendConfig points at the profile/question backend.
type BackendConfig struct {
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
	Token     string        `mapstructure:"token" yaml:"token"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gt=0"`
	RateBurst int           `mapstructure:"rate_burst" yaml:"rate_burst" validate:"gt=0"`
	// MaxRetries bounds retries of transport failures and 429/5xx responses.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0,lte=10"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a configuration populated purely from defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "formpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.action_timeout", "10s")
	setPacingDefaults(v)

	// -- Engine --
	v.SetDefault("engine.match_threshold", 85)
	v.SetDefault("engine.match_timeout", "2s")
	v.SetDefault("engine.profile_timeout", "10s")
	v.SetDefault("engine.step_wait", "4s")
	v.SetDefault("engine.step_poll_interval", "250ms")
	v.SetDefault("engine.max_step_transitions", 10)

	// -- Bridge --
	v.SetDefault("bridge.url", "ws://127.0.0.1:7420/bridge")
	v.SetDefault("bridge.request_timeout", "10s")

	// -- Coordinator --
	v.SetDefault("coordinator.listen_addr", "127.0.0.1:7420")
	v.SetDefault("coordinator.token_ttl", "12h")
	v.SetDefault("coordinator.cache_size", 512)
	v.SetDefault("coordinator.cache_ttl", "10m")
	v.SetDefault("coordinator.event_queue", 64)

	// -- Backend --
	v.SetDefault("backend.timeout", "5s")
	v.SetDefault("backend.rate_limit", 5.0)
	v.SetDefault("backend.rate_burst", 5)
	v.SetDefault("backend.max_retries", 3)
}

// NewConfigFromViper unmarshals, expands, and validates a configuration.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("backend.token", "FORMPILOT_BACKEND_TOKEN")
	_ = v.BindEnv("coordinator.jwt_secret", "FORMPILOT_JWT_SECRET")
	_ = v.BindEnv("database.url", "FORMPILOT_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves "~" in every path-valued setting.
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.LoggerCfg.LogFile,
		&c.BrowserCfg.UserDataDir,
		&c.BrowserCfg.ExecPath,
		&c.BridgeCfg.ProfileFile,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	// Step-change wait is bounded to 3-5 seconds.
	if c.EngineCfg.StepWait < 3*time.Second || c.EngineCfg.StepWait > 5*time.Second {
		return fmt.Errorf("engine.step_wait must be between 3s and 5s, got %s", c.EngineCfg.StepWait)
	}
	if err := c.BrowserCfg.Pacing.Validate(); err != nil {
		return fmt.Errorf("browser.pacing configuration invalid: %w", err)
	}
	if c.BridgeCfg.ProfileFile != "" {
		if _, err := os.Stat(c.BridgeCfg.ProfileFile); err != nil {
			return fmt.Errorf("bridge.profile_file: %w", err)
		}
	}
	return nil
}
