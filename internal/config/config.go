package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	StaticPath   string        `mapstructure:"static_path"`
	ReadLimit    int64         `mapstructure:"read_limit" validate:"min=512"`
	PingPeriod   time.Duration `mapstructure:"ping_period" validate:"min=1s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=1ms"`
	SendBuffer   int           `mapstructure:"send_buffer" validate:"min=1"`
	Secret       string        `mapstructure:"secret"`
	LogLevel     string        `mapstructure:"log_level"`
	Backpressure string        `mapstructure:"backpressure" validate:"oneof=kick drop"`

	Auth    AuthConfig    `mapstructure:"auth"`
	Chat    ChatConfig    `mapstructure:"chat"`
	Events  EventsConfig  `mapstructure:"events"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	ICE     ICEConfig     `mapstructure:"ice"`
	TURN    TURNConfig    `mapstructure:"turn"`

	v *viper.Viper
}

type AuthConfig struct {
	AllowGuests  bool `mapstructure:"allow_guests"`
	TrustHeaders bool `mapstructure:"trust_headers"`
}

type ChatConfig struct {
	NearbyMode   string        `mapstructure:"nearby_mode" validate:"oneof=hint verify server"`
	NearbyRadius float64       `mapstructure:"nearby_radius" validate:"gt=0"`
	RateLimit    int           `mapstructure:"rate_limit" validate:"min=1"`
	RateInterval time.Duration `mapstructure:"rate_interval" validate:"min=1ms"`
	MaxLength    int           `mapstructure:"max_length" validate:"min=1"`
}

type EventsConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
	QueueSize     int    `mapstructure:"queue_size" validate:"min=1"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type ICEConfig struct {
	STUNURLs []string `mapstructure:"stun_urls"`
}

type TURNConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	PublicIP string        `mapstructure:"public_ip" validate:"omitempty,ip"`
	Port     int           `mapstructure:"port" validate:"min=1,max=65535"`
	Realm    string        `mapstructure:"realm"`
	Secret   string        `mapstructure:"secret" validate:"required_if=Enabled true"`
	TTL      time.Duration `mapstructure:"ttl" validate:"min=1m"`
}

var ErrInvalid = errors.New("invalid config")

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("backpressure", "kick")

	v.SetDefault("auth.allow_guests", true)
	v.SetDefault("auth.trust_headers", false)

	v.SetDefault("chat.nearby_mode", "hint")
	v.SetDefault("chat.nearby_radius", 5.0)
	v.SetDefault("chat.rate_limit", 10)
	v.SetDefault("chat.rate_interval", "10s")
	v.SetDefault("chat.max_length", 1000)

	v.SetDefault("events.redis_addr", "")
	v.SetDefault("events.redis_password", "")
	v.SetDefault("events.redis_db", 0)
	v.SetDefault("events.channel_prefix", "jam")
	v.SetDefault("events.queue_size", 256)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("ice.stun_urls", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("turn.enabled", false)
	v.SetDefault("turn.public_ip", "")
	v.SetDefault("turn.port", 3478)
	v.SetDefault("turn.realm", "jam")
	v.SetDefault("turn.secret", "")
	v.SetDefault("turn.ttl", "1h")
}

// Load reads config/config.<CONFIG_ENV>.yaml (or --config), then JAM_* env
// vars, then command line flags.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("jam", pflag.ContinueOnError)
	file := fs.String("config", "", "config file path")
	fs.Int("port", 8080, "HTTP port")
	fs.String("mode", "release", "gin mode (debug|release)")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	fileName := *file
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("JAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, name := range []string{"port", "mode"} {
		if err := v.BindPFlag(name, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("config loaded")
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.v = v
	return &cfg, nil
}

// Level is the zerolog level named by log_level; unknown names mean info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Watch re-reads the config file on every change and hands the result to fn.
// Invalid revisions are logged and skipped.
func (c *Config) Watch(fn func(*Config)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	if _, err := os.Stat(c.v.ConfigFileUsed()); err != nil {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(c.v)
		if err != nil {
			log.Error().Err(err).Str("module", "config").Str("file", e.Name).Msg("config reload rejected")
			return
		}
		log.Info().Str("module", "config").Str("file", e.Name).Msg("config reloaded")
		fn(next)
	})
	c.v.WatchConfig()
}
