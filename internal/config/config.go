package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/proxypool/proxypool/internal/core/domain"
)

// Server is the listener bind configuration.
type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ProxyEntry is one configured upstream SOCKS5 proxy.
type ProxyEntry struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Config is the immutable snapshot produced by Load. It is replaced
// wholesale on reload; the registry reconciles against it.
type Config struct {
	Server  Server       `mapstructure:"server"`
	Proxies []ProxyEntry `mapstructure:"proxies"`

	LoadBalancingAlgorithm string `mapstructure:"load_balancing_algorithm"`

	HealthCheckIntervalSecs int `mapstructure:"health_check_interval"`
	RestCheckIntervalSecs   int `mapstructure:"rest_check_interval"`
	ConnectionTimeoutSecs   int `mapstructure:"connection_timeout"`
	MaxRetries              int `mapstructure:"max_retries"`
	OverloadBackoffBaseSecs int `mapstructure:"overload_backoff_base_secs"`
	ProxyRestDurationSecs   int `mapstructure:"proxy_rest_duration"`

	SessionPoolSize int `mapstructure:"session_pool_size"`
}

func Defaults() Config {
	return Config{
		Server:                  Server{Host: "0.0.0.0", Port: 8080},
		LoadBalancingAlgorithm:  "random",
		HealthCheckIntervalSecs: 30,
		RestCheckIntervalSecs:   0, // derived as max(5, health_check_interval/6) when zero
		ConnectionTimeoutSecs:   30,
		MaxRetries:              3,
		OverloadBackoffBaseSecs: 30,
		ProxyRestDurationSecs:   300,
		SessionPoolSize:         5,
	}
}

// HealthCheckInterval, RestCheckInterval and ConnectionTimeout convert the
// stored integer-seconds fields to time.Duration for the adapters that
// consume them.
func (c Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSecs) * time.Second
}

func (c Config) RestCheckInterval() time.Duration {
	if c.RestCheckIntervalSecs > 0 {
		return time.Duration(c.RestCheckIntervalSecs) * time.Second
	}
	derived := c.HealthCheckInterval() / 6
	if derived < 5*time.Second {
		return 5 * time.Second
	}
	return derived
}

func (c Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutSecs) * time.Second
}

func (c Config) OverloadBackoffBase() time.Duration {
	return time.Duration(c.OverloadBackoffBaseSecs) * time.Second
}

// ProxyRestDurationCap is the cap applied to the exponential backoff
// formula, per the Open Question resolution recorded in DESIGN.md:
// proxy_rest_duration bounds base*2^(overload_count-1) rather than
// replacing it.
func (c Config) ProxyRestDurationCap() time.Duration {
	return time.Duration(c.ProxyRestDurationSecs) * time.Second
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// UpstreamConfigs converts the loaded proxy entries into the domain shape
// Registry.Reconcile expects.
func (c Config) UpstreamConfigs() []domain.UpstreamConfig {
	out := make([]domain.UpstreamConfig, 0, len(c.Proxies))
	for _, p := range c.Proxies {
		out = append(out, domain.UpstreamConfig{Host: p.Host, Port: p.Port, Username: p.Username, Password: p.Password})
	}
	return out
}

func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return domain.NewConfigError("server.port", "must be between 1 and 65535")
	}
	if len(c.Proxies) == 0 {
		return domain.NewConfigError("proxies", "at least one upstream must be configured")
	}
	switch c.LoadBalancingAlgorithm {
	case "random", "round_robin", "":
	default:
		return domain.NewConfigError("load_balancing_algorithm", "must be \"random\" or \"round_robin\"")
	}
	return nil
}

// Load reads configuration from path (always parsed as JSON, whatever the
// file extension) layered under PROXYPOOL_-prefixed environment variable overrides,
// mirroring the teacher's viper-based config.Load: SetConfigType, env
// prefix/replacer, AutomaticEnv, then ReadInConfig with a tolerant
// not-found fallback to defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigType("json")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PROXYPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
