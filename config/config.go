package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v4"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	KeepAlive KeepAliveConfig `yaml:"keepalive"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
}

type ServerConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	Environment        string `yaml:"environment"`
	SwaggerPath        string `yaml:"swagger_path"`
	CacheTTLSeconds    int    `yaml:"cache_ttl_seconds"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	AddSource bool   `yaml:"add_source"`
}

type EndpointConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Priority int    `yaml:"priority"`
	// nil means enabled
	Active *bool `yaml:"active"`
}

func (e EndpointConfig) IsActive() bool {
	return e.Active == nil || *e.Active
}

type UpstreamConfig struct {
	FailureThreshold      int              `yaml:"failure_threshold"`
	CooldownSeconds       int              `yaml:"cooldown_seconds"`
	RequestTimeoutSeconds int              `yaml:"request_timeout_seconds"`
	ProbeIntervalSeconds  int              `yaml:"probe_interval_seconds"`
	ProbeTimeoutSeconds   int              `yaml:"probe_timeout_seconds"`
	ProbePath             string           `yaml:"probe_path"`
	Endpoints             []EndpointConfig `yaml:"endpoints"`
}

func (u UpstreamConfig) Cooldown() time.Duration {
	return time.Duration(u.CooldownSeconds) * time.Second
}

func (u UpstreamConfig) RequestTimeout() time.Duration {
	return time.Duration(u.RequestTimeoutSeconds) * time.Second
}

func (u UpstreamConfig) ProbeInterval() time.Duration {
	return time.Duration(u.ProbeIntervalSeconds) * time.Second
}

func (u UpstreamConfig) ProbeTimeout() time.Duration {
	return time.Duration(u.ProbeTimeoutSeconds) * time.Second
}

type KeepAliveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	// Empty means the server's own /api/health/ping on localhost.
	URL string `yaml:"url"`
}

// RedisConfig, DatabaseConfig and KafkaConfig are optional: an empty Host
// turns the component off.
type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	TrackingLookedUpTopic string `yaml:"tracking_looked_up_topic_name"`
	ConsumerGroup         string `yaml:"consumer_group"`
}

func (k KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:           ":8080",
			Environment:        EnvDev,
			CacheTTLSeconds:    60,
			RateLimitPerMinute: 60,
		},
		Logging: LoggingConfig{Level: LogLevelInfo},
		Upstream: UpstreamConfig{
			FailureThreshold:      3,
			CooldownSeconds:       300,
			RequestTimeoutSeconds: 30,
			ProbeIntervalSeconds:  120,
			ProbeTimeoutSeconds:   10,
			ProbePath:             "/health-check-dummy",
			Endpoints: []EndpointConfig{
				{ID: "primary", Name: "Tracking API", URL: "https://egyptpost.elliaa.com", Priority: 1},
			},
		},
		KeepAlive: KeepAliveConfig{
			Enabled:  true,
			Schedule: "@every 10m",
		},
		Kafka: KafkaConfig{
			TrackingLookedUpTopic: "tracking.looked_up",
			ConsumerGroup:         "track-api",
		},
	}
}

// LoadConfig reads filename over the defaults, applies environment
// overrides and validates the result. An empty filename skips the file.
func LoadConfig(filename string) (*Config, error) {
	config := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Endpoints from the file replace the default list.
		config.Upstream.Endpoints = nil
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
		}
		if len(config.Upstream.Endpoints) == 0 {
			config.Upstream.Endpoints = Default().Upstream.Endpoints
		}
	}

	applyEnv(config, viper.New())

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func applyEnv(c *Config, v *viper.Viper) {
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("failure_threshold", "FAILURE_THRESHOLD")
	_ = v.BindEnv("cooldown_seconds", "COOLDOWN_SECONDS")
	_ = v.BindEnv("request_timeout_seconds", "REQUEST_TIMEOUT_SECONDS")
	_ = v.BindEnv("log_level", "LOG_LEVEL")
	_ = v.BindEnv("app_env", "APP_ENV")

	if v.IsSet("port") {
		c.Server.HTTPAddr = ":" + strings.TrimPrefix(v.GetString("port"), ":")
	}
	if v.IsSet("failure_threshold") {
		c.Upstream.FailureThreshold = v.GetInt("failure_threshold")
	}
	if v.IsSet("cooldown_seconds") {
		c.Upstream.CooldownSeconds = v.GetInt("cooldown_seconds")
	}
	if v.IsSet("request_timeout_seconds") {
		c.Upstream.RequestTimeoutSeconds = v.GetInt("request_timeout_seconds")
	}
	if v.IsSet("log_level") {
		c.Logging.Level = strings.ToLower(v.GetString("log_level"))
	}
	if v.IsSet("app_env") {
		c.Server.Environment = strings.ToLower(v.GetString("app_env"))
	}
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server, validation.By(func(value interface{}) error {
			sc, _ := value.(ServerConfig)
			return validation.ValidateStruct(&sc,
				validation.Field(&sc.HTTPAddr, validation.Required, validation.By(validateHostPort)),
				validation.Field(&sc.Environment, validation.Required, validation.In(EnvDev, EnvStaging, EnvProd)),
				validation.Field(&sc.CacheTTLSeconds, validation.Min(0)),
				validation.Field(&sc.RateLimitPerMinute, validation.Min(0)),
			)
		})),
		validation.Field(&c.Logging, validation.By(func(value interface{}) error {
			lc, _ := value.(LoggingConfig)
			return validation.ValidateStruct(&lc,
				validation.Field(&lc.Level, validation.Required,
					validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError)),
			)
		})),
		validation.Field(&c.Upstream, validation.By(func(value interface{}) error {
			uc, _ := value.(UpstreamConfig)
			return validation.ValidateStruct(&uc,
				validation.Field(&uc.FailureThreshold, validation.Required, validation.Min(1)),
				validation.Field(&uc.CooldownSeconds, validation.Required, validation.Min(1)),
				validation.Field(&uc.RequestTimeoutSeconds, validation.Required, validation.Min(1)),
				validation.Field(&uc.ProbeIntervalSeconds, validation.Required, validation.Min(1)),
				validation.Field(&uc.ProbeTimeoutSeconds, validation.Required, validation.Min(1)),
				validation.Field(&uc.Endpoints,
					validation.Required,
					validation.Length(1, 0),
					validation.Each(validation.By(validateEndpoint)),
					validation.By(uniqueEndpointIDs),
				),
			)
		})),
		validation.Field(&c.KeepAlive, validation.By(func(value interface{}) error {
			kc, _ := value.(KeepAliveConfig)
			return validation.ValidateStruct(&kc,
				validation.Field(&kc.Schedule, validation.When(kc.Enabled, validation.Required)),
				validation.Field(&kc.URL, is.URL),
			)
		})),
		validation.Field(&c.Redis, validation.By(func(value interface{}) error {
			rc, _ := value.(RedisConfig)
			return validation.ValidateStruct(&rc,
				validation.Field(&rc.Port, validation.When(rc.Host != "", validation.Required, validation.Max(65535))),
			)
		})),
		validation.Field(&c.Database, validation.By(func(value interface{}) error {
			dc, _ := value.(DatabaseConfig)
			return validation.ValidateStruct(&dc,
				validation.Field(&dc.Port, validation.When(dc.Host != "", validation.Required, validation.Max(65535))),
				validation.Field(&dc.DBName, validation.When(dc.Host != "", validation.Required)),
			)
		})),
		validation.Field(&c.Kafka, validation.By(func(value interface{}) error {
			kc, _ := value.(KafkaConfig)
			return validation.ValidateStruct(&kc,
				validation.Field(&kc.Port, validation.When(kc.Host != "", validation.Required, validation.Max(65535))),
				validation.Field(&kc.TrackingLookedUpTopic, validation.When(kc.Host != "", validation.Required)),
				validation.Field(&kc.ConsumerGroup, validation.When(kc.Host != "", validation.Required)),
			)
		})),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return validation.NewError("validation_invalid_port", "invalid port")
	}
	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}
	return nil
}

func validateEndpoint(value interface{}) error {
	ep, ok := value.(EndpointConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be an EndpointConfig")
	}
	if ep.ID == "" {
		return validation.NewError("validation_empty_id", "endpoint id cannot be empty")
	}
	u, err := url.Parse(ep.URL)
	if err != nil || ep.URL == "" {
		return validation.NewError("validation_invalid_url", "endpoint url must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}
	if u.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}
	if ep.Priority < 1 {
		return validation.NewError("validation_invalid_priority", "priority must be at least 1")
	}
	return nil
}

func uniqueEndpointIDs(value interface{}) error {
	eps, _ := value.([]EndpointConfig)
	seen := make(map[string]bool, len(eps))
	for _, ep := range eps {
		if seen[ep.ID] {
			return validation.NewError("validation_duplicate_id", fmt.Sprintf("duplicate endpoint id %q", ep.ID))
		}
		seen[ep.ID] = true
	}
	return nil
}
