package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CERTFLOW_SERVER_ADDR.
const EnvPrefix = "CERTFLOW"

// Config is the full process configuration.
type Config struct {
	Server        Server        `mapstructure:"server"`
	Log           Log           `mapstructure:"log"`
	Database      Database      `mapstructure:"database"`
	Redis         RedisConfig   `mapstructure:"redis"`
	Authority     Authority     `mapstructure:"authority"`
	Kafka         Kafka         `mapstructure:"kafka"`
	Certification Certification `mapstructure:"certification"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	// OwnerHeader is set by the fronting gateway after authentication.
	OwnerHeader   string `mapstructure:"owner_header"`
	MaxUploadSize int64  `mapstructure:"max_upload_size"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Database selects the record store. An empty URL keeps records in memory.
type Database struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// RedisConfig backs the submission claim store. An empty URL keeps claims in
// process memory, which is only safe for a single instance.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Authority configures the external validation authority client.
type Authority struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Retries          int           `mapstructure:"retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	RatePerSecond    float64       `mapstructure:"rate_per_second"`
	RateBurst        int           `mapstructure:"rate_burst"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

// Kafka configures transition event publishing. No brokers means events are
// only logged.
type Kafka struct {
	Brokers     []string `mapstructure:"brokers"`
	Topic       string   `mapstructure:"topic"`
	Partitions  int32    `mapstructure:"partitions"`
	Replication int16    `mapstructure:"replication"`
}

type Certification struct {
	ClaimTTL           time.Duration `mapstructure:"claim_ttl"`
	SyncTimeout        time.Duration `mapstructure:"sync_timeout"`
	RefreshConcurrency int           `mapstructure:"refresh_concurrency"`
	RefreshLimit       int           `mapstructure:"refresh_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.owner_header", "X-Owner-ID")
	v.SetDefault("server.max_upload_size", int64(10<<20))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("authority.base_url", "http://localhost:9090")
	v.SetDefault("authority.api_key", "")
	v.SetDefault("authority.timeout", 30*time.Second)
	v.SetDefault("authority.retries", 2)
	v.SetDefault("authority.retry_backoff", 500*time.Millisecond)
	v.SetDefault("authority.rate_per_second", 5.0)
	v.SetDefault("authority.rate_burst", 10)
	v.SetDefault("authority.breaker_threshold", 5)
	v.SetDefault("authority.breaker_cooldown", 30*time.Second)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "certification.transitions")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.replication", 1)

	v.SetDefault("certification.claim_ttl", 2*time.Minute)
	v.SetDefault("certification.sync_timeout", 45*time.Second)
	v.SetDefault("certification.refresh_concurrency", 4)
	v.SetDefault("certification.refresh_limit", 500)
}

// Load reads defaults, then the optional config file, then CERTFLOW_*
// environment variables. A missing file path is allowed; a named file that
// cannot be read is an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	// Env lists arrive as one comma separated string.
	cfg.Kafka.Brokers = splitList(strings.Join(cfg.Kafka.Brokers, ","))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the process cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Authority.BaseURL == "" {
		errs = append(errs, errors.New("authority.base_url is required"))
	}
	if c.Authority.Timeout <= 0 {
		errs = append(errs, errors.New("authority.timeout must be positive"))
	}
	if c.Authority.Retries < 0 {
		errs = append(errs, errors.New("authority.retries must not be negative"))
	}
	if c.Certification.ClaimTTL <= c.Certification.SyncTimeout {
		errs = append(errs, errors.New("certification.claim_ttl must exceed certification.sync_timeout"))
	}
	if c.Certification.RefreshConcurrency <= 0 {
		errs = append(errs, errors.New("certification.refresh_concurrency must be positive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
