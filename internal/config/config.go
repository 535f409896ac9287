// Package config turns viper settings into the immutable Config value that
// is handed to every component constructor.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	Queue      QueueConfig
	CoverStore CoverStoreConfig
	Datawell   DatawellConfig
	Cache      CacheConfig
	Import     ImportConfig
	Validator  ValidatorConfig
	NoHit      NoHitConfig
	Admin      AdminConfig
	// VendorsFile points at the YAML vendor provisioning file.
	VendorsFile string
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	// Driver is "sqlite" or "pgx".
	Driver string
	DSN    string
}

// RedisConfig is shared by the queue transport and the vendor lock.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// QueueConfig configures the message transport and workers.
type QueueConfig struct {
	// Backend is "redis" or "memory".
	Backend     string
	Prefix      string
	Group       string
	Consumer    string
	Workers     int
	ClaimIdle   time.Duration
	Block       time.Duration
	// MaxAttempts moves a message to the failed queue after this many
	// failed deliveries. Zero retries forever.
	MaxAttempts int
}

// CoverStoreConfig configures the S3 compatible cover store.
type CoverStoreConfig struct {
	// Backend is "minio" or "memory".
	Backend   string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	PublicURL string
	MaxSize   int64
}

// DatawellConfig configures the bibliographic search client.
type DatawellConfig struct {
	URL           string
	Agency        string
	Profile       string
	Token         string
	RatePerSecond int
	Timeout       time.Duration
	RetryAttempts int
}

// CacheConfig configures the datawell response cache.
type CacheConfig struct {
	DBFile      string
	TTL         time.Duration
	NegativeTTL time.Duration
}

// ImportConfig holds defaults for vendor imports.
type ImportConfig struct {
	BatchSize int
	LockTTL   time.Duration
}

// ValidatorConfig configures remote cover URL validation.
type ValidatorConfig struct {
	Timeout       time.Duration
	RatePerSecond int
}

// NoHitConfig toggles zero-hit recovery.
type NoHitConfig struct {
	Enabled bool
}

// AdminConfig configures the worker's metrics and health listener.
type AdminConfig struct {
	Addr string
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./coverhub.db")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.backend", "redis")
	v.SetDefault("queue.prefix", "coverhub")
	v.SetDefault("queue.group", "workers")
	v.SetDefault("queue.consumer", "")
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.claim_idle", "5m")
	v.SetDefault("queue.block", "5s")
	v.SetDefault("queue.max_attempts", 10)

	v.SetDefault("coverstore.backend", "minio")
	v.SetDefault("coverstore.endpoint", "127.0.0.1:9000")
	v.SetDefault("coverstore.access_key", "")
	v.SetDefault("coverstore.secret_key", "")
	v.SetDefault("coverstore.bucket", "covers")
	v.SetDefault("coverstore.region", "")
	v.SetDefault("coverstore.use_ssl", false)
	v.SetDefault("coverstore.public_url", "")
	v.SetDefault("coverstore.max_size", 20<<20)

	v.SetDefault("datawell.url", "https://openplatform.dbc.dk/v3")
	v.SetDefault("datawell.agency", "")
	v.SetDefault("datawell.profile", "")
	v.SetDefault("datawell.token", "")
	v.SetDefault("datawell.rate_per_second", 10)
	v.SetDefault("datawell.timeout", "10s")
	v.SetDefault("datawell.retry_attempts", 3)

	v.SetDefault("cache.dbfile", "./cache.db")
	v.SetDefault("cache.ttl", "720h")
	v.SetDefault("cache.negative_ttl", "24h")

	v.SetDefault("import.batch_size", 200)
	v.SetDefault("import.lock_ttl", "30m")

	v.SetDefault("validator.timeout", "10s")
	v.SetDefault("validator.rate_per_second", 5)

	v.SetDefault("nohit.enabled", true)

	v.SetDefault("admin.addr", ":9090")

	v.SetDefault("vendors_file", "./vendors.yaml")
}

// BindEnv enables COVERHUB_ prefixed environment overrides, e.g.
// COVERHUB_DATABASE_DSN for database.dsn.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("coverhub")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the current viper state into a Config.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Database: DatabaseConfig{
			Driver: v.GetString("database.driver"),
			DSN:    v.GetString("database.dsn"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Queue: QueueConfig{
			Backend:     v.GetString("queue.backend"),
			Prefix:      v.GetString("queue.prefix"),
			Group:       v.GetString("queue.group"),
			Consumer:    v.GetString("queue.consumer"),
			Workers:     v.GetInt("queue.workers"),
			ClaimIdle:   v.GetDuration("queue.claim_idle"),
			Block:       v.GetDuration("queue.block"),
			MaxAttempts: v.GetInt("queue.max_attempts"),
		},
		CoverStore: CoverStoreConfig{
			Backend:   v.GetString("coverstore.backend"),
			Endpoint:  v.GetString("coverstore.endpoint"),
			AccessKey: v.GetString("coverstore.access_key"),
			SecretKey: v.GetString("coverstore.secret_key"),
			Bucket:    v.GetString("coverstore.bucket"),
			Region:    v.GetString("coverstore.region"),
			UseSSL:    v.GetBool("coverstore.use_ssl"),
			PublicURL: v.GetString("coverstore.public_url"),
			MaxSize:   v.GetInt64("coverstore.max_size"),
		},
		Datawell: DatawellConfig{
			URL:           v.GetString("datawell.url"),
			Agency:        v.GetString("datawell.agency"),
			Profile:       v.GetString("datawell.profile"),
			Token:         v.GetString("datawell.token"),
			RatePerSecond: v.GetInt("datawell.rate_per_second"),
			Timeout:       v.GetDuration("datawell.timeout"),
			RetryAttempts: v.GetInt("datawell.retry_attempts"),
		},
		Cache: CacheConfig{
			DBFile:      v.GetString("cache.dbfile"),
			TTL:         v.GetDuration("cache.ttl"),
			NegativeTTL: v.GetDuration("cache.negative_ttl"),
		},
		Import: ImportConfig{
			BatchSize: v.GetInt("import.batch_size"),
			LockTTL:   v.GetDuration("import.lock_ttl"),
		},
		Validator: ValidatorConfig{
			Timeout:       v.GetDuration("validator.timeout"),
			RatePerSecond: v.GetInt("validator.rate_per_second"),
		},
		NoHit: NoHitConfig{
			Enabled: v.GetBool("nohit.enabled"),
		},
		Admin: AdminConfig{
			Addr: v.GetString("admin.addr"),
		},
		VendorsFile: v.GetString("vendors_file"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that have a closed set of values.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("unsupported database driver %q (want sqlite or pgx)", c.Database.Driver)
	}
	switch c.Queue.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported queue backend %q (want redis or memory)", c.Queue.Backend)
	}
	switch c.CoverStore.Backend {
	case "minio", "memory":
	default:
		return fmt.Errorf("unsupported cover store backend %q (want minio or memory)", c.CoverStore.Backend)
	}
	if c.Import.BatchSize <= 0 {
		return fmt.Errorf("import.batch_size must be positive, got %d", c.Import.BatchSize)
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be positive, got %d", c.Queue.Workers)
	}
	if c.Queue.MaxAttempts < 0 {
		return fmt.Errorf("queue.max_attempts must not be negative, got %d", c.Queue.MaxAttempts)
	}
	return nil
}
