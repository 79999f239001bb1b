package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Document store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendLevelDB  = "leveldb"
)

// Audit sinks.
const (
	AuditSinkLog      = "log"
	AuditSinkPostgres = "postgres"
	AuditSinkRedis    = "redis"
	AuditSinkStore    = "store"
)

type Config struct {
	Port  string `mapstructure:"PORT"`
	Env   string `mapstructure:"ENV"`
	Debug bool   `mapstructure:"DEBUG"`

	StoreBackend  string `mapstructure:"STORE_BACKEND"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	MongoURI      string `mapstructure:"MONGO_URI"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`
	LevelDBPath   string `mapstructure:"LEVELDB_PATH"`
	RedisURL      string `mapstructure:"REDIS_URL"`

	AuditSink   string `mapstructure:"AUDIT_SINK"`
	AuditStream string `mapstructure:"AUDIT_STREAM"`
	AuditStrict bool   `mapstructure:"AUDIT_STRICT"`

	EnforceStatusTransitions bool `mapstructure:"ENFORCE_STATUS_TRANSITIONS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`
	BlobMaxBytes   int64    `mapstructure:"BLOB_MAX_BYTES"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "DEBUG",
	"STORE_BACKEND", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"MONGO_URI", "MONGO_DATABASE", "LEVELDB_PATH", "REDIS_URL",
	"AUDIT_SINK", "AUDIT_STREAM", "AUDIT_STRICT",
	"ENFORCE_STATUS_TRANSITIONS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "BLOB_MAX_BYTES",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

// Load reads configuration from the environment and an optional .env file
// in the working directory. Environment variables win.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_BACKEND", BackendMemory)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MONGO_DATABASE", "clinic")
	v.SetDefault("LEVELDB_PATH", "./data/clinic.db")
	v.SetDefault("AUDIT_SINK", AuditSinkLog)
	v.SetDefault("AUDIT_STREAM", "clinic:audit")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "32M")
	v.SetDefault("BLOB_MAX_BYTES", 25<<20)

	// Bind explicitly so Unmarshal sees variables without defaults.
	for _, k := range keys {
		v.BindEnv(k)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	cfg.AuditSink = strings.ToLower(cfg.AuditSink)

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the selected backends have what they need and that
// production runs with real authentication.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is %q", c.StoreBackend)
		}
	case BackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when STORE_BACKEND is %q", c.StoreBackend)
		}
	case BackendLevelDB:
		if c.LevelDBPath == "" {
			return fmt.Errorf("LEVELDB_PATH is required when STORE_BACKEND is %q", c.StoreBackend)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, postgres, mongo, leveldb; got %q", c.StoreBackend)
	}

	switch c.AuditSink {
	case AuditSinkLog, AuditSinkStore:
	case AuditSinkPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when AUDIT_SINK is %q", c.AuditSink)
		}
	case AuditSinkRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when AUDIT_SINK is %q", c.AuditSink)
		}
	default:
		return fmt.Errorf("AUDIT_SINK must be one of log, postgres, redis, store; got %q", c.AuditSink)
	}

	if c.IsProduction() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required in production")
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters, got %d", len(c.AuthSigningKey))
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.BlobMaxBytes <= 0 {
		return fmt.Errorf("BLOB_MAX_BYTES must be positive")
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}

// NeedsPostgres reports whether any configured component uses Postgres.
func (c *Config) NeedsPostgres() bool {
	return c.StoreBackend == BackendPostgres || c.AuditSink == AuditSinkPostgres
}
