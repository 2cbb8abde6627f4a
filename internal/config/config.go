package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr      string
		StaticDir string
		// TrustedProxies may set X-Forwarded-For. Empty trusts none.
		TrustedProxies []string
	}
	Log struct {
		Level string
	}
	Store struct {
		Driver      string
		Path        string
		SQLitePath  string
		AtomicWrite bool
	}
	Auth struct {
		JWTSecret       string
		TokenTTL        time.Duration
		DefaultUsername string
		DefaultPassword string
	}
	Session struct {
		Driver        string
		SweepInterval time.Duration
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	RateLimit struct {
		LoginRPS   float64
		LoginBurst int
	}
	Backup struct {
		Bucket    string
		KeyPrefix string
		Retain    int
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
}

// Load reads configuration from environment variables and optional config files.
// Variables in a local .env file are applied unless already set.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("SELFTREAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:3000")
	v.SetDefault("server.staticdir", "frontend")
	v.SetDefault("server.trustedproxies", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("store.driver", "json")
	v.SetDefault("store.path", "data/data.json")
	v.SetDefault("store.sqlitepath", "data/selftreat.db")
	v.SetDefault("store.atomicwrite", false)
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.tokenttl", 12*time.Hour)
	v.SetDefault("auth.defaultusername", "ranigarima")
	v.SetDefault("auth.defaultpassword", "medic@10")
	v.SetDefault("session.driver", "memory")
	v.SetDefault("session.sweepinterval", time.Minute)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ratelimit.loginrps", 1.0)
	v.SetDefault("ratelimit.loginburst", 5)
	v.SetDefault("backup.bucket", "")
	v.SetDefault("backup.keyprefix", "backups")
	v.SetDefault("backup.retain", 0)
	v.SetDefault("backup.region", "us-east-1")
	v.SetDefault("backup.endpoint", "")
	v.SetDefault("aws.profile", "")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth jwt secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth token ttl must be positive")
	}
	switch c.Store.Driver {
	case "json", "sqlite":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Session.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown session driver %q", c.Session.Driver)
	}
	if c.RateLimit.LoginRPS <= 0 || c.RateLimit.LoginBurst <= 0 {
		return errors.New("login rate limit must be positive")
	}
	return nil
}
