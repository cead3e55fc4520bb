package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"production"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":5000"`
	APIPrefix   string `env:"API_PREFIX" envDefault:"/api"`
	GRPCAddr    string `env:"GRPC_ADDR"`
	ServiceAuth string `env:"SERVICE_AUTH_TOKEN"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	StoreDriver   string        `env:"STORE_DRIVER" envDefault:"postgres"`
	StoreTimeout  time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	MongoURI      string        `env:"MONGO_URI"`
	MongoDatabase string        `env:"MONGO_DATABASE" envDefault:"task_db"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`

	JWTSecret       string        `env:"JWT_SECRET,required,notEmpty"`
	JWTIssuer       string        `env:"JWT_ISSUER" envDefault:"taskhub"`
	SessionTokenTTL time.Duration `env:"SESSION_TOKEN_TTL" envDefault:"24h"`
	BcryptCost      int           `env:"BCRYPT_COST" envDefault:"10"`

	CORSAllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	HealthProbeInterval time.Duration `env:"HEALTH_PROBE_INTERVAL" envDefault:"30s"`

	AdminUsername string `env:"ADMIN_USERNAME"`
	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.APIPrefix = normalizePrefix(cfg.APIPrefix)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL required for postgres store")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return errors.New("MONGO_URI required for mongo store")
		}
	case DriverRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR required for redis store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.SessionTokenTTL <= 0 {
		return errors.New("SESSION_TOKEN_TTL must be positive")
	}
	if c.GRPCAddr != "" && c.ServiceAuth == "" {
		return errors.New("SERVICE_AUTH_TOKEN required when GRPC_ADDR is set")
	}
	if c.hasAdminBootstrap() && (c.AdminUsername == "" || c.AdminEmail == "" || c.AdminPassword == "") {
		return errors.New("ADMIN_USERNAME, ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	return nil
}

func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

// BootstrapAdmin reports whether an admin account should be ensured at startup.
func (c Config) BootstrapAdmin() bool {
	return c.AdminUsername != "" && c.AdminEmail != "" && c.AdminPassword != ""
}

func (c Config) hasAdminBootstrap() bool {
	return c.AdminUsername != "" || c.AdminEmail != "" || c.AdminPassword != ""
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}
