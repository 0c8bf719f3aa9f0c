package app

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains all runtime configuration, loaded from PULSE_-prefixed
// environment variables.
type Config struct {
	HTTPAddr   string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	Production bool   `env:"PRODUCTION" envDefault:"false"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`
	MaxBodyBytes      int64         `env:"HTTP_MAX_BODY_BYTES" envDefault:"1048576"`
	TrustProxy        bool          `env:"HTTP_TRUST_PROXY" envDefault:"false"`
	CookieDomain      string        `env:"COOKIE_DOMAIN"`

	DatabaseURL    string `env:"DATABASE_URL,required"`
	DBMaxConns     int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns     int32  `env:"DB_MIN_CONNS" envDefault:"0"`
	MigrateOnStart bool   `env:"DB_MIGRATE" envDefault:"true"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	CachePrefix   string `env:"CACHE_PREFIX" envDefault:"pulse"`

	TokenIssuer         string        `env:"TOKEN_ISSUER" envDefault:"principulse"`
	AccessSecret        string        `env:"JWT_ACCESS_SECRET,required"`
	RefreshSecret       string        `env:"JWT_REFRESH_SECRET,required"`
	EmailVerifySecret   string        `env:"JWT_EMAIL_VERIFY_SECRET"`
	PasswordResetSecret string        `env:"JWT_PASSWORD_RESET_SECRET"`
	TokenLeeway         time.Duration `env:"TOKEN_LEEWAY" envDefault:"1s"`

	AccessTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	VerifyTTL  time.Duration `env:"VERIFY_TOKEN_TTL" envDefault:"24h"`
	ResetTTL   time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`

	BcryptCost           int  `env:"BCRYPT_COST" envDefault:"12"`
	AutoVerify           bool `env:"AUTH_AUTO_VERIFY" envDefault:"true"`
	RequireVerifiedEmail bool `env:"AUTH_REQUIRE_VERIFIED_EMAIL" envDefault:"true"`
	RateLimitEnabled     bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
}

// LoadConfig parses the environment and validates the result.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: "PULSE_"})
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

const minSecretBytes = 32

// Validate enforces the invariants env parsing cannot express.
func (c Config) Validate() error {
	if len(c.AccessSecret) < minSecretBytes {
		return errors.New("config: PULSE_JWT_ACCESS_SECRET must be at least 32 bytes")
	}
	if len(c.RefreshSecret) < minSecretBytes {
		return errors.New("config: PULSE_JWT_REFRESH_SECRET must be at least 32 bytes")
	}
	if c.AccessSecret == c.RefreshSecret {
		return errors.New("config: access and refresh secrets must differ")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.VerifyTTL <= 0 || c.ResetTTL <= 0 {
		return errors.New("config: token TTLs must be positive")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return errors.New("config: refresh TTL must exceed access TTL")
	}
	return nil
}

// emailVerifySecret returns the configured verify secret, or one derived from
// the refresh secret when unset. Derivation keeps the per-purpose secrets
// distinct without forcing four env vars on every deployment.
func (c Config) emailVerifySecret() []byte {
	if c.EmailVerifySecret != "" {
		return []byte(c.EmailVerifySecret)
	}
	return []byte(c.RefreshSecret + "/email-verify")
}

func (c Config) passwordResetSecret() []byte {
	if c.PasswordResetSecret != "" {
		return []byte(c.PasswordResetSecret)
	}
	return []byte(c.RefreshSecret + "/password-reset")
}
