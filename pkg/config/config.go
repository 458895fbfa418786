package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Payments     PaymentsConfig
	Stripe       StripeConfig
	Paymob       PaymobConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"NILESHOP_APP_ENV" required:"true"`
	Port         string `envconfig:"NILESHOP_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"NILESHOP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"NILESHOP_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"NILESHOP_DB_DSN"`
	Driver string `envconfig:"NILESHOP_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"NILESHOP_DB_HOST"`
	LegacyPort     int    `envconfig:"NILESHOP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"NILESHOP_DB_USER"`
	LegacyPassword string `envconfig:"NILESHOP_DB_PASSWORD"`
	LegacyName     string `envconfig:"NILESHOP_DB_NAME"`
	LegacySSLMode  string `envconfig:"NILESHOP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"NILESHOP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"NILESHOP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"NILESHOP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"NILESHOP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"NILESHOP_REDIS_URL" required:"true"`
	Address      string        `envconfig:"NILESHOP_REDIS_ADDR"`
	Password     string        `envconfig:"NILESHOP_REDIS_PASSWORD"`
	DB           int           `envconfig:"NILESHOP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"NILESHOP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"NILESHOP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"NILESHOP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"NILESHOP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"NILESHOP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"NILESHOP_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"NILESHOP_AUTO_MIGRATE" default:"false"`
}

type PaymentsConfig struct {
	Currency             string        `envconfig:"NILESHOP_PAYMENTS_CURRENCY" default:"usd"`
	AutoRefundDuplicates bool          `envconfig:"NILESHOP_PAYMENTS_AUTO_REFUND_DUPLICATES" default:"false"`
	WebhookDedupTTL      time.Duration `envconfig:"NILESHOP_PAYMENTS_WEBHOOK_DEDUP_TTL" default:"72h"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"NILESHOP_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"NILESHOP_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"NILESHOP_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type PaymobConfig struct {
	APIKey        string        `envconfig:"NILESHOP_PAYMOB_API_KEY"`
	IntegrationID int64         `envconfig:"NILESHOP_PAYMOB_INTEGRATION_ID"`
	IframeID      string        `envconfig:"NILESHOP_PAYMOB_IFRAME_ID"`
	HMACSecret    string        `envconfig:"NILESHOP_PAYMOB_HMAC_SECRET"`
	BaseURL       string        `envconfig:"NILESHOP_PAYMOB_BASE_URL" default:"https://accept.paymob.com/api"`
	HTTPTimeout   time.Duration `envconfig:"NILESHOP_PAYMOB_HTTP_TIMEOUT" default:"15s"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
