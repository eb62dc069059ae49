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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Square       SquareConfig
	Carrier      CarrierConfig
	Orders       OrdersConfig
	Payments     PaymentsConfig
	Jobs         JobsConfig
	Outbox       OutboxConfig
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
	Env          string `envconfig:"INTLSHOP_APP_ENV" required:"true"`
	Port         string `envconfig:"INTLSHOP_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"INTLSHOP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"INTLSHOP_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"INTLSHOP_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

type ServiceConfig struct {
	Kind string `envconfig:"INTLSHOP_SERVICE_KIND" default:"api"`
	// MetricsAddr, when set, makes background binaries serve /metrics.
	MetricsAddr string `envconfig:"INTLSHOP_METRICS_ADDR"`
}

type DBConfig struct {
	DSN    string `envconfig:"INTLSHOP_DB_DSN"`
	Driver string `envconfig:"INTLSHOP_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"INTLSHOP_DB_HOST"`
	LegacyPort     int    `envconfig:"INTLSHOP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"INTLSHOP_DB_USER"`
	LegacyPassword string `envconfig:"INTLSHOP_DB_PASSWORD"`
	LegacyName     string `envconfig:"INTLSHOP_DB_NAME"`
	LegacySSLMode  string `envconfig:"INTLSHOP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"INTLSHOP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"INTLSHOP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"INTLSHOP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"INTLSHOP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"INTLSHOP_REDIS_URL" required:"true"`
	Address      string        `envconfig:"INTLSHOP_REDIS_ADDR"`
	Password     string        `envconfig:"INTLSHOP_REDIS_PASSWORD"`
	DB           int           `envconfig:"INTLSHOP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"INTLSHOP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"INTLSHOP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"INTLSHOP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"INTLSHOP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"INTLSHOP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig validates tokens issued by the account service.
type JWTConfig struct {
	Secret            string `envconfig:"INTLSHOP_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"INTLSHOP_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"INTLSHOP_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"INTLSHOP_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"INTLSHOP_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	HTTPIdempotencyTTL   time.Duration `envconfig:"INTLSHOP_HTTP_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"INTLSHOP_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"INTLSHOP_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"INTLSHOP_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"INTLSHOP_PUBSUB_ORDERS_TOPIC" required:"true"`
	OrdersSubscription string `envconfig:"INTLSHOP_PUBSUB_ORDERS_SUBSCRIPTION" required:"true"`
	DomainTopic        string `envconfig:"INTLSHOP_PUBSUB_DOMAIN_TOPIC" required:"true"`
	DomainSubscription string `envconfig:"INTLSHOP_PUBSUB_DOMAIN_SUBSCRIPTION"`
}

type SquareConfig struct {
	AccessToken     string        `envconfig:"INTLSHOP_SQUARE_ACCESS_TOKEN"`
	LocationID      string        `envconfig:"INTLSHOP_SQUARE_LOCATION_ID"`
	WebhookSecret   string        `envconfig:"INTLSHOP_SQUARE_WEBHOOK_SECRET"`
	NotificationURL string        `envconfig:"INTLSHOP_SQUARE_NOTIFICATION_URL"`
	Env             string        `envconfig:"INTLSHOP_SQUARE_ENV" default:"sandbox"`
	Timeout         time.Duration `envconfig:"INTLSHOP_SQUARE_TIMEOUT" default:"15s"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

// CarrierConfig points at the tracking aggregator.
type CarrierConfig struct {
	BaseURL       string        `envconfig:"INTLSHOP_CARRIER_BASE_URL" default:"https://api.17track.net/track/v2.2"`
	APIKey        string        `envconfig:"INTLSHOP_CARRIER_API_KEY"`
	WebhookSecret string        `envconfig:"INTLSHOP_CARRIER_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"INTLSHOP_CARRIER_TIMEOUT" default:"10s"`
}

type OrdersConfig struct {
	PaymentTTL       time.Duration `envconfig:"INTLSHOP_ORDER_PAYMENT_TTL" default:"30m"`
	AddressChangeTTL time.Duration `envconfig:"INTLSHOP_ORDER_ADDRESS_CHANGE_TTL" default:"720h"`
}

type PaymentsConfig struct {
	WebhookReplayTTL     time.Duration `envconfig:"INTLSHOP_WEBHOOK_REPLAY_TTL" default:"96h"`
	WebhookProcessingTTL time.Duration `envconfig:"INTLSHOP_WEBHOOK_PROCESSING_TTL" default:"5m"`
}

type JobsConfig struct {
	Interval                 time.Duration `envconfig:"INTLSHOP_CRON_INTERVAL" default:"5m"`
	LockTTL                  time.Duration `envconfig:"INTLSHOP_CRON_LOCK_TTL" default:"4m"`
	PaymentSyncBatch         int           `envconfig:"INTLSHOP_JOB_PAYMENT_SYNC_BATCH" default:"50"`
	RefundSyncBatch          int           `envconfig:"INTLSHOP_JOB_REFUND_SYNC_BATCH" default:"50"`
	OrderTimeoutBatch        int           `envconfig:"INTLSHOP_JOB_ORDER_TIMEOUT_BATCH" default:"100"`
	ShipmentSyncBatch        int           `envconfig:"INTLSHOP_JOB_SHIPMENT_SYNC_BATCH" default:"50"`
	ShipmentPlaceholderBatch int           `envconfig:"INTLSHOP_JOB_SHIPMENT_PLACEHOLDER_BATCH" default:"100"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"INTLSHOP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"INTLSHOP_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"INTLSHOP_OUTBOX_MAX_ATTEMPTS" default:"10"`

	Retention time.Duration `envconfig:"INTLSHOP_OUTBOX_RETENTION" default:"720h"`
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
