package config

const (
	EnvPrefix = "INTLSHOP"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv = "INTLSHOP_APP_ENV"
	EnvPort   = "INTLSHOP_APP_PORT"

	EnvDBDSN  = "INTLSHOP_DB_DSN"
	EnvDBHost = "INTLSHOP_DB_HOST"
	EnvDBUser = "INTLSHOP_DB_USER"
	EnvDBName = "INTLSHOP_DB_NAME"

	EnvRedisURL = "INTLSHOP_REDIS_URL"

	EnvJWTSecret = "INTLSHOP_JWT_SECRET"
	EnvJWTIssuer = "INTLSHOP_JWT_ISSUER"

	EnvGCPProjectID = "INTLSHOP_GCP_PROJECT_ID"

	EnvPubSubOrdersTopic = "INTLSHOP_PUBSUB_ORDERS_TOPIC"
	EnvPubSubOrdersSub   = "INTLSHOP_PUBSUB_ORDERS_SUBSCRIPTION"
	EnvPubSubDomainTopic = "INTLSHOP_PUBSUB_DOMAIN_TOPIC"
	EnvPubSubDomainSub   = "INTLSHOP_PUBSUB_DOMAIN_SUBSCRIPTION"

	EnvOrderPaymentTTL  = "INTLSHOP_ORDER_PAYMENT_TTL"
	EnvWebhookReplayTTL = "INTLSHOP_WEBHOOK_REPLAY_TTL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
