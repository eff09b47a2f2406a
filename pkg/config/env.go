package config

// EnvPrefix namespaces envconfig lookups; the explicit tags below win via envconfig's alt-name lookup.
const EnvPrefix = "LEDGER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv      = "LEDGER_APP_ENV"
	EnvLogLevel    = "LEDGER_LOG_LEVEL"
	EnvDBDSN       = "LEDGER_DB_DSN"
	EnvDBDriver    = "LEDGER_DB_DRIVER"
	EnvDBHost      = "LEDGER_DB_HOST"
	EnvDBUser      = "LEDGER_DB_USER"
	EnvDBName      = "LEDGER_DB_NAME"
	EnvRedisURL    = "LEDGER_REDIS_URL"
	EnvGCPProject  = "LEDGER_GCP_PROJECT_ID"
	EnvPaymentsSub = "LEDGER_PUBSUB_PAYMENTS_SUBSCRIPTION"
	EnvLedgerTopic = "LEDGER_PUBSUB_LEDGER_TOPIC"
	EnvCommission  = "LEDGER_COMMISSION_RATE"
	EnvOpsPort     = "LEDGER_OPS_PORT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
