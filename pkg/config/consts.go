package config

// EnvPrefix is the prefix stripped by envconfig when resolving
// unannotated fields. Every variable below spells the prefix out in
// full so the tags stay greppable.
const EnvPrefix = "NILESHOP"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "NILESHOP_APP_ENV"
	EnvPort     = "NILESHOP_APP_PORT"
	EnvRedisURL = "NILESHOP_REDIS_URL"

	EnvDBDSN  = "NILESHOP_DB_DSN"
	EnvDBHost = "NILESHOP_DB_HOST"
	EnvDBUser = "NILESHOP_DB_USER"
	EnvDBName = "NILESHOP_DB_NAME"
	EnvDBPort = "NILESHOP_DB_PORT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
