package config

import (
	"os"
	"strings"
	"time"
)

type Driver string

const (
	DriverSQL      Driver = "sql"
	DriverDynamoDB Driver = "dynamodb"
	DriverMemory   Driver = "memory"
)

// Body64 controls how the launch handler treats a base64-encoded request body.
type Body64 string

const (
	Body64Auto   Body64 = "auto"
	Body64Always Body64 = "always"
	Body64Never  Body64 = "never"
)

type Config struct {
	HTTPAddr string
	// TrustedProxies lists peer CIDRs whose forwarded-for headers are believed.
	// Empty means the TCP peer address is always the source IP.
	TrustedProxies []string

	LogLevel  string
	LogFormat string // json|text

	RegistryDriver Driver
	TableName      string // deployments table (DynamoDB)
	SeedFile       string // optional lti.json

	CacheDriver        Driver
	CacheName          string // launch state table (DynamoDB)
	LaunchStateTTL     time.Duration
	LaunchStatePurgeEv time.Duration

	DBDriver string
	DBDSN    string

	JWKSFetchTimeout time.Duration
	JWTLeeway        time.Duration
	EnforceNonce     bool
	LaunchBody64     Body64

	EnableAdmin   bool
	AdminUser     string
	AdminPassHash string // bcrypt

	EnableMetrics bool
	CORSOrigins   []string
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:       addr,
		TrustedProxies: csvOr("TRUSTED_PROXIES", ""),

		LogLevel:  strings.ToUpper(envOr("LOG_LEVEL", "INFO")),
		LogFormat: strings.ToLower(envOr("LOG_FORMAT", "json")),

		RegistryDriver: Driver(strings.ToLower(envOr("REGISTRY_DRIVER", string(DriverSQL)))),
		TableName:      envOr("TABLE_NAME", "ltiConfigTable"),
		SeedFile:       os.Getenv("LTI_SEED_FILE"),

		CacheDriver:        Driver(strings.ToLower(envOr("CACHE_DRIVER", string(DriverSQL)))),
		CacheName:          envOr("CACHE_NAME", "ltiCacheTable"),
		LaunchStateTTL:     envDuration("LAUNCH_STATE_TTL", 10*time.Minute),
		LaunchStatePurgeEv: envDuration("LAUNCH_STATE_PURGE_EVERY", time.Minute),

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", ""),

		JWKSFetchTimeout: envDuration("JWKS_FETCH_TIMEOUT", 10*time.Second),
		JWTLeeway:        envDuration("JWT_LEEWAY", 0),
		EnforceNonce:     envBool("LTI_ENFORCE_NONCE", false),
		LaunchBody64:     Body64(strings.ToLower(envOr("LAUNCH_BODY_BASE64", string(Body64Auto)))),

		EnableAdmin:   envBool("ENABLE_ADMIN", false),
		AdminUser:     envOr("ADMIN_USER", "admin"),
		AdminPassHash: os.Getenv("ADMIN_PASS_HASH"),

		EnableMetrics: envBool("ENABLE_METRICS", true),
		CORSOrigins:   csvOr("CORS_ORIGINS", "http://localhost:3000"),
	}
}

// UsesSQL reports whether any store is backed by the SQL database.
func (c Config) UsesSQL() bool {
	return c.RegistryDriver == DriverSQL || c.CacheDriver == DriverSQL
}

// UsesDynamoDB reports whether any store is backed by DynamoDB.
func (c Config) UsesDynamoDB() bool {
	return c.RegistryDriver == DriverDynamoDB || c.CacheDriver == DriverDynamoDB
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}
func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
