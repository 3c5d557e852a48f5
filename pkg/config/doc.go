// Package config loads service configuration from a YAML file and ENTITLE_*
// environment variables.
//
// Values are layered: built-in defaults, then the file named by
// ENTITLE_CONFIG_FILE (if set), then environment variables. The result is
// validated before it is returned.
//
// # Environment
//
// Server settings:
//
//	ENTITLE_PORT="8080"
//	ENTITLE_HEALTH_PORT="9090"
//	ENTITLE_APP_URL="https://app.example.com"
//	ENTITLE_ALLOWED_ORIGINS="https://app.example.com,https://admin.example.com"
//	ENTITLE_INVITES_PER_HOUR="30"
//
// Storage and cache:
//
//	ENTITLE_DB_DRIVER="postgres"  # postgres, sqlite3
//	ENTITLE_DB_URL="postgres://localhost/entitle?sslmode=disable"
//	ENTITLE_REDIS_URL="redis://localhost:6379"
//	ENTITLE_CACHE_ENABLED="true"
//
// Sessions, billing and mail:
//
//	ENTITLE_SESSION_ISSUER="https://id.example.com"
//	ENTITLE_SESSION_AUDIENCE="entitle"
//	ENTITLE_STRIPE_API_KEY="sk_live_..."
//	ENTITLE_STRIPE_WEBHOOK_SECRET="whsec_..."
//	ENTITLE_STRIPE_PRICE_PRO="price_..."      # also _PRO_YEARLY, _TEAM, _TEAM_YEARLY
//	ENTITLE_MAIL_RELAY_URL="https://mail.internal/send"
//
// Worker schedules (standard cron syntax):
//
//	ENTITLE_EXPIRE_INVITATIONS_SCHEDULE="*/15 * * * *"
//	ENTITLE_RECONCILE_TIERS_SCHEDULE="0 * * * *"
//
// Observability:
//
//	ENTITLE_LOG_LEVEL="info"  # debug, info, warn, error
//	ENTITLE_OTEL_ENABLED="true"
//	ENTITLE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Hot reload
//
// Watch follows the config file and re-runs Load on every change. The server
// uses it to change the log level without a restart:
//
//	go config.Watch(ctx, path, logger, config.ApplyLogLevel(logger))
package config
