package config

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/fuchsia74/modelcheck/common/env"
)

var (
	// AdminPassword authenticates the dashboard login. A value with the
	// bcrypt "$2" prefix is compared as a hash, anything else as plaintext.
	AdminPassword = strings.TrimSpace(env.String("ADMIN_PASSWORD", ""))

	// JWTSecret signs admin session tokens (HS256). Generated per process
	// when unset, which invalidates admin sessions across restarts.
	JWTSecret = func() string {
		if s := strings.TrimSpace(env.String("JWT_SECRET", "")); s != "" {
			return s
		}
		return randomToken()
	}()

	// JWTExpiry bounds admin session lifetime.
	JWTExpiry = time.Hour * 24 * time.Duration(env.Int("JWT_EXPIRY_DAYS", 7))

	// SQLDSN selects the relational store. postgres:// uses PostgreSQL,
	// any other non-empty value MySQL, empty falls back to SQLite.
	SQLDSN = strings.TrimSpace(env.String("DATABASE_URL", env.String("SQL_DSN", "")))

	// RedisConnString points at the shared fast memory holding the job
	// queue, semaphores, stop flag and progress bus.
	RedisConnString = strings.TrimSpace(env.String("REDIS_URL", env.String("REDIS_CONN_STRING", "")))
	RedisPassword   = env.String("REDIS_PASSWORD", "")
	// RedisMasterName enables sentinel mode when set.
	RedisMasterName = env.String("REDIS_MASTER_NAME", "")

	// ServerPort overrides the --port flag when running inside container
	// or PaaS environments.
	ServerPort = strings.TrimSpace(env.String("PORT", ""))
	// GinMode allows forcing Gin into release mode without recompiling.
	GinMode = strings.TrimSpace(env.String("GIN_MODE", ""))

	// DebugEnabled toggles verbose structured logging when DEBUG=true.
	DebugEnabled = env.Bool("DEBUG", false)
	// DebugSQLEnabled toggles per-query SQL logging when DEBUG_SQL=true.
	DebugSQLEnabled = env.Bool("DEBUG_SQL", false)

	// SQLitePath is the database file used when no DSN is configured.
	SQLitePath = env.String("SQLITE_PATH", "modelcheck.db")
	// SQLiteBusyTimeout (ms) keeps concurrent writers from failing fast.
	SQLiteBusyTimeout = env.Int("SQLITE_BUSY_TIMEOUT", 3000)

	// CronSchedule is the default detection schedule used to seed the
	// singleton SchedulerConfig row (5-field cron).
	CronSchedule = env.String("CRON_SCHEDULE", "0 */6 * * *")
	// CronTimezone is the IANA zone the detection cron fires in.
	CronTimezone = env.String("CRON_TIMEZONE", "UTC")
	// AutoDetectEnabled seeds SchedulerConfig.Enabled.
	AutoDetectEnabled = env.Bool("AUTO_DETECT_ENABLED", false)

	// ChannelConcurrency caps concurrent probes per channel.
	ChannelConcurrency = env.Int("CHANNEL_CONCURRENCY", 5)
	// MaxGlobalConcurrency caps concurrent probes across all channels.
	MaxGlobalConcurrency = env.Int("MAX_GLOBAL_CONCURRENCY", 30)
	// DetectionMinDelayMs / DetectionMaxDelayMs bound the anti-burst
	// jitter slept before each probe.
	DetectionMinDelayMs = env.Int("DETECTION_MIN_DELAY_MS", 3000)
	DetectionMaxDelayMs = env.Int("DETECTION_MAX_DELAY_MS", 5000)

	// DetectPrompt is the canonical probe prompt.
	DetectPrompt = env.String("DETECT_PROMPT", "1+1=2? yes or no")
	// DetectMaxTokens bounds probe completions so probing stays cheap.
	DetectMaxTokens = env.Int("DETECT_MAX_TOKENS", 50)

	// ProbeTimeout bounds a single probe request.
	ProbeTimeout = time.Second * time.Duration(env.Int("PROBE_TIMEOUT", 30))
	// RelayIdleTimeout bounds how long a proxied call waits for upstream
	// response headers; once the body streams, gaps between bytes are not
	// timed.
	RelayIdleTimeout = time.Minute * time.Duration(env.Int("RELAY_IDLE_TIMEOUT_MINUTES", 10))

	// GlobalProxy is the process-wide outbound proxy consulted when a
	// channel has none of its own (http://, https:// or socks5://).
	GlobalProxy = strings.TrimSpace(env.String("GLOBAL_PROXY", ""))

	// ProxyAPIKey is the built-in gateway key. Generated per process when
	// unset; always enabled and allowed all models.
	ProxyAPIKey = func() string {
		if s := strings.TrimSpace(env.String("PROXY_API_KEY", "")); s != "" {
			return s
		}
		return randomToken()
	}()

	// LogRetentionDays controls how long ProbeLog rows are kept.
	LogRetentionDays = env.Int("LOG_RETENTION_DAYS", 7)
	// CleanupSchedule fires the ProbeLog retention job.
	CleanupSchedule = env.String("CLEANUP_SCHEDULE", "0 2 * * *")

	// DefaultItemsPerPage / MaxItemsPerPage cap paginated API responses.
	DefaultItemsPerPage = env.Int("DEFAULT_ITEMS_PER_PAGE", 20)
	MaxItemsPerPage     = env.Int("MAX_ITEMS_PER_PAGE", 100)

	// ShutdownTimeout is the graceful shutdown window for the HTTP server
	// and background workers.
	ShutdownTimeout = time.Second * time.Duration(env.Int("SHUTDOWN_TIMEOUT", 30))

	// DetectionWorkers is the size of the probe worker pool. The redis
	// semaphores remain the only admission control; workers above the
	// global cap just wait their turn.
	DetectionWorkers = env.Int("DETECTION_WORKERS", 8)

	// EnablePrometheusMetrics exposes /metrics when true.
	EnablePrometheusMetrics = env.Bool("ENABLE_PROMETHEUS_METRICS", true)
)

func randomToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(buf)
}
