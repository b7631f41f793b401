package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewScanConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// CronSecret authenticates the external scheduler hitting the scan trigger.
	CronSecret string
	// CredentialSecret derives the key used to seal billing credentials and webhooks.
	CredentialSecret string
	SnowflakeNode    int64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis       RedisConfig
	Kafka       KafkaConfig
	ClickHouse  ClickHouseConfig
	Stripe      StripeConfig
	Scheduler   SchedulerConfig
	MetricsPush MetricsPushConfig
	Telemetry   TelemetryConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	CronRate  float64
	CronBurst int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0 && strings.TrimSpace(c.Topic) != ""
}

type ClickHouseConfig struct {
	DSN          string
	MaxOpenConns int
}

func (c ClickHouseConfig) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

type StripeConfig struct {
	MaxNetworkRetries int64
	Timeout           time.Duration
}

type SchedulerConfig struct {
	RunInterval time.Duration
	ScanHourUTC int
	ScanTimeout time.Duration
	EnabledJobs []string
}

// MetricsPushConfig ships metrics from processes without a scrape endpoint.
type MetricsPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
	Job       string
	Interval  time.Duration
}

// TelemetryConfig carries the LOG_* and OTEL_* settings. Scan spans are sampled separately from
// request spans since there are only a handful of scans per day.
type TelemetryConfig struct {
	LogLevel  string
	LogFormat string

	TracingEnabled    bool
	ExporterEndpoint  string
	ExporterProtocol  string
	SamplingRatio     float64
	ScanSamplingRatio float64
	UntracedRoutes    []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "leakradar"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		CronSecret:        strings.TrimSpace(getenv("CRON_SECRET", "")),
		CredentialSecret:  strings.TrimSpace(getenv("CREDENTIAL_SECRET", "")),
		SnowflakeNode:     getenvInt64("SNOWFLAKE_NODE", 1),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "leakradar"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		Redis: RedisConfig{
			Addr:      strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password:  strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:        getenvInt("REDIS_DB", 0),
			CronRate:  getenvFloat("CRON_RATE_LIMIT_RATE", 0.2),
			CronBurst: getenvInt("CRON_RATE_LIMIT_BURST", 2),
		},
		Kafka: KafkaConfig{
			Brokers:      splitList(getenv("KAFKA_BROKERS", "")),
			Topic:        strings.TrimSpace(getenv("KAFKA_SCAN_TOPIC", "revenue.scan.completed")),
			WriteTimeout: getenvDuration("KAFKA_WRITE_TIMEOUT", 5*time.Second),
		},
		ClickHouse: ClickHouseConfig{
			DSN:          strings.TrimSpace(getenv("CLICKHOUSE_DSN", "")),
			MaxOpenConns: getenvInt("CLICKHOUSE_MAX_OPEN_CONNS", 4),
		},
		Stripe: StripeConfig{
			MaxNetworkRetries: getenvInt64("STRIPE_MAX_NETWORK_RETRIES", 2),
			Timeout:           getenvDuration("STRIPE_TIMEOUT", 30*time.Second),
		},
		Scheduler: SchedulerConfig{
			RunInterval: getenvDuration("SCHEDULER_RUN_INTERVAL", 15*time.Minute),
			ScanHourUTC: getenvInt("SCHEDULER_SCAN_HOUR_UTC", 6),
			ScanTimeout: getenvDuration("SCHEDULER_SCAN_TIMEOUT", 2*time.Hour),
			EnabledJobs: splitList(getenv("SCHEDULER_ENABLED_JOBS", "")),
		},
		MetricsPush: MetricsPushConfig{
			Exporter:  strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
			Job:       strings.TrimSpace(getenv("METRICS_PUSH_JOB", "leakradar")),
			Interval:  getenvDuration("METRICS_PUSH_INTERVAL", time.Minute),
		},
		Telemetry: TelemetryConfig{
			LogLevel:          strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:         strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			TracingEnabled:    getenvBool("OTEL_ENABLED", false),
			ExporterEndpoint:  strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			ExporterProtocol:  otlpProtocol(),
			SamplingRatio:     getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			ScanSamplingRatio: getenvFloat("OTEL_SCAN_SAMPLING_RATIO", 1),
			UntracedRoutes:    splitList(getenv("OTEL_UNTRACED_ROUTES", "/health,/metrics")),
		},
	}

	return cfg
}

// otlpProtocol prefers the traces-specific protocol when both are set.
func otlpProtocol() string {
	protocol := getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if traces := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}
	return strings.ToLower(strings.TrimSpace(protocol))
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
