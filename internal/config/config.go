package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type DispatcherConfig struct {
	DBDSN     string `envconfig:"DB_DSN" required:"true"`
	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// DB pool
	DBMaxConns          int32         `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBMinConns          int32         `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBMaxConnLifetime   time.Duration `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"1h"`
	DBMaxConnIdleTime   time.Duration `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"30m"`
	DBHealthCheckPeriod time.Duration `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD" default:"1m"`

	// Loop cadence
	WelcomeInterval  time.Duration `envconfig:"WELCOME_INTERVAL" default:"5s"`
	ConfirmInterval  time.Duration `envconfig:"CONFIRM_INTERVAL" default:"30s"`
	ReminderInterval time.Duration `envconfig:"REMINDER_INTERVAL" default:"30s"`
	ReclaimInterval  time.Duration `envconfig:"RECLAIM_INTERVAL" default:"10m"`

	// Claim protocol
	BatchSize  int           `envconfig:"DISPATCH_BATCH_SIZE" default:"10"`
	MaxRetries int           `envconfig:"DISPATCH_MAX_RETRIES" default:"3"`
	StaleAfter time.Duration `envconfig:"DISPATCH_STALE_AFTER" default:"5m"`

	// Appointments older than this are never projected into the queue.
	IngestCutoff time.Time `envconfig:"INGEST_CUTOFF" required:"true"`
	IngestLimit  int       `envconfig:"INGEST_LIMIT" default:"200"`

	// Outbound transport: "webhook" posts to the SMS gateway directly,
	// "sqs" hands records to the queue for a downstream sender fleet.
	Transport      string        `envconfig:"TRANSPORT" default:"webhook"`
	GatewayURL     string        `envconfig:"GATEWAY_URL" default:"http://localhost:9099"`
	GatewayTimeout time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`
	SendRPS        float64       `envconfig:"SEND_RPS" default:"5"`
	SendBurst      int           `envconfig:"SEND_BURST" default:"10"`

	// AWS / SQS (sqs transport only)
	AWSRegion          string `envconfig:"AWS_REGION"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`

	// Redis sent-record cache; disabled when REDIS_ADDR is empty.
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	RedisTTL      time.Duration `envconfig:"REDIS_TTL" default:"24h"`

	// Clinic profile cache
	ProfileTTL time.Duration `envconfig:"PROFILE_TTL" default:"5m"`
}

type GatewayConfig struct {
	Port      string `envconfig:"PORT" default:"9099"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Fraction of sends that succeed, for rehearsing retry behavior.
	SuccessRate float64 `envconfig:"SUCCESS_RATE" default:"1.0"`
	DelayMs     int     `envconfig:"DELAY_MS" default:"0"`
}

func LoadDispatcher() DispatcherConfig {
	var cfg DispatcherConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadGateway() GatewayConfig {
	var cfg GatewayConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
