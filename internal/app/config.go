package app

import (
	"time"

	"github.com/yungbote/dataset-engine/internal/jobs/ttl"
	"github.com/yungbote/dataset-engine/internal/observability"
	"github.com/yungbote/dataset-engine/internal/platform/envutil"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

type Config struct {
	LogMode     string
	Port        string
	Environment string
	Version     string
	CORSOrigins []string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string
	CacheTTL      time.Duration
	CacheDisabled bool
	CacheMaxItems int

	ElasticURLs     []string
	ElasticUsername string
	ElasticPassword string
	ElasticShards   int
	ElasticReplicas int
	IndexPrefix     string

	PollInterval  time.Duration
	StaleAfter    time.Duration
	MaxAttempts   int
	IndexerBatch  int
	ExtenderBatch int

	RemoteServiceTimeout time.Duration
	RemoteServicesFile   string
	TTLSchedule          string
	DefaultStorageLimit  int64

	Otel observability.OtelConfig
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		LogMode:     envutil.String("LOG_MODE", "development"),
		Port:        envutil.String("PORT", "8080"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
		CORSOrigins: envutil.List("CORS_ORIGINS", nil),

		RedisAddr:     envutil.String("REDIS_ADDR", ""),
		RedisPassword: envutil.String("REDIS_PASSWORD", ""),
		RedisDB:       envutil.Int("REDIS_DB", 0),
		RedisChannel:  envutil.String("REDIS_CHANNEL", "dataset-events"),
		CacheTTL:      envutil.Duration("CACHE_TTL", time.Hour),
		CacheDisabled: envutil.Bool("CACHE_DISABLED", false),
		CacheMaxItems: envutil.Int("CACHE_MAX_ITEMS", 10000),

		ElasticURLs:     envutil.List("ELASTICSEARCH_URLS", envutil.List("ELASTICSEARCH_URL", []string{"http://localhost:9200"})),
		ElasticUsername: envutil.String("ES_USERNAME", ""),
		ElasticPassword: envutil.String("ES_PASSWORD", ""),
		ElasticShards:   envutil.Int("ES_SHARDS", 1),
		ElasticReplicas: envutil.Int("ES_REPLICAS", 0),
		IndexPrefix:     envutil.String("ES_INDEX_PREFIX", "dataset-"),

		PollInterval:  envutil.Duration("WORKER_POLL_INTERVAL", time.Second),
		StaleAfter:    envutil.Duration("STAGE_STALE_AFTER", 30*time.Minute),
		MaxAttempts:   envutil.Int("STAGE_MAX_ATTEMPTS", 3),
		IndexerBatch:  envutil.Int("INDEXER_BATCH_SIZE", 1000),
		ExtenderBatch: envutil.Int("EXTENDER_BATCH_SIZE", 1000),

		RemoteServiceTimeout: envutil.Duration("REMOTE_SERVICE_TIMEOUT", 5*time.Minute),
		RemoteServicesFile:   envutil.String("REMOTE_SERVICES_FILE", ""),
		TTLSchedule:          envutil.String("TTL_SWEEP_SCHEDULE", ttl.DefaultSchedule),
		DefaultStorageLimit:  envutil.Int64("DEFAULT_STORAGE_LIMIT", -1),
	}
	cfg.Otel = observability.OtelConfig{
		Enabled:     envutil.Bool("OTEL_ENABLED", false),
		ServiceName: envutil.String("OTEL_SERVICE_NAME", "dataset-engine"),
		Environment: cfg.Environment,
		Version:     cfg.Version,
		Endpoint:    envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Headers:     observability.ParseHeaders(envutil.String("OTEL_EXPORTER_OTLP_HEADERS", "")),
		Insecure:    envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false),
		SampleRatio: envutil.Float64("OTEL_SAMPLER_RATIO", 0.1),
	}
	if log != nil {
		log.Info("Config loaded",
			"port", cfg.Port,
			"elastic_urls", cfg.ElasticURLs,
			"index_prefix", cfg.IndexPrefix,
			"redis", cfg.RedisAddr != "",
			"poll_interval", cfg.PollInterval,
			"stale_after", cfg.StaleAfter,
		)
	}
	return cfg
}
