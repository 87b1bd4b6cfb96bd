package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/dataset-engine/internal/cache"
	"github.com/yungbote/dataset-engine/internal/clients/redis"
	"github.com/yungbote/dataset-engine/internal/data/db"
	"github.com/yungbote/dataset-engine/internal/extensions"
	"github.com/yungbote/dataset-engine/internal/platform/gcp"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/realtime/bus"
	"github.com/yungbote/dataset-engine/internal/search"
)

type Clients struct {
	DB     *gorm.DB
	Redis  *goredis.Client
	Bus    bus.Bus
	Cache  *cache.Cache
	Engine search.Engine
	Bucket gcp.BucketService
	Remote extensions.Client
}

// wireClients connects every backing service. Without REDIS_ADDR the bus and the cache stay
// in process, which only suits a single replica.
func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	pg, err := db.NewPostgresService(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		return Clients{}, fmt.Errorf("postgres automigrate: %w", err)
	}
	c := Clients{DB: pg.DB()}

	// Redis
	var store cache.Store
	if cfg.RedisAddr != "" {
		rdb, err := redis.NewClient(ctx, redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, log)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis: %w", err)
		}
		c.Redis = rdb
		if c.Bus, err = bus.NewRedisBus(rdb, cfg.RedisChannel, log); err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init redis bus: %w", err)
		}
		store = redis.NewCacheStore(rdb, "dataset-cache:")
	} else {
		log.Warn("REDIS_ADDR not set; realtime bus and cache are process local")
		c.Bus = bus.NewMemoryBus()
		store = cache.NewMemoryStore(cfg.CacheMaxItems)
	}
	c.Cache = cache.New(store, cache.Config{TTL: cfg.CacheTTL, Disabled: cfg.CacheDisabled}, log)

	// Search
	c.Engine, err = search.NewElastic(search.ElasticConfig{
		Addresses: cfg.ElasticURLs,
		Username:  cfg.ElasticUsername,
		Password:  cfg.ElasticPassword,
		Shards:    cfg.ElasticShards,
		Replicas:  cfg.ElasticReplicas,
	}, log)
	if err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init search engine: %w", err)
	}

	// Gcs
	c.Bucket, err = gcp.NewBucketService(log)
	if err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init bucket client: %w", err)
	}

	c.Remote = extensions.NewClient(cfg.RemoteServiceTimeout, log)
	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Cache != nil {
		c.Cache.Wait()
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
