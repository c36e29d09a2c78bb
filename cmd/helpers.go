package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/dayuer/estatedesk/internal/config"
	"github.com/dayuer/estatedesk/internal/redis"
	"github.com/dayuer/estatedesk/internal/store"
)

// loadConfig resolves settings: .env → config.json → environment.
func loadConfig() (config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openRepository opens the SQLite store, fronted by the Redis query cache
// when one is configured and reachable.
func openRepository(ctx context.Context, cfg config.Config) (store.Repository, *redis.Client, error) {
	path := cfg.Store.DatabasePath()
	db, err := store.NewSQLiteRepository(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	log.Printf("[Store] ✅ Database at %s", path)

	cache := redis.New(ctx, redis.Config{
		URL:      cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if !cache.Available() {
		return db, cache, nil
	}
	return store.NewCachedRepository(db, cache, cfg.Redis.CacheTTL()), cache, nil
}
