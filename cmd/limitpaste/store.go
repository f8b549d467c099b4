package main

import (
	"context"

	"github.com/pkg/errors"

	"limitpaste/internal/config"
	"limitpaste/internal/storage"
	"limitpaste/internal/storage/boltstore"
	"limitpaste/internal/storage/dynamostore"
	"limitpaste/internal/storage/memstore"
	"limitpaste/internal/storage/mongostore"
	"limitpaste/internal/storage/redisstore"
	"limitpaste/internal/storage/sqlitestore"
)

func openStore(ctx context.Context, cfg config.StoreConfig) (storage.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	switch cfg.Driver {
	case config.DriverBolt:
		return boltstore.Open(cfg.Path)
	case config.DriverSQLite:
		return sqlitestore.Open(cfg.Path)
	case config.DriverMongo:
		return mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
	case config.DriverRedis:
		return redisstore.Open(ctx, redisstore.Options{URL: cfg.RedisURL, Timeout: cfg.Timeout})
	case config.DriverDynamoDB:
		store, err := dynamostore.Open(ctx, dynamostore.Options{
			Table:    cfg.DynamoTable,
			Endpoint: cfg.DynamoEndpoint,
			Region:   cfg.DynamoRegion,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureTable(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverMemory:
		return memstore.New(cfg.MemoryCapacity)
	default:
		return nil, errors.Errorf("unknown store driver %q", cfg.Driver)
	}
}
