package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"

	"arctic-iceberg/catalog"
	"arctic-iceberg/config"
	"arctic-iceberg/storage"
)

func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage.Type {
	case config.StorageS3:
		awsCfg, err := cfg.AWS.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			// Custom endpoints are usually MinIO or LocalStack.
			o.UsePathStyle = cfg.AWS.Endpoint != ""
		})
		return storage.NewS3Storage(client, cfg.Storage.Bucket, cfg.Storage.Prefix), nil
	default:
		local, err := storage.NewLocalStorage(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		return local, nil
	}
}

// openCatalog builds the catalog over the configured store. The returned
// function releases the store.
func openCatalog(ctx context.Context, cfg *config.Config, s storage.Storage, logger *slog.Logger) (*catalog.Catalog, func(), error) {
	var store catalog.Store
	closeFn := func() {}

	switch cfg.Catalog.Type {
	case config.CatalogMemory:
		store = catalog.NewMemoryStore()

	case config.CatalogPostgres:
		dsn := cfg.Catalog.DSN
		if dsn == "" {
			dsn = cfg.Postgres.DSN(false)
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to catalog database: %w", err)
		}
		pg := catalog.NewPostgresStore(pool)
		if err := pg.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		store, closeFn = pg, pool.Close

	case config.CatalogDynamoDB:
		awsCfg, err := cfg.AWS.Load(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("loading aws config: %w", err)
		}
		ds, err := catalog.NewDynamoStore(ctx, dynamodb.NewFromConfig(awsCfg), cfg.Catalog.DynamoTable)
		if err != nil {
			return nil, nil, err
		}
		store = ds

	case config.CatalogBolt:
		bs, err := catalog.OpenBoltStore(cfg.Catalog.Path)
		if err != nil {
			return nil, nil, err
		}
		store, closeFn = bs, func() { bs.Close() }

	default:
		store = catalog.NewFileStore(s)
	}

	cat := catalog.New(store,
		catalog.WithRetryPolicy(cfg.RetryPolicy()),
		catalog.WithLogger(logger),
	)
	return cat, closeFn, nil
}

// duckdbExtensions lists the extensions the query engine needs to read the
// configured storage.
func duckdbExtensions(cfg *config.Config) []string {
	if cfg.Storage.Type == config.StorageS3 {
		return []string{"httpfs"}
	}
	return nil
}
