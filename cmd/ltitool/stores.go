package main

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/mind-engage/mindengage-lti13/internal/config"
	"github.com/mind-engage/mindengage-lti13/internal/db"
	"github.com/mind-engage/mindengage-lti13/internal/launchstate"
	"github.com/mind-engage/mindengage-lti13/internal/registry"
)

// openStores builds the registry and launch state cache selected by cfg. A SQL
// database and a DynamoDB client are created at most once and shared.
func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stores, error) {
	st := &stores{}

	if cfg.UsesSQL() {
		dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		st.db = dbh
	}

	var ddb *dynamodb.Client
	if cfg.UsesDynamoDB() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("aws config: %w", err)
		}
		ddb = dynamodb.NewFromConfig(awsCfg)
	}

	switch cfg.RegistryDriver {
	case config.DriverSQL:
		st.registry = registry.NewSQLStore(st.db)
	case config.DriverDynamoDB:
		st.registry = registry.NewDynamoStore(ddb, cfg.TableName)
	case config.DriverMemory:
		st.registry = registry.NewMemory()
	default:
		st.Close()
		return nil, fmt.Errorf("unsupported REGISTRY_DRIVER %q", cfg.RegistryDriver)
	}

	switch cfg.CacheDriver {
	case config.DriverSQL:
		st.cache = launchstate.NewSQLStore(st.db)
	case config.DriverDynamoDB:
		st.cache = launchstate.NewDynamoStore(ddb, cfg.CacheName)
	case config.DriverMemory:
		st.cache = launchstate.NewMemory(0)
		logger.Warn("memory launch state cache is process-local; run a single instance")
	default:
		st.Close()
		return nil, fmt.Errorf("unsupported CACHE_DRIVER %q", cfg.CacheDriver)
	}
	return st, nil
}
