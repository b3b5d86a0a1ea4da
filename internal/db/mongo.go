package db

import (
	"context"
	"fmt"
	"time"

	"backend-etaone/internal/config"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	mongoConnectFn = mongo.Connect
	mongoPingFn    = func(ctx context.Context, client *mongo.Client) error { return client.Ping(ctx, readpref.Primary()) }
)

// ConnectMongo returns the configured database, or nil when MONGO_URI is
// empty.
func ConnectMongo(cfg config.Config) (*mongo.Database, error) {
	if cfg.MongoURI == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongoConnectFn(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := mongoPingFn(ctx, client); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client.Database(cfg.MongoDatabase), nil
}
