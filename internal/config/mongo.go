package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson" // Use bson for index keys
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(ctx context.Context, cfg *Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Test connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, nil
}

// CreateMongoIndexes creates the indexes used by lexical candidate lookups,
// enrichment sweeps and chunk retrieval.
func CreateMongoIndexes(ctx context.Context, db *mongo.Database) error {
	mailIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "import_id", Value: 1}}},
		{Keys: bson.D{{Key: "enrichment_status", Value: 1}}},
		{Keys: bson.D{{Key: "label", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "seq", Value: 1}}},
	}
	if _, err := db.Collection("mails").Indexes().CreateMany(ctx, mailIndexes); err != nil {
		return fmt.Errorf("mails indexes: %w", err)
	}

	chunkIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "mail_id", Value: 1}, {Key: "index", Value: 1}}},
	}
	if _, err := db.Collection("chunks").Indexes().CreateMany(ctx, chunkIndexes); err != nil {
		return fmt.Errorf("chunks indexes: %w", err)
	}

	eventIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "mail_id", Value: 1}}},
		{Keys: bson.D{{Key: "date", Value: 1}}},
	}
	if _, err := db.Collection("events").Indexes().CreateMany(ctx, eventIndexes); err != nil {
		return fmt.Errorf("events indexes: %w", err)
	}

	return nil
}
