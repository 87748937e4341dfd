package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"mail-archive-search/internal/config"
	"mail-archive-search/internal/store"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Println("Usage: migrate")
		fmt.Println("Creates the schema (postgres, sqlite) or indexes (mongo) for STORE_BACKEND.")
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch cfg.StoreBackend {
	case "mongo":
		client, err := config.ConnectMongoDB(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to connect to MongoDB: %v", err)
		}
		defer client.Disconnect(context.Background())

		if err := config.CreateMongoIndexes(ctx, client.Database(cfg.DBName)); err != nil {
			log.Fatalf("Failed to create indexes: %v", err)
		}
		fmt.Printf("Indexes created in database %s\n", cfg.DBName)

	case "postgres", "sqlite":
		dialect, dsn := store.Postgres, cfg.PostgresDSN
		if cfg.StoreBackend == "sqlite" {
			dialect, dsn = store.SQLite, cfg.SQLitePath
		}
		// OpenSQL applies the schema before returning.
		db, err := store.OpenSQL(ctx, dialect, dsn, nil)
		if err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		defer db.Close(context.Background())
		fmt.Printf("Schema up to date (%s)\n", cfg.StoreBackend)

	case "memory":
		fmt.Println("Memory backend has no schema")

	default:
		fmt.Printf("Unknown store backend: %s\n", cfg.StoreBackend)
		os.Exit(1)
	}
}
