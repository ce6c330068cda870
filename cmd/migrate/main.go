// Command migrate applies or rolls back the billing schema.
//
//	migrate            apply all pending migrations
//	migrate up         same as above
//	migrate down [n]   roll back n migrations (default 1)
//	migrate force <v>  mark the schema at version v, clearing a dirty state
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/awnexus/billing-service/internal/config"
	"github.com/awnexus/billing-service/internal/store"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "up":
		err = store.MigrateUp(db, logger)
	case "down":
		steps := 1
		if len(os.Args) > 2 {
			if steps, err = strconv.Atoi(os.Args[2]); err != nil || steps < 1 {
				logger.Error("invalid step count", "value", os.Args[2])
				os.Exit(2)
			}
		}
		err = store.MigrateDown(db, steps, logger)
	case "force":
		if len(os.Args) < 3 {
			logger.Error("usage: migrate force <version>")
			os.Exit(2)
		}
		version, convErr := strconv.Atoi(os.Args[2])
		if convErr != nil {
			logger.Error("invalid version number", "value", os.Args[2])
			os.Exit(2)
		}
		if err = store.ForceVersion(db, version); err == nil {
			logger.Info("schema version forced", "version", version)
		}
	default:
		logger.Error("unknown command", "command", command, "usage", "migrate [up|down [n]|force <version>]")
		os.Exit(2)
	}

	if err != nil {
		logger.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
}
