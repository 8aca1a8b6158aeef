package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"shieldlend/observability/logging"
	"shieldlend/services/indexer"
)

func main() {
	dbPath := flag.String("db", "./indexer.db", "Path to the sqlite database file")
	streamURL := flag.String("stream", "ws://127.0.0.1:8545/ws/events", "Node websocket event stream URL")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SHIELD_ENV"))
	logger := logging.Setup("shield-indexer", env)

	db, err := gorm.Open(sqlite.Open(*dbPath), &gorm.Config{})
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}

	ix, err := indexer.New(db, logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize indexer: %v", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting indexer", slog.String("stream", *streamURL), slog.String("db", *dbPath))
	if err := ix.Run(ctx, *streamURL); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Indexer stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
