// Package main loads YAML room definitions into the rooms table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/plaza/internal/config"
	"github.com/cory-johannsen/plaza/internal/game/world"
	"github.com/cory-johannsen/plaza/internal/observability"
	"github.com/cory-johannsen/plaza/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	roomsDir := flag.String("rooms", "", "directory of room YAML files (default: storage.rooms_dir)")
	dryRun := flag.Bool("dry-run", false, "validate room files without writing to the database")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	dir := *roomsDir
	if dir == "" {
		dir = cfg.Storage.RoomsDir
	}

	start := time.Now()
	rooms, err := world.LoadRoomsFromDir(dir)
	if err != nil {
		logger.Fatal("loading rooms", zap.String("dir", dir), zap.Error(err))
	}
	if *dryRun {
		for _, r := range rooms {
			logger.Info("room ok", zap.String("slug", r.Slug), zap.Int("objects", len(r.Objects)))
		}
		fmt.Printf("validated %d rooms in %s\n", len(rooms), time.Since(start).Round(time.Millisecond))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	defer pool.Close()

	repo := postgres.NewRoomRepository(pool.DB())
	for _, r := range rooms {
		if err := repo.Upsert(ctx, r); err != nil {
			logger.Fatal("seeding room", zap.String("slug", r.Slug), zap.Error(err))
		}
		logger.Info("room seeded", zap.String("slug", r.Slug), zap.Int("objects", len(r.Objects)))
	}
	fmt.Printf("seeded %d rooms in %s\n", len(rooms), time.Since(start).Round(time.Millisecond))
}
