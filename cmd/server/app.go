package main

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"workshop-deck/internal/config"
	"workshop-deck/internal/deck"
	"workshop-deck/internal/logging"
	"workshop-deck/internal/models"
	"workshop-deck/internal/persistence"
)

// app holds what every subcommand needs: config, logger, deck and storage
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	slides  []models.Slide
	gateway *persistence.Gateway

	// database is set only when the primary store opened
	database *sql.DB
}

func bootstrap(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	slides, err := loadDeck(cfg.Deck.Path)
	if err != nil {
		logger.Sync()
		return nil, err
	}

	fallback, err := persistence.NewKeyValueStore(cfg.Storage.DataPath, logger)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("failed to open fallback store: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, slides: slides}

	var open persistence.Opener
	if !cfg.Storage.DisablePrimary {
		open = persistence.OpenStructuredStore(cfg.Storage.DBPath, func(database *sql.DB) {
			a.database = database
		})
	}
	a.gateway = persistence.NewGateway(open, fallback, logger, exportOptions(cfg.Storage, slides))
	a.gateway.Init(ctx)

	logger.Info("Storage ready",
		zap.String("mode", string(a.gateway.Mode())),
		zap.String("dbPath", cfg.Storage.DBPath),
		zap.String("dataPath", cfg.Storage.DataPath))
	return a, nil
}

func (a *app) close() {
	if err := a.gateway.Close(); err != nil {
		a.logger.Warn("Failed to close primary store", zap.Error(err))
	}
	a.logger.Sync()
}

func loadDeck(path string) ([]models.Slide, error) {
	if path == "" {
		return deck.Default()
	}
	return deck.Load(path)
}

// exportOptions widens the configured export bounds to cover the loaded deck:
// every 1-based slide id and every interactive element id.
func exportOptions(storage config.StorageConfig, slides []models.Slide) persistence.ExportOptions {
	opts := persistence.ExportOptions{NoteSlots: storage.ExportNoteSlots}
	if n := len(slides) + 1; n > opts.NoteSlots {
		opts.NoteSlots = n
	}

	seen := make(map[string]bool)
	for _, id := range append(append([]string{}, storage.WorkshopIDs...), deck.ElementIDs(slides)...) {
		if !seen[id] {
			seen[id] = true
			opts.WorkshopIDs = append(opts.WorkshopIDs, id)
		}
	}
	return opts
}
