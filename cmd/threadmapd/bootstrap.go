package main

import (
	"fmt"
	"log/slog"
	"time"

	"threadmap/internal/clothing"
	"threadmap/internal/config"
	"threadmap/internal/detect"
	"threadmap/internal/download"
	"threadmap/internal/mapillary"
	"threadmap/internal/stage"
	"threadmap/internal/store"
)

func buildStages(cfg *config.Config, st *store.Store, logger *slog.Logger) ([]stage.Handler, error) {
	source, err := mapillary.New(
		cfg.Mapillary.AccessToken,
		cfg.Mapillary.BaseURL,
		cfg.Mapillary.PageLimit,
		time.Duration(cfg.Mapillary.RequestTimeout)*time.Second,
	)
	if err != nil {
		return nil, fmt.Errorf("imagery client: %w", err)
	}

	return []stage.Handler{
		download.New(cfg, st, source, logger),
		detect.New(cfg, st, logger),
		clothing.New(cfg, st, logger),
	}, nil
}
