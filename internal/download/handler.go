// Package download implements the imagery collection stage: it claims one
// city at a time, scans its bounding box tile by tile, and fetches image
// thumbnails onto local disk.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"threadmap/internal/config"
	"threadmap/internal/logging"
	"threadmap/internal/mapillary"
	"threadmap/internal/services"
	"threadmap/internal/stage"
	"threadmap/internal/store"
)

// Handler downloads street imagery for claimed cities.
type Handler struct {
	cfg    *config.Config
	store  *store.Store
	source mapillary.Source
	logger *slog.Logger
}

var _ stage.Handler = (*Handler)(nil)

// New constructs the download stage handler.
func New(cfg *config.Config, st *store.Store, source mapillary.Source, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:    cfg,
		store:  st,
		source: source,
		logger: logging.NewComponentLogger(logger, "download"),
	}
}

// Name identifies the stage in logs and health reports.
func (h *Handler) Name() string { return "download" }

// RunOnce claims at most one pending city and downloads its imagery. The
// claim is the single-flight gate: only one process ever scans a given city.
// Returns 1 when a city was processed, 0 when the queue was empty.
func (h *Handler) RunOnce(ctx context.Context) (int, error) {
	city, err := h.store.ClaimCityForDownload(ctx)
	if err != nil {
		return 0, fmt.Errorf("claim city for download: %w", err)
	}
	if city == nil {
		return 0, nil
	}

	ctx = services.WithCityID(ctx, city.ID)
	ctx = services.WithStage(ctx, h.Name())
	logger := logging.WithContext(ctx, h.logger)
	logger.Info("city claimed for download",
		logging.String("city", city.Name),
		logging.Int64("population", city.Population),
	)

	inserted, err := h.downloadCity(ctx, logger, city)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Shutdown mid-city: leave the claim for the stale sweeper.
			return 0, err
		}
		permanent := services.IsPermanent(err) || errors.Is(err, mapillary.ErrForbidden)
		if markErr := h.store.MarkCityDownloadFailed(ctx, city.ID, err.Error(), h.cfg.Download.RetryLimit, permanent); markErr != nil {
			logger.Error("failed to record download failure", logging.Error(markErr))
		}
		logger.Error("city download failed",
			logging.Error(err),
			logging.Bool("permanent", permanent),
			logging.String(logging.FieldEventType, "download_failed"),
		)
		return 1, nil
	}

	if err := h.store.MarkCityDownloadComplete(ctx, city.ID); err != nil {
		return 1, fmt.Errorf("mark city download complete: %w", err)
	}
	logger.Info("city download complete",
		logging.Int("images", inserted),
		logging.String(logging.FieldEventType, "download_complete"),
	)
	return 1, nil
}

func (h *Handler) downloadCity(ctx context.Context, logger *slog.Logger, city *store.City) (int, error) {
	metas, err := h.scanTiles(ctx, logger, city)
	if err != nil {
		return 0, err
	}
	if len(metas) == 0 {
		logger.Info("no imagery found in city bounding box")
		return 0, nil
	}

	cityDir := filepath.Join(h.cfg.Paths.ImageRoot, strconv.FormatInt(city.ID, 10))
	if err := os.MkdirAll(cityDir, 0o755); err != nil {
		return 0, services.Classify(services.KindConfiguration, fmt.Errorf("create image directory: %w", err))
	}

	var (
		mu     sync.Mutex
		images []*store.Image
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.Download.Concurrency)
	for _, meta := range metas {
		meta := meta
		g.Go(func() error {
			path := filepath.Join(cityDir, fmt.Sprintf("%d.jpg", meta.ID))
			if err := h.fetchImage(gctx, meta, path); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, mapillary.ErrForbidden) {
					return err
				}
				logger.Warn("image download failed; skipping",
					logging.Int64("image_id", meta.ID),
					logging.Error(err),
				)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			images = append(images, &store.Image{
				ImageID:    meta.ID,
				CityID:     city.ID,
				CapturedAt: meta.CapturedAt,
				Lon:        meta.Lon,
				Lat:        meta.Lat,
				FilePath:   path,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if len(images) == 0 && failed > 0 {
		return 0, fmt.Errorf("all %d image downloads failed", failed)
	}

	inserted, err := h.store.InsertImages(ctx, images)
	if err != nil {
		return 0, fmt.Errorf("record downloaded images: %w", err)
	}
	if failed > 0 {
		logger.Warn("some images could not be downloaded", logging.Int("failed", failed))
	}
	return inserted, nil
}

// scanTiles lists imagery tile by tile and deduplicates on image id, since
// tile borders can return the same image twice.
func (h *Handler) scanTiles(ctx context.Context, logger *slog.Logger, city *store.City) ([]mapillary.ImageMeta, error) {
	tiles := mapillary.TileBBox(city.BBox, h.cfg.Mapillary.TileSizeDeg)
	seen := make(map[int64]struct{})
	var metas []mapillary.ImageMeta
	for _, tile := range tiles {
		batch, err := h.source.ImagesInBBox(ctx, tile)
		if err != nil {
			return nil, fmt.Errorf("scan tile: %w", err)
		}
		for _, meta := range batch {
			if _, ok := seen[meta.ID]; ok {
				continue
			}
			seen[meta.ID] = struct{}{}
			metas = append(metas, meta)
		}
	}
	logger.Info("bounding box scan complete",
		logging.Int("tiles", len(tiles)),
		logging.Int("images", len(metas)),
	)
	return metas, nil
}

func (h *Handler) fetchImage(ctx context.Context, meta mapillary.ImageMeta, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil // already on disk from a previous attempt
	}
	data, err := h.source.Download(ctx, meta.ThumbURL)
	if err != nil {
		return err
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write image file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize image file: %w", err)
	}
	return nil
}

// HealthCheck verifies the stage can reach its dependencies.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if h.source == nil {
		return stage.Unhealthy(h.Name(), "imagery source not configured")
	}
	if err := os.MkdirAll(h.cfg.Paths.ImageRoot, 0o755); err != nil {
		return stage.Unhealthy(h.Name(), fmt.Sprintf("image root: %v", err))
	}
	return stage.Healthy(h.Name())
}
