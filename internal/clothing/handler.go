// Package clothing implements the final pipeline stage: it claims batches of
// person detections and runs the external clothing analyzer over their crop
// images, recording one measurement per garment.
package clothing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"threadmap/internal/config"
	"threadmap/internal/logging"
	"threadmap/internal/services"
	"threadmap/internal/stage"
	"threadmap/internal/store"
)

// Handler analyzes clothing on claimed person detections.
type Handler struct {
	cfg    *config.Config
	store  *store.Store
	logger *slog.Logger
}

var _ stage.Handler = (*Handler)(nil)

// New constructs the clothing stage handler.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:    cfg,
		store:  st,
		logger: logging.NewComponentLogger(logger, "clothing"),
	}
}

// Name identifies the stage in logs and health reports.
func (h *Handler) Name() string { return "clothing" }

// RunOnce claims one batch of pending detections across all cities and
// analyzes them. Returns how many detections were handled; zero means the
// queue was empty.
func (h *Handler) RunOnce(ctx context.Context) (int, error) {
	batch, err := h.store.ClaimDetections(ctx, h.cfg.Clothing.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim detection batch: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	ctx = services.WithStage(ctx, h.Name())
	logger := logging.WithContext(ctx, h.logger)

	// Detections without a crop image cannot be analyzed, ever.
	analyzable := batch[:0:len(batch)]
	var missing []int64
	for _, det := range batch {
		if strings.TrimSpace(det.CropPath) == "" {
			missing = append(missing, det.ID)
			continue
		}
		analyzable = append(analyzable, det)
	}
	if len(missing) > 0 {
		if err := h.store.MarkDetectionsFailed(ctx, missing, "no crop image", h.cfg.Clothing.RetryLimit, true); err != nil {
			return 0, fmt.Errorf("record missing crops: %w", err)
		}
		logger.Warn("detections without crop images marked failed", logging.Int("count", len(missing)))
	}
	if len(analyzable) == 0 {
		return len(batch), nil
	}

	results, err := h.runAnalyzer(ctx, analyzable)
	if err != nil {
		ids := detectionIDs(analyzable)
		if markErr := h.store.MarkDetectionsFailed(ctx, ids, err.Error(), h.cfg.Clothing.RetryLimit, services.IsPermanent(err)); markErr != nil {
			return 0, fmt.Errorf("record batch failure: %w", markErr)
		}
		logger.Warn("analyzer batch failed",
			logging.Int("detections", len(analyzable)),
			logging.Error(err),
		)
		return len(batch), nil
	}

	byCrop := make(map[string]int64, len(analyzable))
	for _, det := range analyzable {
		byCrop[det.CropPath] = det.ID
	}
	var measurements []*store.ClothingMeasurement
	for _, result := range results {
		detectionID, ok := byCrop[result.CropPath]
		if !ok {
			logger.Warn("analyzer returned unknown crop path", logging.String("path", result.CropPath))
			continue
		}
		for _, g := range result.Garments {
			m := &store.ClothingMeasurement{
				DetectionID:  detectionID,
				Category:     g.Category,
				Confidence:   g.Confidence,
				TextureScore: g.TextureScore,
				AreaRatio:    g.AreaRatio,
			}
			if len(g.ColorHSV) == 3 {
				m.ColorH, m.ColorS, m.ColorV = g.ColorHSV[0], g.ColorHSV[1], g.ColorHSV[2]
			}
			if len(g.BBox) == 4 {
				m.Box = store.NormBox{XMin: g.BBox[0], YMin: g.BBox[1], XMax: g.BBox[2], YMax: g.BBox[3]}
			}
			measurements = append(measurements, m)
		}
	}
	if err := h.store.InsertClothingMeasurements(ctx, measurements); err != nil {
		return 0, fmt.Errorf("record measurements: %w", err)
	}
	if err := h.store.MarkDetectionsCompleted(ctx, detectionIDs(analyzable)); err != nil {
		return 0, fmt.Errorf("complete detection batch: %w", err)
	}
	logger.Info("analyzer batch complete",
		logging.Int("detections", len(analyzable)),
		logging.Int("garments", len(measurements)),
	)
	return len(batch), nil
}

// analyzerResult is the per-crop JSON record the external analyzer emits on
// stdout.
type analyzerResult struct {
	CropPath string `json:"crop_path"`
	Garments []struct {
		Category     string    `json:"category"`
		Confidence   float64   `json:"confidence"`
		ColorHSV     []float64 `json:"color_hsv"` // [h, s, v]
		TextureScore float64   `json:"texture_score"`
		AreaRatio    float64   `json:"area_ratio"`
		BBox         []float64 `json:"bbox"` // [x_min, y_min, x_max, y_max]
	} `json:"garments"`
}

func (h *Handler) runAnalyzer(ctx context.Context, batch []*store.Detection) ([]analyzerResult, error) {
	args := make([]string, 0, len(batch))
	for _, det := range batch {
		args = append(args, det.CropPath)
	}
	cmd := exec.CommandContext(ctx, h.cfg.Clothing.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("analyzer: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("analyzer: %w", err)
	}

	var results []analyzerResult
	if err := json.Unmarshal(stdout.Bytes(), &results); err != nil {
		return nil, services.Classify(services.KindValidation, fmt.Errorf("decode analyzer output: %w", err))
	}
	return results, nil
}

func detectionIDs(batch []*store.Detection) []int64 {
	ids := make([]int64, len(batch))
	for i, det := range batch {
		ids[i] = det.ID
	}
	return ids
}

// HealthCheck verifies the analyzer binary is resolvable.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if strings.TrimSpace(h.cfg.Clothing.Command) == "" {
		return stage.Unhealthy(h.Name(), "analyzer command not configured")
	}
	if _, err := exec.LookPath(h.cfg.Clothing.Command); err != nil {
		return stage.Unhealthy(h.Name(), fmt.Sprintf("analyzer binary: %v", err))
	}
	return stage.Healthy(h.Name())
}
