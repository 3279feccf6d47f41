// Package detect implements the person-detection stage: it claims a
// downloaded city, feeds its images in batches to the external detector,
// and records the resulting person crops.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"threadmap/internal/config"
	"threadmap/internal/logging"
	"threadmap/internal/services"
	"threadmap/internal/stage"
	"threadmap/internal/store"
)

// Handler runs person detection over downloaded imagery.
type Handler struct {
	cfg    *config.Config
	store  *store.Store
	logger *slog.Logger
}

var _ stage.Handler = (*Handler)(nil)

// New constructs the detection stage handler.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:    cfg,
		store:  st,
		logger: logging.NewComponentLogger(logger, "detect"),
	}
}

// Name identifies the stage in logs and health reports.
func (h *Handler) Name() string { return "detect" }

// RunOnce claims at most one downloaded city and detects people in its
// images batch by batch. A city only becomes claimable here once its
// download stage completed. Returns 1 when a city was processed, 0 when the
// queue was empty.
func (h *Handler) RunOnce(ctx context.Context) (int, error) {
	city, err := h.store.ClaimCityForAnalysis(ctx)
	if err != nil {
		return 0, fmt.Errorf("claim city for analysis: %w", err)
	}
	if city == nil {
		return 0, nil
	}

	ctx = services.WithCityID(ctx, city.ID)
	ctx = services.WithStage(ctx, h.Name())
	logger := logging.WithContext(ctx, h.logger)
	logger.Info("city claimed for analysis", logging.String("city", city.Name))

	if err := h.analyzeCity(ctx, logger, city); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, err
		}
		permanent := services.IsPermanent(err)
		if markErr := h.store.MarkCityAnalysisFailed(ctx, city.ID, err.Error(), h.cfg.Detection.RetryLimit, permanent); markErr != nil {
			logger.Error("failed to record analysis failure", logging.Error(markErr))
		}
		logger.Error("city analysis failed",
			logging.Error(err),
			logging.Bool("permanent", permanent),
			logging.String(logging.FieldEventType, "analysis_failed"),
		)
		return 1, nil
	}

	if err := h.store.MarkCityAnalysisComplete(ctx, city.ID); err != nil {
		return 1, fmt.Errorf("mark city analysis complete: %w", err)
	}
	logger.Info("city analysis complete", logging.String(logging.FieldEventType, "analysis_complete"))
	return 1, nil
}

func (h *Handler) analyzeCity(ctx context.Context, logger *slog.Logger, city *store.City) error {
	processed := 0
	for {
		batch, err := h.store.ClaimImages(ctx, city.ID, h.cfg.Detection.BatchSize)
		if err != nil {
			return fmt.Errorf("claim image batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		if err := h.processBatch(ctx, logger, batch); err != nil {
			return err
		}
		processed += len(batch)
	}

	outstanding, err := h.store.CountImagesOutstanding(ctx, city.ID)
	if err != nil {
		return fmt.Errorf("count outstanding images: %w", err)
	}
	if outstanding > 0 {
		return fmt.Errorf("%d images still outstanding after batch drain", outstanding)
	}
	logger.Info("image batches drained", logging.Int("images", processed))
	return nil
}

func (h *Handler) processBatch(ctx context.Context, logger *slog.Logger, batch []*store.Image) error {
	results, err := h.runDetector(ctx, batch)
	if err != nil {
		ids := imageIDs(batch)
		reason := err.Error()
		if markErr := h.store.MarkImagesFailed(ctx, ids, reason, h.cfg.Detection.RetryLimit, services.IsPermanent(err)); markErr != nil {
			return fmt.Errorf("record batch failure: %w", markErr)
		}
		logger.Warn("detector batch failed",
			logging.Int("images", len(batch)),
			logging.Error(err),
		)
		return nil
	}

	byPath := make(map[string]int64, len(batch))
	for _, img := range batch {
		byPath[img.FilePath] = img.ID
	}
	var detections []*store.Detection
	for _, result := range results {
		rowID, ok := byPath[result.ImagePath]
		if !ok {
			logger.Warn("detector returned unknown image path", logging.String("path", result.ImagePath))
			continue
		}
		for _, d := range result.Detections {
			if d.Confidence < h.cfg.Detection.MinConfidence {
				continue
			}
			if len(d.BBox) != 4 {
				continue
			}
			detections = append(detections, &store.Detection{
				ImageRowID: rowID,
				Confidence: d.Confidence,
				Box:        store.NormBox{XMin: d.BBox[0], YMin: d.BBox[1], XMax: d.BBox[2], YMax: d.BBox[3]},
				CropPath:   d.CropPath,
			})
		}
	}
	if err := h.store.InsertDetections(ctx, detections); err != nil {
		return fmt.Errorf("record detections: %w", err)
	}
	if err := h.store.MarkImagesCompleted(ctx, imageIDs(batch)); err != nil {
		return fmt.Errorf("complete image batch: %w", err)
	}
	logger.Info("detector batch complete",
		logging.Int("images", len(batch)),
		logging.Int("detections", len(detections)),
	)
	return nil
}

// detectorResult is the per-image JSON record the external detector emits on
// stdout: one entry per input path, each with zero or more person boxes in
// normalized [0, 1] coordinates.
type detectorResult struct {
	ImagePath  string `json:"image_path"`
	Detections []struct {
		Confidence float64   `json:"confidence"`
		BBox       []float64 `json:"bbox"` // [x_min, y_min, x_max, y_max]
		CropPath   string    `json:"crop_path"`
	} `json:"detections"`
}

func (h *Handler) runDetector(ctx context.Context, batch []*store.Image) ([]detectorResult, error) {
	args := []string{
		"--crop-dir", h.cfg.Paths.CropRoot,
		"--min-confidence", strconv.FormatFloat(h.cfg.Detection.MinConfidence, 'f', -1, 64),
	}
	for _, img := range batch {
		args = append(args, img.FilePath)
	}

	cmd := exec.CommandContext(ctx, h.cfg.Detection.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("detector: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("detector: %w", err)
	}

	var results []detectorResult
	if err := json.Unmarshal(stdout.Bytes(), &results); err != nil {
		return nil, services.Classify(services.KindValidation, fmt.Errorf("decode detector output: %w", err))
	}
	return results, nil
}

func imageIDs(batch []*store.Image) []int64 {
	ids := make([]int64, len(batch))
	for i, img := range batch {
		ids[i] = img.ID
	}
	return ids
}

// HealthCheck verifies the detector binary is resolvable.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if strings.TrimSpace(h.cfg.Detection.Command) == "" {
		return stage.Unhealthy(h.Name(), "detector command not configured")
	}
	if _, err := exec.LookPath(h.cfg.Detection.Command); err != nil {
		return stage.Unhealthy(h.Name(), fmt.Sprintf("detector binary: %v", err))
	}
	return stage.Healthy(h.Name())
}
