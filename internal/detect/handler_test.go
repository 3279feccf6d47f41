package detect

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"threadmap/internal/logging"
	"threadmap/internal/store"
	"threadmap/internal/testsupport"
)

// detectorScript emits one fixed-confidence detection per input image.
const detectorScript = `#!/bin/sh
shift 4
printf '['
first=1
for p in "$@"; do
  if [ $first -eq 1 ]; then first=0; else printf ','; fi
  printf '{"image_path":"%s","detections":[{"confidence":0.9,"bbox":[0.1,0.2,0.3,0.8],"crop_path":"/tmp/crop.jpg"}]}' "$p"
done
printf ']'
`

func seedDownloadedCity(t *testing.T, st *store.Store, imageCount int) *store.City {
	t.Helper()
	ctx := context.Background()
	city := testsupport.NewCity(t, st, "London", 9000000, store.BBox{West: -0.1, South: 51.4, East: 0.1, North: 51.6})

	images := make([]*store.Image, imageCount)
	for i := range images {
		images[i] = &store.Image{
			ImageID:  int64(3000 + i),
			CityID:   city.ID,
			FilePath: fmt.Sprintf("/img/%d.jpg", 3000+i),
		}
	}
	if _, err := st.InsertImages(ctx, images); err != nil {
		t.Fatalf("insert images: %v", err)
	}
	if _, err := st.ClaimCityForDownload(ctx); err != nil {
		t.Fatalf("claim download: %v", err)
	}
	if err := st.MarkCityDownloadComplete(ctx, city.ID); err != nil {
		t.Fatalf("mark download complete: %v", err)
	}
	return city
}

func TestRunOnceDetectsPeopleInClaimedCity(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	city := seedDownloadedCity(t, st, 5)

	script := filepath.Join(t.TempDir(), "detector.sh")
	testsupport.WriteScript(t, script, detectorScript)
	cfg.Detection.Command = script
	cfg.Detection.BatchSize = 2
	cfg.Detection.MinConfidence = 0.5

	handler := New(cfg, st, logging.NewNop())
	processed, err := handler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	ctx := context.Background()
	updated, err := st.GetCityByID(ctx, city.ID)
	if err != nil {
		t.Fatalf("get city: %v", err)
	}
	if updated.AnalysisStatus != store.StatusCompleted {
		t.Fatalf("analysis status = %s, want completed", updated.AnalysisStatus)
	}

	outstanding, err := st.CountImagesOutstanding(ctx, city.ID)
	if err != nil {
		t.Fatalf("count outstanding: %v", err)
	}
	if outstanding != 0 {
		t.Fatalf("expected all images terminal, %d outstanding", outstanding)
	}

	// One detection per image, all pending clothing analysis.
	detections, err := st.ClaimDetections(ctx, 100)
	if err != nil {
		t.Fatalf("claim detections: %v", err)
	}
	if len(detections) != 5 {
		t.Fatalf("expected 5 detections, got %d", len(detections))
	}
}

func TestRunOnceFiltersLowConfidence(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	seedDownloadedCity(t, st, 1)

	script := filepath.Join(t.TempDir(), "detector.sh")
	testsupport.WriteScript(t, script, detectorScript)
	cfg.Detection.Command = script
	cfg.Detection.MinConfidence = 0.95 // above the stub's 0.9

	handler := New(cfg, st, logging.NewNop())
	if _, err := handler.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	detections, err := st.ClaimDetections(context.Background(), 100)
	if err != nil {
		t.Fatalf("claim detections: %v", err)
	}
	if len(detections) != 0 {
		t.Fatalf("expected low-confidence detections dropped, got %d", len(detections))
	}
}

func TestRunOnceSkipsCityWithPendingDownload(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewCity(t, st, "Paris", 2000000, store.BBox{})

	handler := New(cfg, st, logging.NewNop())
	processed, err := handler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if processed != 0 {
		t.Fatalf("processed = %d, want 0 while download pending", processed)
	}
}

func TestRunOnceBrokenDetectorExhaustsImageRetries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	city := seedDownloadedCity(t, st, 2)

	script := filepath.Join(t.TempDir(), "detector.sh")
	testsupport.WriteScript(t, script, "#!/bin/sh\necho 'model load failed' >&2\nexit 1\n")
	cfg.Detection.Command = script
	cfg.Detection.RetryLimit = 2

	handler := New(cfg, st, logging.NewNop())
	if _, err := handler.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	ctx := context.Background()
	stats, err := st.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Images[store.StatusFailed] != 2 {
		t.Fatalf("expected 2 failed images, got %+v", stats.Images)
	}
	outstanding, err := st.CountImagesOutstanding(ctx, city.ID)
	if err != nil {
		t.Fatalf("count outstanding: %v", err)
	}
	if outstanding != 0 {
		t.Fatalf("expected no outstanding images, got %d", outstanding)
	}
}

func TestHealthCheckMissingBinary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	cfg.Detection.Command = "no-such-detector-binary"

	handler := New(cfg, st, logging.NewNop())
	health := handler.HealthCheck(context.Background())
	if health.Ready {
		t.Fatalf("expected unhealthy stage: %+v", health)
	}
}
