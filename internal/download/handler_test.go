package download

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"threadmap/internal/logging"
	"threadmap/internal/mapillary"
	"threadmap/internal/store"
	"threadmap/internal/testsupport"
)

func newImageryServer(t *testing.T, imageIDs []int64) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/thumb/") {
			_, _ = w.Write([]byte("jpegbytes"))
			return
		}
		entries := make([]string, 0, len(imageIDs))
		for _, id := range imageIDs {
			entries = append(entries, fmt.Sprintf(
				`{"id": "%d", "captured_at": 1609459200000,
                  "geometry": {"type": "Point", "coordinates": [-0.1, 51.5]},
                  "thumb_2048_url": "%s/thumb/%d.jpg"}`,
				id, server.URL, id,
			))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data": [%s]}`, strings.Join(entries, ","))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRunOnceDownloadsClaimedCity(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	server := newImageryServer(t, []int64{2001, 2002})

	// Single tile so the stub server sees one metadata request.
	cfg.Mapillary.TileSizeDeg = 1.0
	source, err := mapillary.New("token", server.URL, 2000, 0)
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	city := testsupport.NewCity(t, st, "London", 9000000, store.BBox{West: -0.2, South: 51.4, East: 0.0, North: 51.6})

	handler := New(cfg, st, source, logging.NewNop())
	processed, err := handler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	updated, err := st.GetCityByID(context.Background(), city.ID)
	if err != nil {
		t.Fatalf("get city: %v", err)
	}
	if updated.DownloadStatus != store.StatusCompleted {
		t.Fatalf("download status = %s, want completed", updated.DownloadStatus)
	}

	total, err := st.CountImagesByCity(context.Background(), city.ID)
	if err != nil {
		t.Fatalf("count images: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 image rows, got %d", total)
	}

	for _, id := range []int64{2001, 2002} {
		path := filepath.Join(cfg.Paths.ImageRoot, fmt.Sprintf("%d", city.ID), fmt.Sprintf("%d.jpg", id))
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("image file missing: %v", err)
		}
	}
}

func TestRunOnceEmptyQueue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	server := newImageryServer(t, nil)
	source, err := mapillary.New("token", server.URL, 2000, 0)
	if err != nil {
		t.Fatalf("new source: %v", err)
	}

	handler := New(cfg, st, source, logging.NewNop())
	processed, err := handler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if processed != 0 {
		t.Fatalf("processed = %d, want 0", processed)
	}
}

func TestRunOnceRejectedTokenFailsPermanently(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "bad token"}`, http.StatusForbidden)
	}))
	defer server.Close()
	source, err := mapillary.New("expired", server.URL, 2000, 0)
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	city := testsupport.NewCity(t, st, "London", 9000000, store.BBox{West: -0.1, South: 51.4, East: 0.1, North: 51.6})

	handler := New(cfg, st, source, logging.NewNop())
	if _, err := handler.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	updated, err := st.GetCityByID(context.Background(), city.ID)
	if err != nil {
		t.Fatalf("get city: %v", err)
	}
	if updated.DownloadStatus != store.StatusFailed {
		t.Fatalf("download status = %s, want failed", updated.DownloadStatus)
	}
	if updated.ErrorMessage == "" {
		t.Fatal("expected failure reason to be recorded")
	}
}

func TestRunOnceTransientFailureReturnsToPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream timeout", http.StatusBadGateway)
	}))
	defer server.Close()
	source, err := mapillary.New("token", server.URL, 2000, 0)
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	city := testsupport.NewCity(t, st, "London", 9000000, store.BBox{West: -0.1, South: 51.4, East: 0.1, North: 51.6})

	handler := New(cfg, st, source, logging.NewNop())
	if _, err := handler.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	updated, err := st.GetCityByID(context.Background(), city.ID)
	if err != nil {
		t.Fatalf("get city: %v", err)
	}
	if updated.DownloadStatus != store.StatusPending {
		t.Fatalf("download status = %s, want pending for retry", updated.DownloadStatus)
	}
	if updated.DownloadRetries != 1 {
		t.Fatalf("download retries = %d, want 1", updated.DownloadRetries)
	}
}

func TestHealthCheck(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	server := newImageryServer(t, nil)
	source, err := mapillary.New("token", server.URL, 2000, 0)
	if err != nil {
		t.Fatalf("new source: %v", err)
	}

	handler := New(cfg, st, source, logging.NewNop())
	health := handler.HealthCheck(context.Background())
	if !health.Ready {
		t.Fatalf("expected healthy stage: %+v", health)
	}
}
