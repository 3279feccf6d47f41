package mapillary

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"threadmap/internal/store"
)

func TestImagesInBBoxParsesMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("access_token"); got != "token123" {
			t.Errorf("access_token = %q", got)
		}
		if got := r.URL.Query().Get("fields"); got != "id,captured_at,geometry,thumb_2048_url" {
			t.Errorf("fields = %q", got)
		}
		if got := r.URL.Query().Get("bbox"); got != "-0.51,51.28,0.33,51.69" {
			t.Errorf("bbox = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [
            {"id": "1001", "captured_at": 1609459200000,
             "geometry": {"type": "Point", "coordinates": [-0.12, 51.5]},
             "thumb_2048_url": "https://cdn.example/1001.jpg"},
            {"id": "1002", "captured_at": "2021-06-01T12:00:00Z",
             "geometry": {"type": "Point", "coordinates": [-0.2, 51.48]},
             "thumb_2048_url": "https://cdn.example/1002.jpg"},
            {"id": "1003",
             "geometry": {"type": "Point", "coordinates": [0.1, 51.6]},
             "thumb_2048_url": "https://cdn.example/1003.jpg"}
        ]}`))
	}))
	defer server.Close()

	client, err := New("token123", server.URL, 2000, 5*time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	images, err := client.ImagesInBBox(context.Background(), store.BBox{West: -0.51, South: 51.28, East: 0.33, North: 51.69})
	if err != nil {
		t.Fatalf("images in bbox: %v", err)
	}
	if len(images) != 3 {
		t.Fatalf("expected 3 images, got %d", len(images))
	}

	first := images[0]
	if first.ID != 1001 {
		t.Fatalf("id = %d, want 1001", first.ID)
	}
	if first.CapturedAt == nil || !first.CapturedAt.Equal(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("millisecond timestamp parsed wrong: %v", first.CapturedAt)
	}
	if first.Lon != -0.12 || first.Lat != 51.5 {
		t.Fatalf("coordinates wrong: %+v", first)
	}

	second := images[1]
	if second.CapturedAt == nil || !second.CapturedAt.Equal(time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("rfc3339 timestamp parsed wrong: %v", second.CapturedAt)
	}

	if images[2].CapturedAt != nil {
		t.Fatalf("missing captured_at should stay nil, got %v", images[2].CapturedAt)
	}
}

func TestImagesInBBoxRejectedToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "bad token"}`, http.StatusForbidden)
	}))
	defer server.Close()

	client, err := New("expired", server.URL, 2000, 5*time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.ImagesInBBox(context.Background(), store.BBox{})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestDownloadFetchesBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("jpegbytes"))
	}))
	defer server.Close()

	client, err := New("token", server.URL, 2000, 5*time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	data, err := client.Download(context.Background(), server.URL+"/thumb.jpg")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(data) != "jpegbytes" {
		t.Fatalf("unexpected body %q", data)
	}
}

func TestTileBBoxCoversWholeBox(t *testing.T) {
	bbox := store.BBox{West: 0, South: 0, East: 0.05, North: 0.03}
	tiles := TileBBox(bbox, 0.02)

	// 3 columns x 2 rows.
	if len(tiles) != 6 {
		t.Fatalf("expected 6 tiles, got %d", len(tiles))
	}
	last := tiles[len(tiles)-1]
	if last.East != bbox.East || last.North != bbox.North {
		t.Fatalf("final tile not clamped to box: %+v", last)
	}
	for _, tile := range tiles {
		if tile.East-tile.West > 0.02+1e-9 || tile.North-tile.South > 0.02+1e-9 {
			t.Fatalf("tile exceeds size: %+v", tile)
		}
	}
}

func TestTileBBoxDegenerate(t *testing.T) {
	bbox := store.BBox{West: 1, South: 1, East: 1, North: 1}
	tiles := TileBBox(bbox, 0.02)
	if len(tiles) != 1 {
		t.Fatalf("expected 1 tile for degenerate box, got %d", len(tiles))
	}
}
