package testsupport

import (
	"context"
	"testing"

	"threadmap/internal/config"
	"threadmap/internal/store"
)

// MustOpenStore opens a store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewCity creates a pending city for tests using the provided store.
func NewCity(t testing.TB, st *store.Store, name string, population int64, bbox store.BBox) *store.City {
	t.Helper()

	city, err := st.InsertCity(context.Background(), name, "Testland", population, bbox)
	if err != nil {
		t.Fatalf("store.InsertCity: %v", err)
	}
	return city
}

// NewClaimedImage inserts one image for the city and claims it, returning
// the processing row. Used by stages that operate on claimed images.
func NewClaimedImage(t testing.TB, st *store.Store, cityID, imageID int64, filePath string) *store.Image {
	t.Helper()

	ctx := context.Background()
	if _, err := st.InsertImages(ctx, []*store.Image{{ImageID: imageID, CityID: cityID, FilePath: filePath}}); err != nil {
		t.Fatalf("store.InsertImages: %v", err)
	}
	images, err := st.ClaimImages(ctx, cityID, 1)
	if err != nil {
		t.Fatalf("store.ClaimImages: %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("expected 1 claimed image, got %d", len(images))
	}
	return images[0]
}
