package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "threadmap.db")
	s, err := OpenPath(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedCity(t *testing.T, s *Store, name string, population int64) *City {
	t.Helper()
	city, err := s.InsertCity(context.Background(), name, "Testland", population, BBox{West: -0.1, South: 51.4, East: 0.1, North: 51.6})
	if err != nil {
		t.Fatalf("insert city %s: %v", name, err)
	}
	if city == nil {
		t.Fatalf("insert city %s: nil result", name)
	}
	return city
}

func TestOpenAppliesMigrationsIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threadmap.db")

	s1, err := OpenPath(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	version1, err := s1.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version1 == "" {
		t.Fatal("expected a recorded schema version after open")
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := OpenPath(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()
	version2, err := s2.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("schema version after reopen: %v", err)
	}
	if version2 != version1 {
		t.Fatalf("schema version changed on reopen: %s -> %s", version1, version2)
	}
}

func TestInsertCityIdempotentOnName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := seedCity(t, s, "London", 9000000)
	second, err := s.InsertCity(ctx, "London", "Testland", 9000000, first.BBox)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate insert created a new row: %d != %d", second.ID, first.ID)
	}

	cities, err := s.ListCities(ctx)
	if err != nil {
		t.Fatalf("list cities: %v", err)
	}
	if len(cities) != 1 {
		t.Fatalf("expected 1 city, got %d", len(cities))
	}
}

func TestInsertCityRequiresName(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.InsertCity(context.Background(), "", "", 0, BBox{}); err == nil {
		t.Fatal("expected error for empty city name")
	}
}

func TestListCitiesOrdersByPopulation(t *testing.T) {
	s := newTestStore(t)
	seedCity(t, s, "Smalltown", 50000)
	seedCity(t, s, "Megacity", 500000)
	seedCity(t, s, "Midtown", 200000)

	cities, err := s.ListCities(context.Background())
	if err != nil {
		t.Fatalf("list cities: %v", err)
	}
	got := make([]string, 0, len(cities))
	for _, c := range cities {
		got = append(got, c.Name)
	}
	want := []string{"Megacity", "Midtown", "Smalltown"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v, want %v", i, got, want)
		}
	}
}

func TestInsertImagesIdempotentOnImageID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	city := seedCity(t, s, "London", 9000000)

	images := []*Image{
		{ImageID: 101, CityID: city.ID, Lon: -0.1, Lat: 51.5, FilePath: "/img/101.jpg"},
		{ImageID: 102, CityID: city.ID, Lon: -0.2, Lat: 51.5, FilePath: "/img/102.jpg"},
	}
	inserted, err := s.InsertImages(ctx, images)
	if err != nil {
		t.Fatalf("insert images: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("expected 2 inserts, got %d", inserted)
	}

	inserted, err = s.InsertImages(ctx, images)
	if err != nil {
		t.Fatalf("re-insert images: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("expected 0 inserts on duplicate batch, got %d", inserted)
	}

	total, err := s.CountImagesByCity(ctx, city.ID)
	if err != nil {
		t.Fatalf("count images: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 images, got %d", total)
	}
}

func TestDeleteCityCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	city := seedCity(t, s, "London", 9000000)

	if _, err := s.InsertImages(ctx, []*Image{{ImageID: 201, CityID: city.ID, FilePath: "/img/201.jpg"}}); err != nil {
		t.Fatalf("insert image: %v", err)
	}
	if _, err := s.execWithRetry(ctx, `DELETE FROM cities WHERE id = ?`, city.ID); err != nil {
		t.Fatalf("delete city: %v", err)
	}
	total, err := s.CountImagesByCity(ctx, city.ID)
	if err != nil {
		t.Fatalf("count images: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected cascade delete to remove images, got %d", total)
	}
}

func TestGetStatsCountsEveryTable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	city := seedCity(t, s, "London", 9000000)

	if _, err := s.InsertImages(ctx, []*Image{
		{ImageID: 301, CityID: city.ID, FilePath: "/img/301.jpg"},
		{ImageID: 302, CityID: city.ID, FilePath: "/img/302.jpg"},
	}); err != nil {
		t.Fatalf("insert images: %v", err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.Cities[StatusPending] != 1 {
		t.Fatalf("expected 1 pending city, got %d", stats.Cities[StatusPending])
	}
	if stats.Images[StatusPending] != 2 {
		t.Fatalf("expected 2 pending images, got %d", stats.Images[StatusPending])
	}
	if stats.Garments != 0 {
		t.Fatalf("expected 0 garments, got %d", stats.Garments)
	}
}

func TestCheckHealthReportsSchema(t *testing.T) {
	s := newTestStore(t)
	health := s.CheckHealth(context.Background())
	if !health.DatabaseExists || !health.DatabaseReadable {
		t.Fatalf("expected healthy database, got %+v", health)
	}
	if len(health.MissingTables) != 0 {
		t.Fatalf("missing tables: %v", health.MissingTables)
	}
	if !health.IntegrityCheck {
		t.Fatal("integrity check failed")
	}
	if health.SchemaVersion == "" {
		t.Fatal("expected schema version")
	}
}
