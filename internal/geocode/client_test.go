package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLookupParsesBoundingBox(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "London" {
			t.Errorf("query = %q, want London", got)
		}
		if got := r.URL.Query().Get("format"); got != "json" {
			t.Errorf("format = %q, want json", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{
            "display_name": "London, Greater London, England",
            "lat": "51.5073219",
            "lon": "-0.1276474",
            "boundingbox": ["51.2867601", "51.6918741", "-0.5103751", "0.3340155"]
        }]`))
	}))
	defer server.Close()

	client, err := New(server.URL, "ops@example.com", 5*time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	place, err := client.Lookup(context.Background(), "London")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if place.BBox.South != 51.2867601 || place.BBox.North != 51.6918741 {
		t.Fatalf("latitude bounds wrong: %+v", place.BBox)
	}
	if place.BBox.West != -0.5103751 || place.BBox.East != 0.3340155 {
		t.Fatalf("longitude bounds wrong: %+v", place.BBox)
	}
	if place.Lat == 0 || place.Lon == 0 {
		t.Fatalf("centroid not parsed: %+v", place)
	}
}

func TestLookupNoMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client, err := New(server.URL, "", 5*time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Lookup(context.Background(), "Atlantis")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLookupServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "over capacity", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := New(server.URL, "", 5*time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Lookup(context.Background(), "London"); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestParseCityCSV(t *testing.T) {
	input := `name,country,population
# largest first is not required, the store orders by population
London,United Kingdom,9000000
Paris,France,2148000
`
	entries, err := ParseCityCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Name != "London" || entries[0].Population != 9000000 {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Country != "France" {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
}

func TestParseCityCSVRejectsBadPopulation(t *testing.T) {
	input := "London,United Kingdom,9000000\nParis,France,lots\n"
	if _, err := ParseCityCSV(strings.NewReader(input)); err == nil {
		t.Fatal("expected error for non-numeric population")
	}
}
