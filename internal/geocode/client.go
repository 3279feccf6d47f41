// Package geocode resolves city names to geographic bounding boxes using a
// Nominatim-compatible endpoint.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"threadmap/internal/store"
)

// Place is one geocoder match.
type Place struct {
	DisplayName string
	Lat         float64
	Lon         float64
	BBox        store.BBox
}

// Resolver defines the geocoding operation used by the city importer.
type Resolver interface {
	Lookup(ctx context.Context, name string) (*Place, error)
}

// Client queries a Nominatim-compatible search endpoint.
type Client struct {
	baseURL    string
	email      string
	httpClient *http.Client
}

var _ Resolver = (*Client)(nil)

// ErrNotFound indicates the geocoder returned no match for the query.
var ErrNotFound = errors.New("no geocoder match")

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New creates a geocoder client. The email is sent as contact information
// per the Nominatim usage policy.
func New(baseURL, email string, timeout time.Duration, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("geocoder base url required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		email:      strings.TrimSpace(email),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type searchResult struct {
	DisplayName string   `json:"display_name"`
	Lat         string   `json:"lat"`
	Lon         string   `json:"lon"`
	BoundingBox []string `json:"boundingbox"` // [south, north, west, east]
	Importance  float64  `json:"importance"`
}

// Lookup resolves a city name to its best match. Returns ErrNotFound when
// the geocoder knows nothing by that name.
func (c *Client) Lookup(ctx context.Context, name string) (*Place, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("city name must not be empty")
	}
	endpoint, err := url.Parse(c.baseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("parse geocoder url: %w", err)
	}
	params := url.Values{}
	params.Set("q", name)
	params.Set("format", "json")
	params.Set("limit", "1")
	if c.email != "" {
		params.Set("email", c.email)
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "threadmap/1.0")

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return nil, fmt.Errorf("execute request (latency=%v): %w", latency, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoder search returned %d (latency=%v)", resp.StatusCode, latency)
	}

	var results []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode geocoder response: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w for %q", ErrNotFound, name)
	}
	return parsePlace(results[0])
}

func parsePlace(result searchResult) (*Place, error) {
	if len(result.BoundingBox) != 4 {
		return nil, fmt.Errorf("geocoder bounding box has %d parts, want 4", len(result.BoundingBox))
	}
	coords := make([]float64, 4)
	for i, raw := range result.BoundingBox {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parse bounding box coordinate %q: %w", raw, err)
		}
		coords[i] = value
	}
	lat, err := strconv.ParseFloat(result.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("parse latitude %q: %w", result.Lat, err)
	}
	lon, err := strconv.ParseFloat(result.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("parse longitude %q: %w", result.Lon, err)
	}
	return &Place{
		DisplayName: result.DisplayName,
		Lat:         lat,
		Lon:         lon,
		BBox: store.BBox{
			South: coords[0],
			North: coords[1],
			West:  coords[2],
			East:  coords[3],
		},
	}, nil
}
