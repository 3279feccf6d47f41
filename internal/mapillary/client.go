// Package mapillary fetches street-level imagery metadata and thumbnails
// from the Mapillary graph API.
package mapillary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"threadmap/internal/store"
)

const imageFields = "id,captured_at,geometry,thumb_2048_url"

// ImageMeta is one image entry returned by the graph API.
type ImageMeta struct {
	ID         int64
	CapturedAt *time.Time
	Lon        float64
	Lat        float64
	ThumbURL   string
}

// Source defines the imagery operations the download stage depends on.
type Source interface {
	ImagesInBBox(ctx context.Context, bbox store.BBox) ([]ImageMeta, error)
	Download(ctx context.Context, thumbURL string) ([]byte, error)
}

// Client talks to the Mapillary graph API.
type Client struct {
	accessToken string
	baseURL     string
	pageLimit   int
	httpClient  *http.Client
}

var _ Source = (*Client)(nil)

// ErrForbidden indicates the access token was rejected. Not retryable.
var ErrForbidden = errors.New("imagery api rejected access token")

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

// New creates an imagery API client.
func New(accessToken, baseURL string, pageLimit int, timeout time.Duration, opts ...Option) (*Client, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, errors.New("imagery access token required")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("imagery base url required")
	}
	if pageLimit <= 0 {
		pageLimit = 2000
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &Client{
		accessToken: accessToken,
		baseURL:     strings.TrimRight(baseURL, "/"),
		pageLimit:   pageLimit,
		httpClient:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type imagePayload struct {
	ID         string          `json:"id"`
	CapturedAt json.RawMessage `json:"captured_at"`
	Geometry   struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"` // [lon, lat]
	} `json:"geometry"`
	ThumbURL string `json:"thumb_2048_url"`
}

type imagesResponse struct {
	Data []imagePayload `json:"data"`
}

// ImagesInBBox lists image metadata inside the bounding box, up to the
// configured page limit. Callers tile large boxes with TileBBox to stay
// under the limit.
func (c *Client) ImagesInBBox(ctx context.Context, bbox store.BBox) ([]ImageMeta, error) {
	endpoint, err := url.Parse(c.baseURL + "/images")
	if err != nil {
		return nil, fmt.Errorf("parse imagery url: %w", err)
	}
	params := url.Values{}
	params.Set("access_token", c.accessToken)
	params.Set("fields", imageFields)
	params.Set("bbox", fmt.Sprintf("%g,%g,%g,%g", bbox.MinLon(), bbox.MinLat(), bbox.MaxLon(), bbox.MaxLat()))
	params.Set("limit", strconv.Itoa(c.pageLimit))
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return nil, fmt.Errorf("execute request (latency=%v): %w", latency, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w (status %d)", ErrForbidden, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("imagery search returned %d (latency=%v)", resp.StatusCode, latency)
	}

	var payload imagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode imagery response: %w", err)
	}

	images := make([]ImageMeta, 0, len(payload.Data))
	for _, entry := range payload.Data {
		meta, err := parseImage(entry)
		if err != nil {
			return nil, err
		}
		images = append(images, meta)
	}
	return images, nil
}

// Download fetches image bytes from a thumbnail URL issued by the API.
func (c *Client) Download(ctx context.Context, thumbURL string) ([]byte, error) {
	if strings.TrimSpace(thumbURL) == "" {
		return nil, errors.New("thumbnail url must not be empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, thumbURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	return data, nil
}

func parseImage(entry imagePayload) (ImageMeta, error) {
	id, err := strconv.ParseInt(entry.ID, 10, 64)
	if err != nil {
		return ImageMeta{}, fmt.Errorf("parse image id %q: %w", entry.ID, err)
	}
	meta := ImageMeta{ID: id, ThumbURL: entry.ThumbURL}
	if len(entry.Geometry.Coordinates) >= 2 {
		meta.Lon = entry.Geometry.Coordinates[0]
		meta.Lat = entry.Geometry.Coordinates[1]
	}
	if captured, ok := parseCapturedAt(entry.CapturedAt); ok {
		meta.CapturedAt = &captured
	}
	return meta, nil
}

// parseCapturedAt accepts the two timestamp shapes the API has been observed
// to return: milliseconds since epoch, or an RFC 3339 string.
func parseCapturedAt(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}
	var millis int64
	if err := json.Unmarshal(raw, &millis); err == nil {
		return time.UnixMilli(millis).UTC(), true
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
