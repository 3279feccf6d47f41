package store

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a claimable work row.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// Stage names the two city-granularity pipeline phases. Each has its own
// status column on the cities table, so the download and analysis pipelines
// never contend on the same write.
type Stage string

const (
	StageDownload Stage = "download"
	StageAnalysis Stage = "analysis"
)

// BBox is a geographic bounding box in degrees.
type BBox struct {
	West  float64
	South float64
	East  float64
	North float64
}

// Tile-friendly accessors matching the [min_lon, min_lat, max_lon, max_lat]
// convention of the imagery API.
func (b BBox) MinLon() float64 { return b.West }
func (b BBox) MinLat() float64 { return b.South }
func (b BBox) MaxLon() float64 { return b.East }
func (b BBox) MaxLat() float64 { return b.North }

// City is a geocoded region whose imagery is collected and analyzed.
// The two status fields advance independently; analysis only becomes
// claimable once download_status is completed.
type City struct {
	ID                int64
	Name              string
	Country           string
	Population        int64
	BBox              BBox
	DownloadStatus    Status
	AnalysisStatus    Status
	DownloadClaimedAt *time.Time
	AnalysisClaimedAt *time.Time
	DownloadRetries   int
	AnalysisRetries   int
	ErrorMessage      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Image is one downloaded photograph. ImageID is the provider's globally
// unique identifier (the natural key); inserts are idempotent on it.
type Image struct {
	ID           int64
	ImageID      int64
	CityID       int64
	CapturedAt   *time.Time
	Lon          float64
	Lat          float64
	FilePath     string
	Status       Status
	ClaimedAt    *time.Time
	RetryCount   int
	ErrorMessage string
	CreatedAt    time.Time
}

// NormBox is a bounding box normalized to [0, 1] image coordinates.
type NormBox struct {
	XMin float64
	YMin float64
	XMax float64
	YMax float64
}

// Detection is one person instance found in an Image.
type Detection struct {
	ID           int64
	ImageRowID   int64
	Confidence   float64
	Box          NormBox
	CropPath     string
	Status       Status
	ClaimedAt    *time.Time
	RetryCount   int
	ErrorMessage string
	CreatedAt    time.Time
}

// ClothingMeasurement is one garment observation for a Detection.
// Append-only; never claimed.
type ClothingMeasurement struct {
	ID           int64
	DetectionID  int64
	Category     string
	Confidence   float64
	ColorH       float64
	ColorS       float64
	ColorV       float64
	TextureScore float64
	AreaRatio    float64
	Box          NormBox
	CreatedAt    time.Time
}

// StatusCounts maps status values to row counts for one table.
type StatusCounts map[Status]int

// Stats aggregates queue depth across every claimable table.
type Stats struct {
	Cities     StatusCounts // download_status
	Analysis   StatusCounts // analysis_status
	Images     StatusCounts
	Detections StatusCounts
	Garments   int // clothing_measurements total
}

// DatabaseHealth captures diagnostic information about the store file.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	TablesPresent    []string
	MissingTables    []string
	IntegrityCheck   bool
	TotalImages      int
	Error            string
}
