package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	ImageRoot string `toml:"image_root"`
	CropRoot  string `toml:"crop_root"`
	LogDir    string `toml:"log_dir"`
}

// Mapillary contains configuration for the street-imagery API.
type Mapillary struct {
	AccessToken    string  `toml:"access_token"`
	BaseURL        string  `toml:"base_url"`
	RequestTimeout int     `toml:"request_timeout"`
	TileSizeDeg    float64 `toml:"tile_size_deg"`
	PageLimit      int     `toml:"page_limit"`
}

// Geocoder contains configuration for the city bounding-box lookup API.
type Geocoder struct {
	BaseURL        string `toml:"base_url"`
	Email          string `toml:"email"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Download contains configuration for the image download stage.
type Download struct {
	Concurrency int `toml:"concurrency"`
	RetryLimit  int `toml:"retry_limit"`
	MinFreeGiB  int `toml:"min_free_gib"`
}

// Detection contains configuration for the person-detection stage.
type Detection struct {
	Command       string  `toml:"command"`
	BatchSize     int     `toml:"batch_size"`
	MinConfidence float64 `toml:"min_confidence"`
	RetryLimit    int     `toml:"retry_limit"`
}

// Clothing contains configuration for the clothing-analysis stage.
type Clothing struct {
	Command    string `toml:"command"`
	BatchSize  int    `toml:"batch_size"`
	RetryLimit int    `toml:"retry_limit"`
}

// Workflow contains daemon timing and claim-lease configuration.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	StaleClaimTimeout  int `toml:"stale_claim_timeout"`
	SweepInterval      int `toml:"sweep_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for threadmap.
//
// Configuration sections by subsystem:
//   - Paths: data, image, crop, and log directories
//   - Mapillary: street-imagery API access and tiling
//   - Geocoder: city bounding-box lookup
//   - Download / Detection / Clothing: per-stage tuning and retry budgets
//   - Workflow: daemon polling intervals and claim leases
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Mapillary Mapillary `toml:"mapillary"`
	Geocoder  Geocoder  `toml:"geocoder"`
	Download  Download  `toml:"download"`
	Detection Detection `toml:"detection"`
	Clothing  Clothing  `toml:"clothing"`
	Workflow  Workflow  `toml:"workflow"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/threadmap/config.toml")
}

// SampleConfig returns the embedded sample configuration document.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes the embedded sample configuration to path.
func CreateSample(path string) error {
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// ExpandPath expands a leading ~ and returns an absolute path.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. A .env file in the
// working directory supplies MAPILLARY_ACCESS_TOKEN when present; the
// environment always wins over the TOML value.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	_ = godotenv.Load()
	if token := strings.TrimSpace(os.Getenv("MAPILLARY_ACCESS_TOKEN")); token != "" {
		cfg.Mapillary.AccessToken = token
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("threadmap.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.ImageRoot, c.Paths.CropRoot, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the shared work-queue database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "threadmap.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
