package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateMapillary(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.ImageRoot) == "" {
		return errors.New("paths.image_root must be set")
	}
	return nil
}

func (c *Config) validateMapillary() error {
	if c.Mapillary.TileSizeDeg <= 0 || c.Mapillary.TileSizeDeg > 1 {
		return errors.New("mapillary.tile_size_deg must be in (0, 1]")
	}
	if c.Mapillary.PageLimit <= 0 || c.Mapillary.PageLimit > 2000 {
		return errors.New("mapillary.page_limit must be between 1 and 2000")
	}
	return nil
}

func (c *Config) validateStages() error {
	if c.Download.Concurrency <= 0 {
		return errors.New("download.concurrency must be positive")
	}
	if c.Detection.BatchSize <= 0 || c.Clothing.BatchSize <= 0 {
		return errors.New("stage batch sizes must be positive")
	}
	if c.Detection.MinConfidence < 0 || c.Detection.MinConfidence > 1 {
		return errors.New("detection.min_confidence must be between 0 and 1")
	}
	for name, limit := range map[string]int{
		"download.retry_limit":  c.Download.RetryLimit,
		"detection.retry_limit": c.Detection.RetryLimit,
		"clothing.retry_limit":  c.Clothing.RetryLimit,
	} {
		if limit < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.StaleClaimTimeout < 0 {
		return errors.New("workflow.stale_claim_timeout must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
