package config

import "strings"

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.ImageRoot, err = expandPath(c.Paths.ImageRoot); err != nil {
		return err
	}
	if c.Paths.CropRoot, err = expandPath(c.Paths.CropRoot); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}

	c.Mapillary.BaseURL = strings.TrimRight(strings.TrimSpace(c.Mapillary.BaseURL), "/")
	c.Geocoder.BaseURL = strings.TrimRight(strings.TrimSpace(c.Geocoder.BaseURL), "/")
	c.Mapillary.AccessToken = strings.TrimSpace(c.Mapillary.AccessToken)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	if c.Mapillary.RequestTimeout <= 0 {
		c.Mapillary.RequestTimeout = defaultMapillaryTimeout
	}
	if c.Geocoder.RequestTimeout <= 0 {
		c.Geocoder.RequestTimeout = defaultGeocoderTimeout
	}
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.SweepInterval <= 0 {
		c.Workflow.SweepInterval = defaultSweepInterval
	}
	return nil
}
