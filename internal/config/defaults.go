package config

const (
	defaultDataDir   = "~/.local/share/threadmap"
	defaultImageRoot = "~/.local/share/threadmap/images"
	defaultCropRoot  = "~/.local/share/threadmap/crops"
	defaultLogDir    = "~/.local/share/threadmap/logs"

	defaultMapillaryBaseURL = "https://graph.mapillary.com"
	defaultMapillaryTimeout = 30
	defaultTileSizeDeg      = 0.02
	defaultPageLimit        = 2000

	defaultGeocoderBaseURL = "https://nominatim.openstreetmap.org"
	defaultGeocoderTimeout = 15

	defaultDownloadConcurrency = 16
	defaultDownloadRetryLimit  = 3
	defaultMinFreeGiB          = 5

	defaultDetectionBatchSize     = 64
	defaultDetectionMinConfidence = 0.25
	defaultDetectionRetryLimit    = 3

	defaultClothingBatchSize  = 256
	defaultClothingRetryLimit = 3

	defaultQueuePollInterval  = 10
	defaultErrorRetryInterval = 5
	defaultStaleClaimTimeout  = 1800
	defaultSweepInterval      = 300

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			ImageRoot: defaultImageRoot,
			CropRoot:  defaultCropRoot,
			LogDir:    defaultLogDir,
		},
		Mapillary: Mapillary{
			BaseURL:        defaultMapillaryBaseURL,
			RequestTimeout: defaultMapillaryTimeout,
			TileSizeDeg:    defaultTileSizeDeg,
			PageLimit:      defaultPageLimit,
		},
		Geocoder: Geocoder{
			BaseURL:        defaultGeocoderBaseURL,
			RequestTimeout: defaultGeocoderTimeout,
		},
		Download: Download{
			Concurrency: defaultDownloadConcurrency,
			RetryLimit:  defaultDownloadRetryLimit,
			MinFreeGiB:  defaultMinFreeGiB,
		},
		Detection: Detection{
			Command:       "threadmap-detect",
			BatchSize:     defaultDetectionBatchSize,
			MinConfidence: defaultDetectionMinConfidence,
			RetryLimit:    defaultDetectionRetryLimit,
		},
		Clothing: Clothing{
			Command:    "threadmap-clothing",
			BatchSize:  defaultClothingBatchSize,
			RetryLimit: defaultClothingRetryLimit,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			StaleClaimTimeout:  defaultStaleClaimTimeout,
			SweepInterval:      defaultSweepInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
