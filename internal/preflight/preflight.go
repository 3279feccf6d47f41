// Package preflight validates the environment before pipeline work starts:
// directory access, free disk space, the shared database, external analyzer
// binaries, and imagery API reachability.
package preflight

import (
	"context"

	"threadmap/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckDirectoryAccess("Image root", cfg.Paths.ImageRoot))
	results = append(results, CheckDirectoryAccess("Crop root", cfg.Paths.CropRoot))
	results = append(results, CheckDiskSpace("Image root free space", cfg.Paths.ImageRoot, cfg.Download.MinFreeGiB))
	results = append(results, CheckDatabase(ctx, cfg))
	results = append(results, CheckBinary("Person detector", cfg.Detection.Command))
	results = append(results, CheckBinary("Clothing analyzer", cfg.Clothing.Command))
	results = append(results, CheckImageryAPI(ctx, cfg.Mapillary))

	return results
}

// AllPassed reports whether every check succeeded.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
