package store

import (
	"context"
	"fmt"
	"os"
	"time"
)

// GetStats aggregates queue depth across every claimable table.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	ctx = ensureContext(ctx)
	stats := &Stats{
		Cities:     make(StatusCounts),
		Analysis:   make(StatusCounts),
		Images:     make(StatusCounts),
		Detections: make(StatusCounts),
	}

	queries := []struct {
		counts StatusCounts
		query  string
	}{
		{stats.Cities, `SELECT download_status, COUNT(1) FROM cities GROUP BY download_status`},
		{stats.Analysis, `SELECT analysis_status, COUNT(1) FROM cities GROUP BY analysis_status`},
		{stats.Images, `SELECT processing_status, COUNT(1) FROM images GROUP BY processing_status`},
		{stats.Detections, `SELECT clothing_status, COUNT(1) FROM detections GROUP BY clothing_status`},
	}
	for _, q := range queries {
		rows, err := s.db.QueryContext(ctx, q.query)
		if err != nil {
			return nil, fmt.Errorf("gather stats: %w", err)
		}
		for rows.Next() {
			var (
				status string
				count  int
			)
			if err := rows.Scan(&status, &count); err != nil {
				rows.Close()
				return nil, err
			}
			q.counts[Status(status)] = count
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	garments, err := s.CountClothingMeasurements(ctx)
	if err != nil {
		return nil, err
	}
	stats.Garments = garments
	return stats, nil
}

// ResetStuck returns rows stuck in processing longer than olderThan to
// pending across every claimable table. Workers that crashed mid-batch leave
// stale leases behind; this is the only path that reclaims them.
func (s *Store) ResetStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	var total int64
	for _, target := range []claimTarget{cityDownloadTarget, cityAnalysisTarget, imageTarget, detectionTarget} {
		n, err := s.resetStuck(ctx, target, cutoff)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// RetryFailedImages returns terminally failed images to pending with a fresh
// retry budget.
func (s *Store) RetryFailedImages(ctx context.Context) (int64, error) {
	return s.retryFailed(ctx, imageTarget)
}

// RetryFailedDetections returns terminally failed detections to pending.
func (s *Store) RetryFailedDetections(ctx context.Context) (int64, error) {
	return s.retryFailed(ctx, detectionTarget)
}

// RetryFailedCities returns terminally failed cities (either stage) to
// pending.
func (s *Store) RetryFailedCities(ctx context.Context) (int64, error) {
	downloads, err := s.retryFailed(ctx, cityDownloadTarget)
	if err != nil {
		return 0, err
	}
	analyses, err := s.retryFailed(ctx, cityAnalysisTarget)
	if err != nil {
		return downloads, err
	}
	return downloads + analyses, nil
}

var requiredTables = []string{"cities", "images", "detections", "clothing_measurements", "schema_migrations"}

// CheckHealth inspects the database file and schema without mutating
// anything. Used by preflight and the CLI status command.
func (s *Store) CheckHealth(ctx context.Context) *DatabaseHealth {
	ctx = ensureContext(ctx)
	health := &DatabaseHealth{DBPath: s.path}

	if _, err := os.Stat(s.path); err != nil {
		health.Error = fmt.Sprintf("database file: %v", err)
		return health
	}
	health.DatabaseExists = true

	if err := s.db.PingContext(ctx); err != nil {
		health.Error = fmt.Sprintf("ping: %v", err)
		return health
	}
	health.DatabaseReadable = true

	if version, err := s.SchemaVersion(ctx); err == nil {
		health.SchemaVersion = version
	}

	present := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		health.Error = fmt.Sprintf("list tables: %v", err)
		return health
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			health.Error = err.Error()
			return health
		}
		present[name] = true
	}
	rows.Close()
	for _, table := range requiredTables {
		if present[table] {
			health.TablesPresent = append(health.TablesPresent, table)
		} else {
			health.MissingTables = append(health.MissingTables, table)
		}
	}

	var integrity string
	if err := s.db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&integrity); err == nil {
		health.IntegrityCheck = integrity == "ok"
	}

	var totalImages int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM images`).Scan(&totalImages); err == nil {
		health.TotalImages = totalImages
	}
	return health
}
