package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const cityColumns = `id, name, country, population,
    bbox_west, bbox_south, bbox_east, bbox_north,
    download_status, analysis_status,
    download_claimed_at, analysis_claimed_at,
    download_retries, analysis_retries,
    error_message, created_at, updated_at`

// InsertCity adds a city in the pending state. Idempotent on name: a second
// insert of the same city is a successful no-op returning the existing row.
func (s *Store) InsertCity(ctx context.Context, name, country string, population int64, bbox BBox) (*City, error) {
	if name == "" {
		return nil, errors.New("city name required")
	}
	now := timestampNow()
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO cities (
            name, country, population,
            bbox_west, bbox_south, bbox_east, bbox_north,
            download_status, analysis_status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(name) DO NOTHING`,
		name,
		nullableString(country),
		population,
		bbox.West, bbox.South, bbox.East, bbox.North,
		StatusPending,
		StatusPending,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert city: %w", err)
	}
	return s.GetCityByName(ctx, name)
}

// GetCityByID fetches a city by identifier, nil when absent.
func (s *Store) GetCityByID(ctx context.Context, id int64) (*City, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+cityColumns+` FROM cities WHERE id = ?`, id)
	city, err := scanCity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get city: %w", err)
	}
	return city, nil
}

// GetCityByName fetches a city by its unique name, nil when absent.
func (s *Store) GetCityByName(ctx context.Context, name string) (*City, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+cityColumns+` FROM cities WHERE name = ?`, name)
	city, err := scanCity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get city by name: %w", err)
	}
	return city, nil
}

// ListCities returns all cities ordered by population, largest first.
func (s *Store) ListCities(ctx context.Context) ([]*City, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT `+cityColumns+` FROM cities ORDER BY population DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list cities: %w", err)
	}
	defer rows.Close()

	var cities []*City
	for rows.Next() {
		city, err := scanCity(rows)
		if err != nil {
			return nil, err
		}
		cities = append(cities, city)
	}
	return cities, rows.Err()
}

// ClaimCityForDownload atomically selects the largest pending city, flips
// its download status to processing, and returns it. Nil when no city is
// eligible; exactly one caller across all processes ever receives a given
// pending city.
func (s *Store) ClaimCityForDownload(ctx context.Context) (*City, error) {
	return s.claimOneCity(ctx, cityDownloadTarget)
}

// ClaimCityForAnalysis is the analysis-stage specialization: a city becomes
// eligible only once its download has completed.
func (s *Store) ClaimCityForAnalysis(ctx context.Context) (*City, error) {
	return s.claimOneCity(ctx, cityAnalysisTarget)
}

func (s *Store) claimOneCity(ctx context.Context, target claimTarget) (*City, error) {
	var city *City
	err := s.withImmediateTx(ctx, func(tx *sql.Tx) error {
		ids, err := claimIDs(ctx, tx, target, 1, "")
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		row := tx.QueryRowContext(ctx, `SELECT `+cityColumns+` FROM cities WHERE id = ?`, ids[0])
		city, err = scanCity(row)
		if err != nil {
			return fmt.Errorf("reselect claimed city: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return city, nil
}

// MarkCityDownloadComplete finishes the download lifecycle for one city.
func (s *Store) MarkCityDownloadComplete(ctx context.Context, id int64) error {
	return s.markCityStatus(ctx, cityDownloadTarget, id)
}

// MarkCityAnalysisComplete finishes the analysis lifecycle for one city.
func (s *Store) MarkCityAnalysisComplete(ctx context.Context, id int64) error {
	return s.markCityStatus(ctx, cityAnalysisTarget, id)
}

func (s *Store) markCityStatus(ctx context.Context, target claimTarget, id int64) error {
	query := fmt.Sprintf(
		"UPDATE cities SET %s = ?, %s = NULL, error_message = NULL, updated_at = ? WHERE id = ?",
		target.statusColumn, target.claimedColumn,
	)
	if _, err := s.execWithRetry(ctx, query, StatusCompleted, timestampNow(), id); err != nil {
		return fmt.Errorf("mark city %s completed: %w", target.statusColumn, err)
	}
	return nil
}

// MarkCityDownloadFailed records a download failure, returning the city to
// pending until the retry budget is exhausted.
func (s *Store) MarkCityDownloadFailed(ctx context.Context, id int64, reason string, retryLimit int, permanent bool) error {
	if err := s.markFailed(ctx, cityDownloadTarget, []int64{id}, reason, retryLimit, permanent); err != nil {
		return err
	}
	return s.touchCity(ctx, id)
}

// MarkCityAnalysisFailed records an analysis failure with the same
// bounded-retry semantics.
func (s *Store) MarkCityAnalysisFailed(ctx context.Context, id int64, reason string, retryLimit int, permanent bool) error {
	if err := s.markFailed(ctx, cityAnalysisTarget, []int64{id}, reason, retryLimit, permanent); err != nil {
		return err
	}
	return s.touchCity(ctx, id)
}

func (s *Store) touchCity(ctx context.Context, id int64) error {
	_, err := s.execWithRetry(ctx, `UPDATE cities SET updated_at = ? WHERE id = ?`, timestampNow(), id)
	if err != nil {
		return fmt.Errorf("touch city: %w", err)
	}
	return nil
}

func scanCity(scanner interface{ Scan(dest ...any) error }) (*City, error) {
	var (
		id                 int64
		name               string
		country            sql.NullString
		population         int64
		west, south        float64
		east, north        float64
		downloadStatus     string
		analysisStatus     string
		downloadClaimedRaw sql.NullString
		analysisClaimedRaw sql.NullString
		downloadRetries    int
		analysisRetries    int
		errorMessage       sql.NullString
		createdRaw         string
		updatedRaw         string
	)
	if err := scanner.Scan(
		&id, &name, &country, &population,
		&west, &south, &east, &north,
		&downloadStatus, &analysisStatus,
		&downloadClaimedRaw, &analysisClaimedRaw,
		&downloadRetries, &analysisRetries,
		&errorMessage, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	city := &City{
		ID:              id,
		Name:            name,
		Country:         country.String,
		Population:      population,
		BBox:            BBox{West: west, South: south, East: east, North: north},
		DownloadStatus:  Status(downloadStatus),
		AnalysisStatus:  Status(analysisStatus),
		DownloadRetries: downloadRetries,
		AnalysisRetries: analysisRetries,
		ErrorMessage:    errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		city.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		city.UpdatedAt = updated
	}
	if downloadClaimedRaw.Valid {
		if t, err := parseTimeString(downloadClaimedRaw.String); err == nil {
			city.DownloadClaimedAt = &t
		}
	}
	if analysisClaimedRaw.Valid {
		if t, err := parseTimeString(analysisClaimedRaw.String); err == nil {
			city.AnalysisClaimedAt = &t
		}
	}
	return city, nil
}
