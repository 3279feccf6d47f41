package store

import (
	"context"
	"database/sql"
	"fmt"
)

const imageColumns = `id, image_id, city_id, captured_at, lon, lat, file_path,
    processing_status, claimed_at, retry_count, error_message, created_at`

// InsertImages records downloaded images for a city. Idempotent on the
// provider image_id: rows already present are skipped, so a re-downloaded
// city never duplicates work. Returns the number of rows actually inserted.
func (s *Store) InsertImages(ctx context.Context, images []*Image) (int, error) {
	if len(images) == 0 {
		return 0, nil
	}
	inserted := 0
	err := s.withImmediateTx(ctx, func(tx *sql.Tx) error {
		now := timestampNow()
		for _, img := range images {
			res, err := tx.ExecContext(
				ctx,
				`INSERT OR IGNORE INTO images (
                    image_id, city_id, captured_at, lon, lat, file_path,
                    processing_status, created_at
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				img.ImageID,
				img.CityID,
				nullableTime(img.CapturedAt),
				img.Lon,
				img.Lat,
				img.FilePath,
				StatusPending,
				now,
			)
			if err != nil {
				return fmt.Errorf("insert image %d: %w", img.ImageID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ClaimImages atomically claims up to n pending images belonging to cityID,
// marks them processing, and returns the full rows. Callers on other
// processes each receive disjoint sets.
func (s *Store) ClaimImages(ctx context.Context, cityID int64, n int) ([]*Image, error) {
	var images []*Image
	err := s.withImmediateTx(ctx, func(tx *sql.Tx) error {
		ids, err := claimIDs(ctx, tx, imageTarget, n, "city_id = ?", cityID)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		query := fmt.Sprintf(
			"SELECT "+imageColumns+" FROM images WHERE id IN (%s) ORDER BY id",
			makePlaceholders(len(ids)),
		)
		rows, err := tx.QueryContext(ctx, query, idArgs(ids)...)
		if err != nil {
			return fmt.Errorf("reselect claimed images: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			img, err := scanImage(rows)
			if err != nil {
				return err
			}
			images = append(images, img)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return images, nil
}

// MarkImagesCompleted finishes processing for the given image rows.
func (s *Store) MarkImagesCompleted(ctx context.Context, ids []int64) error {
	return s.markCompleted(ctx, imageTarget, ids)
}

// MarkImagesFailed applies the bounded-retry failure outcome to image rows.
func (s *Store) MarkImagesFailed(ctx context.Context, ids []int64, reason string, retryLimit int, permanent bool) error {
	return s.markFailed(ctx, imageTarget, ids, reason, retryLimit, permanent)
}

// CountImagesOutstanding reports how many of a city's images are still
// pending or processing. Zero means every image reached a terminal state and
// the city's analysis can complete.
func (s *Store) CountImagesOutstanding(ctx context.Context, cityID int64) (int, error) {
	var count int
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT COUNT(1) FROM images WHERE city_id = ? AND processing_status IN (?, ?)`,
		cityID, StatusPending, StatusProcessing,
	)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count outstanding images: %w", err)
	}
	return count, nil
}

// CountImagesByCity reports the total number of images recorded for a city.
func (s *Store) CountImagesByCity(ctx context.Context, cityID int64) (int, error) {
	var count int
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT COUNT(1) FROM images WHERE city_id = ?`, cityID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count city images: %w", err)
	}
	return count, nil
}

func scanImage(scanner interface{ Scan(dest ...any) error }) (*Image, error) {
	var (
		img          Image
		capturedRaw  sql.NullString
		claimedRaw   sql.NullString
		status       string
		errorMessage sql.NullString
		createdRaw   string
	)
	if err := scanner.Scan(
		&img.ID, &img.ImageID, &img.CityID, &capturedRaw,
		&img.Lon, &img.Lat, &img.FilePath,
		&status, &claimedRaw, &img.RetryCount,
		&errorMessage, &createdRaw,
	); err != nil {
		return nil, err
	}
	img.Status = Status(status)
	img.ErrorMessage = errorMessage.String
	if capturedRaw.Valid {
		if t, err := parseTimeString(capturedRaw.String); err == nil {
			img.CapturedAt = &t
		}
	}
	if claimedRaw.Valid {
		if t, err := parseTimeString(claimedRaw.String); err == nil {
			img.ClaimedAt = &t
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		img.CreatedAt = created
	}
	return &img, nil
}
