package store

import (
	"context"
	"database/sql"
	"fmt"
)

const detectionColumns = `id, image_row_id, confidence,
    bbox_x_min, bbox_y_min, bbox_x_max, bbox_y_max,
    crop_path, clothing_status, claimed_at, retry_count,
    error_message, created_at`

// InsertDetections records the person instances found in already-stored
// images. Detections carry no natural key from the detector, so the caller
// must only insert each image's detections once; the images table's
// processing_status transition guarantees that.
func (s *Store) InsertDetections(ctx context.Context, detections []*Detection) error {
	if len(detections) == 0 {
		return nil
	}
	return s.withImmediateTx(ctx, func(tx *sql.Tx) error {
		now := timestampNow()
		for _, det := range detections {
			_, err := tx.ExecContext(
				ctx,
				`INSERT INTO detections (
                    image_row_id, confidence,
                    bbox_x_min, bbox_y_min, bbox_x_max, bbox_y_max,
                    crop_path, clothing_status, created_at
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				det.ImageRowID,
				det.Confidence,
				det.Box.XMin, det.Box.YMin, det.Box.XMax, det.Box.YMax,
				nullableString(det.CropPath),
				StatusPending,
				now,
			)
			if err != nil {
				return fmt.Errorf("insert detection for image row %d: %w", det.ImageRowID, err)
			}
		}
		return nil
	})
}

// ClaimDetections atomically claims up to n pending detections across all
// cities, marks them processing, and returns the full rows.
func (s *Store) ClaimDetections(ctx context.Context, n int) ([]*Detection, error) {
	var detections []*Detection
	err := s.withImmediateTx(ctx, func(tx *sql.Tx) error {
		ids, err := claimIDs(ctx, tx, detectionTarget, n, "")
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		query := fmt.Sprintf(
			"SELECT "+detectionColumns+" FROM detections WHERE id IN (%s) ORDER BY id",
			makePlaceholders(len(ids)),
		)
		rows, err := tx.QueryContext(ctx, query, idArgs(ids)...)
		if err != nil {
			return fmt.Errorf("reselect claimed detections: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			det, err := scanDetection(rows)
			if err != nil {
				return err
			}
			detections = append(detections, det)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return detections, nil
}

// MarkDetectionsCompleted finishes clothing analysis for the given rows.
func (s *Store) MarkDetectionsCompleted(ctx context.Context, ids []int64) error {
	return s.markCompleted(ctx, detectionTarget, ids)
}

// MarkDetectionsFailed applies the bounded-retry failure outcome to
// detection rows.
func (s *Store) MarkDetectionsFailed(ctx context.Context, ids []int64, reason string, retryLimit int, permanent bool) error {
	return s.markFailed(ctx, detectionTarget, ids, reason, retryLimit, permanent)
}

// CountDetectionsOutstanding reports how many detections are still pending
// or processing across the whole store.
func (s *Store) CountDetectionsOutstanding(ctx context.Context) (int, error) {
	var count int
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT COUNT(1) FROM detections WHERE clothing_status IN (?, ?)`,
		StatusPending, StatusProcessing,
	)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count outstanding detections: %w", err)
	}
	return count, nil
}

func scanDetection(scanner interface{ Scan(dest ...any) error }) (*Detection, error) {
	var (
		det          Detection
		cropPath     sql.NullString
		status       string
		claimedRaw   sql.NullString
		errorMessage sql.NullString
		createdRaw   string
	)
	if err := scanner.Scan(
		&det.ID, &det.ImageRowID, &det.Confidence,
		&det.Box.XMin, &det.Box.YMin, &det.Box.XMax, &det.Box.YMax,
		&cropPath, &status, &claimedRaw, &det.RetryCount,
		&errorMessage, &createdRaw,
	); err != nil {
		return nil, err
	}
	det.CropPath = cropPath.String
	det.Status = Status(status)
	det.ErrorMessage = errorMessage.String
	if claimedRaw.Valid {
		if t, err := parseTimeString(claimedRaw.String); err == nil {
			det.ClaimedAt = &t
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		det.CreatedAt = created
	}
	return &det, nil
}
