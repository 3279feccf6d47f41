package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertClothingMeasurements appends garment observations for analyzed
// detections. The table is append-only; measurements are never claimed or
// updated.
func (s *Store) InsertClothingMeasurements(ctx context.Context, measurements []*ClothingMeasurement) error {
	if len(measurements) == 0 {
		return nil
	}
	return s.withImmediateTx(ctx, func(tx *sql.Tx) error {
		now := timestampNow()
		for _, m := range measurements {
			_, err := tx.ExecContext(
				ctx,
				`INSERT INTO clothing_measurements (
                    detection_id, category, confidence,
                    color_h, color_s, color_v,
                    texture_score, area_ratio,
                    bbox_x_min, bbox_y_min, bbox_x_max, bbox_y_max,
                    created_at
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				m.DetectionID,
				m.Category,
				m.Confidence,
				m.ColorH, m.ColorS, m.ColorV,
				m.TextureScore,
				m.AreaRatio,
				m.Box.XMin, m.Box.YMin, m.Box.XMax, m.Box.YMax,
				now,
			)
			if err != nil {
				return fmt.Errorf("insert measurement for detection %d: %w", m.DetectionID, err)
			}
		}
		return nil
	})
}

// CountClothingMeasurements reports the total garments recorded.
func (s *Store) CountClothingMeasurements(ctx context.Context) (int, error) {
	var count int
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT COUNT(1) FROM clothing_measurements`)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count measurements: %w", err)
	}
	return count, nil
}

// ListMeasurementsByDetection fetches the garments recorded for a detection.
func (s *Store) ListMeasurementsByDetection(ctx context.Context, detectionID int64) ([]*ClothingMeasurement, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT id, detection_id, category, confidence,
            color_h, color_s, color_v, texture_score, area_ratio,
            bbox_x_min, bbox_y_min, bbox_x_max, bbox_y_max, created_at
         FROM clothing_measurements WHERE detection_id = ? ORDER BY id`,
		detectionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list measurements: %w", err)
	}
	defer rows.Close()

	var measurements []*ClothingMeasurement
	for rows.Next() {
		var (
			m          ClothingMeasurement
			createdRaw string
		)
		if err := rows.Scan(
			&m.ID, &m.DetectionID, &m.Category, &m.Confidence,
			&m.ColorH, &m.ColorS, &m.ColorV, &m.TextureScore, &m.AreaRatio,
			&m.Box.XMin, &m.Box.YMin, &m.Box.XMax, &m.Box.YMax, &createdRaw,
		); err != nil {
			return nil, err
		}
		if created, err := parseTimeString(createdRaw); err == nil {
			m.CreatedAt = created
		}
		measurements = append(measurements, &m)
	}
	return measurements, rows.Err()
}
