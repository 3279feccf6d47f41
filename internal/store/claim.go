package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// claimTarget describes one claimable table: which status column drives the
// lifecycle, which column records the claim lease, and any stage-specific
// eligibility predicate. Every claim/complete/reset operation in the store
// goes through this one descriptor so no call site can bypass the locking
// discipline.
type claimTarget struct {
	table         string
	statusColumn  string
	claimedColumn string
	retryColumn   string
	predicate     string // extra WHERE sql ANDed onto eligibility, may be empty
	orderBy       string // defaults to "id"
}

var (
	cityDownloadTarget = claimTarget{
		table:         "cities",
		statusColumn:  "download_status",
		claimedColumn: "download_claimed_at",
		retryColumn:   "download_retries",
		orderBy:       "population DESC, id",
	}
	cityAnalysisTarget = claimTarget{
		table:         "cities",
		statusColumn:  "analysis_status",
		claimedColumn: "analysis_claimed_at",
		retryColumn:   "analysis_retries",
		predicate:     "download_status = 'completed'",
		orderBy:       "population DESC, id",
	}
	imageTarget = claimTarget{
		table:         "images",
		statusColumn:  "processing_status",
		claimedColumn: "claimed_at",
		retryColumn:   "retry_count",
	}
	detectionTarget = claimTarget{
		table:         "detections",
		statusColumn:  "clothing_status",
		claimedColumn: "claimed_at",
		retryColumn:   "retry_count",
	}
)

// claimIDs selects up to n pending row identifiers for t and flips them to
// processing, stamping the claim lease. Must run inside an immediate
// transaction: the pending->processing transition commits before the write
// lock is released, so no two callers can ever claim the same row.
func claimIDs(ctx context.Context, tx *sql.Tx, t claimTarget, n int, extraPredicate string, extraArgs ...any) ([]int64, error) {
	if n <= 0 {
		return nil, nil
	}

	var where strings.Builder
	where.WriteString(t.statusColumn + " = ?")
	args := []any{StatusPending}
	if t.predicate != "" {
		where.WriteString(" AND " + t.predicate)
	}
	if extraPredicate != "" {
		where.WriteString(" AND " + extraPredicate)
		args = append(args, extraArgs...)
	}

	orderBy := t.orderBy
	if orderBy == "" {
		orderBy = "id"
	}

	query := fmt.Sprintf(
		"SELECT id FROM %s WHERE %s ORDER BY %s LIMIT %d",
		t.table, where.String(), orderBy, n,
	)
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select pending %s: %w", t.table, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	update := fmt.Sprintf(
		"UPDATE %s SET %s = ?, %s = ? WHERE id IN (%s)",
		t.table, t.statusColumn, t.claimedColumn, makePlaceholders(len(ids)),
	)
	updateArgs := append([]any{StatusProcessing, timestampNow()}, idArgs(ids)...)
	if _, err := tx.ExecContext(ctx, update, updateArgs...); err != nil {
		return nil, fmt.Errorf("mark %s processing: %w", t.table, err)
	}
	return ids, nil
}

// markCompleted flips the given rows to completed and clears their lease.
// A no-op for an empty id list.
func (s *Store) markCompleted(ctx context.Context, t claimTarget, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(
		"UPDATE %s SET %s = ?, %s = NULL, error_message = NULL WHERE id IN (%s)",
		t.table, t.statusColumn, t.claimedColumn, makePlaceholders(len(ids)),
	)
	args := append([]any{StatusCompleted}, idArgs(ids)...)
	if _, err := s.execWithRetry(ctx, query, args...); err != nil {
		return fmt.Errorf("mark %s completed: %w", t.table, err)
	}
	return nil
}

// markFailed applies the bounded-retry outcome: rows under the retry budget
// return to pending with the retry counter bumped; rows at the budget (or
// failed permanently) become terminal failed. Terminal rows are never
// reclaimed by subsequent claims.
func (s *Store) markFailed(ctx context.Context, t claimTarget, ids []int64, reason string, retryLimit int, permanent bool) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := makePlaceholders(len(ids))

	var query string
	args := make([]any, 0, len(ids)+2)
	if permanent {
		query = fmt.Sprintf(
			"UPDATE %s SET %s = ?, %s = NULL, error_message = ? WHERE id IN (%s)",
			t.table, t.statusColumn, t.claimedColumn, placeholders,
		)
		args = append(args, StatusFailed, nullableString(reason))
	} else {
		query = fmt.Sprintf(
			`UPDATE %[1]s SET
                %[2]s = CASE WHEN %[3]s + 1 >= %[4]d THEN '%[5]s' ELSE '%[6]s' END,
                %[3]s = %[3]s + 1,
                %[7]s = NULL,
                error_message = ?
             WHERE id IN (%[8]s)`,
			t.table, t.statusColumn, t.retryColumn, retryLimit,
			StatusFailed, StatusPending, t.claimedColumn, placeholders,
		)
		args = append(args, nullableString(reason))
	}
	args = append(args, idArgs(ids)...)
	if _, err := s.execWithRetry(ctx, query, args...); err != nil {
		return fmt.Errorf("mark %s failed: %w", t.table, err)
	}
	return nil
}

// resetStuck returns processing rows whose lease is older than the cutoff to
// pending. Rows claimed by a live worker keep a fresh lease and are left
// alone only insofar as the caller picks a cutoff beyond the longest honest
// unit of work.
func (s *Store) resetStuck(ctx context.Context, t claimTarget, cutoff string) (int64, error) {
	query := fmt.Sprintf(
		`UPDATE %[1]s SET %[2]s = ?, %[3]s = NULL
         WHERE %[2]s = ? AND %[3]s IS NOT NULL AND %[3]s < ?`,
		t.table, t.statusColumn, t.claimedColumn,
	)
	res, err := s.execWithRetry(ctx, query, StatusPending, StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stuck %s: %w", t.table, err)
	}
	return res.RowsAffected()
}

// retryFailed moves terminal failed rows back to pending with a zeroed retry
// counter. Operator action, never automatic.
func (s *Store) retryFailed(ctx context.Context, t claimTarget) (int64, error) {
	query := fmt.Sprintf(
		"UPDATE %[1]s SET %[2]s = ?, %[3]s = 0, error_message = NULL WHERE %[2]s = ?",
		t.table, t.statusColumn, t.retryColumn,
	)
	res, err := s.execWithRetry(ctx, query, StatusPending, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("retry failed %s: %w", t.table, err)
	}
	return res.RowsAffected()
}
