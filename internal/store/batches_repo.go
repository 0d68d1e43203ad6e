package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"coworkerbot/internal/core"
)

var ErrBatchNotFound = errors.New("batch not found")

var _ core.Store = (*Store)(nil)

const batchColumns = `id, label, mode, force, status, total, succeeded, failed, skipped, started_at, finished_at, created_at`

func (s *Store) InsertBatch(ctx context.Context, batch *core.Batch) error {
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, batch.ID, batch.Label, batch.Mode, boolInt(batch.Force), batch.Status, batch.Total,
		batch.Succeeded, batch.Failed, batch.Skipped, formatTime(batch.StartedAt),
		nullableTime(batch.FinishedAt), formatTime(batch.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// CompleteBatch stores the final status, counts and finish time.
func (s *Store) CompleteBatch(ctx context.Context, batch *core.Batch) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE batches
		SET status = ?, total = ?, succeeded = ?, failed = ?, skipped = ?, finished_at = ?
		WHERE id = ?
	`, batch.Status, batch.Total, batch.Succeeded, batch.Failed, batch.Skipped,
		nullableTime(batch.FinishedAt), batch.ID)
	if err != nil {
		return fmt.Errorf("complete batch: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete batch rows: %w", err)
	}
	if rows == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id string) (*core.Batch, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	return batch, nil
}

// ListBatches returns batches newest first.
func (s *Store) ListBatches(ctx context.Context, limit, offset int) ([]*core.Batch, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM batches
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()
	var batches []*core.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

// PruneOldBatches keeps the newest HistoryKeep batches. Task runs of removed
// batches go with them.
func (s *Store) PruneOldBatches(ctx context.Context) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback()

	const stale = `SELECT id FROM batches ORDER BY created_at DESC LIMIT -1 OFFSET ?`
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_runs WHERE batch_id IN (`+stale+`)`, s.HistoryKeep); err != nil {
		return fmt.Errorf("prune task runs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM batches WHERE id IN (`+stale+`)`, s.HistoryKeep); err != nil {
		return fmt.Errorf("prune batches: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit prune: %w", err)
	}
	return nil
}

func scanBatch(scanner interface {
	Scan(dest ...any) error
}) (*core.Batch, error) {
	var (
		batch      core.Batch
		mode       string
		force      int
		status     string
		startedAt  string
		finishedAt sql.NullString
		createdAt  string
	)
	if err := scanner.Scan(&batch.ID, &batch.Label, &mode, &force, &status, &batch.Total,
		&batch.Succeeded, &batch.Failed, &batch.Skipped, &startedAt, &finishedAt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	batch.Mode = core.BatchMode(mode)
	batch.Force = force != 0
	batch.Status = core.RunStatus(status)
	var err error
	if batch.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if batch.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return nil, err
		}
		batch.FinishedAt = &t
	}
	return &batch, nil
}
