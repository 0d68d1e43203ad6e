package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"coworkerbot/internal/core"
)

// InsertTaskOutcomes records the per-task results of a batch in one
// transaction.
func (s *Store) InsertTaskOutcomes(ctx context.Context, batchID string, outcomes []core.TaskOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert task runs: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO task_runs (id, batch_id, seq, task_id, label, resource_path, status, stage, reason, warnings, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert task run: %w", err)
	}
	defer stmt.Close()

	for _, out := range outcomes {
		warnings, err := encodeWarnings(out.Warnings)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, core.NewID(), batchID, out.Seq, out.TaskID, out.Label,
			out.ResourcePath, out.Status, out.Stage, nullableString(out.Reason), warnings,
			formatTime(out.StartedAt), formatTime(out.EndedAt)); err != nil {
			return fmt.Errorf("insert task run %s: %w", out.TaskID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit task runs: %w", err)
	}
	return nil
}

// ListTaskRuns returns the outcomes of a batch in execution order.
func (s *Store) ListTaskRuns(ctx context.Context, batchID string) ([]core.TaskOutcome, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT seq, task_id, label, resource_path, status, stage, reason, warnings, started_at, ended_at
		FROM task_runs
		WHERE batch_id = ?
		ORDER BY seq ASC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list task runs: %w", err)
	}
	defer rows.Close()
	var outcomes []core.TaskOutcome
	for rows.Next() {
		out, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, out)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// ListTaskHistory returns the most recent outcomes of one task across batches.
func (s *Store) ListTaskHistory(ctx context.Context, taskID string, limit int) ([]core.TaskOutcome, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT seq, task_id, label, resource_path, status, stage, reason, warnings, started_at, ended_at
		FROM task_runs
		WHERE task_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list task history: %w", err)
	}
	defer rows.Close()
	var outcomes []core.TaskOutcome
	for rows.Next() {
		out, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, out)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func scanOutcome(scanner interface {
	Scan(dest ...any) error
}) (core.TaskOutcome, error) {
	var (
		out       core.TaskOutcome
		status    string
		stage     string
		reason    sql.NullString
		warnings  sql.NullString
		startedAt string
		endedAt   string
	)
	if err := scanner.Scan(&out.Seq, &out.TaskID, &out.Label, &out.ResourcePath, &status, &stage,
		&reason, &warnings, &startedAt, &endedAt); err != nil {
		return out, fmt.Errorf("scan task run: %w", err)
	}
	out.Status = core.RunStatus(status)
	out.Stage = core.Stage(stage)
	out.Reason = reason.String
	var err error
	if out.Warnings, err = decodeWarnings(warnings); err != nil {
		return out, err
	}
	if out.StartedAt, err = parseTime(startedAt); err != nil {
		return out, err
	}
	if out.EndedAt, err = parseTime(endedAt); err != nil {
		return out, err
	}
	return out, nil
}

func encodeWarnings(warnings []string) (any, error) {
	if len(warnings) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(warnings)
	if err != nil {
		return nil, fmt.Errorf("encode warnings: %w", err)
	}
	return string(data), nil
}

func decodeWarnings(value sql.NullString) ([]string, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	var warnings []string
	if err := json.Unmarshal([]byte(value.String), &warnings); err != nil {
		return nil, fmt.Errorf("decode warnings: %w", err)
	}
	return warnings, nil
}
