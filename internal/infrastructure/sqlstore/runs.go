package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/recallbot/internal/domain"
)

const runCols = `run_id, source_key, trigger_kind, status, stage, failed_stage, error, recall_ids, inserted, published, attempts, started_at, updated_at, finished_at`

func (s *Store) CreateRun(ctx context.Context, run *domain.Run) error {
	ids, err := json.Marshal(nonNil(run.RecallIDs))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO runs(`+runCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		run.RunID, run.SourceKey, run.Trigger, string(run.Status), string(run.Stage), string(run.FailedStage),
		run.Error, string(ids), run.Inserted, run.Published, run.Attempts,
		toMS(run.StartedAt), toMS(run.UpdatedAt), nullMS(run.FinishedAt))
	return err
}

func (s *Store) UpdateRun(ctx context.Context, run *domain.Run) error {
	ids, err := json.Marshal(nonNil(run.RecallIDs))
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE runs SET status = ?, stage = ?, failed_stage = ?, error = ?,
		recall_ids = ?, inserted = ?, published = ?, attempts = ?, updated_at = ?, finished_at = ?
		WHERE run_id = ?`),
		string(run.Status), string(run.Stage), string(run.FailedStage), run.Error, string(ids),
		run.Inserted, run.Published, run.Attempts, toMS(run.UpdatedAt), nullMS(run.FinishedAt), run.RunID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", run.RunID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, s.q(`SELECT `+runCols+` FROM runs WHERE run_id = ?`), runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
		}
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the runs of a source in any of statuses, oldest first.
func (s *Store) ListRuns(ctx context.Context, sourceKey string, statuses ...domain.RunStatus) ([]domain.Run, error) {
	query := `SELECT ` + runCols + ` FROM runs WHERE source_key = ?`
	args := []any{sourceKey}
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	rows, err := s.db.QueryContext(ctx, s.q(query+` ORDER BY run_id`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (domain.Run, error) {
	var (
		run                        domain.Run
		status, stage, failed, ids string
		started, updated           int64
		finished                   sql.NullInt64
	)
	err := row.Scan(&run.RunID, &run.SourceKey, &run.Trigger, &status, &stage, &failed, &run.Error, &ids,
		&run.Inserted, &run.Published, &run.Attempts, &started, &updated, &finished)
	if err != nil {
		return domain.Run{}, err
	}
	if err := json.Unmarshal([]byte(ids), &run.RecallIDs); err != nil {
		return domain.Run{}, fmt.Errorf("decode recall ids of run %s: %w", run.RunID, err)
	}
	run.Status = domain.RunStatus(status)
	run.Stage = domain.Stage(stage)
	run.FailedStage = domain.Stage(failed)
	run.StartedAt = fromMS(started)
	run.UpdatedAt = fromMS(updated)
	run.FinishedAt = fromNullMS(finished)
	return run, nil
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
