package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/recallbot/internal/domain"
)

const intentCols = `recall_id, run_id, status, title, content, uri, cid, raw, embed, error, attempts, created_at, updated_at`

// BeginIntent inserts a pending intent or takes over a failed one. Pending
// and published intents are left alone and reported as a conflict.
func (s *Store) BeginIntent(ctx context.Context, in *domain.Intent) (*domain.Intent, error) {
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO intents(`+intentCols+`)
		VALUES(?,?,'pending',?,?,'','','','','',1,?,?)
		ON CONFLICT(recall_id) DO UPDATE SET
			run_id = excluded.run_id,
			status = 'pending',
			title = excluded.title,
			content = excluded.content,
			error = '',
			attempts = intents.attempts + 1,
			updated_at = excluded.updated_at
		WHERE intents.status = 'failed'`),
		in.RecallID, in.RunID, in.Title, in.Content, toMS(in.CreatedAt), toMS(in.UpdatedAt))
	if err != nil {
		return nil, err
	}
	cur, gerr := s.getIntent(ctx, in.RecallID)
	if gerr != nil {
		return nil, gerr
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cur, fmt.Errorf("intent for recall %s is %s: %w", in.RecallID, cur.Status, domain.ErrConflict)
	}
	return cur, nil
}

func (s *Store) CompleteIntent(ctx context.Context, recallID string, rc domain.Receipt) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE intents SET status = 'published', uri = ?, cid = ?, raw = ?, embed = ?, updated_at = ?
		WHERE recall_id = ? AND status = 'pending'`),
		rc.URI, rc.CID, rc.Raw, rc.Embed, toMS(s.now()), recallID)
	return s.expectOne(res, err, recallID)
}

func (s *Store) FailIntent(ctx context.Context, recallID, reason string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE intents SET status = 'failed', error = ?, updated_at = ?
		WHERE recall_id = ? AND status = 'pending'`),
		reason, toMS(s.now()), recallID)
	return s.expectOne(res, err, recallID)
}

func (s *Store) ReleaseIntent(ctx context.Context, recallID string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM intents WHERE recall_id = ? AND status <> 'published'`), recallID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.getIntent(ctx, recallID); err != nil {
		return err
	}
	return fmt.Errorf("intent for recall %s is published: %w", recallID, domain.ErrConflict)
}

func (s *Store) ListIntents(ctx context.Context, status domain.IntentStatus, recallIDs []string) ([]domain.Intent, error) {
	out := []domain.Intent{}
	base := `SELECT ` + intentCols + ` FROM intents WHERE status = ?`
	if recallIDs == nil {
		rows, err := s.db.QueryContext(ctx, s.q(base+` ORDER BY recall_id`), string(status))
		if err != nil {
			return nil, err
		}
		return appendIntents(out, rows)
	}
	for _, chunk := range chunks(recallIDs) {
		if len(chunk) == 0 {
			continue
		}
		args := append([]any{string(status)}, anyArgs(chunk)...)
		rows, err := s.db.QueryContext(ctx, s.q(base+` AND recall_id IN (`+placeholders(len(chunk))+`) ORDER BY recall_id`), args...)
		if err != nil {
			return nil, err
		}
		if out, err = appendIntents(out, rows); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) getIntent(ctx context.Context, recallID string) (*domain.Intent, error) {
	in, err := scanIntent(s.db.QueryRowContext(ctx, s.q(`SELECT `+intentCols+` FROM intents WHERE recall_id = ?`), recallID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("intent for recall %s: %w", recallID, domain.ErrNotFound)
		}
		return nil, err
	}
	return &in, nil
}

func (s *Store) expectOne(res sql.Result, err error, recallID string) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no pending intent for recall %s: %w", recallID, domain.ErrConflict)
	}
	return nil
}

func appendIntents(out []domain.Intent, rows *sql.Rows) ([]domain.Intent, error) {
	defer rows.Close()
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func scanIntent(row rowScanner) (domain.Intent, error) {
	var (
		in               domain.Intent
		status           string
		created, updated int64
	)
	err := row.Scan(&in.RecallID, &in.RunID, &status, &in.Title, &in.Content, &in.URI, &in.CID,
		&in.Raw, &in.Embed, &in.Error, &in.Attempts, &created, &updated)
	if err != nil {
		return domain.Intent{}, err
	}
	in.Status = domain.IntentStatus(status)
	in.CreatedAt = fromMS(created)
	in.UpdatedAt = fromMS(updated)
	return in, nil
}
