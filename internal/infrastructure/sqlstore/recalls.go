package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/recallbot/internal/domain"
)

const recallCols = `recall_id, source_id, natural_key, link_text, product, category, reason, company, event_date, created_at, updated_at`

func scanRecall(row rowScanner) (domain.Recall, error) {
	var (
		r                domain.Recall
		date             sql.NullInt64
		created, updated int64
	)
	err := row.Scan(&r.RecallID, &r.SourceID, &r.NaturalKey, &r.LinkText, &r.Product, &r.Category,
		&r.Reason, &r.Company, &date, &created, &updated)
	if err != nil {
		return domain.Recall{}, err
	}
	r.Date = fromNullMS(date)
	r.CreatedAt = fromMS(created)
	r.UpdatedAt = fromMS(updated)
	return r, nil
}

func (s *Store) GetSourceByKey(ctx context.Context, key string) (*domain.Source, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT source_id, source_key, name, created_at, updated_at FROM sources WHERE source_key = ?`), key)
	var (
		src              domain.Source
		created, updated int64
	)
	if err := row.Scan(&src.SourceID, &src.Key, &src.Name, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("source %s: %w", key, domain.ErrNotFound)
		}
		return nil, err
	}
	src.CreatedAt = fromMS(created)
	src.UpdatedAt = fromMS(updated)
	return &src, nil
}

// CreateSource inserts a source; an existing key yields domain.ErrConflict.
func (s *Store) CreateSource(ctx context.Context, src *domain.Source) error {
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO sources(source_id, source_key, name, created_at, updated_at)
		VALUES(?,?,?,?,?) ON CONFLICT(source_key) DO NOTHING`),
		src.SourceID, src.Key, src.Name, toMS(src.CreatedAt), toMS(src.UpdatedAt))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source %s exists: %w", src.Key, domain.ErrConflict)
	}
	return nil
}

func (s *Store) ListSources(ctx context.Context) ([]domain.Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_id, source_key, name, created_at, updated_at FROM sources ORDER BY source_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Source{}
	for rows.Next() {
		var (
			src              domain.Source
			created, updated int64
		)
		if err := rows.Scan(&src.SourceID, &src.Key, &src.Name, &created, &updated); err != nil {
			return nil, err
		}
		src.CreatedAt = fromMS(created)
		src.UpdatedAt = fromMS(updated)
		out = append(out, src)
	}
	return out, rows.Err()
}

// InsertRecallsSkipDuplicates inserts the batch in one transaction. Rows
// whose natural key already exists are skipped; the rest are returned.
func (s *Store) InsertRecallsSkipDuplicates(ctx context.Context, recalls []domain.Recall) ([]domain.Recall, error) {
	out := []domain.Recall{}
	if len(recalls) == 0 {
		return out, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO recalls(`+recallCols+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?) ON CONFLICT(natural_key) DO NOTHING`))
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for _, r := range recalls {
		res, err := stmt.ExecContext(ctx, r.RecallID, r.SourceID, r.NaturalKey, r.LinkText, r.Product,
			r.Category, r.Reason, r.Company, nullMS(r.Date), toMS(r.CreatedAt), toMS(r.UpdatedAt))
		if err != nil {
			return nil, fmt.Errorf("insert recall %s: %w", r.NaturalKey, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			out = append(out, r)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// SelectRecallsWithoutPost is the anti-join of recalls against posts and
// live publication intents.
func (s *Store) SelectRecallsWithoutPost(ctx context.Context, ids []string) ([]domain.Recall, error) {
	const base = `SELECT ` + recallCols + ` FROM recalls r
		WHERE NOT EXISTS (SELECT 1 FROM posts p WHERE p.recall_id = r.recall_id)
		AND NOT EXISTS (SELECT 1 FROM intents i WHERE i.recall_id = r.recall_id AND i.status IN ('pending','published'))`
	out := []domain.Recall{}
	if ids == nil {
		rows, err := s.db.QueryContext(ctx, base+` ORDER BY r.recall_id`)
		if err != nil {
			return nil, err
		}
		return appendRecalls(out, rows)
	}
	for _, chunk := range chunks(ids) {
		if len(chunk) == 0 {
			continue
		}
		rows, err := s.db.QueryContext(ctx, s.q(base+` AND r.recall_id IN (`+placeholders(len(chunk))+`) ORDER BY r.recall_id`), anyArgs(chunk)...)
		if err != nil {
			return nil, err
		}
		if out, err = appendRecalls(out, rows); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func appendRecalls(out []domain.Recall, rows *sql.Rows) ([]domain.Recall, error) {
	defer rows.Close()
	for rows.Next() {
		r, err := scanRecall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetRecall(ctx context.Context, recallID string) (*domain.Recall, error) {
	r, err := scanRecall(s.db.QueryRowContext(ctx, s.q(`SELECT `+recallCols+` FROM recalls WHERE recall_id = ?`), recallID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("recall %s: %w", recallID, domain.ErrNotFound)
		}
		return nil, err
	}
	return &r, nil
}

// ListRecalls pages newest first. The cursor is the encoded id of the last
// recall of the previous page.
func (s *Store) ListRecalls(ctx context.Context, q domain.RecallQuery) ([]domain.Recall, string, error) {
	query := `SELECT ` + recallCols + ` FROM recalls WHERE 1=1`
	var args []any
	if q.Cursor != "" {
		after, err := decodeCursor(q.Cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", domain.ErrBadRequest)
		}
		query += ` AND recall_id < ?`
		args = append(args, after)
	}
	if q.Search != "" {
		p := likePattern(q.Search)
		query += ` AND (LOWER(product) LIKE ? ESCAPE '\' OR LOWER(company) LIKE ? ESCAPE '\' OR LOWER(reason) LIKE ? ESCAPE '\')`
		args = append(args, p, p, p)
	}
	query += ` ORDER BY recall_id DESC LIMIT ?`
	args = append(args, q.Limit+1)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, "", err
	}
	out, err := appendRecalls([]domain.Recall{}, rows)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) > q.Limit {
		out = out[:q.Limit]
		next = encodeCursor(out[len(out)-1].RecallID)
	}
	return out, next, nil
}

// DeleteRecall removes a recall. Its posts are kept with a NULL recall_id.
func (s *Store) DeleteRecall(ctx context.Context, recallID string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM recalls WHERE recall_id = ?`), recallID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recall %s: %w", recallID, domain.ErrNotFound)
	}
	return nil
}
