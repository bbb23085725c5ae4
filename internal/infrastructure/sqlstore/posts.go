package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/recallbot/internal/domain"
)

const postCols = `post_id, recall_id, title, content, uri, cid, raw, embed, created_at, updated_at`

// InsertPostsSkipDuplicates inserts posts in one transaction, skipping any
// whose uri is already stored.
func (s *Store) InsertPostsSkipDuplicates(ctx context.Context, posts []domain.Post) ([]domain.Post, error) {
	out := []domain.Post{}
	if len(posts) == 0 {
		return out, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO posts(`+postCols+`)
		VALUES(?,?,?,?,?,?,?,?,?,?) ON CONFLICT(uri) DO NOTHING`))
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for _, p := range posts {
		res, err := stmt.ExecContext(ctx, p.PostID, nullStr(p.RecallID), p.Title, p.Content, p.URI, p.CID,
			p.Raw, p.Embed, toMS(p.CreatedAt), toMS(p.UpdatedAt))
		if err != nil {
			return nil, fmt.Errorf("insert post %s: %w", p.URI, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			out = append(out, p)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListPosts pages newest first.
func (s *Store) ListPosts(ctx context.Context, limit int, cursor string) ([]domain.Post, string, error) {
	query := `SELECT ` + postCols + ` FROM posts`
	var args []any
	if cursor != "" {
		after, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", domain.ErrBadRequest)
		}
		query += ` WHERE post_id < ?`
		args = append(args, after)
	}
	query += ` ORDER BY post_id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	out := []domain.Post{}
	for rows.Next() {
		var (
			p                domain.Post
			recallID         sql.NullString
			created, updated int64
		)
		if err := rows.Scan(&p.PostID, &recallID, &p.Title, &p.Content, &p.URI, &p.CID, &p.Raw, &p.Embed, &created, &updated); err != nil {
			return nil, "", err
		}
		p.RecallID = recallID.String
		p.CreatedAt = fromMS(created)
		p.UpdatedAt = fromMS(updated)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = encodeCursor(out[len(out)-1].PostID)
	}
	return out, next, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
