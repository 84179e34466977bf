package sqlite

import (
	"context"
	"database/sql"
	"time"

	repoIface "github.com/quipper/poc/lti/tool/pkg/repositories/selections"
	_ "modernc.org/sqlite"
)

type SQLiteRepo struct {
	db *sql.DB
}

func NewSQLiteRepo(path string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteRepo{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS selections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id TEXT NOT NULL,
			title TEXT,
			url TEXT NOT NULL,
			content_item_json TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	return err
}

// Ensure interface compliance
var _ repoIface.Repository = (*SQLiteRepo)(nil)

func (r *SQLiteRepo) Health() error {
	return r.db.Ping()
}

func (r *SQLiteRepo) Disconnect() {
	_ = r.db.Close()
}

func (r *SQLiteRepo) CreateSelection(ctx context.Context, sel *repoIface.Selection) (int64, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO selections (client_id, title, url, content_item_json, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sel.ClientID, sel.Title, sel.URL, sel.ContentItemJSON, now)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	sel.ID = id
	sel.CreatedAt = now
	return id, nil
}

func (r *SQLiteRepo) ListSelections(ctx context.Context) ([]*repoIface.Selection, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, client_id, title, url, content_item_json, created_at
		FROM selections ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*repoIface.Selection
	for rows.Next() {
		s, err := scanSelection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SQLiteRepo) GetSelectionByID(ctx context.Context, id int64) (*repoIface.Selection, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, client_id, title, url, content_item_json, created_at
		FROM selections WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanSelection(rows)
}

func (r *SQLiteRepo) DeleteSelectionByID(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM selections WHERE id = ?`, id)
	return err
}

func scanSelection(rows *sql.Rows) (*repoIface.Selection, error) {
	var s repoIface.Selection
	var title sql.NullString
	var created time.Time
	if err := rows.Scan(&s.ID, &s.ClientID, &title, &s.URL, &s.ContentItemJSON, &created); err != nil {
		return nil, err
	}
	s.Title = title.String
	s.CreatedAt = created
	return &s, nil
}
