package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	repoIface "github.com/quipper/poc/lti/tool/pkg/repositories/tools"
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
		CREATE TABLE IF NOT EXISTS tools (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			client_id TEXT NOT NULL,
			login_initiation_url TEXT NOT NULL,
			target_link_url TEXT NOT NULL,
			key_set_url TEXT,
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

func (r *SQLiteRepo) RegisterTool(ctx context.Context, t *repoIface.Tool) (int64, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO tools (name, client_id, login_initiation_url, target_link_url, key_set_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.Name, t.ClientID, t.LoginInitiationURL, t.TargetLinkURL, t.KeySetURL, now)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.ID = id
	t.CreatedAt = now
	return id, nil
}

func (r *SQLiteRepo) ListTools(ctx context.Context) ([]*repoIface.Tool, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, client_id, login_initiation_url, target_link_url, key_set_url, created_at
		FROM tools ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*repoIface.Tool
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SQLiteRepo) GetToolByID(ctx context.Context, id int64) (*repoIface.Tool, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, client_id, login_initiation_url, target_link_url, key_set_url, created_at
		FROM tools WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanTool(rows)
}

func (r *SQLiteRepo) DeleteToolByID(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tools WHERE id = ?`, id)
	return err
}

func scanTool(rows *sql.Rows) (*repoIface.Tool, error) {
	var t repoIface.Tool
	var keySet sql.NullString
	var created time.Time
	if err := rows.Scan(&t.ID, &t.Name, &t.ClientID, &t.LoginInitiationURL, &t.TargetLinkURL, &keySet, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.KeySetURL = keySet.String
	t.CreatedAt = created
	return &t, nil
}
