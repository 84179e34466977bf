package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	repoIface "github.com/quipper/poc/lti/tool/pkg/repositories/platforms"
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
	// Pragmas safe for simple single-process usage
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
		CREATE TABLE IF NOT EXISTS platforms (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT,
			issuer TEXT NOT NULL UNIQUE,
			client_id TEXT NOT NULL,
			auth_endpoint TEXT NOT NULL,
			token_endpoint TEXT NOT NULL,
			key_set_url TEXT NOT NULL,
			deployment_ids TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(issuer, client_id)
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

// UpsertPlatform inserts the registration, or updates the row for an existing
// issuer, and reports which of the two happened.
func (r *SQLiteRepo) UpsertPlatform(ctx context.Context, p *repoIface.Platform) (repoIface.UpsertOutcome, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var existingID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM platforms WHERE issuer = ?`, p.Issuer).Scan(&existingID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO platforms (name, issuer, client_id, auth_endpoint, token_endpoint, key_set_url, deployment_ids, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, p.Name, p.Issuer, p.ClientID, p.AuthEndpoint, p.TokenEndpoint, p.KeySetURL, p.DeploymentIDs, now)
		if err != nil {
			return 0, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		p.ID = id
		p.CreatedAt = now
		if err := tx.Commit(); err != nil {
			return 0, err
		}
		return repoIface.OutcomeCreated, nil
	case err != nil:
		return 0, err
	default:
		_, err := tx.ExecContext(ctx, `
			UPDATE platforms SET name = ?, client_id = ?, auth_endpoint = ?, token_endpoint = ?, key_set_url = ?, deployment_ids = ?
			WHERE id = ?
		`, p.Name, p.ClientID, p.AuthEndpoint, p.TokenEndpoint, p.KeySetURL, p.DeploymentIDs, existingID)
		if err != nil {
			return 0, err
		}
		p.ID = existingID
		if err := tx.Commit(); err != nil {
			return 0, err
		}
		return repoIface.OutcomeUpdated, nil
	}
}

func (r *SQLiteRepo) GetPlatformByIssuer(ctx context.Context, issuer string) (*repoIface.Platform, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, issuer, client_id, auth_endpoint, token_endpoint, key_set_url, deployment_ids, created_at
		FROM platforms WHERE issuer = ?`, issuer)
	return scanPlatform(row)
}

func (r *SQLiteRepo) ListPlatforms(ctx context.Context) ([]*repoIface.Platform, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, issuer, client_id, auth_endpoint, token_endpoint, key_set_url, deployment_ids, created_at
		FROM platforms ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*repoIface.Platform
	for rows.Next() {
		var p repoIface.Platform
		var name, depIDs sql.NullString
		var created time.Time
		if err := rows.Scan(&p.ID, &name, &p.Issuer, &p.ClientID, &p.AuthEndpoint, &p.TokenEndpoint, &p.KeySetURL, &depIDs, &created); err != nil {
			return nil, err
		}
		p.Name = name.String
		p.DeploymentIDs = depIDs.String
		p.CreatedAt = created
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SQLiteRepo) DeletePlatformByID(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM platforms WHERE id = ?`, id)
	return err
}

func scanPlatform(row *sql.Row) (*repoIface.Platform, error) {
	var p repoIface.Platform
	var name, depIDs sql.NullString
	var created time.Time
	if err := row.Scan(&p.ID, &name, &p.Issuer, &p.ClientID, &p.AuthEndpoint, &p.TokenEndpoint, &p.KeySetURL, &depIDs, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.Name = name.String
	p.DeploymentIDs = depIDs.String
	p.CreatedAt = created
	return &p, nil
}
