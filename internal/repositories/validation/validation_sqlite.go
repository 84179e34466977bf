package validation

import (
	"context"
	"database/sql"
	"time"

	repoIface "github.com/quipper/poc/lti/tool/pkg/repositories/validation"
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
	// Serialize writers so concurrent consume attempts queue instead of
	// failing with a busy error.
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteRepo{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS launch_states (
			state TEXT PRIMARY KEY,
			nonce TEXT NOT NULL,
			issuer TEXT NOT NULL,
			target_link_uri TEXT,
			expires_at TIMESTAMP NOT NULL,
			used INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	return err
}

// Ensure interface compliance
var _ repoIface.Repository = (*SQLiteRepo)(nil)

func (r *SQLiteRepo) Disconnect() {
	_ = r.db.Close()
}

func (r *SQLiteRepo) CreateLaunchState(ctx context.Context, state, nonce, issuer, targetLinkURI string, exp time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO launch_states (state, nonce, issuer, target_link_uri, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`, state, nonce, issuer, targetLinkURI, exp.UTC())
	return err
}

// ConsumeLaunchState flips the used flag inside a transaction so a state can
// be redeemed at most once even under concurrent replays.
func (r *SQLiteRepo) ConsumeLaunchState(ctx context.Context, state string) (nonce, issuer, targetLinkURI string, ok bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", "", false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE launch_states SET used = 1
		WHERE state = ? AND used = 0 AND expires_at > ?
	`, state, time.Now().UTC())
	if err != nil {
		return "", "", "", false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", "", "", false, err
	}
	if n == 0 {
		// Not found, already used, or expired. All three look the same to
		// the caller on purpose.
		return "", "", "", false, nil
	}

	var target sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT nonce, issuer, target_link_uri FROM launch_states WHERE state = ?
	`, state).Scan(&nonce, &issuer, &target)
	if err != nil {
		return "", "", "", false, err
	}
	if err := tx.Commit(); err != nil {
		return "", "", "", false, err
	}
	return nonce, issuer, target.String, true, nil
}

// PurgeExpired removes stale rows. Callers may run it periodically; consume
// correctness does not depend on it.
func (r *SQLiteRepo) PurgeExpired(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM launch_states WHERE used = 1 OR expires_at <= ?
	`, time.Now().UTC())
	return err
}
