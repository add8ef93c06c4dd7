package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dennisdiepolder/monti/wallboard/internal/types"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps installs in a local SQLite file
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS installs (
			member_id TEXT PRIMARY KEY,
			domain TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			application_token TEXT NOT NULL DEFAULT '',
			expires_in INTEGER NOT NULL DEFAULT 0,
			installed_at TEXT NOT NULL DEFAULT ''
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveInstall(ctx context.Context, in types.Install) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO installs (member_id, domain, access_token, refresh_token, application_token, expires_in, installed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(member_id) DO UPDATE SET
			domain = excluded.domain,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			application_token = excluded.application_token,
			expires_in = excluded.expires_in,
			installed_at = excluded.installed_at`,
		in.MemberID, in.Domain, in.AccessToken, in.RefreshToken, in.ApplicationToken, in.ExpiresIn, in.InstalledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save install %s: %w", in.MemberID, err)
	}
	return nil
}

func (s *SQLiteStore) GetInstall(ctx context.Context, memberID string) (types.Install, error) {
	var in types.Install
	err := s.db.QueryRowContext(ctx, `
		SELECT member_id, domain, access_token, refresh_token, application_token, expires_in, installed_at
		FROM installs WHERE member_id = ?`, memberID,
	).Scan(&in.MemberID, &in.Domain, &in.AccessToken, &in.RefreshToken, &in.ApplicationToken, &in.ExpiresIn, &in.InstalledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Install{}, ErrNotFound
	}
	if err != nil {
		return types.Install{}, fmt.Errorf("failed to load install %s: %w", memberID, err)
	}
	return in, nil
}

func (s *SQLiteStore) ListInstalls(ctx context.Context) ([]types.Install, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT member_id, domain, expires_in, installed_at FROM installs ORDER BY member_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list installs: %w", err)
	}
	defer rows.Close()

	var out []types.Install
	for rows.Next() {
		var in types.Install
		if err := rows.Scan(&in.MemberID, &in.Domain, &in.ExpiresIn, &in.InstalledAt); err != nil {
			return nil, fmt.Errorf("failed to scan install: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
