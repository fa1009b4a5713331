// Package sqlite is a single-file recipient store for local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

type RecipientStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path. ":memory:" is accepted.
func Open(path string, logger *slog.Logger) (*RecipientStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows one writer, and every :memory: connection is its own database.
	db.SetMaxOpenConns(1)

	store, err := NewRecipientStore(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewRecipientStore wraps an existing handle and ensures the schema exists.
func NewRecipientStore(db *sql.DB, logger *slog.Logger) (*RecipientStore, error) {
	if err := initSchema(db); err != nil {
		return nil, err
	}
	return &RecipientStore{
		db:     db,
		logger: logger.With("component", "SQLiteRecipientStore"),
	}, nil
}

func (s *RecipientStore) Close() error {
	return s.db.Close()
}

func (s *RecipientStore) Register(ctx context.Context, r notification.Recipient) error {
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	const query = `
INSERT INTO push_recipients (token, platform, owner, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(token) DO UPDATE SET
    platform = excluded.platform,
    owner = excluded.owner,
    updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		string(r.Token), string(r.Platform), r.OwnerString(), updated.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite register failed: %w", err)
	}
	return nil
}

func (s *RecipientStore) Get(ctx context.Context, token notification.RecipientToken) (*notification.Recipient, error) {
	found, err := s.query(ctx,
		`SELECT token, platform, owner, updated_at FROM push_recipients WHERE token = ?`,
		string(token))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, dispatch.ErrRecipientNotFound
	}
	return &found[0], nil
}

func (s *RecipientStore) List(ctx context.Context) ([]notification.Recipient, error) {
	return s.query(ctx, `SELECT token, platform, owner, updated_at FROM push_recipients ORDER BY token`)
}

func (s *RecipientStore) ListByOwner(ctx context.Context, owner urn.URN) ([]notification.Recipient, error) {
	return s.query(ctx,
		`SELECT token, platform, owner, updated_at FROM push_recipients WHERE owner = ? ORDER BY token`,
		owner.String())
}

// Delete is idempotent.
func (s *RecipientStore) Delete(ctx context.Context, token notification.RecipientToken) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM push_recipients WHERE token = ?`, string(token)); err != nil {
		return fmt.Errorf("sqlite delete failed: %w", err)
	}
	return nil
}

func (s *RecipientStore) query(ctx context.Context, query string, args ...any) ([]notification.Recipient, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query failed: %w", err)
	}
	defer rows.Close()

	recipients := make([]notification.Recipient, 0)
	for rows.Next() {
		var token, platform, owner, updated string
		if err := rows.Scan(&token, &platform, &owner, &updated); err != nil {
			return nil, fmt.Errorf("sqlite scan failed: %w", err)
		}

		r := notification.Recipient{
			Token:    notification.RecipientToken(token),
			Platform: notification.Platform(platform),
		}
		if r.Owner, err = notification.ParseOwner(owner); err != nil {
			s.logger.Warn("Dropping unparseable owner", "token", r.Token.Redacted(), "err", err)
		}
		if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			s.logger.Warn("Unparseable updated_at", "token", r.Token.Redacted(), "err", err)
		}
		recipients = append(recipients, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite iteration failed: %w", err)
	}
	return recipients, nil
}
