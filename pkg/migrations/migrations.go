package migrations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/entitle/pkg/storage"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the directory store migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					email TEXT NOT NULL UNIQUE,
					name TEXT NOT NULL DEFAULT '',
					subscription_tier TEXT NOT NULL DEFAULT 'free',
					created_at TIMESTAMPTZ NOT NULL
				);
			`,
		},
		{
			Version:     2,
			Description: "Create organizations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					slug TEXT NOT NULL UNIQUE,
					subscription_tier TEXT NOT NULL DEFAULT 'free',
					subscription_seats INTEGER NOT NULL DEFAULT 10 CHECK (subscription_seats >= 0),
					created_by TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL
				);
			`,
		},
		{
			Version:     3,
			Description: "Create memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS memberships (
					id TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role TEXT NOT NULL CHECK (role IN ('owner', 'admin', 'member')),
					created_at TIMESTAMPTZ NOT NULL,
					UNIQUE (organization_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_memberships_user_id ON memberships(user_id);
				CREATE INDEX IF NOT EXISTS idx_memberships_org_role ON memberships(organization_id, role, created_at);
			`,
		},
		{
			Version:     4,
			Description: "Create invitations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS invitations (
					id TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					email TEXT NOT NULL,
					role TEXT NOT NULL CHECK (role IN ('admin', 'member')),
					token TEXT NOT NULL UNIQUE,
					invited_by TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'pending',
					expires_at TIMESTAMPTZ NOT NULL,
					created_at TIMESTAMPTZ NOT NULL,
					accepted_at TIMESTAMPTZ,
					accepted_by TEXT
				);

				CREATE INDEX IF NOT EXISTS idx_invitations_org_email ON invitations(organization_id, email);
				CREATE INDEX IF NOT EXISTS idx_invitations_status_expires ON invitations(status, expires_at);
			`,
		},
		{
			Version:     5,
			Description: "Create subscriptions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscriptions (
					id TEXT PRIMARY KEY,
					reference_id TEXT NOT NULL UNIQUE,
					plan TEXT NOT NULL,
					status TEXT NOT NULL,
					seats INTEGER NOT NULL DEFAULT 0,
					provider_customer_id TEXT NOT NULL DEFAULT '',
					provider_subscription_id TEXT NOT NULL DEFAULT '',
					cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
					period_end TIMESTAMPTZ,
					updated_at TIMESTAMPTZ NOT NULL
				);
			`,
		},
	}
}

// Apply runs every migration newer than the recorded schema version.
// Each migration runs in its own transaction together with its version row.
func Apply(ctx context.Context, db *storage.DB) (int, error) {
	create := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := db.ExecContext(ctx, translate(db.Dialect(), create)); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	applied := 0
	for _, m := range GetMigrations() {
		if m.Version <= current {
			continue
		}

		err := db.InTx(ctx, func(q storage.Querier) error {
			if _, err := q.ExecContext(ctx, translate(db.Dialect(), m.SQL)); err != nil {
				return err
			}
			_, err := q.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, $3)`,
				m.Version, m.Description, time.Now().UTC())
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		applied++
	}

	return applied, nil
}

// translate rewrites PostgreSQL DDL for SQLite
func translate(dialect storage.Dialect, ddl string) string {
	if dialect != storage.DialectSQLite {
		return ddl
	}
	return strings.ReplaceAll(ddl, "TIMESTAMPTZ", "TIMESTAMP")
}
