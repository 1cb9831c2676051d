package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// Checksum identifies the migration body.
func (m *Migration) Checksum() string {
	sum := sha256.Sum256([]byte(m.SQL))
	return hex.EncodeToString(sum[:8])
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create agents table",
			SQL: `
				CREATE TABLE IF NOT EXISTS agents (
					id TEXT PRIMARY KEY,
					token_id TEXT NOT NULL DEFAULT '',
					agent_contract_address TEXT NOT NULL DEFAULT '',
					name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					image TEXT NOT NULL DEFAULT '',
					category TEXT NOT NULL,
					price TEXT NOT NULL,
					price_wei TEXT NOT NULL,
					creator TEXT NOT NULL,
					current_owner TEXT NOT NULL,
					tx_hash TEXT NOT NULL DEFAULT '',
					storage_uri TEXT NOT NULL DEFAULT '',
					listing_id INTEGER NOT NULL DEFAULT 0,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TEXT NOT NULL,
					social TEXT NOT NULL DEFAULT '{}', -- JSON
					capabilities TEXT NOT NULL DEFAULT '[]', -- JSON
					compute_model TEXT NOT NULL DEFAULT '',
					views INTEGER NOT NULL DEFAULT 0,
					likes INTEGER NOT NULL DEFAULT 0,
					trending BOOLEAN NOT NULL DEFAULT FALSE
				);

				CREATE INDEX IF NOT EXISTS idx_agents_creator ON agents(creator);
				CREATE INDEX IF NOT EXISTS idx_agents_current_owner ON agents(current_owner);
				CREATE INDEX IF NOT EXISTS idx_agents_created_at ON agents(created_at);
				CREATE INDEX IF NOT EXISTS idx_agents_listing_id ON agents(listing_id);
				CREATE INDEX IF NOT EXISTS idx_agents_token ON agents(agent_contract_address, token_id);
			`,
		},
		{
			Version:     "002",
			Description: "Create saga_progress table",
			SQL: `
				CREATE TABLE IF NOT EXISTS saga_progress (
					saga_id TEXT PRIMARY KEY,
					kind TEXT NOT NULL,
					step TEXT NOT NULL,
					status TEXT NOT NULL,
					agent_id TEXT NOT NULL DEFAULT '',
					tx_hash TEXT NOT NULL DEFAULT '',
					detail TEXT NOT NULL DEFAULT '',
					updated_at TEXT NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_saga_progress_status ON saga_progress(status);
			`,
		},
		{
			Version:     "003",
			Description: "Create sync_state table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sync_state (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at TEXT NOT NULL
				);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create agents table",
			SQL: `
				CREATE TABLE IF NOT EXISTS agents (
					id TEXT PRIMARY KEY,
					token_id TEXT NOT NULL DEFAULT '',
					agent_contract_address TEXT NOT NULL DEFAULT '',
					name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					image TEXT NOT NULL DEFAULT '',
					category TEXT NOT NULL,
					price TEXT NOT NULL,
					price_wei NUMERIC(78, 0) NOT NULL,
					creator TEXT NOT NULL,
					current_owner TEXT NOT NULL,
					tx_hash TEXT NOT NULL DEFAULT '',
					storage_uri TEXT NOT NULL DEFAULT '',
					listing_id BIGINT NOT NULL DEFAULT 0,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TEXT NOT NULL,
					social JSONB NOT NULL DEFAULT '{}',
					capabilities JSONB NOT NULL DEFAULT '[]',
					compute_model TEXT NOT NULL DEFAULT '',
					views BIGINT NOT NULL DEFAULT 0,
					likes BIGINT NOT NULL DEFAULT 0,
					trending BOOLEAN NOT NULL DEFAULT FALSE
				);

				CREATE INDEX IF NOT EXISTS idx_agents_creator ON agents(creator);
				CREATE INDEX IF NOT EXISTS idx_agents_current_owner ON agents(current_owner);
				CREATE INDEX IF NOT EXISTS idx_agents_created_at ON agents(created_at);
				CREATE INDEX IF NOT EXISTS idx_agents_listing_id ON agents(listing_id);
				CREATE INDEX IF NOT EXISTS idx_agents_token ON agents(agent_contract_address, token_id);
			`,
		},
		{
			Version:     "002",
			Description: "Create saga_progress table",
			SQL: `
				CREATE TABLE IF NOT EXISTS saga_progress (
					saga_id TEXT PRIMARY KEY,
					kind TEXT NOT NULL,
					step TEXT NOT NULL,
					status TEXT NOT NULL,
					agent_id TEXT NOT NULL DEFAULT '',
					tx_hash TEXT NOT NULL DEFAULT '',
					detail TEXT NOT NULL DEFAULT '',
					updated_at TEXT NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_saga_progress_status ON saga_progress(status);
			`,
		},
		{
			Version:     "003",
			Description: "Create sync_state table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sync_state (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at TEXT NOT NULL
				);
			`,
		},
	}
}

const migrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)
`

// applyMigrations runs every migration not yet recorded in schema_migrations.
func applyMigrations(db *sql.DB, rebind func(string) string, migrations []*Migration, logger *logrus.Entry) error {
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, migrationsTable); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create migrations table", err.Error())
	}

	applied := make(map[string]string)
	rows, err := db.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to read applied migrations", err.Error())
	}
	for rows.Next() {
		var version, checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			rows.Close()
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan migration", err.Error())
		}
		applied[version] = checksum
	}
	rows.Close()

	for _, migration := range migrations {
		if checksum, ok := applied[migration.Version]; ok {
			if checksum != migration.Checksum() {
				logger.WithField("version", migration.Version).Warn("Applied migration differs from current definition")
			}
			continue
		}

		logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if _, err := db.ExecContext(ctx, migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
		if _, err := db.ExecContext(ctx,
			rebind("INSERT INTO schema_migrations (version, description, checksum, applied_at) VALUES (?, ?, ?, ?)"),
			migration.Version, migration.Description, migration.Checksum(), formatTime(nowFunc())); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Failed to record migration %s", migration.Version),
				err.Error())
		}
	}

	return nil
}
