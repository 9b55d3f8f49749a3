// Package store implements EdgeDB, the relational Configuration Store
// of spec §4.3: connections, blocks, tag-mappings, the app registry, and
// the protocol-property schema, all backed by a local SQLite file.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// EdgeDB is the Configuration Store accessor. All methods are safe for
// concurrent use; SQLite's own locking plus the WAL journal mode and
// 30s busy-timeout (spec §4.3) tolerate the importer and an interactive
// monitor reading concurrently.
type EdgeDB struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the SQLite database at path,
// applies the engine settings spec §4.3 mandates (WAL journal mode, 30s
// busy-timeout, synchronous=NORMAL), and runs any pending migrations.
func Open(path string) (*EdgeDB, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: apply %q: %w", pragma, err)
		}
	}

	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &EdgeDB{db: db}, nil
}

// Close releases the underlying database handle.
func (e *EdgeDB) Close() error {
	return e.db.Close()
}

// ListConnections enumerates every connection row.
func (e *EdgeDB) ListConnections(ctx context.Context) ([]Connection, error) {
	var rows []Connection
	err := e.db.SelectContext(ctx, &rows, `SELECT * FROM connections ORDER BY connection_id`)
	return rows, err
}

// ListEnabledConnections enumerates connection rows with use_flag set.
func (e *EdgeDB) ListEnabledConnections(ctx context.Context) ([]Connection, error) {
	var rows []Connection
	err := e.db.SelectContext(ctx, &rows,
		`SELECT * FROM connections WHERE use_flag = 1 ORDER BY connection_id`)
	return rows, err
}

// GetConnection fetches one connection row by id.
func (e *EdgeDB) GetConnection(ctx context.Context, connectionID string) (*Connection, error) {
	var row Connection
	err := e.db.GetContext(ctx, &row, `SELECT * FROM connections WHERE connection_id = ?`, connectionID)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// MaxConnectionUpdatedAt returns the maximum updated_at across all
// connection rows, for poll-based change detection. Returns 0 if the
// table is empty.
func (e *EdgeDB) MaxConnectionUpdatedAt(ctx context.Context) (int64, error) {
	var max int64
	err := e.db.GetContext(ctx, &max, `SELECT COALESCE(MAX(updated_at), 0) FROM connections`)
	return max, err
}

// ListBlocks enumerates the blocks of one connection, ordered by block id.
func (e *EdgeDB) ListBlocks(ctx context.Context, connectionID string) ([]Block, error) {
	var rows []Block
	err := e.db.SelectContext(ctx, &rows,
		`SELECT * FROM blocks WHERE connection_id = ? ORDER BY block_id`, connectionID)
	return rows, err
}

// ListTagMappings enumerates the tag-mappings of one block, ordered by
// tag id.
func (e *EdgeDB) ListTagMappings(ctx context.Context, blockID int64) ([]TagMapping, error) {
	var rows []TagMapping
	err := e.db.SelectContext(ctx, &rows,
		`SELECT * FROM tag_mappings WHERE block_id = ? ORDER BY tag_id`, blockID)
	return rows, err
}

// UpsertAppRegistry inserts or replaces one app-registry row.
func (e *EdgeDB) UpsertAppRegistry(ctx context.Context, row AppRegistryRow) error {
	row.UpdatedAt = nowUnix()
	_, err := e.db.NamedExecContext(ctx, `
		INSERT INTO app_registry (app_id, category, module, enabled, config_blob, connection_id, token, expires_at, updated_at)
		VALUES (:app_id, :category, :module, :enabled, :config_blob, :connection_id, :token, :expires_at, :updated_at)
		ON CONFLICT(app_id) DO UPDATE SET
			category = excluded.category,
			module = excluded.module,
			enabled = excluded.enabled,
			config_blob = excluded.config_blob,
			connection_id = excluded.connection_id,
			token = excluded.token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, row)
	return err
}

// GetAppRegistry fetches one app-registry row by id. Returns nil, nil if
// no such row exists.
func (e *EdgeDB) GetAppRegistry(ctx context.Context, appID string) (*AppRegistryRow, error) {
	var row AppRegistryRow
	err := e.db.GetContext(ctx, &row, `SELECT * FROM app_registry WHERE app_id = ?`, appID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ListAppRegistry enumerates the full app-registry table.
func (e *EdgeDB) ListAppRegistry(ctx context.Context) ([]AppRegistryRow, error) {
	var rows []AppRegistryRow
	err := e.db.SelectContext(ctx, &rows, `SELECT * FROM app_registry ORDER BY app_id`)
	return rows, err
}

// DeleteAppRegistry removes one app-registry row.
func (e *EdgeDB) DeleteAppRegistry(ctx context.Context, appID string) error {
	_, err := e.db.ExecContext(ctx, `DELETE FROM app_registry WHERE app_id = ?`, appID)
	return err
}

// UpdateEntitlement updates only the entitlement columns (token,
// expires_at, enabled) of one app-registry row, per spec §4.3's
// "update only the entitlement columns" accessor.
func (e *EdgeDB) UpdateEntitlement(ctx context.Context, appID string, token *string, expiresAt *int64, enabled bool) error {
	_, err := e.db.ExecContext(ctx, `
		UPDATE app_registry SET token = ?, expires_at = ?, enabled = ?, updated_at = ?
		WHERE app_id = ?
	`, token, expiresAt, enabled, nowUnix(), appID)
	return err
}

// ProtocolPropertySchema looks up the ordered property schema for
// (protocol, layer).
func (e *EdgeDB) ProtocolPropertySchema(ctx context.Context, protocol, layer string) ([]ProtocolPropertyField, error) {
	var rows []ProtocolPropertyField
	err := e.db.SelectContext(ctx, &rows, `
		SELECT * FROM protocol_property_schema
		WHERE protocol_code = ? AND layer = ?
		ORDER BY position
	`, protocol, layer)
	return rows, err
}

// UpsertConnection inserts or replaces one connection row. Used by tests
// and by the (out-of-scope) importer's Go-callable surface.
func (e *EdgeDB) UpsertConnection(ctx context.Context, c Connection) error {
	c.UpdatedAt = nowUnix()
	_, err := e.db.NamedExecContext(ctx, `
		INSERT INTO connections (connection_id, protocol_code, host, port, timeout_seconds, retry_count, properties_blob, use_flag, updated_at)
		VALUES (:connection_id, :protocol_code, :host, :port, :timeout_seconds, :retry_count, :properties_blob, :use_flag, :updated_at)
		ON CONFLICT(connection_id) DO UPDATE SET
			protocol_code = excluded.protocol_code,
			host = excluded.host,
			port = excluded.port,
			timeout_seconds = excluded.timeout_seconds,
			retry_count = excluded.retry_count,
			properties_blob = excluded.properties_blob,
			use_flag = excluded.use_flag,
			updated_at = excluded.updated_at
	`, c)
	return err
}

// DeleteConnection removes a connection row (and cascades to its blocks
// and tag-mappings).
func (e *EdgeDB) DeleteConnection(ctx context.Context, connectionID string) error {
	_, err := e.db.ExecContext(ctx, `DELETE FROM connections WHERE connection_id = ?`, connectionID)
	return err
}

func nowUnix() int64 { return time.Now().Unix() }

func isNoRows(err error) bool {
	return err != nil && err.Error() == "sql: no rows in result set"
}
