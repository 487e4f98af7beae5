package snapstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/netwatch/dbopen"
	"github.com/hazyhaar/netwatch/record"
)

// Schema is the snapshot table layout: one row per identity, the document
// as JSON, the fingerprint denormalised for the accelerated path.
const Schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    collection  TEXT NOT NULL,
    id          TEXT NOT NULL,
    doc         TEXT NOT NULL,
    fingerprint TEXT NOT NULL DEFAULT '',
    updated_at  INTEGER NOT NULL,
    PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_fp ON snapshots (collection, fingerprint);
`

// SQLiteOptions configures a SQLite store.
type SQLiteOptions struct {
	// Collection namespaces rows so many collection targets can share one
	// database file. Default: "default".
	Collection string
	// FingerprintKey, when set, names the document field UpsertMany copies
	// into the fingerprint column, keeping the accelerated path in sync
	// with the document in a single write.
	FingerprintKey string
}

// SQLite is a document-database-backed Store. Every write is an atomic
// per-row operation (INSERT ... ON CONFLICT DO UPDATE, json_set UPDATE), so
// concurrent sessions sharing the database never clobber each other's
// documents.
type SQLite struct {
	db   *sql.DB
	opts SQLiteOptions
}

var (
	_ Store            = (*SQLite)(nil)
	_ FingerprintStore = (*SQLite)(nil)
)

// NewSQLite creates a store over db. Call EnsureSchema once at startup.
func NewSQLite(db *sql.DB, opts SQLiteOptions) *SQLite {
	if opts.Collection == "" {
		opts.Collection = "default"
	}
	return &SQLite{db: db, opts: opts}
}

// EnsureSchema creates the snapshots table if needed.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("snapstore: ensure schema: %w", err)
	}
	return nil
}

func (s *SQLite) GetByID(ctx context.Context, id string) (record.Record, error) {
	var docJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM snapshots WHERE collection = ? AND id = ?`,
		s.opts.Collection, id).Scan(&docJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapstore: get %q: %w", id, err)
	}

	var doc record.Record
	if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
		return nil, fmt.Errorf("snapstore: decode %q: %w", id, err)
	}
	return doc, nil
}

func (s *SQLite) UpsertMany(ctx context.Context, docs map[string]record.Record) error {
	if len(docs) == 0 {
		return nil
	}
	now := time.Now().Unix()

	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO snapshots (collection, id, doc, fingerprint, updated_at)
			VALUES (?,?,?,?,?)
			ON CONFLICT (collection, id) DO UPDATE SET
				doc = excluded.doc,
				fingerprint = excluded.fingerprint,
				updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("snapstore: prepare upsert: %w", err)
		}
		defer stmt.Close()

		for id, doc := range docs {
			docJSON, err := json.Marshal(doc)
			if err != nil {
				return fmt.Errorf("snapstore: encode %q: %w", id, err)
			}
			fp := ""
			if s.opts.FingerprintKey != "" {
				fp, _ = doc[s.opts.FingerprintKey].(string)
			}
			if _, err := stmt.ExecContext(ctx, s.opts.Collection, id, string(docJSON), fp, now); err != nil {
				return fmt.Errorf("snapstore: upsert %q: %w", id, err)
			}
		}
		return nil
	})
}

func (s *SQLite) MarkDeleted(ctx context.Context, ids []string, flagKey, timeKey string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().Unix()
	flagPath := jsonPath(flagKey)
	timePath := jsonPath(timeKey)

	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE snapshots
			SET doc = json_set(doc, ?, json('true'), ?, ?), updated_at = ?
			WHERE collection = ? AND id = ?`)
		if err != nil {
			return fmt.Errorf("snapstore: prepare mark deleted: %w", err)
		}
		defer stmt.Close()

		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, flagPath, timePath, now, now, s.opts.Collection, id); err != nil {
				return fmt.Errorf("snapstore: mark deleted %q: %w", id, err)
			}
		}
		return nil
	})
}

func (s *SQLite) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`DELETE FROM snapshots WHERE collection = ? AND id = ?`)
		if err != nil {
			return fmt.Errorf("snapstore: prepare delete: %w", err)
		}
		defer stmt.Close()

		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, s.opts.Collection, id); err != nil {
				return fmt.Errorf("snapstore: delete %q: %w", id, err)
			}
		}
		return nil
	})
}

func (s *SQLite) ListAllIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM snapshots WHERE collection = ?`, s.opts.Collection)
	if err != nil {
		return nil, fmt.Errorf("snapstore: list ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("snapstore: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLite) GetFingerprintByID(ctx context.Context, id string) (string, error) {
	var fp string
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint FROM snapshots WHERE collection = ? AND id = ?`,
		s.opts.Collection, id).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("snapstore: get fingerprint %q: %w", id, err)
	}
	return fp, nil
}

func (s *SQLite) UpsertFingerprint(ctx context.Context, id, fp string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE snapshots SET fingerprint = ? WHERE collection = ? AND id = ?`,
		fp, s.opts.Collection, id)
	if err != nil {
		return fmt.Errorf("snapstore: upsert fingerprint %q: %w", id, err)
	}
	return nil
}

// jsonPath builds a json_set path for an arbitrary field name, quoting it so
// dots or spaces in the key never split the path.
func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}
