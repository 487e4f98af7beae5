// Package snapstore defines the snapshot storage contract of the passive
// sync engine: last-known state and content fingerprint per record identity.
// Two reference implementations are provided — an in-memory map for tests
// and short-lived sessions, and an SQLite document store for persistence.
//
// The snapshot store is the one resource shared by concurrent sessions, so
// every implementation must make per-identity upserts atomic document
// operations, never whole-collection read-modify-write.
package snapstore

import (
	"context"

	"github.com/hazyhaar/netwatch/record"
)

// Store is the pluggable key-value contract the sync engine diffs against.
type Store interface {
	// GetByID returns the stored document, or nil when the identity is
	// unknown.
	GetByID(ctx context.Context, id string) (record.Record, error)

	// UpsertMany inserts or replaces documents keyed by identity. Each
	// document write is atomic; documents not named are untouched.
	UpsertMany(ctx context.Context, docs map[string]record.Record) error

	// MarkDeleted soft-deletes: sets flagKey=true and timeKey=<unix seconds>
	// on each named document, leaving other fields intact.
	MarkDeleted(ctx context.Context, ids []string, flagKey, timeKey string) error

	// DeleteMany hard-deletes the named documents.
	DeleteMany(ctx context.Context, ids []string) error

	// ListAllIDs returns every stored identity.
	ListAllIDs(ctx context.Context) ([]string, error)
}

// FingerprintStore is the optional accelerated fingerprint path. When a
// Store also implements it, the engine reads and writes fingerprints without
// loading whole documents.
type FingerprintStore interface {
	// GetFingerprintByID returns the stored fingerprint, "" when absent.
	GetFingerprintByID(ctx context.Context, id string) (string, error)

	// UpsertFingerprint stores the fingerprint for an identity.
	UpsertFingerprint(ctx context.Context, id, fp string) error
}
