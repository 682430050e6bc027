package index

import (
	"context"
	"time"
)

// Record describes one uploaded archive. Records are keyed by Filename; a
// second upload under the same name replaces the first.
type Record struct {
	Region      string
	Vault       string
	Filename    string
	ArchiveID   string
	Location    string
	Description string
	UploadedAt  time.Time
	TreeHash    string
}

// Query filters records. Empty fields match everything. Prefix matches the
// start of either the filename or the description.
type Query struct {
	Region string
	Vault  string
	Prefix string
}

// InventorySnapshot is the raw output of a finished inventory job.
type InventorySnapshot struct {
	Region        string
	Vault         string
	JobID         string
	InventoryDate time.Time
	Body          []byte
}

// Repository is the narrow interface the upload and retrieval paths use.
type Repository interface {
	// Put inserts the record or replaces the one with the same filename.
	Put(ctx context.Context, r Record) error

	// QueryByPrefix returns matching records ordered by filename.
	QueryByPrefix(ctx context.Context, q Query) ([]Record, error)

	// DeleteByArchiveID removes every record pointing at the archive and
	// reports how many were removed.
	DeleteByArchiveID(ctx context.Context, archiveID string) (int64, error)

	// PutInventory stores a snapshot and prunes old ones for the vault.
	PutInventory(ctx context.Context, s InventorySnapshot) error

	// LatestInventory returns the newest snapshot for the vault or
	// common.ErrorNotFound.
	LatestInventory(ctx context.Context, region, vault string) (*InventorySnapshot, error)
}

// keepInventories is how many snapshots survive pruning per vault.
const keepInventories = 10
