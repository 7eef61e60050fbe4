package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type Store interface {
	// Configurations
	CreateConfiguration(ctx context.Context, cfg *SyncConfiguration) error
	UpdateConfiguration(ctx context.Context, cfg *SyncConfiguration) error
	DeleteConfiguration(ctx context.Context, id string) error
	GetConfiguration(ctx context.Context, id string) (*SyncConfiguration, error)
	ListConfigurations(ctx context.Context) ([]*SyncConfiguration, error)

	// History
	CreateHistory(ctx context.Context, h *SyncHistory) error
	UpdateHistory(ctx context.Context, h *SyncHistory) error
	ListHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error)
	ListHistoryForConfiguration(ctx context.Context, configID string, limit int) ([]*SyncHistory, error)

	// Conflicts
	CreateConflict(ctx context.Context, c *SyncConflict) error
	GetConflict(ctx context.Context, id string) (*SyncConflict, error)
	ListConflicts(ctx context.Context, resolved bool, limit, offset int) ([]*SyncConflict, error)
	ResolveConflict(ctx context.Context, id, resolution string, resolvedData []byte) error

	// Pending-change outbox
	AppendChange(ctx context.Context, c *PendingChange) error
	ListPendingChanges(ctx context.Context) ([]*PendingChange, error)
	ClearPendingChanges(ctx context.Context, maxSeq int64) error

	// Applied checksums, keyed by configuration then table/record. Records
	// what each side is known to have accepted, so checksum comparison can
	// tell drift from ordinary propagation.
	GetAppliedChecksums(ctx context.Context, configID string) (map[string]string, error)
	SetAppliedChecksum(ctx context.Context, configID, tableName, recordID, sum string) error

	Close() error
}

// ChecksumKey builds the applied-checksum map key for one record.
func ChecksumKey(tableName, recordID string) string {
	return tableName + "/" + recordID
}
