package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Sync direction values.
const (
	DirectionOneWay        = "one-way"
	DirectionBidirectional = "bidirectional"
)

// Export format values.
const (
	FormatSQL = "sql"
	FormatCSV = "csv"
)

// Conflict resolution policy values.
const (
	PolicyManual     = "manual"
	PolicyAutoLocal  = "auto-local"
	PolicyAutoRemote = "auto-remote"
)

// Sync type values.
const (
	SyncTypeDatabase = "database"
	SyncTypeFiles    = "files"
	SyncTypeBoth     = "both"
)

// History status values. Pending and in-progress are transient; the rest
// are terminal and written exactly once.
const (
	StatusPending    = "pending"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusConflict   = "conflict"
)

// Conflict resolution status values.
const (
	ResolutionPending = "pending"
	ResolvedLocal     = "resolved-local"
	ResolvedRemote    = "resolved-remote"
	ResolvedMerged    = "resolved-merged"
)

// SyncConfiguration describes one remote peer. Secrets are never serialized
// back to API readers.
type SyncConfiguration struct {
	ID                     string       `db:"id" json:"id"`
	ServerName             string       `db:"server_name" json:"serverName"`
	ServerURL              string       `db:"server_url" json:"serverUrl"`
	APIKey                 string       `db:"api_key" json:"-"`
	Username               string       `db:"username" json:"username"`
	Password               string       `db:"password" json:"-"`
	OrganizationID         string       `db:"organization_id" json:"organizationId"`
	SyncDirection          string       `db:"sync_direction" json:"syncDirection"`
	SyncDatabase           bool         `db:"sync_database" json:"syncDatabase"`
	SyncFiles              bool         `db:"sync_files" json:"syncFiles"`
	ExportFormat           string       `db:"export_format" json:"exportFormat"`
	ConflictResolution     string       `db:"conflict_resolution" json:"conflictResolution"`
	UseTimestampComparison bool         `db:"use_timestamp_comparison" json:"useTimestampComparison"`
	UseChecksumComparison  bool         `db:"use_checksum_comparison" json:"useChecksumComparison"`
	RetryFailed            bool         `db:"retry_failed" json:"retryFailed"`
	MaxRetries             int          `db:"max_retries" json:"maxRetries"`
	Active                 bool         `db:"active" json:"active"`
	LastSyncAt             sql.NullTime `db:"last_sync_at" json:"lastSyncAt"`
	CreatedAt              time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt              time.Time    `db:"updated_at" json:"updatedAt"`
}

// SyncHistory is the append-only audit record of one run.
type SyncHistory struct {
	ID                string         `db:"id" json:"id"`
	ConfigurationID   string         `db:"configuration_id" json:"configurationId"`
	SyncType          string         `db:"sync_type" json:"syncType"`
	Direction         string         `db:"direction" json:"direction"`
	Status            string         `db:"status" json:"status"`
	TotalRecords      int            `db:"total_records" json:"totalRecords"`
	RecordsSynced     int            `db:"records_synced" json:"recordsSynced"`
	RecordsFailed     int            `db:"records_failed" json:"recordsFailed"`
	ConflictsDetected int            `db:"conflicts_detected" json:"conflictsDetected"`
	TotalFiles        int            `db:"total_files" json:"totalFiles"`
	FilesSynced       int            `db:"files_synced" json:"filesSynced"`
	StartedAt         time.Time      `db:"started_at" json:"startedAt"`
	CompletedAt       sql.NullTime   `db:"completed_at" json:"completedAt"`
	DurationMS        int64          `db:"duration_ms" json:"durationMs"`
	ErrorMessage      sql.NullString `db:"error_message" json:"errorMessage"`
}

// SyncConflict captures full before-images of both sides so resolution
// needs no further queries. Immutable except for the resolution fields.
type SyncConflict struct {
	ID               string          `db:"id" json:"id"`
	HistoryID        string          `db:"history_id" json:"historyId"`
	ConfigurationID  string          `db:"configuration_id" json:"configurationId"`
	TableName        string          `db:"table_name" json:"tableName"`
	RecordID         string          `db:"record_id" json:"recordId"`
	ConflictType     string          `db:"conflict_type" json:"conflictType"`
	LocalData        json.RawMessage `db:"local_data" json:"localData"`
	RemoteData       json.RawMessage `db:"remote_data" json:"remoteData"`
	LocalTimestamp   sql.NullTime    `db:"local_timestamp" json:"localTimestamp"`
	RemoteTimestamp  sql.NullTime    `db:"remote_timestamp" json:"remoteTimestamp"`
	LocalChecksum    sql.NullString  `db:"local_checksum" json:"localChecksum"`
	RemoteChecksum   sql.NullString  `db:"remote_checksum" json:"remoteChecksum"`
	ResolutionStatus string          `db:"resolution_status" json:"resolutionStatus"`
	ResolvedData     json.RawMessage `db:"resolved_data" json:"resolvedData,omitempty"`
	DetectedAt       time.Time       `db:"detected_at" json:"detectedAt"`
	ResolvedAt       sql.NullTime    `db:"resolved_at" json:"resolvedAt"`
}

// PendingChange is one outbox row: a record mutation awaiting export.
type PendingChange struct {
	Seq       int64           `db:"seq" json:"seq"`
	TableName string          `db:"table_name" json:"tableName"`
	RecordID  string          `db:"record_id" json:"recordId"`
	Operation string          `db:"operation" json:"operation"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// Pending change operations.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)
