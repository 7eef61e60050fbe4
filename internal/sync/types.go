package sync

import (
	"fmt"
	"time"

	"fieldsync-service/internal/config"
)

// RunState tracks one run through the orchestrator's state machine.
type RunState string

const (
	StateIdle         RunState = "idle"
	StateExporting    RunState = "exporting"
	StateTransmitting RunState = "transmitting"
	StateApplying     RunState = "applying"
	StateReconciling  RunState = "reconciling"
	StateCompleted    RunState = "completed"
	StateFailed       RunState = "failed"
)

// DatabasePayload is the wire form of one exported batch. Exactly one of
// Statements (sql format) or Tables (csv format) is populated.
type DatabasePayload struct {
	OrganizationID string               `json:"organizationId"`
	Format         string               `json:"format"`
	Statements     []string             `json:"statements,omitempty"`
	Tables         map[string]string    `json:"tables,omitempty"`
	TableMeta      []config.TableConfig `json:"tableMeta,omitempty"`
	RecordCount    int                  `json:"recordCount"`
}

func (p *DatabasePayload) Empty() bool {
	return p == nil || (len(p.Statements) == 0 && len(p.Tables) == 0)
}

// ApplyResult is the receiver's report for a database payload. On failure
// RecordsApplied is always zero: the receiver applies all-or-nothing.
type ApplyResult struct {
	Success        bool         `json:"success"`
	RecordsApplied int          `json:"recordsApplied"`
	Results        []ItemResult `json:"results,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// ItemResult reports the outcome of one statement or row.
type ItemResult struct {
	Index   int    `json:"index"`
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

// FileResult carries the checksum the receiver computed on the bytes it
// actually stored, so the sender can detect corruption in transit.
type FileResult struct {
	Filename string `json:"filename"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
}

type FilesResult struct {
	Success bool         `json:"success"`
	Files   []FileResult `json:"files"`
	Error   string       `json:"error,omitempty"`
}

type CombinedResult struct {
	Success  bool         `json:"success"`
	Database *ApplyResult `json:"database,omitempty"`
	Files    *FilesResult `json:"files,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// StatusResult is the receiver's health probe response.
type StatusResult struct {
	Status     string    `json:"status"`
	Version    string    `json:"serverVersion"`
	Database   string    `json:"database"`
	ServerTime time.Time `json:"serverTime"`
}

// PullRequest asks the peer for a snapshot of the named tables. Table
// descriptors travel with the request so the receiver needs no schema
// configuration of its own.
type PullRequest struct {
	OrganizationID string               `json:"organizationId"`
	Tables         []config.TableConfig `json:"tables"`
}

// PulledRecord is one remote row with its canonical checksum.
type PulledRecord struct {
	Table     string                 `json:"table"`
	RecordID  string                 `json:"recordId"`
	Data      map[string]interface{} `json:"data"`
	UpdatedAt time.Time              `json:"updatedAt"`
	Checksum  string                 `json:"checksum"`
}

func (r PulledRecord) String() string {
	return fmt.Sprintf("%s/%s", r.Table, r.RecordID)
}

// Target identifies one peer plus the credentials to reach it.
type Target struct {
	BaseURL        string
	APIKey         string
	Username       string
	Password       string
	OrganizationID string
}
