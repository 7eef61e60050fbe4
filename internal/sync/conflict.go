package sync

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"fieldsync-service/internal/checksum"
	"fieldsync-service/internal/database"
	"fieldsync-service/internal/store"
)

// Conflict type values.
const (
	ConflictTimestampMismatch = "timestamp-mismatch"
	ConflictChecksumMismatch  = "checksum-mismatch"
	ConflictBothModified      = "both-modified"
)

// Comparison carries the configuration's comparison strategy into one
// detection pass.
type Comparison struct {
	UseTimestamp bool
	UseChecksum  bool
	// LastSync is the configuration's last successful run; zero when the
	// pair has never synced.
	LastSync time.Time
	// Known maps ChecksumKey(table, record) to the checksum both sides are
	// known to have accepted.
	Known map[string]string
}

// Detector compares local and remote versions of each record and raises a
// conflict entity when they disagree under the active strategy.
type Detector struct{}

func NewDetector() *Detector {
	return &Detector{}
}

// Detect walks every record present on both sides. Either strategy alone is
// sufficient evidence of independent modification; when both trigger the
// conflict is typed both-modified. Each conflict captures full before-images
// of both versions.
func (d *Detector) Detect(historyID, configID string, cmp Comparison, local []database.Record, remote []PulledRecord) []*store.SyncConflict {
	remoteByKey := make(map[string]PulledRecord, len(remote))
	for _, r := range remote {
		remoteByKey[store.ChecksumKey(r.Table, r.RecordID)] = r
	}

	var conflicts []*store.SyncConflict
	for _, l := range local {
		key := store.ChecksumKey(l.Table, l.ID)
		r, ok := remoteByKey[key]
		if !ok {
			continue
		}

		localSum := checksum.Record(l.Data)
		remoteSum := r.Checksum
		if remoteSum == "" {
			remoteSum = checksum.Record(r.Data)
		}

		tsHit := cmp.UseTimestamp &&
			!l.UpdatedAt.IsZero() && !r.UpdatedAt.IsZero() &&
			l.UpdatedAt.After(cmp.LastSync) && r.UpdatedAt.After(cmp.LastSync)

		// A checksum difference is only a conflict when neither side still
		// holds the state the pair last agreed on; otherwise the difference
		// is ordinary propagation.
		known := cmp.Known[key]
		sumHit := cmp.UseChecksum && localSum != remoteSum &&
			localSum != known && remoteSum != known

		if !tsHit && !sumHit {
			continue
		}

		conflictType := ConflictChecksumMismatch
		switch {
		case tsHit && sumHit:
			conflictType = ConflictBothModified
		case tsHit:
			conflictType = ConflictTimestampMismatch
		}

		localBytes, _ := json.Marshal(l.Data)
		remoteBytes, _ := json.Marshal(r.Data)

		conflicts = append(conflicts, &store.SyncConflict{
			ID:               uuid.New().String(),
			HistoryID:        historyID,
			ConfigurationID:  configID,
			TableName:        l.Table,
			RecordID:         l.ID,
			ConflictType:     conflictType,
			LocalData:        localBytes,
			RemoteData:       remoteBytes,
			LocalTimestamp:   nullTime(l.UpdatedAt),
			RemoteTimestamp:  nullTime(r.UpdatedAt),
			LocalChecksum:    sql.NullString{String: localSum, Valid: true},
			RemoteChecksum:   sql.NullString{String: remoteSum, Valid: true},
			ResolutionStatus: store.ResolutionPending,
			DetectedAt:       time.Now(),
		})
	}

	return conflicts
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
