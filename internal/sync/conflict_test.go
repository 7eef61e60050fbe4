package sync

import (
	"testing"
	"time"

	"fieldsync-service/internal/checksum"
	"fieldsync-service/internal/database"
	"fieldsync-service/internal/store"
)

func localRec(table, id string, data map[string]interface{}, updated time.Time) database.Record {
	return database.Record{Table: table, ID: id, Data: data, UpdatedAt: updated}
}

func remoteRec(table, id string, data map[string]interface{}, updated time.Time) PulledRecord {
	return PulledRecord{Table: table, RecordID: id, Data: data, UpdatedAt: updated, Checksum: checksum.Record(data)}
}

func TestDetect_TimestampBothModified(t *testing.T) {
	lastSync := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	after := lastSync.Add(time.Hour)

	cmp := Comparison{UseTimestamp: true, LastSync: lastSync}
	conflicts := NewDetector().Detect("h1", "cfg1", cmp,
		[]database.Record{localRec("customers", "c1", map[string]interface{}{"id": "c1", "name": "Local"}, after)},
		[]PulledRecord{remoteRec("customers", "c1", map[string]interface{}{"id": "c1", "name": "Remote"}, after)},
	)

	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	c := conflicts[0]
	if c.ConflictType != ConflictTimestampMismatch {
		t.Errorf("unexpected type %s", c.ConflictType)
	}
	if c.ResolutionStatus != store.ResolutionPending {
		t.Errorf("new conflict not pending: %s", c.ResolutionStatus)
	}
	if len(c.LocalData) == 0 || len(c.RemoteData) == 0 {
		t.Error("before-images not captured")
	}
}

func TestDetect_OnlyOneSideModified(t *testing.T) {
	lastSync := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	cmp := Comparison{UseTimestamp: true, LastSync: lastSync}
	conflicts := NewDetector().Detect("h1", "cfg1", cmp,
		[]database.Record{localRec("customers", "c1", map[string]interface{}{"id": "c1"}, lastSync.Add(time.Hour))},
		[]PulledRecord{remoteRec("customers", "c1", map[string]interface{}{"id": "c1"}, lastSync.Add(-time.Hour))},
	)

	if len(conflicts) != 0 {
		t.Errorf("one-sided change is not a conflict, got %v", conflicts)
	}
}

func TestDetect_ChecksumDrift(t *testing.T) {
	agreed := map[string]interface{}{"id": "c1", "name": "Agreed"}
	known := map[string]string{
		store.ChecksumKey("customers", "c1"): checksum.Record(agreed),
	}

	cmp := Comparison{UseChecksum: true, Known: known}
	conflicts := NewDetector().Detect("h1", "cfg1", cmp,
		[]database.Record{localRec("customers", "c1", map[string]interface{}{"id": "c1", "name": "Local edit"}, time.Time{})},
		[]PulledRecord{remoteRec("customers", "c1", map[string]interface{}{"id": "c1", "name": "Remote edit"}, time.Time{})},
	)

	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	if conflicts[0].ConflictType != ConflictChecksumMismatch {
		t.Errorf("unexpected type %s", conflicts[0].ConflictType)
	}
}

func TestDetect_ChecksumPropagationIsNotConflict(t *testing.T) {
	agreed := map[string]interface{}{"id": "c1", "name": "Agreed"}
	known := map[string]string{
		store.ChecksumKey("customers", "c1"): checksum.Record(agreed),
	}

	// Remote still holds the last-agreed state; the local edit just has
	// not propagated yet.
	cmp := Comparison{UseChecksum: true, Known: known}
	conflicts := NewDetector().Detect("h1", "cfg1", cmp,
		[]database.Record{localRec("customers", "c1", map[string]interface{}{"id": "c1", "name": "Local edit"}, time.Time{})},
		[]PulledRecord{remoteRec("customers", "c1", agreed, time.Time{})},
	)

	if len(conflicts) != 0 {
		t.Errorf("unpropagated change flagged as conflict: %v", conflicts)
	}
}

func TestDetect_BothStrategies(t *testing.T) {
	lastSync := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	after := lastSync.Add(time.Hour)

	cmp := Comparison{UseTimestamp: true, UseChecksum: true, LastSync: lastSync}
	conflicts := NewDetector().Detect("h1", "cfg1", cmp,
		[]database.Record{localRec("customers", "c1", map[string]interface{}{"id": "c1", "name": "Local"}, after)},
		[]PulledRecord{remoteRec("customers", "c1", map[string]interface{}{"id": "c1", "name": "Remote"}, after)},
	)

	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	if conflicts[0].ConflictType != ConflictBothModified {
		t.Errorf("unexpected type %s", conflicts[0].ConflictType)
	}
}

func TestDetect_EqualChecksumsNoConflict(t *testing.T) {
	data := map[string]interface{}{"id": "c1", "name": "Same"}

	cmp := Comparison{UseChecksum: true}
	conflicts := NewDetector().Detect("h1", "cfg1", cmp,
		[]database.Record{localRec("customers", "c1", data, time.Time{})},
		[]PulledRecord{remoteRec("customers", "c1", data, time.Time{})},
	)

	if len(conflicts) != 0 {
		t.Errorf("identical records flagged as conflict: %v", conflicts)
	}
}

func TestDetect_SymmetricAcrossSides(t *testing.T) {
	lastSync := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	after := lastSync.Add(time.Hour)
	dataA := map[string]interface{}{"id": "c1", "name": "Version A"}
	dataB := map[string]interface{}{"id": "c1", "name": "Version B"}

	cmp := Comparison{UseTimestamp: true, UseChecksum: true, LastSync: lastSync}
	d := NewDetector()

	forward := d.Detect("h1", "cfg1", cmp,
		[]database.Record{localRec("customers", "c1", dataA, after)},
		[]PulledRecord{remoteRec("customers", "c1", dataB, after)},
	)
	reversed := d.Detect("h1", "cfg1", cmp,
		[]database.Record{localRec("customers", "c1", dataB, after)},
		[]PulledRecord{remoteRec("customers", "c1", dataA, after)},
	)

	if len(forward) != 1 || len(reversed) != 1 {
		t.Fatalf("expected 1 conflict each way, got %d and %d", len(forward), len(reversed))
	}
	if forward[0].ConflictType != reversed[0].ConflictType {
		t.Errorf("conflict type changed with side assignment: %s vs %s",
			forward[0].ConflictType, reversed[0].ConflictType)
	}
	if string(forward[0].LocalData) != string(reversed[0].RemoteData) ||
		string(forward[0].RemoteData) != string(reversed[0].LocalData) {
		t.Error("captured payloads not swapped with side assignment")
	}
}

func TestDetect_RecordOnlyOnOneSide(t *testing.T) {
	cmp := Comparison{UseTimestamp: true, UseChecksum: true}
	conflicts := NewDetector().Detect("h1", "cfg1", cmp,
		[]database.Record{localRec("customers", "c1", map[string]interface{}{"id": "c1"}, time.Now())},
		nil,
	)
	if len(conflicts) != 0 {
		t.Errorf("local-only record flagged as conflict: %v", conflicts)
	}
}
