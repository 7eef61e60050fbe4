package sync

import (
	"encoding/json"
	"strings"
	"testing"

	"fieldsync-service/internal/config"
	"fieldsync-service/internal/store"
)

var testTables = []config.TableConfig{
	{Name: "customers", PrimaryKey: "id", TimestampColumn: "updated_at"},
	{Name: "jobs", PrimaryKey: "id", TimestampColumn: "updated_at"},
	{Name: "invoices", PrimaryKey: "id", TimestampColumn: "updated_at"},
}

func change(seq int64, table, recordID, op string, payload map[string]interface{}) *store.PendingChange {
	raw, _ := json.Marshal(payload)
	return &store.PendingChange{
		Seq:       seq,
		TableName: table,
		RecordID:  recordID,
		Operation: op,
		Payload:   raw,
	}
}

func TestExportSQL_InsertStatement(t *testing.T) {
	e := NewExporter(testTables)

	stmts, err := e.ExportSQL([]*store.PendingChange{
		change(1, "customers", "1", store.OpInsert, map[string]interface{}{"id": "1", "name": "Acme"}),
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	want := "INSERT INTO `customers` (`id`, `name`) VALUES ('1', 'Acme')"
	if len(stmts) != 1 || stmts[0] != want {
		t.Errorf("got %v, want [%s]", stmts, want)
	}
}

func TestExportSQL_DependencyOrder(t *testing.T) {
	e := NewExporter(testTables)

	// Captured child-first; export must put the parent table first.
	stmts, err := e.ExportSQL([]*store.PendingChange{
		change(1, "jobs", "j1", store.OpInsert, map[string]interface{}{"id": "j1", "customer_id": "c1"}),
		change(2, "customers", "c1", store.OpInsert, map[string]interface{}{"id": "c1", "name": "Acme"}),
		change(3, "jobs", "j2", store.OpInsert, map[string]interface{}{"id": "j2", "customer_id": "c1"}),
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	if len(stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(stmts))
	}
	if !strings.Contains(stmts[0], "`customers`") {
		t.Errorf("parent table not first: %s", stmts[0])
	}
	if !strings.Contains(stmts[1], "'j1'") || !strings.Contains(stmts[2], "'j2'") {
		t.Errorf("child rows out of capture order: %v", stmts[1:])
	}
}

func TestExportSQL_UpdateAndDelete(t *testing.T) {
	e := NewExporter(testTables)

	stmts, err := e.ExportSQL([]*store.PendingChange{
		change(1, "customers", "c1", store.OpUpdate, map[string]interface{}{"id": "c1", "name": "Acme AS"}),
		change(2, "customers", "c2", store.OpDelete, nil),
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	if stmts[0] != "UPDATE `customers` SET `name` = 'Acme AS' WHERE `id` = 'c1'" {
		t.Errorf("unexpected update: %s", stmts[0])
	}
	if stmts[1] != "DELETE FROM `customers` WHERE `id` = 'c2'" {
		t.Errorf("unexpected delete: %s", stmts[1])
	}
}

func TestExportSQL_EscapesQuotes(t *testing.T) {
	e := NewExporter(testTables)

	stmts, err := e.ExportSQL([]*store.PendingChange{
		change(1, "customers", "c1", store.OpInsert, map[string]interface{}{"id": "c1", "name": "O'Brien"}),
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(stmts[0], "'O''Brien'") {
		t.Errorf("quote not escaped: %s", stmts[0])
	}
}

func TestExportCSV_StableHeader(t *testing.T) {
	e := NewExporter(testTables)

	changes := []*store.PendingChange{
		change(1, "customers", "c1", store.OpInsert, map[string]interface{}{"name": "Acme", "id": "c1", "city": "Oslo"}),
		change(2, "customers", "c2", store.OpDelete, nil),
	}

	first, err := e.ExportCSV(changes)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	second, err := e.ExportCSV(changes)
	if err != nil {
		t.Fatalf("export again: %v", err)
	}

	doc := first["customers"]
	if doc != second["customers"] {
		t.Error("CSV export is not deterministic across runs")
	}

	lines := strings.Split(strings.TrimSpace(doc), "\n")
	if lines[0] != "_operation,_record_id,city,id,name" {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if lines[1] != "insert,c1,Oslo,c1,Acme" {
		t.Errorf("unexpected row: %s", lines[1])
	}
	if lines[2] != "delete,c2,,," {
		t.Errorf("unexpected delete row: %s", lines[2])
	}
}

func TestExportSQL_MalformedPayload(t *testing.T) {
	e := NewExporter(testTables)

	_, err := e.ExportSQL([]*store.PendingChange{
		{Seq: 1, TableName: "customers", RecordID: "c1", Operation: store.OpInsert, Payload: []byte("{broken")},
	})
	if err == nil {
		t.Error("expected error for malformed payload")
	}
}
