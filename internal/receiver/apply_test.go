package receiver

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"fieldsync-service/internal/config"
	"fieldsync-service/internal/sync"
)

// fakeExecer records statements and fails on a chosen one.
type fakeExecer struct {
	executed []string
	failOn   string
}

func (f *fakeExecer) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return nil, errors.New("constraint violation")
	}
	f.executed = append(f.executed, query)
	return nil, nil
}

func TestExecuteAll_AllApplied(t *testing.T) {
	tx := &fakeExecer{}
	result := &sync.ApplyResult{}

	stmts := []string{
		"INSERT INTO `customers` (`id`) VALUES ('c1')",
		"INSERT INTO `jobs` (`id`) VALUES ('j1')",
	}
	if err := executeAll(context.Background(), tx, stmts, result); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(tx.executed) != 2 {
		t.Errorf("expected 2 statements executed, got %d", len(tx.executed))
	}
	for i, item := range result.Results {
		if !item.Applied || item.Index != i {
			t.Errorf("unexpected item result %+v", item)
		}
	}
}

func TestExecuteAll_StopsAtFirstFailure(t *testing.T) {
	tx := &fakeExecer{failOn: "`jobs`"}
	result := &sync.ApplyResult{}

	stmts := []string{
		"INSERT INTO `customers` (`id`) VALUES ('c1')",
		"INSERT INTO `jobs` (`id`) VALUES ('j1')",
		"INSERT INTO `invoices` (`id`) VALUES ('i1')",
	}
	err := executeAll(context.Background(), tx, stmts, result)
	if err == nil {
		t.Fatal("expected error from failing statement")
	}

	if len(tx.executed) != 1 {
		t.Errorf("execution continued past the failure: %v", tx.executed)
	}
	if len(result.Results) != 2 {
		t.Fatalf("expected 2 item results, got %d", len(result.Results))
	}
	if result.Results[1].Applied || result.Results[1].Error == "" {
		t.Errorf("failing item not reported: %+v", result.Results[1])
	}
}

func csvPayload(tables map[string]string) *sync.DatabasePayload {
	return &sync.DatabasePayload{
		OrganizationID: "org1",
		Format:         "csv",
		Tables:         tables,
		TableMeta: []config.TableConfig{
			{Name: "customers", PrimaryKey: "id"},
			{Name: "jobs", PrimaryKey: "id"},
		},
	}
}

func TestStatementsFromCSV(t *testing.T) {
	payload := csvPayload(map[string]string{
		"customers": "_operation,_record_id,id,name\ninsert,c1,c1,Acme\ndelete,c2,,\n",
	})

	stmts, err := statementsFromCSV(payload)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(stmts))
	}
	if stmts[0] != "REPLACE INTO `customers` (`id`, `name`) VALUES ('c1', 'Acme')" {
		t.Errorf("unexpected replace: %s", stmts[0])
	}
	if stmts[1] != "DELETE FROM `customers` WHERE `id` = 'c2'" {
		t.Errorf("unexpected delete: %s", stmts[1])
	}
}

func TestStatementsFromCSV_SenderTableOrder(t *testing.T) {
	payload := csvPayload(map[string]string{
		"jobs":      "_operation,_record_id,customer_id,id\ninsert,j1,c1,j1\n",
		"customers": "_operation,_record_id,id\ninsert,c1,c1\n",
	})

	stmts, err := statementsFromCSV(payload)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(stmts))
	}
	if !strings.Contains(stmts[0], "`customers`") {
		t.Errorf("parent table not applied first: %v", stmts)
	}
}

func TestStatementsFromCSV_EscapesValues(t *testing.T) {
	payload := csvPayload(map[string]string{
		"customers": "_operation,_record_id,id,name\ninsert,c1,c1,O'Brien\n",
	})

	stmts, err := statementsFromCSV(payload)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !strings.Contains(stmts[0], "'O''Brien'") {
		t.Errorf("quote not escaped: %s", stmts[0])
	}
}

func TestCSVStatements_MalformedHeader(t *testing.T) {
	if _, err := csvStatements("customers", "id", "id,name\nc1,Acme\n"); err == nil {
		t.Error("expected error for header without pseudo-columns")
	}
}

func TestCSVStatements_RowWidthMismatch(t *testing.T) {
	doc := "_operation,_record_id,id,name\ninsert,c1,c1,Acme,extra\n"
	if _, err := csvStatements("customers", "id", doc); err == nil {
		t.Error("expected error for row wider than header")
	}
}

func TestStatementsFor_SQLPassthrough(t *testing.T) {
	payload := &sync.DatabasePayload{
		Format:     "sql",
		Statements: []string{"INSERT INTO `customers` (`id`) VALUES ('c1')"},
	}
	stmts, err := statementsFor(payload)
	if err != nil {
		t.Fatalf("statements: %v", err)
	}
	if len(stmts) != 1 || stmts[0] != payload.Statements[0] {
		t.Errorf("sql statements not passed through: %v", stmts)
	}
}
