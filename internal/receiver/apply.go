package receiver

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"strings"

	"fieldsync-service/internal/database"
	"fieldsync-service/internal/sync"
)

// Applier executes an incoming database payload inside one transaction.
// Either every statement commits or none does; partial application is
// never observable.
type Applier struct {
	db *database.Database
}

func NewApplier(db *database.Database) *Applier {
	return &Applier{db: db}
}

func (a *Applier) ApplyDatabase(ctx context.Context, payload *sync.DatabasePayload) *sync.ApplyResult {
	statements, err := statementsFor(payload)
	if err != nil {
		return &sync.ApplyResult{Success: false, Error: err.Error()}
	}
	if len(statements) == 0 {
		return &sync.ApplyResult{Success: true}
	}

	result := &sync.ApplyResult{}
	err = a.db.ExecTx(ctx, func(tx *sql.Tx) error {
		return executeAll(ctx, tx, statements, result)
	})
	if err != nil {
		// Rolled back in full: nothing was applied.
		result.Success = false
		result.RecordsApplied = 0
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.RecordsApplied = len(statements)
	return result
}

// execer is the slice of *sql.Tx the applier needs; tests substitute a fake.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func executeAll(ctx context.Context, tx execer, statements []string, result *sync.ApplyResult) error {
	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			result.Results = append(result.Results, sync.ItemResult{
				Index: i,
				Error: err.Error(),
			})
			return fmt.Errorf("statement %d failed: %w", i, err)
		}
		result.Results = append(result.Results, sync.ItemResult{Index: i, Applied: true})
	}
	return nil
}

func statementsFor(payload *sync.DatabasePayload) ([]string, error) {
	if payload.Format == "csv" {
		return statementsFromCSV(payload)
	}
	return payload.Statements, nil
}

// statementsFromCSV converts each table's CSV document back into
// statements: REPLACE for inserts and updates, DELETE for deletes. The
// first two header columns are the operation and record id pseudo-columns
// written by the exporter.
func statementsFromCSV(payload *sync.DatabasePayload) ([]string, error) {
	keys := make(map[string]string, len(payload.TableMeta))
	for _, t := range payload.TableMeta {
		keys[t.Name] = t.PrimaryKey
	}

	tables := make([]string, 0, len(payload.Tables))
	for table := range payload.Tables {
		tables = append(tables, table)
	}
	// Apply in the sender's declared dependency order; unknown tables last.
	ordered := make([]string, 0, len(tables))
	seen := make(map[string]bool)
	for _, t := range payload.TableMeta {
		if _, ok := payload.Tables[t.Name]; ok {
			ordered = append(ordered, t.Name)
			seen[t.Name] = true
		}
	}
	for _, t := range tables {
		if !seen[t] {
			ordered = append(ordered, t)
		}
	}

	var statements []string
	for _, table := range ordered {
		stmts, err := csvStatements(table, keys[table], payload.Tables[table])
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", table, err)
		}
		statements = append(statements, stmts...)
	}
	return statements, nil
}

func csvStatements(table, primaryKey, doc string) ([]string, error) {
	if primaryKey == "" {
		primaryKey = "id"
	}

	r := csv.NewReader(strings.NewReader(doc))
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, nil
	}

	header := rows[0]
	if len(header) < 2 || header[0] != "_operation" || header[1] != "_record_id" {
		return nil, fmt.Errorf("malformed CSV header %v", header)
	}
	dataCols := header[2:]

	var statements []string
	for _, row := range rows[1:] {
		if len(row) != len(header) {
			return nil, fmt.Errorf("row width %d does not match header width %d", len(row), len(header))
		}
		op, recordID := row[0], row[1]

		if op == "delete" {
			statements = append(statements, fmt.Sprintf(
				"DELETE FROM `%s` WHERE `%s` = %s", table, primaryKey, quoteSQL(recordID)))
			continue
		}

		names := make([]string, len(dataCols))
		vals := make([]string, len(dataCols))
		for i, col := range dataCols {
			names[i] = "`" + col + "`"
			vals[i] = quoteSQL(row[i+2])
		}
		statements = append(statements, fmt.Sprintf(
			"REPLACE INTO `%s` (%s) VALUES (%s)",
			table, strings.Join(names, ", "), strings.Join(vals, ", ")))
	}

	return statements, nil
}

func quoteSQL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", "''")
	return "'" + s + "'"
}
