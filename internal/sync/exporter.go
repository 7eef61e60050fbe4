package sync

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"fieldsync-service/internal/config"
	"fieldsync-service/internal/store"
)

// Exporter serializes pending changes into a database payload. Statements
// come out in dependency order: tables in their configured order (parents
// first), changes within a table in capture order.
type Exporter struct {
	tables []config.TableConfig
}

func NewExporter(tables []config.TableConfig) *Exporter {
	return &Exporter{tables: tables}
}

func (e *Exporter) tableRank(name string) int {
	for i, t := range e.tables {
		if t.Name == name {
			return i
		}
	}
	return len(e.tables)
}

func (e *Exporter) primaryKey(name string) string {
	for _, t := range e.tables {
		if t.Name == name {
			return t.PrimaryKey
		}
	}
	return "id"
}

func (e *Exporter) ordered(changes []*store.PendingChange) []*store.PendingChange {
	out := make([]*store.PendingChange, len(changes))
	copy(out, changes)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := e.tableRank(out[i].TableName), e.tableRank(out[j].TableName)
		if ri != rj {
			return ri < rj
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// ExportSQL renders each change as one statement.
func (e *Exporter) ExportSQL(changes []*store.PendingChange) ([]string, error) {
	var statements []string
	for _, c := range e.ordered(changes) {
		stmt, err := e.statement(c)
		if err != nil {
			return nil, err
		}
		statements = append(statements, stmt)
	}
	return statements, nil
}

func (e *Exporter) statement(c *store.PendingChange) (string, error) {
	pk := e.primaryKey(c.TableName)

	if c.Operation == store.OpDelete {
		return fmt.Sprintf("DELETE FROM `%s` WHERE `%s` = %s",
			c.TableName, pk, sqlLiteral(c.RecordID)), nil
	}

	data, err := decodePayload(c)
	if err != nil {
		return "", err
	}

	cols := sortedColumns(data)
	switch c.Operation {
	case store.OpInsert:
		names := make([]string, len(cols))
		vals := make([]string, len(cols))
		for i, col := range cols {
			names[i] = "`" + col + "`"
			vals[i] = sqlLiteral(data[col])
		}
		return fmt.Sprintf("INSERT INTO `%s` (%s) VALUES (%s)",
			c.TableName, strings.Join(names, ", "), strings.Join(vals, ", ")), nil

	case store.OpUpdate:
		sets := make([]string, 0, len(cols))
		for _, col := range cols {
			if col == pk {
				continue
			}
			sets = append(sets, fmt.Sprintf("`%s` = %s", col, sqlLiteral(data[col])))
		}
		return fmt.Sprintf("UPDATE `%s` SET %s WHERE `%s` = %s",
			c.TableName, strings.Join(sets, ", "), pk, sqlLiteral(c.RecordID)), nil
	}

	return "", fmt.Errorf("unknown change operation %q", c.Operation)
}

// ExportCSV renders one CSV document per affected table. The header starts
// with the operation and record id pseudo-columns, then the data columns in
// sorted order, so re-imports are deterministic across runs.
func (e *Exporter) ExportCSV(changes []*store.PendingChange) (map[string]string, error) {
	byTable := make(map[string][]*store.PendingChange)
	for _, c := range e.ordered(changes) {
		byTable[c.TableName] = append(byTable[c.TableName], c)
	}

	docs := make(map[string]string, len(byTable))
	for table, tableChanges := range byTable {
		doc, err := e.csvDocument(tableChanges)
		if err != nil {
			return nil, fmt.Errorf("failed to export table %s: %w", table, err)
		}
		docs[table] = doc
	}
	return docs, nil
}

// Pseudo-columns prefixed so they cannot collide with entity columns.
const (
	csvColOperation = "_operation"
	csvColRecordID  = "_record_id"
)

func (e *Exporter) csvDocument(changes []*store.PendingChange) (string, error) {
	colSet := make(map[string]bool)
	rows := make([]map[string]interface{}, len(changes))
	for i, c := range changes {
		if c.Operation == store.OpDelete {
			continue
		}
		data, err := decodePayload(c)
		if err != nil {
			return "", err
		}
		rows[i] = data
		for col := range data {
			colSet[col] = true
		}
	}

	header := []string{csvColOperation, csvColRecordID}
	header = append(header, sortedColumns(colSet)...)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return "", err
	}

	for i, c := range changes {
		row := make([]string, len(header))
		row[0] = c.Operation
		row[1] = c.RecordID
		for j, col := range header[2:] {
			if rows[i] != nil {
				row[j+2] = csvValue(rows[i][col])
			}
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	w.Flush()
	return buf.String(), w.Error()
}

func decodePayload(c *store.PendingChange) (map[string]interface{}, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(c.Payload, &data); err != nil {
		return nil, fmt.Errorf("malformed payload for %s/%s: %w", c.TableName, c.RecordID, err)
	}
	return data, nil
}

func sortedColumns[V any](m map[string]V) []string {
	cols := make([]string, 0, len(m))
	for col := range m {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func sqlLiteral(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case string:
		return quoteString(val)
	default:
		return quoteString(fmt.Sprintf("%v", val))
	}
}

func quoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", "''")
	return "'" + s + "'"
}

func csvValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
