package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"fieldsync-service/internal/config"
)

// RecordSource reads and writes business records generically, by table
// descriptor. The sync engine never knows entity semantics; it sees tables
// of rows keyed by a primary key with an optional last-modified column.
type RecordSource struct {
	db     *Database
	tables []config.TableConfig
}

// Record is one business row in transport form. Data holds every column as
// a string value; UpdatedAt is parsed from the table's timestamp column
// when one is configured.
type Record struct {
	Table     string                 `json:"table"`
	ID        string                 `json:"recordId"`
	Data      map[string]interface{} `json:"data"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

func NewRecordSource(db *Database, tables []config.TableConfig) *RecordSource {
	return &RecordSource{db: db, tables: tables}
}

func (s *RecordSource) Tables() []config.TableConfig {
	return s.tables
}

// Snapshot reads every row of every configured table.
func (s *RecordSource) Snapshot(ctx context.Context) ([]Record, error) {
	var records []Record
	for _, t := range s.tables {
		rows, err := s.snapshotTable(ctx, t)
		if err != nil {
			return nil, err
		}
		records = append(records, rows...)
	}
	return records, nil
}

func (s *RecordSource) snapshotTable(ctx context.Context, t config.TableConfig) ([]Record, error) {
	rows, err := s.db.DB.QueryContext(ctx, fmt.Sprintf("SELECT * FROM `%s`", t.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot table %s: %w", t.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []Record
	for rows.Next() {
		raw := make([]sql.RawBytes, len(cols))
		dest := make([]interface{}, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		rec := Record{Table: t.Name, Data: make(map[string]interface{}, len(cols))}
		for i, col := range cols {
			if raw[i] == nil {
				rec.Data[col] = nil
				continue
			}
			val := string(raw[i])
			rec.Data[col] = val
			if col == t.PrimaryKey {
				rec.ID = val
			}
			if t.TimestampColumn != "" && col == t.TimestampColumn {
				if ts, perr := parseTimestamp(val); perr == nil {
					rec.UpdatedAt = ts
				}
			}
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Apply overwrites one local row with the given record, inserting it if it
// does not exist yet. Used by the conflict resolver when the remote or a
// merged payload wins.
func (s *RecordSource) Apply(ctx context.Context, rec Record) error {
	cols := make([]string, 0, len(rec.Data))
	for col := range rec.Data {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, col := range cols {
		quoted[i] = "`" + col + "`"
		marks[i] = "?"
		args[i] = rec.Data[col]
	}

	query := fmt.Sprintf("REPLACE INTO `%s` (%s) VALUES (%s)",
		rec.Table, strings.Join(quoted, ", "), strings.Join(marks, ", "))

	if _, err := s.db.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to apply record %s/%s: %w", rec.Table, rec.ID, err)
	}
	return nil
}

func parseTimestamp(val string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, val); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", val)
}
