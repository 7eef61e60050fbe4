package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"fieldsync-service/internal/config"
	"fieldsync-service/internal/logger"
)

type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(cfg config.DatabaseConfig) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	// Retry loop for Ping
	maxRetries := 30
	for i := 0; i < maxRetries; i++ {
		err = db.Ping()
		if err == nil {
			break
		}
		logger.Log.Info("Waiting for state DB...", zap.Error(err), zap.Int("attempt", i+1))
		time.Sleep(1 * time.Second)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to ping mysql after retries: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

const configurationColumns = `id, server_name, server_url, api_key, username, password, organization_id,
	sync_direction, sync_database, sync_files, export_format, conflict_resolution,
	use_timestamp_comparison, use_checksum_comparison, retry_failed, max_retries,
	active, last_sync_at, created_at, updated_at`

func scanConfiguration(row interface{ Scan(...interface{}) error }) (*SyncConfiguration, error) {
	var c SyncConfiguration
	err := row.Scan(
		&c.ID,
		&c.ServerName,
		&c.ServerURL,
		&c.APIKey,
		&c.Username,
		&c.Password,
		&c.OrganizationID,
		&c.SyncDirection,
		&c.SyncDatabase,
		&c.SyncFiles,
		&c.ExportFormat,
		&c.ConflictResolution,
		&c.UseTimestampComparison,
		&c.UseChecksumComparison,
		&c.RetryFailed,
		&c.MaxRetries,
		&c.Active,
		&c.LastSyncAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *MySQLStore) CreateConfiguration(ctx context.Context, cfg *SyncConfiguration) error {
	query := `INSERT INTO sync_configurations (` + configurationColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())`

	_, err := s.db.ExecContext(ctx, query,
		cfg.ID,
		cfg.ServerName,
		cfg.ServerURL,
		cfg.APIKey,
		cfg.Username,
		cfg.Password,
		cfg.OrganizationID,
		cfg.SyncDirection,
		cfg.SyncDatabase,
		cfg.SyncFiles,
		cfg.ExportFormat,
		cfg.ConflictResolution,
		cfg.UseTimestampComparison,
		cfg.UseChecksumComparison,
		cfg.RetryFailed,
		cfg.MaxRetries,
		cfg.Active,
		cfg.LastSyncAt,
	)

	return err
}

func (s *MySQLStore) UpdateConfiguration(ctx context.Context, cfg *SyncConfiguration) error {
	query := `UPDATE sync_configurations SET
			  server_name = ?, server_url = ?, api_key = ?, username = ?, password = ?,
			  organization_id = ?, sync_direction = ?, sync_database = ?, sync_files = ?,
			  export_format = ?, conflict_resolution = ?, use_timestamp_comparison = ?,
			  use_checksum_comparison = ?, retry_failed = ?, max_retries = ?, active = ?,
			  last_sync_at = ?, updated_at = NOW()
			  WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query,
		cfg.ServerName,
		cfg.ServerURL,
		cfg.APIKey,
		cfg.Username,
		cfg.Password,
		cfg.OrganizationID,
		cfg.SyncDirection,
		cfg.SyncDatabase,
		cfg.SyncFiles,
		cfg.ExportFormat,
		cfg.ConflictResolution,
		cfg.UseTimestampComparison,
		cfg.UseChecksumComparison,
		cfg.RetryFailed,
		cfg.MaxRetries,
		cfg.Active,
		cfg.LastSyncAt,
		cfg.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConfiguration cascades to the configuration's history, conflicts
// and applied-checksum rows.
func (s *MySQLStore) DeleteConfiguration(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, query := range []string{
		`DELETE FROM sync_conflicts WHERE configuration_id = ?`,
		`DELETE FROM sync_history WHERE configuration_id = ?`,
		`DELETE FROM applied_checksums WHERE configuration_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, query, id); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM sync_configurations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func (s *MySQLStore) GetConfiguration(ctx context.Context, id string) (*SyncConfiguration, error) {
	query := `SELECT ` + configurationColumns + ` FROM sync_configurations WHERE id = ?`

	cfg, err := scanConfiguration(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *MySQLStore) ListConfigurations(ctx context.Context) ([]*SyncConfiguration, error) {
	query := `SELECT ` + configurationColumns + ` FROM sync_configurations ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*SyncConfiguration
	for rows.Next() {
		cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}

const historyColumns = `id, configuration_id, sync_type, direction, status, total_records,
	records_synced, records_failed, conflicts_detected, total_files, files_synced,
	started_at, completed_at, duration_ms, error_message`

func scanHistory(row interface{ Scan(...interface{}) error }) (*SyncHistory, error) {
	var h SyncHistory
	err := row.Scan(
		&h.ID,
		&h.ConfigurationID,
		&h.SyncType,
		&h.Direction,
		&h.Status,
		&h.TotalRecords,
		&h.RecordsSynced,
		&h.RecordsFailed,
		&h.ConflictsDetected,
		&h.TotalFiles,
		&h.FilesSynced,
		&h.StartedAt,
		&h.CompletedAt,
		&h.DurationMS,
		&h.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *MySQLStore) CreateHistory(ctx context.Context, h *SyncHistory) error {
	query := `INSERT INTO sync_history (` + historyColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		h.ID,
		h.ConfigurationID,
		h.SyncType,
		h.Direction,
		h.Status,
		h.TotalRecords,
		h.RecordsSynced,
		h.RecordsFailed,
		h.ConflictsDetected,
		h.TotalFiles,
		h.FilesSynced,
		h.StartedAt,
		h.CompletedAt,
		h.DurationMS,
		h.ErrorMessage,
	)

	return err
}

func (s *MySQLStore) UpdateHistory(ctx context.Context, h *SyncHistory) error {
	query := `UPDATE sync_history SET
			  status = ?, total_records = ?, records_synced = ?, records_failed = ?,
			  conflicts_detected = ?, total_files = ?, files_synced = ?,
			  completed_at = ?, duration_ms = ?, error_message = ?
			  WHERE id = ?`

	_, err := s.db.ExecContext(ctx, query,
		h.Status,
		h.TotalRecords,
		h.RecordsSynced,
		h.RecordsFailed,
		h.ConflictsDetected,
		h.TotalFiles,
		h.FilesSynced,
		h.CompletedAt,
		h.DurationMS,
		h.ErrorMessage,
		h.ID,
	)

	return err
}

func (s *MySQLStore) ListHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM sync_history
			  ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectHistory(rows)
}

func (s *MySQLStore) ListHistoryForConfiguration(ctx context.Context, configID string, limit int) ([]*SyncHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM sync_history
			  WHERE configuration_id = ? ORDER BY started_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, configID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectHistory(rows)
}

func collectHistory(rows *sql.Rows) ([]*SyncHistory, error) {
	var history []*SyncHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

const conflictColumns = `id, history_id, configuration_id, table_name, record_id, conflict_type,
	local_data, remote_data, local_timestamp, remote_timestamp, local_checksum,
	remote_checksum, resolution_status, resolved_data, detected_at, resolved_at`

func scanConflict(row interface{ Scan(...interface{}) error }) (*SyncConflict, error) {
	var c SyncConflict
	err := row.Scan(
		&c.ID,
		&c.HistoryID,
		&c.ConfigurationID,
		&c.TableName,
		&c.RecordID,
		&c.ConflictType,
		&c.LocalData,
		&c.RemoteData,
		&c.LocalTimestamp,
		&c.RemoteTimestamp,
		&c.LocalChecksum,
		&c.RemoteChecksum,
		&c.ResolutionStatus,
		&c.ResolvedData,
		&c.DetectedAt,
		&c.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *MySQLStore) CreateConflict(ctx context.Context, c *SyncConflict) error {
	query := `INSERT INTO sync_conflicts (` + conflictColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.HistoryID,
		c.ConfigurationID,
		c.TableName,
		c.RecordID,
		c.ConflictType,
		c.LocalData,
		c.RemoteData,
		c.LocalTimestamp,
		c.RemoteTimestamp,
		c.LocalChecksum,
		c.RemoteChecksum,
		c.ResolutionStatus,
		c.ResolvedData,
		c.DetectedAt,
		c.ResolvedAt,
	)

	return err
}

func (s *MySQLStore) GetConflict(ctx context.Context, id string) (*SyncConflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE id = ?`

	c, err := scanConflict(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *MySQLStore) ListConflicts(ctx context.Context, resolved bool, limit, offset int) ([]*SyncConflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts
			  WHERE (resolution_status = 'pending') = ? ORDER BY detected_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, !resolved, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []*SyncConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}

	return conflicts, rows.Err()
}

func (s *MySQLStore) ResolveConflict(ctx context.Context, id, resolution string, resolvedData []byte) error {
	query := `UPDATE sync_conflicts
			  SET resolution_status = ?, resolved_data = ?, resolved_at = NOW()
			  WHERE id = ? AND resolution_status = 'pending'`

	_, err := s.db.ExecContext(ctx, query, resolution, resolvedData, id)
	return err
}

func (s *MySQLStore) AppendChange(ctx context.Context, c *PendingChange) error {
	query := `INSERT INTO pending_changes (table_name, record_id, operation, payload, created_at)
			  VALUES (?, ?, ?, ?, NOW())`

	_, err := s.db.ExecContext(ctx, query, c.TableName, c.RecordID, c.Operation, c.Payload)
	return err
}

func (s *MySQLStore) ListPendingChanges(ctx context.Context) ([]*PendingChange, error) {
	query := `SELECT seq, table_name, record_id, operation, payload, created_at
			  FROM pending_changes ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []*PendingChange
	for rows.Next() {
		var c PendingChange
		err := rows.Scan(&c.Seq, &c.TableName, &c.RecordID, &c.Operation, &c.Payload, &c.CreatedAt)
		if err != nil {
			return nil, err
		}
		changes = append(changes, &c)
	}

	return changes, rows.Err()
}

func (s *MySQLStore) ClearPendingChanges(ctx context.Context, maxSeq int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_changes WHERE seq <= ?`, maxSeq)
	return err
}

func (s *MySQLStore) GetAppliedChecksums(ctx context.Context, configID string) (map[string]string, error) {
	query := `SELECT table_name, record_id, checksum FROM applied_checksums WHERE configuration_id = ?`

	rows, err := s.db.QueryContext(ctx, query, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := make(map[string]string)
	for rows.Next() {
		var table, record, sum string
		if err := rows.Scan(&table, &record, &sum); err != nil {
			return nil, err
		}
		sums[ChecksumKey(table, record)] = sum
	}

	return sums, rows.Err()
}

func (s *MySQLStore) SetAppliedChecksum(ctx context.Context, configID, tableName, recordID, sum string) error {
	query := `INSERT INTO applied_checksums (configuration_id, table_name, record_id, checksum, updated_at)
			  VALUES (?, ?, ?, ?, NOW())
			  ON DUPLICATE KEY UPDATE checksum = VALUES(checksum), updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query, configID, tableName, recordID, sum)
	return err
}
