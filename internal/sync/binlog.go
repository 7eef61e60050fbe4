package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-mysql-org/go-mysql/canal"
	"go.uber.org/zap"

	"fieldsync-service/internal/config"
	"fieldsync-service/internal/logger"
	"fieldsync-service/internal/store"
)

// Changefeed tails the local MySQL binlog and records every row mutation of
// a synced table into the pending-change outbox, where the next run's
// export picks it up. Optional; when disabled the application layer is
// responsible for appending outbox entries.
type Changefeed struct {
	cfg    config.DatabaseConfig
	canal  *canal.Canal
	store  store.Store
	tables map[string]config.TableConfig
	ctx    context.Context
	cancel context.CancelFunc
}

func NewChangefeed(dbCfg config.DatabaseConfig, feedCfg config.ChangefeedConfig, tables []config.TableConfig, st store.Store) (*Changefeed, error) {
	tableMap := make(map[string]config.TableConfig)
	var tableRegex []string
	for _, t := range tables {
		tableMap[t.Name] = t
		tableRegex = append(tableRegex, fmt.Sprintf("^%s\\.%s$", dbCfg.Database, t.Name))
	}

	user := dbCfg.ReplicationUser
	password := dbCfg.ReplicationPassword
	if user == "" {
		user = dbCfg.User
		password = dbCfg.Password
	}

	c, err := canal.NewCanal(&canal.Config{
		Addr:     fmt.Sprintf("%s:%d", dbCfg.Host, dbCfg.Port),
		User:     user,
		Password: password,
		Flavor:   "mysql",
		ServerID: feedCfg.ServerID,
		Dump: canal.DumpConfig{
			ExecutionPath: "", // tail the binlog only, never dump
		},
		IncludeTableRegex: tableRegex,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create canal: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	f := &Changefeed{
		cfg:    dbCfg,
		canal:  c,
		store:  st,
		tables: tableMap,
		ctx:    ctx,
		cancel: cancel,
	}

	c.SetEventHandler(&changeHandler{feed: f})

	return f, nil
}

func (f *Changefeed) Start() error {
	logger.Log.Info("Starting changefeed", zap.String("host", f.cfg.Host))

	go func() {
		if err := f.canal.Run(); err != nil {
			logger.Log.Error("Changefeed run error", zap.Error(err))
		}
	}()

	return nil
}

func (f *Changefeed) Stop() {
	f.cancel()
	f.canal.Close()
	logger.Log.Info("Stopped changefeed")
}

type changeHandler struct {
	canal.DummyEventHandler
	feed *Changefeed
}

func (h *changeHandler) OnRow(e *canal.RowsEvent) error {
	table, ok := h.feed.tables[e.Table.Name]
	if !ok {
		return nil
	}

	var op string
	rows := e.Rows
	switch e.Action {
	case canal.InsertAction:
		op = store.OpInsert
	case canal.UpdateAction:
		op = store.OpUpdate
		// Update events carry old/new pairs; keep the new images only.
		var updated [][]interface{}
		for i := 1; i < len(rows); i += 2 {
			updated = append(updated, rows[i])
		}
		rows = updated
	case canal.DeleteAction:
		op = store.OpDelete
	default:
		return nil
	}

	for _, row := range rows {
		change, err := h.changeFor(table, e, op, row)
		if err != nil {
			logger.Log.Error("Failed to capture row change",
				zap.String("table", e.Table.Name), zap.Error(err))
			continue
		}
		if err := h.feed.store.AppendChange(h.feed.ctx, change); err != nil {
			return err
		}
	}

	return nil
}

func (h *changeHandler) changeFor(table config.TableConfig, e *canal.RowsEvent, op string, row []interface{}) (*store.PendingChange, error) {
	data := make(map[string]interface{}, len(e.Table.Columns))
	recordID := ""
	for i, col := range e.Table.Columns {
		if i >= len(row) {
			break
		}
		data[col.Name] = row[i]
		if col.Name == table.PrimaryKey {
			recordID = fmt.Sprintf("%v", row[i])
		}
	}
	if recordID == "" {
		return nil, fmt.Errorf("row in %s has no %s value", table.Name, table.PrimaryKey)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &store.PendingChange{
		TableName: table.Name,
		RecordID:  recordID,
		Operation: op,
		Payload:   payload,
	}, nil
}

func (h *changeHandler) String() string {
	return "ChangefeedHandler"
}
