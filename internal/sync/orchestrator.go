package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fieldsync-service/internal/checksum"
	"fieldsync-service/internal/config"
	"fieldsync-service/internal/database"
	"fieldsync-service/internal/store"
)

// Source provides generic access to the local business records.
type Source interface {
	Snapshot(ctx context.Context) ([]database.Record, error)
	Apply(ctx context.Context, rec database.Record) error
	Tables() []config.TableConfig
}

// Peer is the transport to a remote receiver. Satisfied by PeerClient.
type Peer interface {
	PeerSender
	SendFiles(ctx context.Context, target Target, pkg *FilePackage) (*FilesResult, error)
	SendCombined(ctx context.Context, target Target, payload *DatabasePayload, pkg *FilePackage) (*CombinedResult, error)
	PullState(ctx context.Context, target Target, pull PullRequest) ([]PulledRecord, error)
}

// Orchestrator drives sync runs end to end. Each run executes its stages
// strictly sequentially on its own goroutine; across runs, at most one is
// active per configuration at any time.
type Orchestrator struct {
	store    store.Store
	source   Source
	exporter *Exporter
	files    *FileAgent
	peer     Peer
	detector *Detector
	resolver *Resolver
	log      *zap.Logger

	mu     sync.Mutex
	active map[string]string // configuration id -> run id
}

func NewOrchestrator(st store.Store, source Source, files *FileAgent, peer Peer, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		store:    st,
		source:   source,
		exporter: NewExporter(source.Tables()),
		files:    files,
		peer:     peer,
		detector: NewDetector(),
		resolver: NewResolver(st, source, peer, log),
		log:      log,
	}
}

// Resolver exposes the orchestrator's resolver for the manual resolution
// endpoint, so manual and automatic resolution share one code path.
func (o *Orchestrator) Resolver() *Resolver {
	return o.resolver
}

// Execute accepts a run for the named configuration and returns its run id
// immediately; progress is observed through sync history. Returns
// ErrRunInFlight while a previous run for the same configuration has not
// reached a terminal state.
func (o *Orchestrator) Execute(ctx context.Context, configID, syncType string) (string, error) {
	cfg, err := o.store.GetConfiguration(ctx, configID)
	if err != nil {
		if err == store.ErrNotFound {
			return "", ErrConfigurationNotFound
		}
		return "", err
	}

	if err := ValidateConfiguration(cfg); err != nil {
		return "", err
	}

	doDB, doFiles, actualType, err := effectiveType(cfg, syncType)
	if err != nil {
		return "", err
	}

	runID := uuid.New().String()
	if !o.acquire(configID, runID) {
		return "", ErrRunInFlight
	}

	hist := &store.SyncHistory{
		ID:              runID,
		ConfigurationID: configID,
		SyncType:        actualType,
		Direction:       cfg.SyncDirection,
		Status:          store.StatusInProgress,
		StartedAt:       time.Now(),
	}
	if err := o.store.CreateHistory(ctx, hist); err != nil {
		o.release(configID)
		return "", err
	}

	go o.run(cfg, hist, doDB, doFiles)

	return runID, nil
}

// Active reports whether the configuration has a run in flight.
func (o *Orchestrator) Active(configID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[configID]
	return ok
}

func (o *Orchestrator) acquire(configID, runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		o.active = make(map[string]string)
	}
	if _, ok := o.active[configID]; ok {
		return false
	}
	o.active[configID] = runID
	return true
}

func (o *Orchestrator) release(configID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, configID)
}

// run executes one accepted run to a terminal state. The configuration
// lease is released on every exit path, panics included, so a crashed run
// cannot wedge future executions.
func (o *Orchestrator) run(cfg *store.SyncConfiguration, hist *store.SyncHistory, doDB, doFiles bool) {
	ctx := context.Background()
	defer o.release(cfg.ID)
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("Sync run panicked", zap.String("runID", hist.ID), zap.Any("panic", r))
			o.fail(ctx, hist, fmt.Errorf("internal error: %v", r))
		}
	}()

	log := o.log.With(
		zap.String("runID", hist.ID),
		zap.String("configurationID", cfg.ID),
		zap.String("server", cfg.ServerName),
	)
	log.Info("Starting sync run", zap.String("syncType", hist.SyncType))

	// Exporting
	payload, maxSeq, changes, err := o.export(ctx, cfg, doDB)
	if err != nil {
		o.fail(ctx, hist, err)
		return
	}

	var pkg *FilePackage
	if doFiles {
		known, kerr := o.store.GetAppliedChecksums(ctx, cfg.ID)
		if kerr != nil {
			o.fail(ctx, hist, kerr)
			return
		}
		pkg, err = o.files.Package(cfg.OrganizationID, fileChecksums(known))
		if err != nil {
			o.fail(ctx, hist, err)
			return
		}
		hist.TotalFiles = len(pkg.Manifest) + pkg.Skipped
	}
	hist.TotalRecords = len(changes)

	if payload.Empty() && (pkg == nil || len(pkg.Manifest) == 0) {
		log.Info("Nothing to sync")
		o.complete(ctx, cfg, hist, pkg)
		return
	}

	// Transmitting / Applying: the remote applies synchronously within the
	// same request and reports the outcome.
	target := TargetFor(cfg)
	applied, fileResults, err := o.transmit(ctx, target, payload, pkg, doDB, doFiles)
	if err != nil {
		o.fail(ctx, hist, err)
		return
	}
	hist.RecordsSynced = applied
	hist.RecordsFailed = hist.TotalRecords - applied

	if pkg != nil && len(pkg.Manifest) > 0 {
		verified, verr := verifyFileChecksums(pkg.Manifest, fileResults)
		if verr != nil {
			o.fail(ctx, hist, verr)
			return
		}
		hist.FilesSynced = verified + pkg.Skipped
	} else if pkg != nil {
		hist.FilesSynced = pkg.Skipped
	}

	// The batch is applied remotely; drain the outbox and remember what
	// both sides now agree on.
	if doDB && len(changes) > 0 {
		if err := o.store.ClearPendingChanges(ctx, maxSeq); err != nil {
			log.Warn("Failed to clear pending changes", zap.Error(err))
		}
		o.recordAppliedChecksums(ctx, cfg.ID, changes)
	}
	if pkg != nil {
		for _, f := range pkg.Manifest {
			if err := o.store.SetAppliedChecksum(ctx, cfg.ID, fileTable, f.Filename, f.Checksum); err != nil {
				log.Warn("Failed to record file checksum", zap.Error(err))
			}
		}
	}

	// Reconciling: one-way runs skip this stage entirely.
	if cfg.SyncDirection == store.DirectionBidirectional {
		if err := o.reconcile(ctx, cfg, hist, log); err != nil {
			o.fail(ctx, hist, err)
			return
		}
	}

	o.complete(ctx, cfg, hist, pkg)
	log.Info("Sync run finished",
		zap.String("status", hist.Status),
		zap.Int("recordsSynced", hist.RecordsSynced),
		zap.Int("filesSynced", hist.FilesSynced),
		zap.Int("conflictsDetected", hist.ConflictsDetected),
	)
}

func (o *Orchestrator) export(ctx context.Context, cfg *store.SyncConfiguration, doDB bool) (*DatabasePayload, int64, []*store.PendingChange, error) {
	payload := &DatabasePayload{
		OrganizationID: cfg.OrganizationID,
		Format:         cfg.ExportFormat,
		TableMeta:      o.source.Tables(),
	}
	if !doDB {
		return payload, 0, nil, nil
	}

	changes, err := o.store.ListPendingChanges(ctx)
	if err != nil {
		return nil, 0, nil, err
	}
	if len(changes) == 0 {
		return payload, 0, nil, nil
	}

	switch cfg.ExportFormat {
	case store.FormatCSV:
		payload.Tables, err = o.exporter.ExportCSV(changes)
	default:
		payload.Statements, err = o.exporter.ExportSQL(changes)
	}
	if err != nil {
		return nil, 0, nil, err
	}
	payload.RecordCount = len(changes)

	return payload, changes[len(changes)-1].Seq, changes, nil
}

func (o *Orchestrator) transmit(ctx context.Context, target Target, payload *DatabasePayload, pkg *FilePackage, doDB, doFiles bool) (int, []FileResult, error) {
	hasDB := doDB && !payload.Empty()
	hasFiles := doFiles && pkg != nil && len(pkg.Manifest) > 0

	switch {
	case hasDB && hasFiles:
		result, err := o.peer.SendCombined(ctx, target, payload, pkg)
		if err != nil {
			return 0, nil, err
		}
		applied := 0
		var files []FileResult
		if result.Database != nil {
			applied = result.Database.RecordsApplied
		}
		if result.Files != nil {
			files = result.Files.Files
		}
		return applied, files, nil

	case hasDB:
		result, err := o.peer.SendDatabase(ctx, target, payload)
		if err != nil {
			return 0, nil, err
		}
		return result.RecordsApplied, nil, nil

	case hasFiles:
		result, err := o.peer.SendFiles(ctx, target, pkg)
		if err != nil {
			return 0, nil, err
		}
		return 0, result.Files, nil
	}

	return 0, nil, nil
}

func (o *Orchestrator) reconcile(ctx context.Context, cfg *store.SyncConfiguration, hist *store.SyncHistory, log *zap.Logger) error {
	remote, err := o.peer.PullState(ctx, TargetFor(cfg), PullRequest{
		OrganizationID: cfg.OrganizationID,
		Tables:         o.source.Tables(),
	})
	if err != nil {
		return err
	}

	local, err := o.source.Snapshot(ctx)
	if err != nil {
		return err
	}

	known, err := o.store.GetAppliedChecksums(ctx, cfg.ID)
	if err != nil {
		return err
	}

	cmp := Comparison{
		UseTimestamp: cfg.UseTimestampComparison,
		UseChecksum:  cfg.UseChecksumComparison,
		Known:        known,
	}
	if cfg.LastSyncAt.Valid {
		cmp.LastSync = cfg.LastSyncAt.Time
	}

	conflicts := o.detector.Detect(hist.ID, cfg.ID, cmp, local, remote)
	hist.ConflictsDetected = len(conflicts)

	auto := AutoResolution(cfg.ConflictResolution)
	for _, conflict := range conflicts {
		if err := o.store.CreateConflict(ctx, conflict); err != nil {
			return err
		}
		log.Info("Detected conflict",
			zap.String("table", conflict.TableName),
			zap.String("recordID", conflict.RecordID),
			zap.String("conflictType", conflict.ConflictType),
		)

		// Non-manual policies resolve immediately; no conflict for such
		// configurations ever stays pending.
		if auto == "" {
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, resolveDeadline)
		_, rerr := o.resolver.Resolve(rctx, conflict.ID, auto, nil)
		cancel()
		if rerr != nil {
			return rerr
		}
	}

	return nil
}

func (o *Orchestrator) recordAppliedChecksums(ctx context.Context, configID string, changes []*store.PendingChange) {
	for _, c := range changes {
		if c.Operation == store.OpDelete {
			continue
		}
		var data map[string]interface{}
		if err := json.Unmarshal(c.Payload, &data); err != nil {
			continue
		}
		sum := checksum.Record(data)
		if err := o.store.SetAppliedChecksum(ctx, configID, c.TableName, c.RecordID, sum); err != nil {
			o.log.Warn("Failed to record applied checksum",
				zap.String("table", c.TableName), zap.Error(err))
		}
	}
}

// complete writes the terminal history record. A run with unresolved
// conflicts finishes as "conflict" even though the transfer succeeded.
func (o *Orchestrator) complete(ctx context.Context, cfg *store.SyncConfiguration, hist *store.SyncHistory, pkg *FilePackage) {
	now := time.Now()
	pending, err := o.countPendingConflicts(ctx, hist.ID)
	if err != nil {
		o.log.Warn("Failed to count pending conflicts", zap.Error(err))
	}

	hist.Status = store.StatusCompleted
	if pending > 0 {
		hist.Status = store.StatusConflict
	}
	hist.CompletedAt = sql.NullTime{Time: now, Valid: true}
	hist.DurationMS = now.Sub(hist.StartedAt).Milliseconds()

	if err := o.store.UpdateHistory(ctx, hist); err != nil {
		o.log.Error("Failed to finalize history", zap.String("runID", hist.ID), zap.Error(err))
	}

	cfg.LastSyncAt = sql.NullTime{Time: now, Valid: true}
	if err := o.store.UpdateConfiguration(ctx, cfg); err != nil {
		o.log.Warn("Failed to update last sync timestamp", zap.Error(err))
	}
}

func (o *Orchestrator) fail(ctx context.Context, hist *store.SyncHistory, runErr error) {
	now := time.Now()
	hist.Status = store.StatusFailed
	hist.CompletedAt = sql.NullTime{Time: now, Valid: true}
	hist.DurationMS = now.Sub(hist.StartedAt).Milliseconds()
	hist.ErrorMessage = sql.NullString{String: runErr.Error(), Valid: true}

	if err := o.store.UpdateHistory(ctx, hist); err != nil {
		o.log.Error("Failed to record run failure", zap.String("runID", hist.ID), zap.Error(err))
	}

	o.log.Error("Sync run failed", zap.String("runID", hist.ID), zap.Error(runErr))
}

func (o *Orchestrator) countPendingConflicts(ctx context.Context, historyID string) (int, error) {
	conflicts, err := o.store.ListConflicts(ctx, false, 1000, 0)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, c := range conflicts {
		if c.HistoryID == historyID {
			count++
		}
	}
	return count, nil
}

// fileTable is the pseudo-table under which per-file checksums are stored
// in applied_checksums.
const fileTable = "_files"

func fileChecksums(known map[string]string) map[string]string {
	out := make(map[string]string)
	prefix := fileTable + "/"
	for key, sum := range known {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out[key[len(prefix):]] = sum
		}
	}
	return out
}

func verifyFileChecksums(manifest []FileInfo, results []FileResult) (int, error) {
	returned := make(map[string]string, len(results))
	for _, r := range results {
		returned[r.Filename] = r.Checksum
	}

	verified := 0
	for _, f := range manifest {
		got, ok := returned[f.Filename]
		if !ok {
			return verified, fmt.Errorf("receiver did not acknowledge file %s", f.Filename)
		}
		if got != f.Checksum {
			return verified, fmt.Errorf("checksum mismatch for %s: sent %s, receiver stored %s",
				f.Filename, f.Checksum, got)
		}
		verified++
	}
	return verified, nil
}

// ValidateConfiguration rejects configurations too incomplete to run: a
// display name, an absolute server URL and at least one credential are
// required.
func ValidateConfiguration(cfg *store.SyncConfiguration) error {
	if cfg.ServerName == "" {
		return &ConfigurationError{Reason: "serverName is required"}
	}
	if cfg.ServerURL == "" {
		return &ConfigurationError{Reason: "serverUrl is required"}
	}
	u, err := url.Parse(cfg.ServerURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return &ConfigurationError{Reason: "serverUrl must be an absolute URL"}
	}
	if cfg.APIKey == "" && (cfg.Username == "" || cfg.Password == "") {
		return &ConfigurationError{Reason: "an API key or username/password credential is required"}
	}
	return nil
}

func effectiveType(cfg *store.SyncConfiguration, syncType string) (doDB, doFiles bool, actual string, err error) {
	switch syncType {
	case store.SyncTypeDatabase:
		doDB = cfg.SyncDatabase
	case store.SyncTypeFiles:
		doFiles = cfg.SyncFiles
	case store.SyncTypeBoth:
		doDB = cfg.SyncDatabase
		doFiles = cfg.SyncFiles
	default:
		return false, false, "", &ConfigurationError{Reason: fmt.Sprintf("unknown sync type %q", syncType)}
	}

	switch {
	case doDB && doFiles:
		actual = store.SyncTypeBoth
	case doDB:
		actual = store.SyncTypeDatabase
	case doFiles:
		actual = store.SyncTypeFiles
	default:
		return false, false, "", &ConfigurationError{Reason: "configuration scope does not cover the requested sync type"}
	}

	return doDB, doFiles, actual, nil
}
