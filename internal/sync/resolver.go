package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"fieldsync-service/internal/checksum"
	"fieldsync-service/internal/database"
	"fieldsync-service/internal/store"
)

// RecordApplier overwrites one local business record.
type RecordApplier interface {
	Apply(ctx context.Context, rec database.Record) error
}

// PeerSender pushes a single-record payload to the peer. Satisfied by
// PeerClient; narrowed so tests can substitute a fake.
type PeerSender interface {
	SendDatabase(ctx context.Context, target Target, payload *DatabasePayload) (*ApplyResult, error)
}

// Resolver applies a resolution to a detected conflict: the losing side is
// overwritten with the winning side's captured snapshot. Resolving an
// already-resolved conflict is a no-op returning the existing resolution.
type Resolver struct {
	store  store.Store
	source RecordApplier
	peer   PeerSender
	log    *zap.Logger
}

func NewResolver(st store.Store, source RecordApplier, peer PeerSender, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{store: st, source: source, peer: peer, log: log}
}

// Resolve picks the winner for one conflict. merged must be supplied for
// resolved-merged and is ignored otherwise.
func (r *Resolver) Resolve(ctx context.Context, conflictID, resolution string, merged map[string]interface{}) (*store.SyncConflict, error) {
	conflict, err := r.store.GetConflict(ctx, conflictID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrConflictNotFound
		}
		return nil, err
	}

	if conflict.ResolutionStatus != store.ResolutionPending {
		return conflict, nil
	}

	winner, err := winningData(conflict, resolution, merged)
	if err != nil {
		return nil, err
	}

	cfg, err := r.store.GetConfiguration(ctx, conflict.ConfigurationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration for conflict %s: %w", conflictID, err)
	}

	switch resolution {
	case store.ResolvedLocal:
		// Local wins: overwrite the remote copy.
		if err := r.pushToPeer(ctx, cfg, conflict, winner); err != nil {
			return nil, err
		}
	case store.ResolvedRemote:
		// Remote wins: overwrite the local copy.
		if err := r.applyLocal(ctx, conflict, winner); err != nil {
			return nil, err
		}
	case store.ResolvedMerged:
		// Merged payload becomes authoritative on both sides.
		if err := r.applyLocal(ctx, conflict, winner); err != nil {
			return nil, err
		}
		if err := r.pushToPeer(ctx, cfg, conflict, winner); err != nil {
			return nil, err
		}
	}

	winnerBytes, _ := json.Marshal(winner)
	if err := r.store.ResolveConflict(ctx, conflictID, resolution, winnerBytes); err != nil {
		return nil, err
	}

	sum := checksum.Record(winner)
	if err := r.store.SetAppliedChecksum(ctx, conflict.ConfigurationID, conflict.TableName, conflict.RecordID, sum); err != nil {
		r.log.Warn("Failed to record applied checksum after resolution",
			zap.String("conflictID", conflictID), zap.Error(err))
	}

	r.log.Info("Resolved conflict",
		zap.String("conflictID", conflictID),
		zap.String("table", conflict.TableName),
		zap.String("recordID", conflict.RecordID),
		zap.String("resolution", resolution),
	)

	return r.store.GetConflict(ctx, conflictID)
}

func winningData(conflict *store.SyncConflict, resolution string, merged map[string]interface{}) (map[string]interface{}, error) {
	var raw json.RawMessage
	switch resolution {
	case store.ResolvedLocal:
		raw = conflict.LocalData
	case store.ResolvedRemote:
		raw = conflict.RemoteData
	case store.ResolvedMerged:
		if merged == nil {
			return nil, &ConfigurationError{Reason: "resolved-merged requires a merged payload"}
		}
		return merged, nil
	default:
		return nil, fmt.Errorf("unknown resolution %q", resolution)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("corrupt conflict snapshot: %w", err)
	}
	return data, nil
}

func (r *Resolver) applyLocal(ctx context.Context, conflict *store.SyncConflict, data map[string]interface{}) error {
	return r.source.Apply(ctx, database.Record{
		Table: conflict.TableName,
		ID:    conflict.RecordID,
		Data:  data,
	})
}

func (r *Resolver) pushToPeer(ctx context.Context, cfg *store.SyncConfiguration, conflict *store.SyncConflict, data map[string]interface{}) error {
	cols := sortedColumns(data)
	names := make([]string, len(cols))
	vals := make([]string, len(cols))
	for i, col := range cols {
		names[i] = "`" + col + "`"
		vals[i] = sqlLiteral(data[col])
	}
	stmt := fmt.Sprintf("REPLACE INTO `%s` (%s) VALUES (%s)",
		conflict.TableName, strings.Join(names, ", "), strings.Join(vals, ", "))

	payload := &DatabasePayload{
		OrganizationID: cfg.OrganizationID,
		Format:         store.FormatSQL,
		Statements:     []string{stmt},
		RecordCount:    1,
	}

	result, err := r.peer.SendDatabase(ctx, TargetFor(cfg), payload)
	if err != nil {
		return err
	}
	if !result.Success {
		return &ApplyError{Remote: result.Error}
	}
	return nil
}

// TargetFor builds the peer target from a stored configuration.
func TargetFor(cfg *store.SyncConfiguration) Target {
	return Target{
		BaseURL:        cfg.ServerURL,
		APIKey:         cfg.APIKey,
		Username:       cfg.Username,
		Password:       cfg.Password,
		OrganizationID: cfg.OrganizationID,
	}
}

// AutoResolution maps a configuration policy to the resolution it implies,
// or "" for manual policies.
func AutoResolution(policy string) string {
	switch policy {
	case store.PolicyAutoLocal:
		return store.ResolvedLocal
	case store.PolicyAutoRemote:
		return store.ResolvedRemote
	}
	return ""
}

// resolveDeadline bounds the automatic resolution performed during
// reconciliation so a slow peer cannot stall run finalization.
const resolveDeadline = 30 * time.Second
