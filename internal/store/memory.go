package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs tests and the
// "memory" state_storage type for single-node evaluation setups.
type MemoryStore struct {
	mu        sync.Mutex
	configs   map[string]*SyncConfiguration
	history   map[string]*SyncHistory
	conflicts map[string]*SyncConflict
	changes   []*PendingChange
	checksums map[string]map[string]string
	nextSeq   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:   make(map[string]*SyncConfiguration),
		history:   make(map[string]*SyncHistory),
		conflicts: make(map[string]*SyncConflict),
		checksums: make(map[string]map[string]string),
		nextSeq:   1,
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateConfiguration(ctx context.Context, cfg *SyncConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	cp := *cfg
	s.configs[cfg.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateConfiguration(ctx context.Context, cfg *SyncConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.configs[cfg.ID]
	if !ok {
		return ErrNotFound
	}
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = time.Now()
	cp := *cfg
	s.configs[cfg.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteConfiguration(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[id]; !ok {
		return ErrNotFound
	}
	delete(s.configs, id)
	for hid, h := range s.history {
		if h.ConfigurationID == id {
			delete(s.history, hid)
		}
	}
	for cid, c := range s.conflicts {
		if c.ConfigurationID == id {
			delete(s.conflicts, cid)
		}
	}
	delete(s.checksums, id)
	return nil
}

func (s *MemoryStore) GetConfiguration(ctx context.Context, id string) (*SyncConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (s *MemoryStore) ListConfigurations(ctx context.Context) ([]*SyncConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*SyncConfiguration
	for _, cfg := range s.configs {
		cp := *cfg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateHistory(ctx context.Context, h *SyncHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *h
	s.history[h.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateHistory(ctx context.Context, h *SyncHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.history[h.ID]; !ok {
		return ErrNotFound
	}
	cp := *h
	s.history[h.ID] = &cp
	return nil
}

func (s *MemoryStore) ListHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sortedHistory("")
	return pageHistory(out, limit, offset), nil
}

func (s *MemoryStore) ListHistoryForConfiguration(ctx context.Context, configID string, limit int) ([]*SyncHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sortedHistory(configID)
	return pageHistory(out, limit, 0), nil
}

func (s *MemoryStore) sortedHistory(configID string) []*SyncHistory {
	var out []*SyncHistory
	for _, h := range s.history {
		if configID != "" && h.ConfigurationID != configID {
			continue
		}
		cp := *h
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func pageHistory(in []*SyncHistory, limit, offset int) []*SyncHistory {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

func (s *MemoryStore) CreateConflict(ctx context.Context, c *SyncConflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.conflicts[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetConflict(ctx context.Context, id string) (*SyncConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListConflicts(ctx context.Context, resolved bool, limit, offset int) ([]*SyncConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*SyncConflict
	for _, c := range s.conflicts {
		if (c.ResolutionStatus != ResolutionPending) != resolved {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ResolveConflict(ctx context.Context, id, resolution string, resolvedData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conflicts[id]
	if !ok {
		return ErrNotFound
	}
	if c.ResolutionStatus != ResolutionPending {
		return nil
	}
	c.ResolutionStatus = resolution
	c.ResolvedData = resolvedData
	c.ResolvedAt.Time = time.Now()
	c.ResolvedAt.Valid = true
	return nil
}

func (s *MemoryStore) AppendChange(ctx context.Context, c *PendingChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.Seq = s.nextSeq
	cp.CreatedAt = time.Now()
	s.nextSeq++
	s.changes = append(s.changes, &cp)
	return nil
}

func (s *MemoryStore) ListPendingChanges(ctx context.Context) ([]*PendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*PendingChange, len(s.changes))
	for i, c := range s.changes {
		cp := *c
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) ClearPendingChanges(ctx context.Context, maxSeq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*PendingChange
	for _, c := range s.changes {
		if c.Seq > maxSeq {
			kept = append(kept, c)
		}
	}
	s.changes = kept
	return nil
}

func (s *MemoryStore) GetAppliedChecksums(ctx context.Context, configID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for k, v := range s.checksums[configID] {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) SetAppliedChecksum(ctx context.Context, configID, tableName, recordID, sum string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.checksums[configID]
	if !ok {
		m = make(map[string]string)
		s.checksums[configID] = m
	}
	m[ChecksumKey(tableName, recordID)] = sum
	return nil
}
