package sync

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"fieldsync-service/internal/config"
	"fieldsync-service/internal/logger"
	"fieldsync-service/internal/store"
)

// Scheduler triggers periodic runs for every active configuration. A
// configuration whose last run failed is only re-triggered automatically
// when it opts in via retryFailed, and then at most maxRetries consecutive
// times; otherwise a failed run waits for an explicit execute request.
type Scheduler struct {
	cfg          config.SchedulerConfig
	store        store.Store
	orchestrator *Orchestrator
	cron         *cron.Cron
	entryID      cron.EntryID
}

func NewScheduler(cfg config.SchedulerConfig, st store.Store, orchestrator *Orchestrator) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		store:        st,
		orchestrator: orchestrator,
		cron:         cron.New(),
	}
}

func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return
	}

	logger.Log.Info("Starting scheduler", zap.String("interval", s.cfg.Interval))

	id, err := s.cron.AddFunc(s.cfg.Interval, func() {
		s.tick()
	})

	if err != nil {
		logger.Log.Error("Failed to schedule job", zap.Error(err))
		return
	}

	s.entryID = id
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) tick() {
	ctx := context.Background()

	configs, err := s.store.ListConfigurations(ctx)
	if err != nil {
		logger.Log.Error("Scheduler failed to list configurations", zap.Error(err))
		return
	}

	for _, cfg := range configs {
		if !cfg.Active {
			continue
		}
		if skip, reason := s.shouldSkip(ctx, cfg); skip {
			logger.Log.Info("Skipping scheduled sync",
				zap.String("configurationID", cfg.ID), zap.String("reason", reason))
			continue
		}

		syncType := typeForScope(cfg)
		runID, err := s.orchestrator.Execute(ctx, cfg.ID, syncType)
		if errors.Is(err, ErrRunInFlight) {
			logger.Log.Info("Sync already running, skipping scheduled run",
				zap.String("configurationID", cfg.ID))
			continue
		}
		if err != nil {
			logger.Log.Error("Failed to start scheduled sync",
				zap.String("configurationID", cfg.ID), zap.Error(err))
			continue
		}
		logger.Log.Info("Triggered scheduled sync",
			zap.String("configurationID", cfg.ID), zap.String("runID", runID))
	}
}

func (s *Scheduler) shouldSkip(ctx context.Context, cfg *store.SyncConfiguration) (bool, string) {
	limit := cfg.MaxRetries + 1
	if limit < 2 {
		limit = 2
	}
	history, err := s.store.ListHistoryForConfiguration(ctx, cfg.ID, limit)
	if err != nil || len(history) == 0 {
		return false, ""
	}

	if history[0].Status != store.StatusFailed {
		return false, ""
	}

	if !cfg.RetryFailed {
		return true, "last run failed and retryFailed is off"
	}

	failures := 0
	for _, h := range history {
		if h.Status != store.StatusFailed {
			break
		}
		failures++
	}
	if cfg.MaxRetries > 0 && failures > cfg.MaxRetries {
		return true, "consecutive failure limit reached"
	}

	return false, ""
}

func typeForScope(cfg *store.SyncConfiguration) string {
	switch {
	case cfg.SyncDatabase && cfg.SyncFiles:
		return store.SyncTypeBoth
	case cfg.SyncFiles:
		return store.SyncTypeFiles
	default:
		return store.SyncTypeDatabase
	}
}
