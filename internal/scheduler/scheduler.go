// Package scheduler runs background maintenance: periodic salience decay,
// session garbage collection, and log retention. One cooperative loop per
// daemon; tick errors are logged and the loop continues.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ccengram/ccengram/internal/config"
	"github.com/ccengram/ccengram/internal/core"
	"github.com/ccengram/ccengram/internal/logging"
	"github.com/ccengram/ccengram/internal/registry"
	"github.com/ccengram/ccengram/internal/store"
)

// Metrics are the scheduler's prometheus counters.
type Metrics struct {
	DecaySweeps     prometheus.Counter
	MemoriesDecayed prometheus.Counter
	SessionsCleaned prometheus.Counter
	LogsRemoved     prometheus.Counter
}

// NewMetrics registers scheduler counters with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DecaySweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccengram_decay_sweeps_total", Help: "Completed decay sweeps.",
		}),
		MemoriesDecayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccengram_memories_decayed_total", Help: "Memories whose salience changed in a sweep.",
		}),
		SessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccengram_sessions_cleaned_total", Help: "Sessions removed by GC.",
		}),
		LogsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccengram_log_files_removed_total", Help: "Rotated log files aged out.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.DecaySweeps, m.MemoriesDecayed, m.SessionsCleaned, m.LogsRemoved)
	}
	return m
}

// Scheduler owns the maintenance loop.
type Scheduler struct {
	registry *registry.Registry
	cfg      config.SchedulerConfig
	dataRoot string
	logger   *slog.Logger
	metrics  *Metrics

	shutdown chan struct{}
	done     chan struct{}
}

// New creates a scheduler.
func New(reg *registry.Registry, cfg config.SchedulerConfig, dataRoot string, metrics *Metrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Scheduler{
		registry: reg,
		cfg:      cfg,
		dataRoot: dataRoot,
		logger:   logger,
		metrics:  metrics,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks until Stop or context cancellation, firing each cadence on
// its own ticker. Partial tick work under shutdown is acceptable.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)

	decayTicker := time.NewTicker(s.cfg.DecayInterval)
	sessionTicker := time.NewTicker(s.cfg.SessionCleanup)
	logTicker := time.NewTicker(24 * time.Hour)
	defer decayTicker.Stop()
	defer sessionTicker.Stop()
	defer logTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-decayTicker.C:
			s.runDecay(ctx)
		case <-sessionTicker.C:
			s.runSessionCleanup(ctx)
		case <-logTicker.C:
			s.runLogRetention()
		}
	}
}

// Stop signals shutdown and waits for the current tick with a 5 s cap.
func (s *Scheduler) Stop() {
	close(s.shutdown)
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("scheduler stop timed out")
	}
}

// runDecay sweeps every project's memories in batches, writing back only
// rows whose salience actually changed.
func (s *Scheduler) runDecay(ctx context.Context) {
	now := time.Now().UTC()
	for _, info := range s.registry.List() {
		_, st, err := s.registry.Get(info.ID)
		if err != nil {
			continue
		}
		changed, err := DecayProject(ctx, st, s.cfg.DecayBatchSize, now)
		if err != nil {
			s.logger.Warn("decay sweep failed",
				slog.String("project", info.ID), slog.String("error", err.Error()))
			continue
		}
		s.metrics.MemoriesDecayed.Add(float64(changed))
		s.logger.Debug("decay sweep",
			slog.String("project", info.ID), slog.Int("changed", changed))
	}
	s.metrics.DecaySweeps.Inc()
}

// DecayProject applies decay to one project's memories, paged by id so the
// working set stays bounded at batchSize rows. Returns how many rows
// changed.
func DecayProject(ctx context.Context, st *store.Store, batchSize int, now time.Time) (int, error) {
	if batchSize <= 0 {
		batchSize = 5000
	}

	changed := 0
	afterID := ""
	for {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		batch, err := st.PageMemoriesForDecay(ctx, afterID, batchSize)
		if err != nil {
			return changed, err
		}
		if len(batch) == 0 {
			return changed, nil
		}
		afterID = batch[len(batch)-1].ID

		for _, m := range batch {
			res := core.ApplyDecay(m, now)
			if !res.Changed {
				continue
			}
			m.Salience = res.Salience
			m.UpdatedAt = now
			m.DecayRate = core.EffectiveDecayRate(m)
			if err := st.SaveSalience(ctx, m); err != nil {
				return changed, err
			}
			changed++
		}
	}
}

func (s *Scheduler) runSessionCleanup(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-time.Duration(s.cfg.MaxSessionAgeHours) * time.Hour)
	for _, info := range s.registry.List() {
		_, st, err := s.registry.Get(info.ID)
		if err != nil {
			continue
		}
		removed, err := st.CleanupSessions(ctx, cutoff)
		if err != nil {
			s.logger.Warn("session cleanup failed",
				slog.String("project", info.ID), slog.String("error", err.Error()))
			continue
		}
		s.metrics.SessionsCleaned.Add(float64(removed))
	}
}

func (s *Scheduler) runLogRetention() {
	removed, err := logging.SweepOldLogs(s.dataRoot, s.cfg.LogRetentionDays, time.Now())
	if err != nil {
		s.logger.Warn("log retention sweep failed", slog.String("error", err.Error()))
		return
	}
	s.metrics.LogsRemoved.Add(float64(removed))
}
