package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/layers"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
)

// TenantLister supplies the tenant set a maintenance cycle covers.
type TenantLister interface {
	Tenants(ctx context.Context) ([]string, error)
}

// TenantListerFunc adapts a function to TenantLister.
type TenantListerFunc func(ctx context.Context) ([]string, error)

func (f TenantListerFunc) Tenants(ctx context.Context) ([]string, error) { return f(ctx) }

// SchedulerConfig tunes the maintenance cadence.
type SchedulerConfig struct {
	HourlyInterval time.Duration
	DailyInterval  time.Duration
}

// DefaultSchedulerConfig returns the standard cadence.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		HourlyInterval: time.Hour,
		DailyInterval:  24 * time.Hour,
	}
}

// CycleReport summarizes one maintenance cycle.
type CycleReport struct {
	Cycle       string         `json:"cycle"`
	Tenants     int            `json:"tenants"`
	StepCounts  map[string]int `json:"step_counts"`
	StartedAt   time.Time      `json:"started_at"`
	ElapsedMS   int64          `json:"elapsed_ms"`
	TenantFails int            `json:"tenant_failures"`
}

// Scheduler orchestrates the hourly and daily maintenance cycles. Workers
// run sequentially within a cycle; tenants fail independently inside each
// worker.
type Scheduler struct {
	cfg     SchedulerConfig
	lister  TenantLister
	decay   *DecayWorker
	summary *SummarizerWorker
	dreamer *DreamerWorker
	keeper  *RetentionWorker

	sensory    *layers.SensoryLayer
	working    *layers.WorkingLayer
	reflective *layers.ReflectiveLayer
	cache      ports.Cache
	observer   func(*CycleReport)

	logger *zap.Logger
}

// SchedulerDeps bundles what the scheduler drives. Any nil worker or layer
// is skipped.
type SchedulerDeps struct {
	Lister     TenantLister
	Decay      *DecayWorker
	Summarizer *SummarizerWorker
	Dreamer    *DreamerWorker
	Retention  *RetentionWorker
	Sensory    *layers.SensoryLayer
	Working    *layers.WorkingLayer
	Reflective *layers.ReflectiveLayer
	Cache      ports.Cache
	// Observer receives every finished cycle report, e.g. for metrics.
	Observer func(*CycleReport)
	Logger   *zap.Logger
}

func NewScheduler(cfg SchedulerConfig, deps SchedulerDeps) *Scheduler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultSchedulerConfig()
	if cfg.HourlyInterval <= 0 {
		cfg.HourlyInterval = def.HourlyInterval
	}
	if cfg.DailyInterval <= 0 {
		cfg.DailyInterval = def.DailyInterval
	}
	return &Scheduler{
		cfg:        cfg,
		lister:     deps.Lister,
		decay:      deps.Decay,
		summary:    deps.Summarizer,
		dreamer:    deps.Dreamer,
		keeper:     deps.Retention,
		sensory:    deps.Sensory,
		working:    deps.Working,
		reflective: deps.Reflective,
		cache:      deps.Cache,
		observer:   deps.Observer,
		logger:     logger,
	}
}

// Run drives both cycles until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	hourly := time.NewTicker(s.cfg.HourlyInterval)
	daily := time.NewTicker(s.cfg.DailyInterval)
	defer hourly.Stop()
	defer daily.Stop()

	s.logger.Info("maintenance scheduler started",
		zap.Duration("hourly_interval", s.cfg.HourlyInterval),
		zap.Duration("daily_interval", s.cfg.DailyInterval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopped")
			return
		case <-hourly.C:
			s.report(s.RunHourly(ctx))
		case <-daily.C:
			s.report(s.RunDaily(ctx))
		}
	}
}

func (s *Scheduler) report(r *CycleReport) {
	if s.observer != nil {
		s.observer(r)
	}
	s.logger.Info("maintenance cycle finished",
		zap.String("cycle", r.Cycle),
		zap.Int("tenants", r.Tenants),
		zap.Any("step_counts", r.StepCounts),
		zap.Int64("elapsed_ms", r.ElapsedMS),
		zap.Int("tenant_failures", r.TenantFails))
}

func (s *Scheduler) tenants(ctx context.Context) []string {
	if s.lister == nil {
		return nil
	}
	tenants, err := s.lister.Tenants(ctx)
	if err != nil {
		s.logger.Error("failed to list tenants for maintenance", zap.Error(err))
		return nil
	}
	return tenants
}

// RunHourly executes the lightweight cycle: buffer eviction, working-tier
// trimming, reflective floor restoration, and cache cleanup.
func (s *Scheduler) RunHourly(ctx context.Context) *CycleReport {
	started := time.Now()
	tenants := s.tenants(ctx)
	report := &CycleReport{
		Cycle:      "hourly",
		Tenants:    len(tenants),
		StepCounts: make(map[string]int),
		StartedAt:  started.UTC(),
	}

	for _, tenant := range tenants {
		if s.sensory != nil {
			if n, err := s.sensory.Cleanup(ctx, tenant); err == nil {
				report.StepCounts["sensory_evicted"] += n
			}
		}
		if s.working != nil {
			n, err := s.working.Cleanup(ctx, tenant)
			if err != nil {
				s.logger.Warn("working cleanup failed",
					zap.String("tenant_id", tenant), zap.Error(err))
				report.TenantFails++
				continue
			}
			report.StepCounts["working_trimmed"] += n
		}
		if s.reflective != nil {
			if n, err := s.reflective.Cleanup(ctx, tenant); err == nil {
				report.StepCounts["reflections_restored"] += n
			}
		}
	}
	if s.cache != nil {
		if n, err := s.cache.CleanupExpired(ctx); err == nil {
			report.StepCounts["cache_expired"] = n
		}
	}

	report.ElapsedMS = time.Since(started).Milliseconds()
	return report
}

// RunDaily executes the heavy cycle: decay, summarization, dreaming, and
// retention, in that order.
func (s *Scheduler) RunDaily(ctx context.Context) *CycleReport {
	started := time.Now()
	tenants := s.tenants(ctx)
	report := &CycleReport{
		Cycle:      "daily",
		Tenants:    len(tenants),
		StepCounts: make(map[string]int),
		StartedAt:  started.UTC(),
	}

	if s.decay != nil {
		for _, n := range s.decay.Run(ctx, tenants) {
			report.StepCounts["decayed"] += n
		}
	}
	if s.summary != nil {
		for _, n := range s.summary.Run(ctx, tenants) {
			report.StepCounts["summaries"] += n
		}
	}
	if s.dreamer != nil {
		for _, n := range s.dreamer.Run(ctx, tenants) {
			report.StepCounts["reflections"] += n
		}
	}
	if s.keeper != nil {
		for _, n := range s.keeper.Run(ctx, tenants) {
			report.StepCounts["retention_removed"] += n
		}
	}

	report.ElapsedMS = time.Since(started).Milliseconds()
	return report
}
