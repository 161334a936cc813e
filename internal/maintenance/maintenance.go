// Package maintenance runs periodic housekeeping on a cron schedule: rate
// limiter cleanup, audit log pruning and the expired token sweep.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type AuditPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type TokenSweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type LimiterCleaner interface {
	Cleanup() int
}

type Config struct {
	Schedule       string
	AuditRetention time.Duration
	JobTimeout     time.Duration
}

type Scheduler struct {
	cron    *cron.Cron
	cfg     Config
	audit   AuditPruner
	tokens  TokenSweeper
	limiter LimiterCleaner
	logger  *slog.Logger
	now     func() time.Time
}

// New validates the schedule and registers the housekeeping job. Nothing
// runs until Start.
func New(cfg Config, audit AuditPruner, tokens TokenSweeper, limiter LimiterCleaner, logger *slog.Logger) (*Scheduler, error) {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	cl := cronLogger{logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		cfg:     cfg,
		audit:   audit,
		tokens:  tokens,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, s.run); err != nil {
		return nil, fmt.Errorf("parse maintenance schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and returns a context that is done once a job in
// progress has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()
	s.RunOnce(ctx)
}

// RunOnce performs every housekeeping task once. A failing task is logged
// and does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.now().UTC()

	if s.limiter != nil {
		if n := s.limiter.Cleanup(); n > 0 {
			s.logger.Debug("cleaned up rate limiter entries", "count", n)
		}
	}

	if s.audit != nil && s.cfg.AuditRetention > 0 {
		n, err := s.audit.Prune(ctx, now.Add(-s.cfg.AuditRetention))
		if err != nil {
			s.logger.Error("prune audit log", "error", err)
		} else if n > 0 {
			s.logger.Info("pruned audit log", "count", n)
		}
	}

	if s.tokens != nil {
		n, err := s.tokens.DeleteExpired(ctx, now)
		if err != nil {
			s.logger.Error("delete expired tokens", "error", err)
		} else if n > 0 {
			s.logger.Info("deleted expired tokens", "count", n)
		}
	}
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
