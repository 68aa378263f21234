package storegc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a Collector on a cron schedule. It is a thin wrapper
// around robfig/cron, matching the 6-field-with-seconds parser the rest
// of forge's scheduled maintenance uses.
type Scheduler struct {
	mu     sync.Mutex
	collector *Collector
	cron      *cron.Cron
	logger    *slog.Logger
	started   bool
}

// NewScheduler builds a Scheduler that runs collector on cronExpr (a
// 6-field "sec min hour dom month dow" expression).
func NewScheduler(collector *Collector, cronExpr string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	s := &Scheduler{collector: collector, cron: c, logger: logger}
	if _, err := c.AddFunc(cronExpr, s.runOnce); err != nil {
		return nil, fmt.Errorf("storegc: invalid cron expression %q: %w", cronExpr, err)
	}
	return s, nil
}

func (s *Scheduler) runOnce() {
	removed, err := s.collector.Run()
	if err != nil {
		s.logger.Error("storegc: collection run failed", slog.String("error", err.Error()))
		return
	}
	if len(removed) > 0 {
		s.logger.Info("storegc: collection run complete", slog.Int("removed", len(removed)))
	}
}

// Start begins the cron scheduler. runOnStartup additionally runs one
// collection pass immediately, synchronously, before returning.
func (s *Scheduler) Start(ctx context.Context, runOnStartup bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	if runOnStartup {
		s.runOnce()
	}
	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop stops the cron scheduler, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
}
