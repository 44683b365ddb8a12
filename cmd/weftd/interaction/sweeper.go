// Package interaction expires aged human interactions. The scheduler parks a
// node and waits indefinitely; the sweeper is the external clock that walks
// pending interactions and fails the ones whose deadline passed.
package interaction

import (
	"context"
	"errors"
	"time"

	"github.com/weftworks/weft/cmd/weftd/orchestrator"
	"github.com/weftworks/weft/cmd/weftd/scheduler"
)

// Logger is the minimal logging interface the sweeper needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

// Engine is the orchestrator surface the sweeper drives.
type Engine interface {
	AllPendingInteractions(ctx context.Context) []orchestrator.PendingRef
	ExpireInteraction(ctx context.Context, executionID, interactionID string) error
}

// Sweeper periodically expires interactions past their deadline.
type Sweeper struct {
	engine   Engine
	interval time.Duration
	logger   Logger
	now      func() time.Time
}

// NewSweeper creates a sweeper checking every interval. Interval granularity
// bounds how late an expiry fires; a minute is plenty against a default
// interaction window of a day.
func NewSweeper(engine Engine, interval time.Duration, logger Logger) *Sweeper {
	if logger == nil {
		logger = nopLogger{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run blocks sweeping until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("interaction sweeper started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("interaction sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep expires every pending interaction whose deadline passed and returns
// how many it expired.
func (s *Sweeper) sweep(ctx context.Context) int {
	now := s.now()
	expired := 0
	for _, ref := range s.engine.AllPendingInteractions(ctx) {
		p := ref.Interaction
		if p.ExpiresAt.IsZero() || now.Before(p.ExpiresAt) {
			continue
		}
		err := s.engine.ExpireInteraction(ctx, ref.ExecutionID, p.InteractionID)
		switch {
		case err == nil:
			expired++
			s.logger.Info("expired interaction",
				"execution_id", ref.ExecutionID,
				"interaction_id", p.InteractionID,
				"node_id", p.NodeID,
				"overdue", now.Sub(p.ExpiresAt).String())
		case errors.Is(err, scheduler.ErrFinished) || errors.Is(err, orchestrator.ErrUnknownExecution):
			// The execution resolved it between snapshot and expiry.
			s.logger.Debug("interaction resolved before expiry",
				"execution_id", ref.ExecutionID, "interaction_id", p.InteractionID)
		default:
			s.logger.Warn("failed to expire interaction",
				"execution_id", ref.ExecutionID,
				"interaction_id", p.InteractionID,
				"error", err)
		}
	}
	return expired
}
