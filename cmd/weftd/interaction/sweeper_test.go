package interaction

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/cmd/weftd/orchestrator"
	"github.com/weftworks/weft/cmd/weftd/scheduler"
	"github.com/weftworks/weft/common/sdk"
)

type fakeExpiryEngine struct {
	mu      sync.Mutex
	pending []orchestrator.PendingRef
	expired []string
	err     error
}

func (e *fakeExpiryEngine) AllPendingInteractions(context.Context) []orchestrator.PendingRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]orchestrator.PendingRef, len(e.pending))
	copy(out, e.pending)
	return out
}

func (e *fakeExpiryEngine) ExpireInteraction(_ context.Context, executionID, interactionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.expired = append(e.expired, executionID+"/"+interactionID)
	return nil
}

func (e *fakeExpiryEngine) expiredIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.expired))
	copy(out, e.expired)
	return out
}

func pendingAt(executionID, interactionID string, expires time.Time) orchestrator.PendingRef {
	return orchestrator.PendingRef{
		ExecutionID: executionID,
		Interaction: &sdk.PendingInteraction{
			NodeID:        "gate",
			InteractionID: interactionID,
			CreatedAt:     expires.Add(-time.Hour),
			ExpiresAt:     expires,
		},
	}
}

func TestSweepExpiresOnlyOverdue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := &fakeExpiryEngine{pending: []orchestrator.PendingRef{
		pendingAt("exec-1", "int-old", now.Add(-time.Minute)),
		pendingAt("exec-2", "int-fresh", now.Add(time.Hour)),
		{ExecutionID: "exec-3", Interaction: &sdk.PendingInteraction{InteractionID: "int-open"}},
	}}

	s := NewSweeper(engine, time.Minute, nil)
	s.now = func() time.Time { return now }

	assert.Equal(t, 1, s.sweep(context.Background()))
	assert.Equal(t, []string{"exec-1/int-old"}, engine.expiredIDs())
}

func TestSweepExactDeadlineExpires(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := &fakeExpiryEngine{pending: []orchestrator.PendingRef{
		pendingAt("exec-1", "int-edge", now),
	}}

	s := NewSweeper(engine, time.Minute, nil)
	s.now = func() time.Time { return now }

	assert.Equal(t, 1, s.sweep(context.Background()))
}

func TestSweepToleratesRacyResolution(t *testing.T) {
	now := time.Now().UTC()
	engine := &fakeExpiryEngine{
		pending: []orchestrator.PendingRef{pendingAt("exec-1", "int-1", now.Add(-time.Second))},
		err:     scheduler.ErrFinished,
	}

	s := NewSweeper(engine, time.Minute, nil)
	assert.Equal(t, 0, s.sweep(context.Background()))

	engine.err = fmt.Errorf("%w: exec-1", orchestrator.ErrUnknownExecution)
	assert.Equal(t, 0, s.sweep(context.Background()))

	engine.err = fmt.Errorf("redis down")
	assert.Equal(t, 0, s.sweep(context.Background()))
	assert.Empty(t, engine.expiredIDs())
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	engine := &fakeExpiryEngine{pending: []orchestrator.PendingRef{
		pendingAt("exec-1", "int-1", time.Now().UTC().Add(-time.Second)),
	}}

	s := NewSweeper(engine, 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(engine.expiredIDs()) >= 1 },
		2*time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestNewSweeperDefaultsInterval(t *testing.T) {
	s := NewSweeper(&fakeExpiryEngine{}, 0, nil)
	assert.Equal(t, time.Minute, s.interval)
}
