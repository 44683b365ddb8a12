package nodes

import (
	"context"
	"fmt"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/weftworks/weft/common/sdk"
)

// scheduleTrigger spawns an execution on a fixed interval while its workflow
// is active.
type scheduleTrigger struct {
	logger Logger
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *scheduleTrigger) InputPorts() []sdk.Port { return nil }

func (t *scheduleTrigger) OutputPorts() []sdk.Port {
	return universalPort("output", false)
}

func (t *scheduleTrigger) ConfigSchema() map[string]any {
	return objectSchema(map[string]any{
		"every": prop("string", "interval between runs, e.g. 30s, 5m, 1h30m"),
	}, "every")
}

func (t *scheduleTrigger) Execute(_ context.Context, in *sdk.NodeExecutionInput) (map[string]any, error) {
	return map[string]any{"output": in.Ports["input"]}, nil
}

func (t *scheduleTrigger) StartMonitoring(ctx context.Context, workflowID string, config map[string]any, spawn sdk.SpawnFunc) error {
	every := stringOr(config, "every", "")
	if every == "" {
		return fmt.Errorf("every is required")
	}
	interval, err := str2duration.ParseDuration(every)
	if err != nil {
		return fmt.Errorf("invalid interval %q: %w", every, err)
	}
	if interval < time.Second {
		return fmt.Errorf("interval %q is below the one second minimum", every)
	}

	monitorCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case now := <-ticker.C:
				_, err := spawn(monitorCtx, workflowID, map[string]any{
					"scheduled_at": now.UTC().Format(time.RFC3339),
					"interval":     every,
				}, "schedule")
				if err != nil {
					t.logger.Warn("scheduled spawn failed",
						"workflow_id", workflowID, "error", err)
				}
			}
		}
	}()

	t.logger.Info("schedule started", "workflow_id", workflowID, "every", every)
	return nil
}

func (t *scheduleTrigger) StopMonitoring(_ context.Context) error {
	if t.cancel != nil {
		t.cancel()
		<-t.done
		t.cancel = nil
	}
	return nil
}
