package nodes

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/weftworks/weft/common/sdk"
)

// fileWatchTrigger spawns an execution per filesystem event under a watched
// path. The watcher is an OS resource, so the node also implements cleanup
// for the engine to call if monitoring dies without a clean stop.
type fileWatchTrigger struct {
	logger  Logger
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

func (t *fileWatchTrigger) InputPorts() []sdk.Port { return nil }

func (t *fileWatchTrigger) OutputPorts() []sdk.Port {
	return universalPort("output", false)
}

func (t *fileWatchTrigger) ConfigSchema() map[string]any {
	return objectSchema(map[string]any{
		"path":    prop("string", "file or directory to watch"),
		"events":  prop("array", "which of create, write, remove, rename, chmod to react to; default create and write"),
		"pattern": prop("string", "optional glob matched against the file base name"),
	}, "path")
}

func (t *fileWatchTrigger) Execute(_ context.Context, in *sdk.NodeExecutionInput) (map[string]any, error) {
	return map[string]any{"output": in.Ports["input"]}, nil
}

func (t *fileWatchTrigger) StartMonitoring(ctx context.Context, workflowID string, config map[string]any, spawn sdk.SpawnFunc) error {
	path := stringOr(config, "path", "")
	if path == "" {
		return fmt.Errorf("path is required")
	}
	ops, err := watchOps(config)
	if err != nil {
		return err
	}
	pattern := stringOr(config, "pattern", "")
	if pattern != "" {
		if _, err := filepath.Match(pattern, "probe"); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	t.watcher = watcher

	monitorCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		for {
			select {
			case <-monitorCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !matchesOps(event, ops) {
					continue
				}
				if pattern != "" {
					if ok, _ := filepath.Match(pattern, filepath.Base(event.Name)); !ok {
						continue
					}
				}
				_, err := spawn(monitorCtx, workflowID, map[string]any{
					"path":        event.Name,
					"op":          strings.ToLower(event.Op.String()),
					"observed_at": time.Now().UTC().Format(time.RFC3339),
				}, "file_watch")
				if err != nil {
					t.logger.Warn("file event spawn failed",
						"workflow_id", workflowID, "path", event.Name, "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				t.logger.Warn("file watcher error", "workflow_id", workflowID, "error", err)
			}
		}
	}()

	t.logger.Info("file watch started", "workflow_id", workflowID, "path", path)
	return nil
}

func (t *fileWatchTrigger) StopMonitoring(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	err := t.Cleanup(ctx)
	if t.done != nil {
		<-t.done
		t.done = nil
	}
	return err
}

// Cleanup closes the OS watcher. Safe to call after StopMonitoring.
func (t *fileWatchTrigger) Cleanup(context.Context) error {
	if t.watcher == nil {
		return nil
	}
	err := t.watcher.Close()
	t.watcher = nil
	if err != nil {
		return fmt.Errorf("failed to close file watcher: %w", err)
	}
	return nil
}

var eventNames = map[string]fsnotify.Op{
	"create": fsnotify.Create,
	"write":  fsnotify.Write,
	"remove": fsnotify.Remove,
	"rename": fsnotify.Rename,
	"chmod":  fsnotify.Chmod,
}

func watchOps(config map[string]any) ([]fsnotify.Op, error) {
	names := listOr(config, "events")
	if len(names) == 0 {
		return []fsnotify.Op{fsnotify.Create, fsnotify.Write}, nil
	}
	ops := make([]fsnotify.Op, 0, len(names))
	for _, raw := range names {
		name, _ := raw.(string)
		op, ok := eventNames[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unknown file event %q", name)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func matchesOps(event fsnotify.Event, ops []fsnotify.Op) bool {
	for _, op := range ops {
		if event.Has(op) {
			return true
		}
	}
	return false
}
