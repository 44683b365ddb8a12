// Package orchestrator owns execution lifecycles. It loads a workflow
// definition, materializes the dependency graph, creates the execution
// context and record, runs a scheduler per execution, and routes control
// calls (cancel, pause, interaction resume) to the right running execution.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/weftworks/weft/cmd/weftd/graph"
	"github.com/weftworks/weft/cmd/weftd/scheduler"
	"github.com/weftworks/weft/common/sdk"
	"github.com/weftworks/weft/common/telemetry"
)

// Logger is the subset of logging calls this package makes.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// DefinitionSource loads workflow definitions by id.
type DefinitionSource interface {
	Definition(ctx context.Context, workflowID string) (*sdk.WorkflowDefinition, error)
}

var (
	// ErrUnknownExecution means no running execution has the given id.
	// Finished executions are only reachable through the record sink.
	ErrUnknownExecution = errors.New("unknown execution")

	// ErrDraining rejects new executions during shutdown.
	ErrDraining = errors.New("orchestrator is draining")
)

// Opts wires the orchestrator's collaborators. Definitions and Registry are
// required.
type Opts struct {
	Definitions DefinitionSource
	Registry    *sdk.Registry
	Publisher   sdk.Publisher
	Sink        sdk.RecordSink
	Credentials sdk.CredentialSource
	LLM         sdk.LLMGateway
	Metrics     *telemetry.Metrics
	Logger      Logger

	// Constraints are the engine defaults; each definition's
	// execution_constraints merge over them per execution.
	Constraints sdk.ExecutionConstraints

	// FrontendOrigin is stamped on execution contexts so nodes can build
	// user-facing links (interaction review pages).
	FrontendOrigin string
}

type run struct {
	sched      *scheduler.Scheduler
	ec         *sdk.ExecutionContext
	workflowID string
	done       chan struct{}
	err        error
}

// Orchestrator starts and supervises executions. Safe for concurrent use.
type Orchestrator struct {
	opts   Opts
	logger Logger

	// baseCtx parents every execution so shutdown can cancel stragglers.
	baseCtx   context.Context
	cancelAll context.CancelFunc

	mu       sync.Mutex
	running  map[string]*run
	draining bool
	wg       sync.WaitGroup
}

// New creates an orchestrator.
func New(opts Opts) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:      opts,
		logger:    opts.Logger,
		baseCtx:   ctx,
		cancelAll: cancel,
		running:   make(map[string]*run),
	}
}

// Start launches an execution of the workflow and returns once it is
// registered. The run proceeds in the background; its terminal state lands in
// the record sink and on the event path.
func (o *Orchestrator) Start(ctx context.Context, workflowID, startedBy string, triggerData map[string]any) (*sdk.ExecutionContext, error) {
	r, err := o.prepare(ctx, workflowID, startedBy, triggerData)
	if err != nil {
		return nil, err
	}
	o.launch(r)
	return r.ec, nil
}

// Execute runs an execution to completion and returns its final context. The
// caller's ctx bounds only the wait, not the execution.
func (o *Orchestrator) Execute(ctx context.Context, workflowID, startedBy string, triggerData map[string]any) (*sdk.ExecutionContext, error) {
	r, err := o.prepare(ctx, workflowID, startedBy, triggerData)
	if err != nil {
		return nil, err
	}
	o.launch(r)
	select {
	case <-r.done:
		return r.ec, r.err
	case <-ctx.Done():
		return r.ec, ctx.Err()
	}
}

// Spawn starts a one-shot execution on behalf of a trigger fire. It is the
// orchestrator's half of sdk.SpawnFunc.
func (o *Orchestrator) Spawn(ctx context.Context, workflowID string, triggerData map[string]any, source string) (string, error) {
	ec, err := o.Start(ctx, workflowID, "trigger:"+source, triggerData)
	if err != nil {
		return "", err
	}
	return ec.ExecutionID, nil
}

func (o *Orchestrator) prepare(ctx context.Context, workflowID, startedBy string, triggerData map[string]any) (*run, error) {
	o.mu.Lock()
	draining := o.draining
	o.mu.Unlock()
	if draining {
		return nil, ErrDraining
	}

	def, err := o.opts.Definitions.Definition(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}
	limits, err := o.opts.Constraints.WithOverrides(def.ExecutionConstraints)
	if err != nil {
		return nil, fmt.Errorf("invalid execution constraints for workflow %s: %w", workflowID, err)
	}
	g, err := graph.Build(def)
	if err != nil {
		return nil, fmt.Errorf("invalid workflow %s: %w", workflowID, err)
	}

	ec := sdk.NewExecutionContext(def, startedBy, triggerData)
	ec.FrontendOrigin = o.opts.FrontendOrigin
	if o.opts.Sink != nil {
		if err := o.opts.Sink.Create(ctx, ec); err != nil {
			return nil, fmt.Errorf("failed to record execution: %w", err)
		}
	}

	sched := scheduler.New(g, ec, limits, scheduler.Options{
		Registry:    o.opts.Registry,
		Publisher:   o.opts.Publisher,
		Sink:        o.opts.Sink,
		Credentials: o.opts.Credentials,
		LLM:         o.opts.LLM,
		Metrics:     o.opts.Metrics,
		Logger:      o.logger,
	})
	r := &run{sched: sched, ec: ec, workflowID: workflowID, done: make(chan struct{})}

	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		return nil, ErrDraining
	}
	o.running[ec.ExecutionID] = r
	o.wg.Add(1)
	o.mu.Unlock()

	o.logger.Info("execution prepared",
		"execution_id", ec.ExecutionID,
		"workflow_id", workflowID,
		"started_by", startedBy)
	return r, nil
}

func (o *Orchestrator) launch(r *run) {
	go func() {
		defer o.wg.Done()
		r.err = r.sched.Run(o.baseCtx)
		o.mu.Lock()
		delete(o.running, r.ec.ExecutionID)
		o.mu.Unlock()
		close(r.done)
	}()
}

// Cancel stops a running execution.
func (o *Orchestrator) Cancel(ctx context.Context, executionID string) error {
	r, err := o.lookup(executionID)
	if err != nil {
		return err
	}
	return r.sched.Cancel(ctx)
}

// Pause suspends a running execution's node scheduling.
func (o *Orchestrator) Pause(ctx context.Context, executionID string) error {
	r, err := o.lookup(executionID)
	if err != nil {
		return err
	}
	return r.sched.Pause(ctx)
}

// Resume lifts a user pause.
func (o *Orchestrator) Resume(ctx context.Context, executionID string) error {
	r, err := o.lookup(executionID)
	if err != nil {
		return err
	}
	return r.sched.Resume(ctx)
}

// ResumeInteraction resolves one pending interaction of a paused execution.
func (o *Orchestrator) ResumeInteraction(ctx context.Context, executionID, interactionID string, req *sdk.InteractionRequest) error {
	r, err := o.lookup(executionID)
	if err != nil {
		return err
	}
	return r.sched.ResumeInteraction(ctx, interactionID, req)
}

// ExpireInteraction fails a pending interaction past its decision window.
func (o *Orchestrator) ExpireInteraction(ctx context.Context, executionID, interactionID string) error {
	r, err := o.lookup(executionID)
	if err != nil {
		return err
	}
	return r.sched.ExpireInteraction(ctx, interactionID)
}

// PendingInteractions lists the parked decisions of one running execution.
func (o *Orchestrator) PendingInteractions(ctx context.Context, executionID string) ([]*sdk.PendingInteraction, error) {
	r, err := o.lookup(executionID)
	if err != nil {
		return nil, err
	}
	return r.sched.PendingInteractions(ctx), nil
}

// PendingRef points at one pending interaction of one running execution.
type PendingRef struct {
	ExecutionID string
	Interaction *sdk.PendingInteraction
}

// AllPendingInteractions snapshots every parked decision across running
// executions. The sweeper scans this for expiry.
func (o *Orchestrator) AllPendingInteractions(ctx context.Context) []PendingRef {
	o.mu.Lock()
	runs := make([]*run, 0, len(o.running))
	for _, r := range o.running {
		runs = append(runs, r)
	}
	o.mu.Unlock()

	var out []PendingRef
	for _, r := range runs {
		for _, p := range r.sched.PendingInteractions(ctx) {
			out = append(out, PendingRef{ExecutionID: r.ec.ExecutionID, Interaction: p})
		}
	}
	return out
}

// CancelWorkflowExecutions cancels every running execution of a workflow and
// returns how many were told to stop. Used when a workflow is deactivated.
func (o *Orchestrator) CancelWorkflowExecutions(ctx context.Context, workflowID string) int {
	o.mu.Lock()
	var targets []*run
	for _, r := range o.running {
		if r.workflowID == workflowID {
			targets = append(targets, r)
		}
	}
	o.mu.Unlock()

	for _, r := range targets {
		// A run finishing concurrently is fine; it no longer needs a cancel.
		if err := r.sched.Cancel(ctx); err != nil && !errors.Is(err, scheduler.ErrFinished) {
			o.logger.Warn("failed to cancel execution",
				"execution_id", r.ec.ExecutionID,
				"workflow_id", workflowID,
				"error", err)
		}
	}
	return len(targets)
}

// ActiveCount reports the number of running executions.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running)
}

// Drain stops accepting new executions and waits for running ones to finish.
// When ctx expires first, the stragglers are cancelled and briefly awaited.
func (o *Orchestrator) Drain(ctx context.Context) error {
	o.mu.Lock()
	o.draining = true
	active := len(o.running)
	o.mu.Unlock()
	o.logger.Info("draining executions", "active", active)

	finished := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		o.cancelAll()
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
			o.logger.Error("executions still running after cancel", "active", o.ActiveCount())
		}
		return ctx.Err()
	}
}

func (o *Orchestrator) lookup(executionID string) (*run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.running[executionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExecution, executionID)
	}
	return r, nil
}
