// Package scheduler runs one workflow execution: a single coordinating
// goroutine owns the graph and execution context, node executions run as
// independent tasks, and completions flow back over a channel. External
// control (pause, cancel, interaction resume) arrives over a command channel
// so every state mutation happens on the coordinating goroutine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/weftworks/weft/cmd/weftd/graph"
	"github.com/weftworks/weft/cmd/weftd/operators"
	"github.com/weftworks/weft/cmd/weftd/resolver"
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

// Options are the collaborator hooks for one execution. Registry is required;
// everything else may be nil (events are dropped, nothing is persisted,
// credential references fail, LLM nodes fail).
type Options struct {
	Registry    *sdk.Registry
	Publisher   sdk.Publisher
	Sink        sdk.RecordSink
	Credentials sdk.CredentialSource
	LLM         sdk.LLMGateway
	Metrics     *telemetry.Metrics
	Logger      Logger
}

// completion is a node task's report back to the scheduler.
type completion struct {
	nodeID   string
	outputs  map[string]any
	err      error
	awaiting *sdk.PendingInteraction
	meta     map[string]any

	// toolReply is set for tool runs; the scheduler answers on it after
	// recording the outcome.
	toolReply chan *toolResult
}

type toolResult struct {
	outputs map[string]any
	err     error
}

type cmdKind int

const (
	cmdPause cmdKind = iota
	cmdResume
	cmdCancel
	cmdResumeInteraction
	cmdExpireInteraction
	cmdRunNode
	cmdInteractions
)

type command struct {
	kind          cmdKind
	interactionID string
	request       *sdk.InteractionRequest

	// tool runs
	nodeID    string
	inputs    map[string]any
	override  map[string]any
	toolReply chan *toolResult

	interactions chan []*sdk.PendingInteraction
	reply        chan error
}

// Scheduler drives one execution. Construct with New, call Run exactly once;
// the control methods are safe from any goroutine for the lifetime of Run.
type Scheduler struct {
	graph  *graph.Graph
	ec     *sdk.ExecutionContext
	limits sdk.ExecutionConstraints
	pools  *Pools

	registry    *sdk.Registry
	publisher   sdk.Publisher
	sink        sdk.RecordSink
	credentials sdk.CredentialSource
	llm         sdk.LLMGateway
	metrics     *telemetry.Metrics
	logger      Logger

	msgCh  chan *completion
	toolCh chan *completion
	cmdCh  chan *command
	done   chan struct{}

	// Everything below is owned by the Run goroutine.
	instances map[string]sdk.Node
	active    int
	paused    bool
	cancelled bool
	haltErr   error
	iteration int
	cancelRun context.CancelFunc
	eventCtx  context.Context

	// Workflow deadline, suspended while paused so a parked human decision
	// does not burn execution time.
	timer        *time.Timer
	deadlineAt   time.Time
	clockLeft    time.Duration
	clockStopped bool
}

// New prepares a scheduler over a built graph and fresh execution context.
func New(g *graph.Graph, ec *sdk.ExecutionContext, limits sdk.ExecutionConstraints, opts Options) *Scheduler {
	if opts.Publisher == nil {
		opts.Publisher = sdk.NopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	return &Scheduler{
		graph:       g,
		ec:          ec,
		limits:      limits,
		pools:       NewPools(limits.PoolSizes(), opts.Metrics),
		registry:    opts.Registry,
		publisher:   opts.Publisher,
		sink:        opts.Sink,
		credentials: opts.Credentials,
		llm:         opts.LLM,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		msgCh:       make(chan *completion, 2*len(g.Order)+8),
		toolCh:      make(chan *completion, 8),
		cmdCh:       make(chan *command),
		done:        make(chan struct{}),
		instances:   make(map[string]sdk.Node),
		iteration:   1,
	}
}

// Run executes the workflow to a terminal state and returns the failure
// cause, or nil for COMPLETED and STOPPED outcomes. Cancelling ctx stops the
// execution; in-flight nodes are cancelled and marked STOPPED.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)

	s.eventCtx = context.WithoutCancel(ctx)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelRun = cancel

	s.deadlineAt = time.Now().Add(s.limits.WorkflowDeadline())
	s.timer = time.NewTimer(s.limits.WorkflowDeadline())
	defer s.timer.Stop()

	s.ec.Status = sdk.StatusRunning
	s.updateStatus(sdk.StatusRunning, "")
	s.metrics.ExecutionStarted()
	defer s.metrics.ExecutionEnded()
	s.logger.Info("execution started",
		"execution_id", s.ec.ExecutionID,
		"workflow_id", s.ec.WorkflowID,
		"nodes", len(s.graph.Order))

	ready := s.graph.InitialReady()
	if len(ready) == 0 && s.graph.Progress().TotalNodes > 0 {
		s.haltErr = fmt.Errorf("workflow has no entry nodes: every node waits on another")
		s.stopRemaining()
		return s.finalize()
	}
	for _, id := range ready {
		s.spawn(runCtx, id)
	}

	s.loop(runCtx)
	return s.finalize()
}

func (s *Scheduler) loop(ctx context.Context) {
	ctxDone := ctx.Done()
	for {
		if s.active == 0 {
			if s.finishing() {
				return
			}
			if !s.paused {
				if s.graph.HasLoops && operators.ShouldContinue(s.graph, s.ec) && s.nextIteration(ctx) {
					continue
				}
				return
			}
		}

		if s.paused && !s.finishing() {
			// Pause gate: completions stay buffered until resume; commands
			// and tool runs keep flowing so executing nodes can finish.
			select {
			case cmd := <-s.cmdCh:
				s.handleCommand(ctx, cmd)
			case msg := <-s.toolCh:
				s.handleToolCompletion(msg)
			case <-s.timer.C:
				s.handleDeadline()
			case <-ctxDone:
				ctxDone = nil
				s.handleShutdown()
			}
			continue
		}

		select {
		case msg := <-s.msgCh:
			s.active--
			s.handleCompletion(ctx, msg)
		case cmd := <-s.cmdCh:
			s.handleCommand(ctx, cmd)
		case msg := <-s.toolCh:
			s.handleToolCompletion(msg)
		case <-s.timer.C:
			s.handleDeadline()
		case <-ctxDone:
			ctxDone = nil
			s.handleShutdown()
		}
	}
}

func (s *Scheduler) finishing() bool {
	return s.haltErr != nil || s.cancelled
}

// halt fails the execution: in-flight tasks are cancelled, unreached nodes
// marked STOPPED, and the loop drains before finalize records FAILED.
func (s *Scheduler) halt(cause error) {
	if s.finishing() {
		return
	}
	s.haltErr = cause
	s.ec.PendingInteractions = make(map[string]*sdk.PendingInteraction)
	s.stopRemaining()
	s.cancelRun()
}

func (s *Scheduler) handleDeadline() {
	if s.finishing() {
		return
	}
	s.logger.Warn("workflow deadline exceeded",
		"execution_id", s.ec.ExecutionID,
		"timeout", s.limits.WorkflowDeadline())
	s.halt(fmt.Errorf("workflow timed out after %s", s.limits.WorkflowDeadline()))
}

func (s *Scheduler) handleShutdown() {
	if s.finishing() {
		return
	}
	s.cancelled = true
	s.ec.PendingInteractions = make(map[string]*sdk.PendingInteraction)
	s.stopRemaining()
	s.logger.Info("execution cancelled", "execution_id", s.ec.ExecutionID)
}

func (s *Scheduler) stopRemaining() {
	stopped := s.graph.StopNonTerminal()
	if len(stopped) == 0 {
		return
	}
	progress := s.graph.Progress()
	for _, id := range stopped {
		e := s.nodeEvent(sdk.EventNodeStopped, s.graph.Node(id))
		e.Status = "stopped"
		e.Message = "execution stopped before this node finished"
		e.Progress = progress
		s.publishEvent(e)
	}
}

func (s *Scheduler) finalize() error {
	now := time.Now().UTC()
	s.ec.CompletedAt = &now

	var status sdk.ExecutionStatus
	var finalErr error
	switch {
	case s.cancelled:
		status = sdk.StatusStopped
	case s.haltErr != nil:
		status = sdk.StatusFailed
		finalErr = s.haltErr
	case len(s.graph.FailedNodes) > 0:
		status = sdk.StatusFailed
		msg := strings.Join(s.ec.Errors, "; ")
		if msg == "" {
			msg = fmt.Sprintf("%d node(s) failed", len(s.graph.FailedNodes))
		}
		finalErr = errors.New(msg)
		// stop_on_error=false runs land here with the failed branches'
		// descendants still pending.
		s.stopRemaining()
	default:
		status = sdk.StatusCompleted
	}

	s.ec.Status = status
	s.cleanupInstances()
	s.persistResults()
	errMsg := ""
	if finalErr != nil {
		errMsg = finalErr.Error()
	}
	s.writeStatus(status, errMsg, &now)
	s.metrics.ExecutionFinished(strings.ToLower(string(status)))

	e := &sdk.Event{
		Type:     terminalEvent(status),
		Status:   strings.ToLower(string(status)),
		Error:    errMsg,
		Progress: s.graph.Progress(),
	}
	s.publishEvent(e)
	s.logger.Info("execution finished",
		"execution_id", s.ec.ExecutionID,
		"workflow_id", s.ec.WorkflowID,
		"status", string(status),
		"duration", now.Sub(s.ec.StartedAt))

	if status == sdk.StatusFailed {
		return finalErr
	}
	return nil
}

func terminalEvent(status sdk.ExecutionStatus) sdk.EventType {
	switch status {
	case sdk.StatusFailed:
		return sdk.EventExecutionFailed
	case sdk.StatusStopped:
		return sdk.EventExecutionStopped
	default:
		return sdk.EventExecutionCompleted
	}
}

// spawn moves a READY node to EXECUTING and launches its task. Must run on
// the scheduler goroutine.
func (s *Scheduler) spawn(ctx context.Context, id string) {
	n := s.graph.Node(id)
	if n == nil || n.Phase != sdk.PhaseReady {
		return
	}
	n.Phase = sdk.PhaseExecuting
	// Loop iterations re-run nodes whose previous result is already closed;
	// those get a fresh result with a fresh started_at.
	if res := s.ec.NodeResults[id]; res == nil || res.CompletedAt != nil {
		s.ec.NodeResults[id] = &sdk.NodeResult{StartedAt: time.Now().UTC()}
	}

	progress := s.graph.Progress()
	e := s.nodeEvent(sdk.EventNodeStart, n)
	e.Status = "executing"
	e.Progress = progress
	s.publishEvent(e)
	s.logger.Info("node started",
		"execution_id", s.ec.ExecutionID,
		"node_id", id,
		"node_type", n.Config.NodeType)

	inst, err := s.instance(id)
	if err != nil {
		s.handleCompletion(ctx, &completion{nodeID: id, err: &ConfigError{NodeID: id, Err: err}})
		return
	}
	cfg, err := resolver.Resolve(n.Config.Config, s.ec.Variables)
	if err != nil {
		s.handleCompletion(ctx, &completion{nodeID: id, err: &ConfigError{NodeID: id, Err: err}})
		return
	}

	caps, _ := s.registry.Capabilities(n.Config.NodeType)
	t := &task{
		nodeID:      id,
		nodeType:    n.Config.NodeType,
		nodeName:    n.Config.Name,
		instance:    inst,
		pools:       caps.RequiredPools(),
		credIDs:     collectCredentialIDs(cfg),
		maxAttempts: 1 + s.limits.MaxRetries,
		progress:    progress,
		input: &sdk.NodeExecutionInput{
			Ports:          AssembleInputs(s.graph, s.ec, id),
			WorkflowID:     s.ec.WorkflowID,
			ExecutionID:    s.ec.ExecutionID,
			NodeID:         id,
			NodeName:       n.Config.Name,
			Variables:      s.ec.VariablesSnapshot(),
			Config:         cfg,
			LLM:            s.llm,
			FrontendOrigin: s.ec.FrontendOrigin,
		},
	}
	t.input.RunNode = s.runNodeFunc(t)
	s.active++
	go s.runTask(ctx, t)
}

func (s *Scheduler) handleCompletion(ctx context.Context, msg *completion) {
	n := s.graph.Node(msg.nodeID)
	if n == nil {
		return
	}
	if n.Phase != sdk.PhaseExecuting {
		// A task outliving a halt or expiry; the phase already tells the
		// final story.
		s.logger.Debug("dropping late completion",
			"execution_id", s.ec.ExecutionID,
			"node_id", msg.nodeID,
			"phase", string(n.Phase))
		return
	}
	switch {
	case msg.err != nil:
		s.failNode(n, msg)
	case msg.awaiting != nil:
		s.parkNode(n, msg)
	default:
		s.completeNode(ctx, n, msg)
	}
}

func (s *Scheduler) completeNode(ctx context.Context, n *graph.NodeState, msg *completion) {
	now := time.Now().UTC()
	res := s.nodeResult(n.ID, now)
	res.Success = true
	res.Outputs = msg.outputs
	res.Error = ""
	res.CompletedAt = &now
	mergeMeta(res, msg.meta)

	s.ec.NodeOutputs[n.ID] = msg.outputs
	if n.Config.ShareOutputToVariables {
		s.ec.PublishNodeVariable(n.ID, msg.outputs)
	}
	s.graph.MarkCompleted(n.ID)
	s.metrics.NodeFinished("completed")
	s.metrics.ObserveNodeDuration(n.Config.NodeType, now.Sub(res.StartedAt))

	route := operators.RouteCompletion(s.graph, n.ID, s.ec.NodeOutputs)
	if len(route.Skipped) > 0 {
		s.logger.Info("branch pruned",
			"execution_id", s.ec.ExecutionID,
			"decision", n.ID,
			"skipped", route.Skipped)
	}

	e := s.nodeEvent(sdk.EventNodeComplete, n)
	e.Status = "completed"
	e.Outputs = msg.outputs
	e.Progress = s.graph.Progress()
	s.publishEvent(e)
	s.logger.Info("node completed",
		"execution_id", s.ec.ExecutionID,
		"node_id", n.ID,
		"duration", now.Sub(res.StartedAt))

	for _, id := range route.NewlyReady {
		s.spawn(ctx, id)
	}
}

func (s *Scheduler) failNode(n *graph.NodeState, msg *completion) {
	now := time.Now().UTC()
	res := s.nodeResult(n.ID, now)
	res.Success = false
	res.Error = msg.err.Error()
	res.CompletedAt = &now
	mergeMeta(res, msg.meta)

	var nerr *NodeError
	if errors.As(msg.err, &nerr) && nerr.Soft {
		res.Outputs = nerr.Outputs
		mergeMeta(res, map[string]any{"soft_error": true})
		s.ec.NodeOutputs[n.ID] = nerr.Outputs
	}

	s.graph.MarkFailed(n.ID)
	s.ec.RecordError(fmt.Sprintf("node %s (%s) failed: %v", n.ID, n.Config.Name, msg.err))
	s.metrics.NodeFinished("failed")
	s.cleanupInstance(n.ID)

	e := s.nodeEvent(sdk.EventNodeFailed, n)
	e.Status = "failed"
	e.Error = msg.err.Error()
	e.Progress = s.graph.Progress()
	s.publishEvent(e)
	s.logger.Error("node failed",
		"execution_id", s.ec.ExecutionID,
		"node_id", n.ID,
		"node_type", n.Config.NodeType,
		"error", msg.err)

	var cfgErr *ConfigError
	if s.limits.StopOnError || errors.As(msg.err, &cfgErr) {
		s.halt(fmt.Errorf("node %s failed: %w", n.ID, msg.err))
	}
}

// parkNode holds a node in AWAITING_INTERACTION and pauses the execution.
// The node's dependents are not resolved; that happens when the interaction
// outcome completes the node.
func (s *Scheduler) parkNode(n *graph.NodeState, msg *completion) {
	p := msg.awaiting
	n.Phase = sdk.PhaseAwaitingInteraction
	res := s.nodeResult(n.ID, p.CreatedAt)
	res.Outputs = msg.outputs

	s.ec.PendingInteractions[p.InteractionID] = p
	s.paused = true
	s.suspendClock()
	s.ec.Status = sdk.StatusPaused
	s.updateStatus(sdk.StatusPaused, "")
	s.persistResults()

	e := s.nodeEvent(sdk.EventInteractionRequired, n)
	e.Status = "paused"
	e.InteractionID = p.InteractionID
	e.InteractionType = p.InteractionType
	e.ReviewURL = p.ReviewURL
	e.Message = p.Message
	e.Progress = s.graph.Progress()
	s.publishEvent(e)
	s.publishEvent(&sdk.Event{
		Type:    sdk.EventExecutionPaused,
		Status:  "paused",
		Message: fmt.Sprintf("awaiting %s on node %s", p.InteractionType, n.ID),
	})
	s.logger.Info("interaction required",
		"execution_id", s.ec.ExecutionID,
		"node_id", n.ID,
		"interaction_id", p.InteractionID,
		"interaction_type", p.InteractionType)
}

func (s *Scheduler) nextIteration(ctx context.Context) bool {
	ready := operators.ResetLoop(s.graph, s.ec)
	if len(ready) == 0 {
		return false
	}
	s.iteration++
	s.logger.Info("loop continues",
		"execution_id", s.ec.ExecutionID,
		"iteration", s.iteration,
		"entries", ready)
	for _, id := range ready {
		s.spawn(ctx, id)
	}
	return true
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *command) {
	switch cmd.kind {
	case cmdPause:
		cmd.reply <- s.doPause()
	case cmdResume:
		cmd.reply <- s.doResume()
	case cmdCancel:
		cmd.reply <- s.doCancel()
	case cmdResumeInteraction:
		cmd.reply <- s.doResumeInteraction(ctx, cmd.interactionID, cmd.request)
	case cmdExpireInteraction:
		cmd.reply <- s.doExpireInteraction(cmd.interactionID)
	case cmdRunNode:
		s.startToolRun(ctx, cmd)
	case cmdInteractions:
		cmd.interactions <- s.pendingSnapshot()
	}
}

func (s *Scheduler) doPause() error {
	if s.finishing() {
		return ErrFinished
	}
	if s.paused {
		return nil
	}
	s.paused = true
	s.suspendClock()
	s.ec.Status = sdk.StatusPaused
	s.updateStatus(sdk.StatusPaused, "")
	s.persistResults()
	s.publishEvent(&sdk.Event{Type: sdk.EventExecutionPaused, Status: "paused", Message: "execution paused"})
	s.logger.Info("execution paused", "execution_id", s.ec.ExecutionID)
	return nil
}

func (s *Scheduler) doResume() error {
	if s.finishing() {
		return ErrFinished
	}
	if n := len(s.ec.PendingInteractions); n > 0 {
		return fmt.Errorf("%d interaction(s) await a decision; resume them individually", n)
	}
	if !s.paused {
		return nil
	}
	s.paused = false
	s.resumeClock()
	s.ec.Status = sdk.StatusRunning
	s.updateStatus(sdk.StatusRunning, "")
	s.publishEvent(&sdk.Event{Type: sdk.EventExecutionResumed, Status: "running", Message: "execution resumed"})
	s.logger.Info("execution resumed", "execution_id", s.ec.ExecutionID)
	return nil
}

func (s *Scheduler) doCancel() error {
	if s.finishing() {
		return nil
	}
	s.cancelled = true
	s.ec.PendingInteractions = make(map[string]*sdk.PendingInteraction)
	s.stopRemaining()
	s.cancelRun()
	s.logger.Info("execution cancel requested", "execution_id", s.ec.ExecutionID)
	return nil
}

func (s *Scheduler) doResumeInteraction(ctx context.Context, interactionID string, req *sdk.InteractionRequest) error {
	if s.finishing() {
		return ErrFinished
	}
	if req == nil || req.Action == "" {
		return fmt.Errorf("interaction action is required")
	}
	p, ok := s.ec.PendingInteractions[interactionID]
	if !ok {
		return fmt.Errorf("unknown interaction: %s", interactionID)
	}
	n := s.graph.Node(p.NodeID)
	if n == nil || n.Phase != sdk.PhaseAwaitingInteraction {
		return fmt.Errorf("node %s is not awaiting an interaction", p.NodeID)
	}
	handler, ok := s.instances[p.NodeID].(sdk.InteractionHandler)
	if !ok {
		return fmt.Errorf("node type %s cannot handle interactions", n.Config.NodeType)
	}

	delete(s.ec.PendingInteractions, interactionID)
	n.Phase = sdk.PhaseExecuting
	if len(s.ec.PendingInteractions) == 0 && s.paused {
		s.paused = false
		s.resumeClock()
		s.ec.Status = sdk.StatusRunning
		s.updateStatus(sdk.StatusRunning, "")
		s.publishEvent(&sdk.Event{
			Type:    sdk.EventExecutionResumed,
			Status:  "running",
			Message: fmt.Sprintf("interaction %s resolved with action %q", interactionID, req.Action),
		})
	}

	caps, _ := s.registry.Capabilities(n.Config.NodeType)
	t := &task{
		nodeID:      p.NodeID,
		nodeType:    n.Config.NodeType,
		nodeName:    n.Config.Name,
		handler:     handler,
		resume:      req,
		pools:       caps.RequiredPools(),
		maxAttempts: 1,
		progress:    s.graph.Progress(),
		meta:        map[string]any{"interaction_action": req.Action},
	}
	s.active++
	s.logger.Info("interaction resumed",
		"execution_id", s.ec.ExecutionID,
		"node_id", p.NodeID,
		"interaction_id", interactionID,
		"action", req.Action)
	go s.runTask(ctx, t)
	return nil
}

// doExpireInteraction fails a parked node whose decision window lapsed. The
// sweeper calls this; an id that was resumed in the meantime is a no-op.
func (s *Scheduler) doExpireInteraction(interactionID string) error {
	if s.finishing() {
		return nil
	}
	p, ok := s.ec.PendingInteractions[interactionID]
	if !ok {
		return nil
	}
	delete(s.ec.PendingInteractions, interactionID)

	n := s.graph.Node(p.NodeID)
	if n != nil && n.Phase == sdk.PhaseAwaitingInteraction {
		now := time.Now().UTC()
		res := s.nodeResult(p.NodeID, now)
		res.Success = false
		res.Error = "interaction timeout"
		res.CompletedAt = &now
		s.graph.MarkFailed(p.NodeID)
		s.ec.RecordError(fmt.Sprintf("node %s (%s) failed: interaction timeout", p.NodeID, n.Config.Name))
		s.metrics.NodeFinished("failed")
		s.cleanupInstance(p.NodeID)

		e := s.nodeEvent(sdk.EventNodeFailed, n)
		e.Status = "failed"
		e.Error = "interaction timeout"
		e.Progress = s.graph.Progress()
		s.publishEvent(e)
		s.logger.Warn("interaction expired",
			"execution_id", s.ec.ExecutionID,
			"node_id", p.NodeID,
			"interaction_id", interactionID)
	}

	if s.limits.StopOnError {
		s.halt(fmt.Errorf("node %s failed: interaction timeout", p.NodeID))
		return nil
	}
	if len(s.ec.PendingInteractions) == 0 && s.paused {
		s.paused = false
		s.resumeClock()
		s.ec.Status = sdk.StatusRunning
		s.updateStatus(sdk.StatusRunning, "")
		s.publishEvent(&sdk.Event{Type: sdk.EventExecutionResumed, Status: "running", Message: "interaction expired"})
	}
	return nil
}

// startToolRun serves an agent's runNode request. Only nodes wired
// exclusively into tools ports are invocable; they run outside the graph's
// dependency flow, so the outcome is reported to the requester rather than
// routed to dependents.
func (s *Scheduler) startToolRun(ctx context.Context, cmd *command) {
	fail := func(err error) { cmd.toolReply <- &toolResult{err: err} }
	if s.finishing() {
		fail(ErrFinished)
		return
	}
	n := s.graph.Node(cmd.nodeID)
	if n == nil {
		fail(fmt.Errorf("unknown node: %s", cmd.nodeID))
		return
	}
	if !s.graph.ToolsOnlyNodes[cmd.nodeID] {
		fail(fmt.Errorf("node %s is not wired as a tool", cmd.nodeID))
		return
	}
	inst, err := s.instance(cmd.nodeID)
	if err != nil {
		fail(fmt.Errorf("failed to instantiate tool: %w", err))
		return
	}
	cfg, err := resolver.Resolve(n.Config.Config, s.ec.Variables)
	if err != nil {
		fail(fmt.Errorf("failed to resolve tool config: %w", err))
		return
	}
	if len(cmd.override) > 0 {
		cfg, err = mergeConfig(cfg, cmd.override)
		if err != nil {
			fail(fmt.Errorf("failed to apply config override: %w", err))
			return
		}
	}

	n.Phase = sdk.PhaseExecuting
	s.ec.NodeResults[cmd.nodeID] = &sdk.NodeResult{StartedAt: time.Now().UTC()}

	caps, _ := s.registry.Capabilities(n.Config.NodeType)
	t := &task{
		nodeID:      cmd.nodeID,
		nodeType:    n.Config.NodeType,
		nodeName:    n.Config.Name,
		instance:    inst,
		pools:       caps.RequiredPools(),
		credIDs:     collectCredentialIDs(cfg),
		maxAttempts: 1,
		progress:    s.graph.Progress(),
		toolReply:   cmd.toolReply,
		input: &sdk.NodeExecutionInput{
			Ports:          cmd.inputs,
			WorkflowID:     s.ec.WorkflowID,
			ExecutionID:    s.ec.ExecutionID,
			NodeID:         cmd.nodeID,
			NodeName:       n.Config.Name,
			Variables:      s.ec.VariablesSnapshot(),
			Config:         cfg,
			LLM:            s.llm,
			FrontendOrigin: s.ec.FrontendOrigin,
		},
	}
	t.input.RunNode = s.runNodeFunc(t)

	e := s.nodeEvent(sdk.EventNodeStart, n)
	e.Status = "executing"
	e.Progress = t.progress
	s.publishEvent(e)
	s.logger.Info("tool run started",
		"execution_id", s.ec.ExecutionID,
		"node_id", cmd.nodeID,
		"node_type", n.Config.NodeType)
	go s.runTask(ctx, t)
}

func (s *Scheduler) handleToolCompletion(msg *completion) {
	n := s.graph.Node(msg.nodeID)
	now := time.Now().UTC()
	res := s.nodeResult(msg.nodeID, now)
	res.CompletedAt = &now

	if msg.err != nil {
		res.Success = false
		res.Error = msg.err.Error()
		if n != nil {
			n.Phase = sdk.PhaseFailed
			e := s.nodeEvent(sdk.EventNodeFailed, n)
			e.Status = "failed"
			e.Error = msg.err.Error()
			e.Progress = s.graph.Progress()
			s.publishEvent(e)
		}
		s.metrics.NodeFinished("failed")
	} else {
		res.Success = true
		res.Outputs = msg.outputs
		s.ec.NodeOutputs[msg.nodeID] = msg.outputs
		if n != nil {
			if n.Config.ShareOutputToVariables {
				s.ec.PublishNodeVariable(msg.nodeID, msg.outputs)
			}
			n.Phase = sdk.PhaseCompleted
			e := s.nodeEvent(sdk.EventNodeComplete, n)
			e.Status = "completed"
			e.Outputs = msg.outputs
			e.Progress = s.graph.Progress()
			s.publishEvent(e)
		}
		s.metrics.NodeFinished("completed")
		s.metrics.ObserveNodeDuration(nodeTypeOf(n), now.Sub(res.StartedAt))
	}

	msg.toolReply <- &toolResult{outputs: msg.outputs, err: msg.err}
}

func nodeTypeOf(n *graph.NodeState) string {
	if n == nil {
		return ""
	}
	return n.Config.NodeType
}

// Pause suspends node scheduling. Executing nodes finish; their completions
// are processed after resume. The workflow deadline stops ticking while
// paused.
func (s *Scheduler) Pause(ctx context.Context) error {
	return s.send(ctx, &command{kind: cmdPause})
}

// Resume lifts a user pause. Executions parked on interactions cannot be
// resumed this way; resolve the interactions instead.
func (s *Scheduler) Resume(ctx context.Context) error {
	return s.send(ctx, &command{kind: cmdResume})
}

// Cancel stops the execution: in-flight nodes are cancelled, unreached nodes
// marked STOPPED, and the terminal status is STOPPED.
func (s *Scheduler) Cancel(ctx context.Context) error {
	return s.send(ctx, &command{kind: cmdCancel})
}

// ResumeInteraction resolves a pending interaction with the given request.
// The node's interaction handler runs as a normal node task; its outcome
// completes or fails the node.
func (s *Scheduler) ResumeInteraction(ctx context.Context, interactionID string, req *sdk.InteractionRequest) error {
	return s.send(ctx, &command{kind: cmdResumeInteraction, interactionID: interactionID, request: req})
}

// ExpireInteraction fails the parked node behind a pending interaction with
// "interaction timeout". Unknown ids are a no-op.
func (s *Scheduler) ExpireInteraction(ctx context.Context, interactionID string) error {
	return s.send(ctx, &command{kind: cmdExpireInteraction, interactionID: interactionID})
}

// PendingInteractions snapshots the currently parked decisions, oldest first.
func (s *Scheduler) PendingInteractions(ctx context.Context) []*sdk.PendingInteraction {
	cmd := &command{kind: cmdInteractions, interactions: make(chan []*sdk.PendingInteraction, 1)}
	select {
	case s.cmdCh <- cmd:
	case <-s.done:
		return nil
	case <-ctx.Done():
		return nil
	}
	select {
	case list := <-cmd.interactions:
		return list
	case <-s.done:
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (s *Scheduler) send(ctx context.Context, cmd *command) error {
	cmd.reply = make(chan error, 1)
	select {
	case s.cmdCh <- cmd:
	case <-s.done:
		return ErrFinished
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-s.done:
		// The command may have been answered right as Run returned.
		select {
		case err := <-cmd.reply:
			return err
		default:
			return ErrFinished
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) pendingSnapshot() []*sdk.PendingInteraction {
	if len(s.ec.PendingInteractions) == 0 {
		return nil
	}
	out := make([]*sdk.PendingInteraction, 0, len(s.ec.PendingInteractions))
	for _, p := range s.ec.PendingInteractions {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Scheduler) suspendClock() {
	if s.clockStopped {
		return
	}
	if s.timer.Stop() {
		s.clockStopped = true
		s.clockLeft = time.Until(s.deadlineAt)
		if s.clockLeft <= 0 {
			s.clockLeft = time.Millisecond
		}
	}
	// Stop reporting false means the deadline already fired; the tick sits
	// in the timer channel and the loop will handle it.
}

func (s *Scheduler) resumeClock() {
	if !s.clockStopped {
		return
	}
	s.clockStopped = false
	s.deadlineAt = time.Now().Add(s.clockLeft)
	s.timer.Reset(s.clockLeft)
}

func (s *Scheduler) instance(id string) (sdk.Node, error) {
	if inst, ok := s.instances[id]; ok {
		return inst, nil
	}
	n := s.graph.Node(id)
	inst, err := s.registry.Create(n.Config.NodeType)
	if err != nil {
		return nil, err
	}
	s.instances[id] = inst
	return inst, nil
}

func (s *Scheduler) cleanupInstance(id string) {
	inst, ok := s.instances[id]
	if !ok {
		return
	}
	delete(s.instances, id)
	if c, ok := inst.(sdk.Cleaner); ok {
		if err := c.Cleanup(s.eventCtx); err != nil {
			s.logger.Warn("node cleanup failed",
				"execution_id", s.ec.ExecutionID,
				"node_id", id,
				"error", err)
		}
	}
}

func (s *Scheduler) cleanupInstances() {
	for _, id := range s.graph.Order {
		s.cleanupInstance(id)
	}
}

func (s *Scheduler) nodeResult(id string, fallbackStart time.Time) *sdk.NodeResult {
	res := s.ec.NodeResults[id]
	if res == nil {
		res = &sdk.NodeResult{StartedAt: fallbackStart}
		s.ec.NodeResults[id] = res
	}
	return res
}

func mergeMeta(res *sdk.NodeResult, meta map[string]any) {
	if len(meta) == 0 {
		return
	}
	if res.Metadata == nil {
		res.Metadata = make(map[string]any, len(meta))
	}
	for k, v := range meta {
		res.Metadata[k] = v
	}
}

func (s *Scheduler) nodeEvent(typ sdk.EventType, n *graph.NodeState) *sdk.Event {
	return &sdk.Event{
		Type:     typ,
		NodeID:   n.ID,
		NodeType: n.Config.NodeType,
		NodeName: n.Config.Name,
	}
}

func (s *Scheduler) publishEvent(e *sdk.Event) {
	e.ExecutionID = s.ec.ExecutionID
	e.WorkflowID = s.ec.WorkflowID
	e.Timestamp = time.Now().UTC()
	s.publisher.Publish(s.eventCtx, e)
}

func (s *Scheduler) updateStatus(status sdk.ExecutionStatus, errMsg string) {
	s.writeStatus(status, errMsg, nil)
}

func (s *Scheduler) writeStatus(status sdk.ExecutionStatus, errMsg string, completedAt *time.Time) {
	if s.sink == nil {
		return
	}
	if err := s.sink.UpdateStatus(s.eventCtx, s.ec.ExecutionID, status, errMsg, completedAt); err != nil {
		s.logger.Error("failed to persist execution status",
			"execution_id", s.ec.ExecutionID,
			"status", string(status),
			"error", err)
	}
}

func (s *Scheduler) persistResults() {
	if s.sink == nil {
		return
	}
	if err := s.sink.UpdateNodeResults(s.eventCtx, s.ec.ExecutionID, s.ec.NodeResults); err != nil {
		s.logger.Error("failed to persist node results",
			"execution_id", s.ec.ExecutionID,
			"error", err)
	}
}
