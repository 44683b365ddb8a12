package sdk

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// ExecutionConstraints bound one execution's concurrency, timeouts, and retry
// behavior. Duration-valued fields are seconds on the wire.
type ExecutionConstraints struct {
	MaxConcurrentNodes int     `json:"max_concurrent_nodes"`
	AIConcurrentLimit  int     `json:"ai_concurrent_limit"`
	DefaultTimeout     float64 `json:"default_timeout"`
	WorkflowTimeout    float64 `json:"workflow_timeout"`
	StopOnError        bool    `json:"stop_on_error"`
	MaxRetries         int     `json:"max_retries"`
	RetryDelay         float64 `json:"retry_delay"`
	BackoffMultiplier  float64 `json:"backoff_multiplier"`
	MaxRetryDelay      float64 `json:"max_retry_delay"`
	MaxSpawnsPerMinute int     `json:"max_spawns_per_minute"`
	InteractionTimeout float64 `json:"interaction_timeout"`
}

// DefaultConstraints returns the engine defaults.
func DefaultConstraints() ExecutionConstraints {
	return ExecutionConstraints{
		MaxConcurrentNodes: 5,
		AIConcurrentLimit:  1,
		DefaultTimeout:     300,
		WorkflowTimeout:    1800,
		StopOnError:        true,
		MaxRetries:         3,
		RetryDelay:         5.0,
		BackoffMultiplier:  1.5,
		MaxRetryDelay:      60,
		MaxSpawnsPerMinute: 0,
		InteractionTimeout: 86400,
	}
}

// WithOverrides merge-patches a definition's execution_constraints map over
// the receiver. Keys absent from the overrides keep their current values.
func (c ExecutionConstraints) WithOverrides(overrides map[string]any) (ExecutionConstraints, error) {
	if len(overrides) == 0 {
		return c, nil
	}

	base, err := json.Marshal(c)
	if err != nil {
		return c, fmt.Errorf("failed to marshal constraints: %w", err)
	}
	patch, err := json.Marshal(overrides)
	if err != nil {
		return c, fmt.Errorf("failed to marshal constraint overrides: %w", err)
	}
	merged, err := jsonpatch.MergePatch(base, patch)
	if err != nil {
		return c, fmt.Errorf("failed to merge constraint overrides: %w", err)
	}

	var out ExecutionConstraints
	if err := json.Unmarshal(merged, &out); err != nil {
		return c, fmt.Errorf("failed to decode merged constraints: %w", err)
	}
	out.normalize()
	return out, nil
}

func (c *ExecutionConstraints) normalize() {
	if c.MaxConcurrentNodes < 1 {
		c.MaxConcurrentNodes = 1
	}
	if c.AIConcurrentLimit < 1 {
		c.AIConcurrentLimit = 1
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 300
	}
	if c.WorkflowTimeout <= 0 {
		c.WorkflowTimeout = 1800
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 1
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 60
	}
}

// NodeTimeout is the per-node execution deadline.
func (c ExecutionConstraints) NodeTimeout() time.Duration {
	return secondsToDuration(c.DefaultTimeout)
}

// WorkflowDeadline is the whole-execution deadline. It is the parent of every
// node deadline, so workflow expiry cancels all in-flight nodes.
func (c ExecutionConstraints) WorkflowDeadline() time.Duration {
	return secondsToDuration(c.WorkflowTimeout)
}

// InteractionDeadline is how long a pending human decision may age before the
// sweeper expires it.
func (c ExecutionConstraints) InteractionDeadline() time.Duration {
	return secondsToDuration(c.InteractionTimeout)
}

// RetryBackoff returns the sleep before the retry following the given
// zero-based failed attempt: min(retry_delay * multiplier^attempt, max).
func (c ExecutionConstraints) RetryBackoff(attempt int) time.Duration {
	delay := c.RetryDelay * math.Pow(c.BackoffMultiplier, float64(attempt))
	if delay > c.MaxRetryDelay {
		delay = c.MaxRetryDelay
	}
	return secondsToDuration(delay)
}

// PoolSizes maps pool names to their permit counts.
func (c ExecutionConstraints) PoolSizes() map[string]int {
	return map[string]int{
		PoolStandard: c.MaxConcurrentNodes,
		PoolLLM:      c.AIConcurrentLimit,
		PoolAI:       c.AIConcurrentLimit,
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
