package nodes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayWaitsAndForwards(t *testing.T) {
	n := &delayNode{}
	start := time.Now()
	out, err := n.Execute(context.Background(), newInput(
		map[string]any{"input": "payload"},
		map[string]any{"duration": "20ms"},
	))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, "payload", out["output"])
	assert.Equal(t, int64(20), out["delayed_ms"])
}

func TestDelayAcceptsBareSeconds(t *testing.T) {
	d, err := parseDuration(float64(1.5))
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = parseDuration(2)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	_, err = parseDuration(nil)
	require.Error(t, err)
}

func TestDelayStopsOnCancel(t *testing.T) {
	n := &delayNode{}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := n.Execute(ctx, newInput(nil, map[string]any{"duration": "1h"}))
	require.ErrorIs(t, err, context.Canceled)
}

func TestConditionRoutesTrueBranch(t *testing.T) {
	n := &conditionNode{eval: mustEvaluator(t)}
	in := newInput(map[string]any{"input": map[string]any{"count": 5}}, map[string]any{
		"expression": "$.count > 3",
	})

	out, err := n.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, true, out["decision_result"])
	assert.Equal(t, "true", out["active_path"])
	assert.Equal(t, []string{"false"}, out["blocked_outputs"])
}

func TestConditionRoutesFalseBranch(t *testing.T) {
	n := &conditionNode{eval: mustEvaluator(t)}
	in := newInput(map[string]any{"input": map[string]any{"count": 1}}, map[string]any{
		"expression": "input.count > 3",
	})

	out, err := n.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, false, out["decision_result"])
	assert.Equal(t, "false", out["active_path"])
	assert.Equal(t, []string{"true"}, out["blocked_outputs"])
}

func TestConditionBindsScalarInputUnderValue(t *testing.T) {
	n := &conditionNode{eval: mustEvaluator(t)}
	in := newInput(map[string]any{"input": "approved"}, map[string]any{
		"expression": `input.value == "approved"`,
	})

	out, err := n.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "true", out["active_path"])
}

func TestConditionSurfacesEvaluationErrors(t *testing.T) {
	n := &conditionNode{eval: mustEvaluator(t)}
	_, err := n.Execute(context.Background(), newInput(nil, map[string]any{
		"expression": "this is not CEL ((",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "condition failed")
}

func TestSwitchPicksFirstMatchingRule(t *testing.T) {
	n := &switchNode{eval: mustEvaluator(t)}
	in := newInput(map[string]any{"input": map[string]any{"severity": "critical"}}, map[string]any{
		"rules": []any{
			map[string]any{"when": `$.severity == "low"`, "path": "log"},
			map[string]any{"when": `$.severity == "critical"`, "path": "page"},
			map[string]any{"when": "true", "path": "page"},
		},
	})

	out, err := n.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "page", out["active_path"])
	assert.Equal(t, 1, out["matched_rule"])
	assert.Equal(t, true, out["decision_result"])
}

func TestSwitchFallsBackToDefault(t *testing.T) {
	n := &switchNode{eval: mustEvaluator(t)}
	in := newInput(map[string]any{"input": map[string]any{"severity": "info"}}, map[string]any{
		"rules": []any{
			map[string]any{"when": `$.severity == "critical"`, "path": "page"},
		},
		"default_path": "log",
	})

	out, err := n.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "log", out["active_path"])
	assert.Equal(t, -1, out["matched_rule"])
}

func TestSwitchWithoutMatchBlocksAllPaths(t *testing.T) {
	n := &switchNode{eval: mustEvaluator(t)}
	in := newInput(map[string]any{"input": map[string]any{"severity": "info"}}, map[string]any{
		"rules": []any{
			map[string]any{"when": "false", "path": "page"},
			map[string]any{"when": "false", "path": "log"},
		},
	})

	out, err := n.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, false, out["decision_result"])
	assert.Equal(t, []string{"log", "page"}, out["blocked_outputs"])
	assert.Equal(t, -1, out["matched_rule"])
}

func TestSwitchValidatesRules(t *testing.T) {
	n := &switchNode{eval: mustEvaluator(t)}

	_, err := n.Execute(context.Background(), newInput(nil, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rules are required")

	_, err = n.Execute(context.Background(), newInput(nil, map[string]any{
		"rules": []any{map[string]any{"when": "true"}},
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule 0 needs when and path")
}

func TestLoopCounterCountsAcrossIterations(t *testing.T) {
	n := &loopCounterNode{}
	cfg := map[string]any{"max_iterations": 3}

	for i := 1; i <= 3; i++ {
		out, err := n.Execute(context.Background(), newInput(nil, cfg))
		require.NoError(t, err)
		assert.Equal(t, i, out["iteration"])
		assert.Equal(t, i < 3, out["continue_loop"])
	}
}

func TestLoopCounterRejectsBadCap(t *testing.T) {
	n := &loopCounterNode{}
	_, err := n.Execute(context.Background(), newInput(nil, map[string]any{"max_iterations": 0}))
	require.Error(t, err)
}
