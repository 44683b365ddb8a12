package condition

import (
	"testing"
)

func TestEvaluateBool(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	input := map[string]interface{}{
		"score":    float64(85),
		"approved": true,
		"tags":     []interface{}{"urgent", "billing"},
	}
	vars := map[string]interface{}{
		"threshold": float64(80),
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"numeric comparison", "input.score > 70.0", true},
		{"boolean field", "input.approved", true},
		{"vars lookup", "input.score >= vars.threshold", true},
		{"jsonpath normalization", "$.score < 90.0", true},
		{"list membership", "'urgent' in input.tags", true},
		{"false result", "input.score > 100.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvaluateBool(tt.expr, input, vars)
			if err != nil {
				t.Fatalf("EvaluateBool(%q): %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("EvaluateBool(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateBool_NonBoolean(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	if _, err := e.EvaluateBool("input.score", map[string]interface{}{"score": float64(1)}, nil); err == nil {
		t.Fatal("expected error for non-boolean result")
	}
}

func TestEvaluate_CompileError(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	if _, err := e.Evaluate("input.score >", nil, nil); err == nil {
		t.Fatal("expected compile error")
	}
	if _, err := e.Evaluate("", nil, nil); err == nil {
		t.Fatal("expected error for empty expression")
	}
}

func TestProgramCache(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	input := map[string]interface{}{"x": float64(1)}
	if _, err := e.EvaluateBool("input.x == 1.0", input, nil); err != nil {
		t.Fatalf("first eval: %v", err)
	}
	if _, err := e.EvaluateBool("input.x == 1.0", input, nil); err != nil {
		t.Fatalf("second eval: %v", err)
	}
	if got := e.CacheSize(); got != 1 {
		t.Errorf("CacheSize() = %d, want 1", got)
	}

	e.ClearCache()
	if got := e.CacheSize(); got != 0 {
		t.Errorf("CacheSize() after clear = %d, want 0", got)
	}
}
