package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/weftworks/weft/common/sdk"
)

// scriptNode evaluates user JavaScript over the node's inputs in a fresh
// sandboxed VM per call: no host access, no require, no globals beyond the
// injected data. Cancellation interrupts the VM, so a runaway script cannot
// outlive its node timeout.
//
// The script either defines `function run(input, vars)` or is an expression;
// an object result becomes the output map, anything else lands on "output".
type scriptNode struct{}

func (n *scriptNode) InputPorts() []sdk.Port  { return universalPort("input", false) }
func (n *scriptNode) OutputPorts() []sdk.Port { return universalPort("output", false) }

func (n *scriptNode) ConfigSchema() map[string]any {
	return objectSchema(map[string]any{
		"code": prop("string", "JavaScript: an expression or a run(input, vars) function"),
	}, "code")
}

func (n *scriptNode) Execute(ctx context.Context, in *sdk.NodeExecutionInput) (map[string]any, error) {
	code := stringOr(in.Config, "code", "")
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("script cancelled")
		case <-watchdogDone:
		}
	}()

	if err := vm.Set("input", in.Ports["input"]); err != nil {
		return nil, fmt.Errorf("failed to bind input: %w", err)
	}
	if err := vm.Set("inputs", in.Ports); err != nil {
		return nil, fmt.Errorf("failed to bind inputs: %w", err)
	}
	if err := vm.Set("vars", in.Variables); err != nil {
		return nil, fmt.Errorf("failed to bind vars: %w", err)
	}

	value, err := vm.RunString(code)
	if err != nil {
		return nil, scriptError(ctx, err)
	}

	// A defined run() takes precedence over the evaluation result.
	if runFn, ok := goja.AssertFunction(vm.Get("run")); ok {
		value, err = runFn(goja.Undefined(), vm.ToValue(in.Ports["input"]), vm.ToValue(in.Variables))
		if err != nil {
			return nil, scriptError(ctx, err)
		}
	}

	exported := value.Export()
	if outputs, ok := exported.(map[string]any); ok {
		return outputs, nil
	}
	return map[string]any{"output": exported}, nil
}

// scriptError maps a VM interrupt back to the context error that caused it.
func scriptError(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) && ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("script failed: %w", err)
}
