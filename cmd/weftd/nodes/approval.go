package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/weftworks/weft/common/sdk"
)

// humanApprovalNode parks the execution until a person decides. Outgoing
// edges that should only run for one outcome carry a "branch" metadata label
// of approved or rejected; unlabeled edges run for either outcome and can
// read the approved flag. Node instances live for the whole execution, so
// the payload captured at park time is still here when the decision lands.
type humanApprovalNode struct {
	payload map[string]any
}

func (n *humanApprovalNode) InputPorts() []sdk.Port {
	return universalPort("input", false)
}

func (n *humanApprovalNode) OutputPorts() []sdk.Port {
	return universalPort("output", false)
}

func (n *humanApprovalNode) ConfigSchema() map[string]any {
	return objectSchema(map[string]any{
		"message": prop("string", "what the reviewer is being asked to decide"),
	})
}

func (n *humanApprovalNode) Execute(_ context.Context, in *sdk.NodeExecutionInput) (map[string]any, error) {
	interactionID := uuid.New().String()

	switch v := in.Ports["input"].(type) {
	case nil:
		n.payload = nil
	case map[string]any:
		n.payload = v
	default:
		n.payload = map[string]any{"input": v}
	}

	outputs := map[string]any{
		sdk.AwaitKey:       sdk.AwaitHumanInput,
		"interaction_id":   interactionID,
		"interaction_type": "approval",
		"message":          stringOr(in.Config, "message", "Approval required"),
	}
	if n.payload != nil {
		outputs["payload"] = n.payload
	}
	if in.FrontendOrigin != "" {
		outputs["review_url"] = fmt.Sprintf("%s/executions/%s/interactions/%s",
			strings.TrimRight(in.FrontendOrigin, "/"), in.ExecutionID, interactionID)
	}
	return outputs, nil
}

// HandleInteraction resolves the parked decision. Edit approves with the
// reviewer's form replacing the original payload.
func (n *humanApprovalNode) HandleInteraction(_ context.Context, req *sdk.InteractionRequest) (map[string]any, error) {
	switch req.Action {
	case "approve":
		return n.decision(true, req.Action, n.payload), nil
	case "edit":
		if len(req.Form) == 0 {
			return nil, fmt.Errorf("edit requires a form payload")
		}
		return n.decision(true, req.Action, req.Form), nil
	case "reject":
		return n.decision(false, req.Action, n.payload), nil
	default:
		return nil, fmt.Errorf("unsupported interaction action %q", req.Action)
	}
}

func (n *humanApprovalNode) decision(approved bool, action string, output map[string]any) map[string]any {
	blocked := "approved"
	if approved {
		blocked = "rejected"
	}
	out := map[string]any{
		"approved":        approved,
		"action":          action,
		"decision_result": approved,
		"blocked_outputs": []string{blocked},
	}
	if output != nil {
		out["output"] = output
	} else {
		out["output"] = approved
	}
	return out
}
