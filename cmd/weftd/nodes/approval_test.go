package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/common/sdk"
)

func TestApprovalParksWithInteractionDetails(t *testing.T) {
	n := &humanApprovalNode{}
	in := newInput(map[string]any{"input": map[string]any{"amount": 950}}, map[string]any{
		"message": "release payment?",
	})
	in.FrontendOrigin = "https://weft.example/"

	out, err := n.Execute(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, sdk.AwaitHumanInput, out[sdk.AwaitKey])
	assert.Equal(t, "approval", out["interaction_type"])
	assert.Equal(t, "release payment?", out["message"])
	assert.NotEmpty(t, out["interaction_id"])
	assert.Equal(t, map[string]any{"amount": 950}, out["payload"])

	url := out["review_url"].(string)
	assert.Contains(t, url, "https://weft.example/executions/exec-1/interactions/")
	assert.Contains(t, url, out["interaction_id"].(string))
}

func TestApprovalWrapsScalarPayload(t *testing.T) {
	n := &humanApprovalNode{}
	out, err := n.Execute(context.Background(), newInput(map[string]any{"input": "v2.3.1"}, nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"input": "v2.3.1"}, out["payload"])
	assert.Equal(t, "Approval required", out["message"])
	assert.NotContains(t, out, "review_url")
}

func TestApprovalApproveUnblocksApprovedBranch(t *testing.T) {
	n := &humanApprovalNode{}
	_, err := n.Execute(context.Background(), newInput(map[string]any{"input": map[string]any{"amount": 950}}, nil))
	require.NoError(t, err)

	out, err := n.HandleInteraction(context.Background(), &sdk.InteractionRequest{Action: "approve"})
	require.NoError(t, err)

	assert.Equal(t, true, out["approved"])
	assert.Equal(t, true, out["decision_result"])
	assert.Equal(t, []string{"rejected"}, out["blocked_outputs"])
	assert.Equal(t, map[string]any{"amount": 950}, out["output"])
}

func TestApprovalRejectBlocksApprovedBranch(t *testing.T) {
	n := &humanApprovalNode{}
	_, err := n.Execute(context.Background(), newInput(nil, nil))
	require.NoError(t, err)

	out, err := n.HandleInteraction(context.Background(), &sdk.InteractionRequest{Action: "reject"})
	require.NoError(t, err)

	assert.Equal(t, false, out["approved"])
	assert.Equal(t, false, out["decision_result"])
	assert.Equal(t, []string{"approved"}, out["blocked_outputs"])
	assert.Equal(t, false, out["output"])
}

func TestApprovalEditReplacesPayload(t *testing.T) {
	n := &humanApprovalNode{}
	_, err := n.Execute(context.Background(), newInput(map[string]any{"input": map[string]any{"amount": 950}}, nil))
	require.NoError(t, err)

	out, err := n.HandleInteraction(context.Background(), &sdk.InteractionRequest{
		Action: "edit",
		Form:   map[string]any{"amount": 500},
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["approved"])
	assert.Equal(t, "edit", out["action"])
	assert.Equal(t, map[string]any{"amount": 500}, out["output"])

	_, err = n.HandleInteraction(context.Background(), &sdk.InteractionRequest{Action: "edit"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "edit requires a form")
}

func TestApprovalRejectsUnknownActions(t *testing.T) {
	n := &humanApprovalNode{}
	_, err := n.HandleInteraction(context.Background(), &sdk.InteractionRequest{Action: "shrug"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported interaction action "shrug"`)
}
