package modelio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolRequest(t *testing.T) {
	raw := `{"mode":"tool_request","why":"inspect repo","requests":[{"tool":"sandbox.list_tree","args":{"max":100}}]}`
	reply, err := Validate(raw, false)
	require.NoError(t, err)
	assert.Equal(t, ModeToolRequest, reply.Mode)
	require.Len(t, reply.ToolRequests, 1)
	assert.Equal(t, "sandbox.list_tree", reply.ToolRequests[0].Tool)
	assert.False(t, reply.Synthetic)
}

func TestParseToolRequestMalformedItemDoesNotAbortBatch(t *testing.T) {
	raw := `{"mode":"tool_request","requests":[{"tool":"sandbox.list_tree"},{"args":{"x":1}}]}`
	reply, err := Validate(raw, false)
	require.NoError(t, err)
	require.Len(t, reply.ToolRequests, 2)
	assert.False(t, reply.ToolRequests[0].Malformed)
	assert.True(t, reply.ToolRequests[1].Malformed)
}

func TestParseSandboxRunRejectsArgvList(t *testing.T) {
	raw := `{"mode":"tool_request","requests":[{"tool":"sandbox.run","args":{"argv":["pip","install","requests"]}}]}`
	reply, err := Validate(raw, false)
	require.NoError(t, err)
	require.Len(t, reply.ToolRequests, 1)
	assert.True(t, reply.ToolRequests[0].Malformed)
	assert.Contains(t, reply.ToolRequests[0].Reason, "cmd")
}

func TestParseSandboxRunAcceptsCmdString(t *testing.T) {
	raw := `{"mode":"tool_request","requests":[{"tool":"sandbox.run","args":{"cmd":"pip install requests"}}]}`
	reply, err := Validate(raw, false)
	require.NoError(t, err)
	require.Len(t, reply.ToolRequests, 1)
	assert.False(t, reply.ToolRequests[0].Malformed)
	assert.Equal(t, "pip install requests", reply.ToolRequests[0].Args["cmd"])
}

func TestParseSandboxRunRejectsShellIdiom(t *testing.T) {
	raw := `{"mode":"tool_request","requests":[{"tool":"sandbox.run","args":{"cmd":"npm install && npm test"}}]}`
	reply, err := Validate(raw, false)
	require.NoError(t, err)
	require.Len(t, reply.ToolRequests, 1)
	assert.True(t, reply.ToolRequests[0].Malformed)
	assert.Contains(t, reply.ToolRequests[0].Reason, "chaining")
}

func TestParsePatch(t *testing.T) {
	raw := `{"mode":"patch","diff":"diff --git a/x b/x\n","why":"fix bug"}`
	reply, err := Validate(raw, false)
	require.NoError(t, err)
	assert.Equal(t, ModePatch, reply.Mode)
	assert.NotEmpty(t, reply.Diff)
}

func TestParsePatchEmptyDiffFallsBackSynthetic(t *testing.T) {
	raw := `{"mode":"patch","diff":""}`
	reply, err := Validate(raw, false)
	assert.Error(t, err)
	assert.True(t, reply.Synthetic)
}

func TestParseFeatureSummaryRejectedOutsideFeatureMode(t *testing.T) {
	raw := `{"mode":"feature_summary","summary":"done","completion_status":"complete"}`
	reply, err := Validate(raw, false)
	assert.Error(t, err)
	assert.True(t, reply.Synthetic)
}

func TestParseFeatureSummaryAcceptedInFeatureMode(t *testing.T) {
	raw := `{"mode":"feature_summary","summary":"done","completion_status":"complete"}`
	reply, err := Validate(raw, true)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, reply.CompletionStatus)
}

func TestParseFeatureSummaryRejectsUnknownStatus(t *testing.T) {
	raw := `{"mode":"feature_summary","summary":"done","completion_status":"finished"}`
	reply, err := Validate(raw, true)
	assert.Error(t, err)
	assert.True(t, reply.Synthetic)
}

func TestParseUnparseableJSONProducesSyntheticToolRequest(t *testing.T) {
	reply, err := Validate("not json at all {{{", false)
	assert.Error(t, err)
	require.True(t, reply.Synthetic)
	require.Len(t, reply.ToolRequests, 1)
	assert.Equal(t, "sandbox.list_tree", reply.ToolRequests[0].Tool)
}

func TestParseUnrecognizedModeProducesSyntheticToolRequest(t *testing.T) {
	reply, err := Validate(`{"mode":"chit_chat"}`, false)
	assert.Error(t, err)
	assert.True(t, reply.Synthetic)
}
