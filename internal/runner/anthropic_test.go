package runner

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/ivanpostolski/one-prompt-agents/internal/jobstore"
)

type fakeMessages struct {
	respFn func(call int) (*sdk.Message, error)
	calls  int
	seen   []sdk.MessageNewParams
}

func (f *fakeMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.calls++
	f.seen = append(f.seen, body)
	return f.respFn(f.calls)
}

func textMessage(text string) *sdk.Message {
	return &sdk.Message{Content: []sdk.ContentBlockUnion{{Type: "text", Text: text}}}
}

func toolUseMessage(id, name string, input any) *sdk.Message {
	return &sdk.Message{Content: []sdk.ContentBlockUnion{{Type: "tool_use", ID: id, Name: name, Input: input}}}
}

func single(resp *sdk.Message) func(int) (*sdk.Message, error) {
	return func(int) (*sdk.Message, error) { return resp, nil }
}

func TestAnthropicRunner_DecodesStructuredReply(t *testing.T) {
	fake := &fakeMessages{respFn: single(textMessage(`{"plan":[{"step_name":"s1","checked":true}],"summary":"done"}`))}
	r := NewAnthropicRunnerWithClient(fake, 1024)

	out, err := r.Run(context.Background(), Input{AgentName: "writer", Instructions: "be helpful", History: []jobstore.Turn{
		{Role: jobstore.RoleUser, Content: "draft a memo"},
	}}, NoopHooks{})
	require.NoError(t, err)

	doc, ok := out.FinalOutput.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "done", doc["summary"])
	require.Len(t, out.History, 2)
	require.Equal(t, jobstore.RoleAssistant, out.History[1].Role)

	require.Len(t, fake.seen, 1)
	require.Len(t, fake.seen[0].Messages, 1)
	require.Equal(t, sdk.Model("claude-sonnet-4-5"), fake.seen[0].Model)
}

func TestAnthropicRunner_NonJSONReplyFallsBackToSummary(t *testing.T) {
	fake := &fakeMessages{respFn: single(textMessage("I need more information before I can continue."))}
	r := NewAnthropicRunnerWithClient(fake, 1024)

	out, err := r.Run(context.Background(), Input{AgentName: "writer"}, nil)
	require.NoError(t, err)

	doc, ok := out.FinalOutput.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "I need more information before I can continue.", doc["summary"])
}

func TestAnthropicRunner_ExplicitModelOverridesDefault(t *testing.T) {
	fake := &fakeMessages{respFn: single(textMessage(`{"summary":"ok"}`))}
	r := NewAnthropicRunnerWithClient(fake, 512)

	_, err := r.Run(context.Background(), Input{Model: "claude-opus-4"}, nil)
	require.NoError(t, err)
	require.Equal(t, sdk.Model("claude-opus-4"), fake.seen[0].Model)
}

func TestAnthropicRunner_ToolHistoryFoldsIntoUserTurns(t *testing.T) {
	fake := &fakeMessages{respFn: single(textMessage(`{"summary":"ok"}`))}
	r := NewAnthropicRunnerWithClient(fake, 512)

	_, err := r.Run(context.Background(), Input{History: []jobstore.Turn{
		{Role: jobstore.RoleTool, Content: "Job childjob has been started."},
	}}, nil)
	require.NoError(t, err)
	require.Len(t, fake.seen[0].Messages, 1)
	require.Equal(t, sdk.MessageParamRoleUser, fake.seen[0].Messages[0].Role)
}

func TestAnthropicRunner_DeclaresAndDispatchesToolCalls(t *testing.T) {
	var gotArgs any
	called := false
	tool := Tool{
		Name:        "_start_and_wait_researcher",
		Description: "Starts a new job for the agent researcher and waits until it's finished.",
		Call: func(_ context.Context, arguments any) (any, error) {
			called = true
			gotArgs = arguments
			return "Job abc123 has been started.", nil
		},
	}

	fake := &fakeMessages{respFn: func(call int) (*sdk.Message, error) {
		if call == 1 {
			return toolUseMessage("tu_1", "_start_and_wait_researcher", map[string]any{"agent_inputs": "look into X"}), nil
		}
		return textMessage(`{"summary":"done"}`), nil
	}}
	r := NewAnthropicRunnerWithClient(fake, 512)

	out, err := r.Run(context.Background(), Input{AgentName: "writer", Tools: []Tool{tool}}, NoopHooks{})
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, map[string]any{"agent_inputs": "look into X"}, gotArgs)

	require.Len(t, fake.seen, 2)
	require.Len(t, fake.seen[0].Tools, 1)

	doc, ok := out.FinalOutput.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "done", doc["summary"])

	var toolTurns int
	for _, turn := range out.History {
		if turn.Role == jobstore.RoleTool {
			toolTurns++
		}
	}
	require.Equal(t, 1, toolTurns)
}

func TestAnthropicRunner_UnknownToolRequestIsReportedAsError(t *testing.T) {
	fake := &fakeMessages{respFn: func(call int) (*sdk.Message, error) {
		if call == 1 {
			return toolUseMessage("tu_1", "not_a_real_tool", nil), nil
		}
		return textMessage(`{"summary":"recovered"}`), nil
	}}
	r := NewAnthropicRunnerWithClient(fake, 512)

	_, err := r.Run(context.Background(), Input{}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, fake.calls)
}

func TestAnthropicRunner_ExceedingMaxToolRoundsErrors(t *testing.T) {
	fake := &fakeMessages{respFn: func(int) (*sdk.Message, error) {
		return toolUseMessage("tu_1", "loop", nil), nil
	}}
	tool := Tool{Name: "loop", Call: func(context.Context, any) (any, error) { return "ok", nil }}
	r := NewAnthropicRunnerWithClient(fake, 512)

	_, err := r.Run(context.Background(), Input{Tools: []Tool{tool}}, nil)
	require.Error(t, err)
	require.Equal(t, MaxToolRounds, fake.calls)
}
