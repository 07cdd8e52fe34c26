package runner

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ivanpostolski/one-prompt-agents/internal/jobstore"
)

// MessagesClient captures the subset of the Anthropic SDK used here, letting
// tests substitute a fake without dialing the real API.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicRunner is an AgentRunner backed by the Anthropic Claude Messages
// API. A turn may span several request/response round-trips: whenever the
// model replies with tool_use blocks, the runner dispatches each one through
// the matching Input.Tool.Call, feeds the results back as tool_result
// blocks, and asks again, up to MaxToolRounds. The first reply carrying no
// tool_use blocks is JSON-decoded into the turn's final_output document.
type AnthropicRunner struct {
	msg       MessagesClient
	maxTokens int64
}

// NewAnthropicRunner constructs a runner from an API key and a completion
// token cap. Instructions and tools are supplied per call via Input, since a
// single runner instance is shared across every agent.
func NewAnthropicRunner(apiKey string, maxTokens int64) *AnthropicRunner {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicRunner{msg: &client.Messages, maxTokens: maxTokens}
}

// NewAnthropicRunnerWithClient builds a runner around an already-constructed
// MessagesClient, primarily for tests.
func NewAnthropicRunnerWithClient(msg MessagesClient, maxTokens int64) *AnthropicRunner {
	return &AnthropicRunner{msg: msg, maxTokens: maxTokens}
}

// Run drives the tool-call loop described above and returns the final
// final_output plus the canonical, updated turn history.
func (r *AnthropicRunner) Run(ctx context.Context, in Input, hooks Hooks) (Output, error) {
	messages, err := encodeHistory(in.History)
	if err != nil {
		return Output{}, err
	}
	history := append([]jobstore.Turn(nil), in.History...)

	toolParams, toolByName := encodeAnthropicTools(in.Tools)

	for round := 0; round < MaxToolRounds; round++ {
		params := sdk.MessageNewParams{
			Model:     sdk.Model(modelOrDefault(in.Model)),
			MaxTokens: r.maxTokens,
			Messages:  messages,
		}
		if in.Instructions != "" {
			params.System = []sdk.TextBlockParam{{Text: in.Instructions}}
		}
		if len(toolParams) > 0 {
			params.Tools = toolParams
		}

		msg, err := r.msg.New(ctx, params)
		if err != nil {
			return Output{}, fmt.Errorf("runner: anthropic messages.new: %w", err)
		}

		var text string
		var toolUses []sdk.ContentBlockUnion
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				text += block.Text
			case "tool_use":
				toolUses = append(toolUses, block)
			}
		}
		if hooks != nil && text != "" {
			hooks.OnGeneration(ctx, in.AgentName, text)
		}

		assistantBlocks := make([]sdk.ContentBlockParamUnion, 0, len(toolUses)+1)
		if text != "" {
			assistantBlocks = append(assistantBlocks, sdk.NewTextBlock(text))
		}
		for _, tu := range toolUses {
			assistantBlocks = append(assistantBlocks, sdk.NewToolUseBlock(tu.ID, tu.Input, tu.Name))
		}
		messages = append(messages, sdk.NewAssistantMessage(assistantBlocks...))

		if len(toolUses) == 0 {
			finalOutput := decodeAssistantText(text)
			history = append(history, jobstore.Turn{Role: jobstore.RoleAssistant, Content: finalOutput})
			return Output{FinalOutput: finalOutput, History: history}, nil
		}

		history = append(history, jobstore.Turn{Role: jobstore.RoleAssistant, Content: anthropicToolCallSummary(text, toolUses)})

		resultBlocks := make([]sdk.ContentBlockParamUnion, 0, len(toolUses))
		for _, tu := range toolUses {
			if hooks != nil {
				hooks.OnToolStart(ctx, in.AgentName, tu.Name)
			}
			result, callErr := callAnthropicTool(ctx, toolByName, tu.Name, tu.Input)
			content := stringifyContent(result)
			isError := callErr != nil
			if isError {
				content = callErr.Error()
			}
			resultBlocks = append(resultBlocks, sdk.NewToolResultBlock(tu.ID, content, isError))
			history = append(history, jobstore.Turn{Role: jobstore.RoleTool, Content: map[string]any{
				"tool_name": tu.Name, "tool_use_id": tu.ID, "result": content, "is_error": isError,
			}})
		}
		messages = append(messages, sdk.NewUserMessage(resultBlocks...))
	}

	return Output{}, fmt.Errorf("runner: exceeded %d tool-call rounds without a final reply", MaxToolRounds)
}

func anthropicToolCallSummary(text string, toolUses []sdk.ContentBlockUnion) map[string]any {
	calls := make([]map[string]any, 0, len(toolUses))
	for _, tu := range toolUses {
		calls = append(calls, map[string]any{"name": tu.Name, "id": tu.ID, "input": tu.Input})
	}
	return map[string]any{"summary": text, "tool_calls": calls}
}

func encodeAnthropicTools(tools []Tool) ([]sdk.ToolUnionParam, map[string]Tool) {
	if len(tools) == 0 {
		return nil, nil
	}
	params := make([]sdk.ToolUnionParam, 0, len(tools))
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		schema := sdk.ToolInputSchemaParam{ExtraFields: map[string]any{"type": "object"}}
		u := sdk.ToolUnionParamOfTool(schema, t.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(t.Description)
		}
		params = append(params, u)
		byName[t.Name] = t
	}
	return params, byName
}

func callAnthropicTool(ctx context.Context, byName map[string]Tool, name string, input any) (any, error) {
	t, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("runner: model requested unknown tool %q", name)
	}
	return t.Call(ctx, input)
}

func modelOrDefault(model string) string {
	if model != "" {
		return model
	}
	return "claude-sonnet-4-5"
}

func encodeHistory(history []jobstore.Turn) ([]sdk.MessageParam, error) {
	messages := make([]sdk.MessageParam, 0, len(history))
	for _, turn := range history {
		text := stringifyContent(turn.Content)
		switch turn.Role {
		case jobstore.RoleUser:
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(text)))
		case jobstore.RoleAssistant:
			messages = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(text)))
		case jobstore.RoleSystem, jobstore.RoleTool:
			// Anthropic has no mid-conversation system role; synthetic
			// scheduler notes and tool results are folded in as user turns.
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(text)))
		default:
			return nil, fmt.Errorf("runner: unknown turn role %q", turn.Role)
		}
	}
	return messages, nil
}

func stringifyContent(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Sprintf("%v", content)
	}
	return string(raw)
}

// decodeAssistantText attempts to parse the assistant's reply as the agent's
// structured final_output document; a reply that is not valid JSON is
// wrapped as a bare summary so the strategy layer still has something to
// inspect.
func decodeAssistantText(text string) any {
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err == nil {
		return doc
	}
	return map[string]any{"plan": []any{}, "summary": text}
}
