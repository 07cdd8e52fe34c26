package runner

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ivanpostolski/one-prompt-agents/internal/jobstore"
)

// ChatClient captures the subset of the go-openai client used here, letting
// tests substitute a fake without dialing the real API.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIRunner is an AgentRunner backed by the OpenAI Chat Completions API.
// Like AnthropicRunner, a turn may span several request/response round-trips:
// a reply carrying tool_calls is dispatched through the matching
// Input.Tool.Call, the results are appended as role "tool" messages, and the
// model is asked again, up to MaxToolRounds. The first reply without
// tool_calls is JSON-decoded into the turn's final_output document.
type OpenAIRunner struct {
	chat      ChatClient
	maxTokens int
}

// NewOpenAIRunner constructs a runner from an API key and a completion token
// cap. Instructions and tools are supplied per call via Input, since a
// single runner instance is shared across every agent.
func NewOpenAIRunner(apiKey string, maxTokens int) *OpenAIRunner {
	return &OpenAIRunner{chat: openai.NewClient(apiKey), maxTokens: maxTokens}
}

// NewOpenAIRunnerWithClient builds a runner around an already-constructed
// ChatClient, primarily for tests.
func NewOpenAIRunnerWithClient(chat ChatClient, maxTokens int) *OpenAIRunner {
	return &OpenAIRunner{chat: chat, maxTokens: maxTokens}
}

// Run drives the tool-call loop described above and returns the final
// final_output plus the canonical, updated turn history.
func (r *OpenAIRunner) Run(ctx context.Context, in Input, hooks Hooks) (Output, error) {
	messages := encodeOpenAIHistory(in.Instructions, in.History)
	history := append([]jobstore.Turn(nil), in.History...)

	tools, toolByName := encodeOpenAITools(in.Tools)

	for round := 0; round < MaxToolRounds; round++ {
		request := openai.ChatCompletionRequest{
			Model:     modelOrDefaultOpenAI(in.Model),
			Messages:  messages,
			MaxTokens: r.maxTokens,
			Tools:     tools,
		}

		resp, err := r.chat.CreateChatCompletion(ctx, request)
		if err != nil {
			return Output{}, fmt.Errorf("runner: openai chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return Output{}, fmt.Errorf("runner: openai chat completion returned no choices")
		}

		reply := resp.Choices[0].Message
		if hooks != nil && reply.Content != "" {
			hooks.OnGeneration(ctx, in.AgentName, reply.Content)
		}
		messages = append(messages, reply)

		if len(reply.ToolCalls) == 0 {
			finalOutput := decodeAssistantText(reply.Content)
			history = append(history, jobstore.Turn{Role: jobstore.RoleAssistant, Content: finalOutput})
			return Output{FinalOutput: finalOutput, History: history}, nil
		}

		history = append(history, jobstore.Turn{Role: jobstore.RoleAssistant, Content: openAIToolCallSummary(reply)})

		for _, call := range reply.ToolCalls {
			if hooks != nil {
				hooks.OnToolStart(ctx, in.AgentName, call.Function.Name)
			}
			result, callErr := callOpenAITool(ctx, toolByName, call.Function.Name, call.Function.Arguments)
			content := stringifyContent(result)
			if callErr != nil {
				content = callErr.Error()
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: call.ID,
			})
			history = append(history, jobstore.Turn{Role: jobstore.RoleTool, Content: map[string]any{
				"tool_name": call.Function.Name, "tool_call_id": call.ID, "result": content, "is_error": callErr != nil,
			}})
		}
	}

	return Output{}, fmt.Errorf("runner: exceeded %d tool-call rounds without a final reply", MaxToolRounds)
}

func openAIToolCallSummary(reply openai.ChatCompletionMessage) map[string]any {
	calls := make([]map[string]any, 0, len(reply.ToolCalls))
	for _, call := range reply.ToolCalls {
		calls = append(calls, map[string]any{"name": call.Function.Name, "id": call.ID, "arguments": call.Function.Arguments})
	}
	return map[string]any{"summary": reply.Content, "tool_calls": calls}
}

func encodeOpenAITools(tools []Tool) ([]openai.Tool, map[string]Tool) {
	if len(tools) == 0 {
		return nil, nil
	}
	params := make([]openai.Tool, 0, len(tools))
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		params = append(params, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(`{"type":"object"}`),
			},
		})
		byName[t.Name] = t
	}
	return params, byName
}

func callOpenAITool(ctx context.Context, byName map[string]Tool, name, rawArguments string) (any, error) {
	t, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("runner: model requested unknown tool %q", name)
	}
	var arguments any
	if rawArguments != "" {
		if err := json.Unmarshal([]byte(rawArguments), &arguments); err != nil {
			arguments = rawArguments
		}
	}
	return t.Call(ctx, arguments)
}

func modelOrDefaultOpenAI(model string) string {
	if model != "" {
		return model
	}
	return openai.GPT4oMini
}

func encodeOpenAIHistory(instructions string, history []jobstore.Turn) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if instructions != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: instructions})
	}
	for _, turn := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openAIRole(turn.Role),
			Content: stringifyContent(turn.Content),
		})
	}
	return messages
}

func openAIRole(role jobstore.Role) string {
	switch role {
	case jobstore.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case jobstore.RoleSystem:
		return openai.ChatMessageRoleSystem
	case jobstore.RoleTool:
		return openai.ChatMessageRoleTool
	default:
		return openai.ChatMessageRoleUser
	}
}
