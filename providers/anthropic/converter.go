package anthropic

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	llmrelay "github.com/bluefunda/llm-relay"
)

// toMessageParams splits out system turns, which Anthropic takes as a separate prompt
func toMessageParams(msgs []llmrelay.Message) ([]anthropic.MessageParam, string) {
	var system []string
	messages := make([]anthropic.MessageParam, 0, len(msgs))

	for _, msg := range msgs {
		switch msg.Role {
		case llmrelay.RoleSystem:
			system = append(system, msg.Content)

		case llmrelay.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		case llmrelay.RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" || len(msg.ToolCalls) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]interface{}
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
				blocks = append(blocks, anthropic.NewToolUseBlockParam(tc.ID, tc.Function.Name, input))
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))

		case llmrelay.RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		}
	}

	return messages, strings.Join(system, "\n\n")
}

func toToolParams(tools []llmrelay.Tool) []anthropic.ToolParam {
	result := make([]anthropic.ToolParam, len(tools))

	for i, tool := range tools {
		schema := map[string]interface{}{}
		if len(tool.Function.Parameters) > 0 {
			_ = json.Unmarshal(tool.Function.Parameters, &schema)
		}
		// input_schema must be an object schema
		schema["type"] = "object"

		result[i] = anthropic.ToolParam{
			Name:        anthropic.F(tool.Function.Name),
			Description: anthropic.F(tool.Function.Description),
			InputSchema: anthropic.F[interface{}](schema),
		}
	}

	return result
}

// toToolChoiceParam returns nil when the choice has no Anthropic equivalent.
// "none" degrades to auto.
func toToolChoiceParam(tc *llmrelay.ToolChoice) anthropic.ToolChoiceUnionParam {
	if tc == nil {
		return nil
	}

	switch tc.Type {
	case "auto", "none":
		return anthropic.ToolChoiceAutoParam{Type: anthropic.F(anthropic.ToolChoiceAutoTypeAuto)}
	case "required", "any":
		return anthropic.ToolChoiceAnyParam{Type: anthropic.F(anthropic.ToolChoiceAnyTypeAny)}
	case "function":
		if tc.Function != nil {
			return anthropic.ToolChoiceToolParam{
				Type: anthropic.F(anthropic.ToolChoiceToolTypeTool),
				Name: anthropic.F(tc.Function.Name),
			}
		}
	}
	return nil
}

func finishReason(stop string) string {
	switch stop {
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	}
	return "stop"
}

func fromMessage(msg *anthropic.Message, provider string) *llmrelay.Response {
	var content strings.Builder
	var toolCalls []llmrelay.ToolCall

	for _, block := range msg.Content {
		switch b := block.AsUnion().(type) {
		case anthropic.TextBlock:
			content.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			args, _ := json.Marshal(b.Input)
			toolCalls = append(toolCalls, llmrelay.ToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: llmrelay.FuncCall{Name: b.Name, Arguments: string(args)},
			})
		}
	}

	return &llmrelay.Response{
		ID:       msg.ID,
		Object:   "chat.completion",
		Model:    string(msg.Model),
		Provider: provider,
		Choices: []llmrelay.Choice{{
			Message: &llmrelay.Message{
				Role:      llmrelay.RoleAssistant,
				Content:   content.String(),
				ToolCalls: toolCalls,
			},
			FinishReason: finishReason(string(msg.StopReason)),
		}},
		Usage: &llmrelay.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
}

func wrapError(provider string, err error) error {
	if err == nil {
		return nil
	}

	apiErr := &llmrelay.APIError{Provider: provider, Err: err}

	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		apiErr.StatusCode = antErr.StatusCode
		apiErr.Message = antErr.Error()
		if sentinel := llmrelay.StatusSentinel(antErr.StatusCode); sentinel != nil {
			apiErr.Err = sentinel
		}
	}

	return apiErr
}
