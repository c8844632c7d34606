package openai

import (
	"encoding/json"
	"errors"

	"github.com/openai/openai-go"

	llmrelay "github.com/bluefunda/llm-relay"
)

func toMessageParams(msgs []llmrelay.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))

	for _, msg := range msgs {
		switch msg.Role {
		case llmrelay.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))

		case llmrelay.RoleUser:
			result = append(result, openai.UserMessage(msg.Content))

		case llmrelay.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				result = append(result, openai.AssistantMessage(msg.Content))
				continue
			}
			result = append(result, openai.ChatCompletionAssistantMessageParam{
				Role:      openai.F(openai.ChatCompletionAssistantMessageParamRoleAssistant),
				Content:   openai.F([]openai.ChatCompletionAssistantMessageParamContentUnion{openai.TextPart(msg.Content)}),
				ToolCalls: openai.F(toToolCallParams(msg.ToolCalls)),
			})

		case llmrelay.RoleTool:
			result = append(result, openai.ToolMessage(msg.ToolCallID, msg.Content))
		}
	}

	return result
}

func toToolCallParams(calls []llmrelay.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	out := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
	for i, tc := range calls {
		out[i] = openai.ChatCompletionMessageToolCallParam{
			ID:   openai.F(tc.ID),
			Type: openai.F(openai.ChatCompletionMessageToolCallTypeFunction),
			Function: openai.F(openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      openai.F(tc.Function.Name),
				Arguments: openai.F(tc.Function.Arguments),
			}),
		}
	}
	return out
}

func toToolParams(tools []llmrelay.Tool) []openai.ChatCompletionToolParam {
	result := make([]openai.ChatCompletionToolParam, len(tools))

	for i, tool := range tools {
		var schema map[string]interface{}
		if len(tool.Function.Parameters) > 0 {
			_ = json.Unmarshal(tool.Function.Parameters, &schema)
		}

		result[i] = openai.ChatCompletionToolParam{
			Type: openai.F(openai.ChatCompletionToolTypeFunction),
			Function: openai.F(openai.FunctionDefinitionParam{
				Name:        openai.F(tool.Function.Name),
				Description: openai.F(tool.Function.Description),
				Parameters:  openai.F(openai.FunctionParameters(schema)),
			}),
		}
	}

	return result
}

func toToolChoiceParam(tc *llmrelay.ToolChoice) openai.ChatCompletionToolChoiceOptionUnionParam {
	switch tc.Type {
	case "auto":
		return openai.ChatCompletionToolChoiceOptionBehavior(openai.ChatCompletionToolChoiceOptionBehaviorAuto)
	case "none":
		return openai.ChatCompletionToolChoiceOptionBehavior(openai.ChatCompletionToolChoiceOptionBehaviorNone)
	case "required":
		return openai.ChatCompletionToolChoiceOptionBehavior(openai.ChatCompletionToolChoiceOptionBehaviorRequired)
	case "function":
		if tc.Function != nil {
			return openai.ChatCompletionNamedToolChoiceParam{
				Type: openai.F(openai.ChatCompletionNamedToolChoiceTypeFunction),
				Function: openai.F(openai.ChatCompletionNamedToolChoiceFunctionParam{
					Name: openai.F(tc.Function.Name),
				}),
			}
		}
	}
	return nil
}

func fromToolCalls(calls []openai.ChatCompletionMessageToolCall) []llmrelay.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llmrelay.ToolCall, len(calls))
	for i, tc := range calls {
		out[i] = llmrelay.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: llmrelay.FuncCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		}
	}
	return out
}

func fromChunkToolCalls(calls []openai.ChatCompletionChunkChoicesDeltaToolCall) []llmrelay.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llmrelay.ToolCall, len(calls))
	for i, tc := range calls {
		idx := int(tc.Index)
		out[i] = llmrelay.ToolCall{
			ID:    tc.ID,
			Type:  "function",
			Index: &idx,
			Function: llmrelay.FuncCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		}
	}
	return out
}

func fromUsage(u openai.CompletionUsage) *llmrelay.Usage {
	if u.TotalTokens == 0 {
		return nil
	}
	return &llmrelay.Usage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
	}
}

func fromCompletion(resp *openai.ChatCompletion, provider string) *llmrelay.Response {
	choices := make([]llmrelay.Choice, len(resp.Choices))
	for i, choice := range resp.Choices {
		choices[i] = llmrelay.Choice{
			Index: int(choice.Index),
			Message: &llmrelay.Message{
				Role:      llmrelay.RoleAssistant,
				Content:   choice.Message.Content,
				ToolCalls: fromToolCalls(choice.Message.ToolCalls),
			},
			FinishReason: string(choice.FinishReason),
		}
	}

	return &llmrelay.Response{
		ID:       resp.ID,
		Object:   string(resp.Object),
		Created:  resp.Created,
		Model:    resp.Model,
		Choices:  choices,
		Usage:    fromUsage(resp.Usage),
		Provider: provider,
	}
}

func fromChunk(chunk *openai.ChatCompletionChunk, provider string) *llmrelay.Response {
	choices := make([]llmrelay.Choice, len(chunk.Choices))
	for i, choice := range chunk.Choices {
		choices[i] = llmrelay.Choice{
			Index: int(choice.Index),
			Delta: &llmrelay.Delta{
				Role:      llmrelay.Role(choice.Delta.Role),
				Content:   choice.Delta.Content,
				ToolCalls: fromChunkToolCalls(choice.Delta.ToolCalls),
			},
			FinishReason: string(choice.FinishReason),
		}
	}

	return &llmrelay.Response{
		ID:       chunk.ID,
		Object:   string(chunk.Object),
		Created:  chunk.Created,
		Model:    chunk.Model,
		Choices:  choices,
		Usage:    fromUsage(chunk.Usage),
		Provider: provider,
	}
}

func wrapError(provider string, err error) error {
	if err == nil {
		return nil
	}

	apiErr := &llmrelay.APIError{Provider: provider, Err: err}

	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		apiErr.StatusCode = oaiErr.StatusCode
		apiErr.Message = oaiErr.Message
		if apiErr.Message == "" {
			apiErr.Message = oaiErr.Error()
		}
		apiErr.Type = oaiErr.Type
		if sentinel := llmrelay.StatusSentinel(oaiErr.StatusCode); sentinel != nil {
			apiErr.Err = sentinel
		}
	}

	return apiErr
}
