package anthropic

import (
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	llmrelay "github.com/bluefunda/llm-relay"
)

// accumulator folds Messages API stream events into deltas and the final response
type accumulator struct {
	provider string
	model    string

	id         string
	content    strings.Builder
	toolCalls  []llmrelay.ToolCall
	current    *llmrelay.ToolCall
	args       strings.Builder
	stopReason string
	input      int64
	output     int64
}

func newAccumulator(provider, model string) *accumulator {
	return &accumulator{provider: provider, model: model}
}

// apply consumes one stream event and returns the relay event to emit, if any
func (a *accumulator) apply(event anthropic.MessageStreamEvent) (llmrelay.Event, bool) {
	switch e := event.AsUnion().(type) {
	case anthropic.MessageStartEvent:
		a.id = e.Message.ID
		if e.Message.Model != "" {
			a.model = string(e.Message.Model)
		}
		a.input = e.Message.Usage.InputTokens

	case anthropic.ContentBlockStartEvent:
		if tu, ok := e.ContentBlock.AsUnion().(anthropic.ToolUseBlock); ok {
			a.current = &llmrelay.ToolCall{ID: tu.ID, Type: "function", Function: llmrelay.FuncCall{Name: tu.Name}}
			a.args.Reset()
		}

	case anthropic.ContentBlockDeltaEvent:
		switch d := e.Delta.AsUnion().(type) {
		case anthropic.TextDelta:
			a.content.WriteString(d.Text)
			return llmrelay.Event{Type: llmrelay.EventContentDelta, Content: d.Text}, true
		case anthropic.InputJSONDelta:
			if a.current == nil {
				return llmrelay.Event{}, false
			}
			a.args.WriteString(d.PartialJSON)
			idx := len(a.toolCalls)
			return llmrelay.Event{
				Type: llmrelay.EventToolCallDelta,
				Delta: &llmrelay.Delta{ToolCalls: []llmrelay.ToolCall{{
					ID:       a.current.ID,
					Type:     "function",
					Index:    &idx,
					Function: llmrelay.FuncCall{Name: a.current.Function.Name, Arguments: d.PartialJSON},
				}}},
			}, true
		}

	case anthropic.ContentBlockStopEvent:
		if a.current != nil {
			a.current.Function.Arguments = a.args.String()
			if a.current.Function.Arguments == "" {
				a.current.Function.Arguments = "{}"
			}
			a.toolCalls = append(a.toolCalls, *a.current)
			a.current = nil
		}

	case anthropic.MessageDeltaEvent:
		if e.Delta.StopReason != "" {
			a.stopReason = string(e.Delta.StopReason)
		}
		if e.Usage.OutputTokens > 0 {
			a.output = e.Usage.OutputTokens
		}
	}
	return llmrelay.Event{}, false
}

func (a *accumulator) response() *llmrelay.Response {
	return &llmrelay.Response{
		ID:       a.id,
		Object:   "chat.completion",
		Created:  time.Now().Unix(),
		Model:    a.model,
		Provider: a.provider,
		Choices: []llmrelay.Choice{{
			Message: &llmrelay.Message{
				Role:      llmrelay.RoleAssistant,
				Content:   a.content.String(),
				ToolCalls: a.toolCalls,
			},
			FinishReason: finishReason(a.stopReason),
		}},
		Usage: &llmrelay.Usage{
			PromptTokens:     int(a.input),
			CompletionTokens: int(a.output),
			TotalTokens:      int(a.input + a.output),
		},
	}
}
