package gemini

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/grpc/codes"

	llmrelay "github.com/bluefunda/llm-relay"
)

func systemPrompt(msgs []llmrelay.Message) string {
	var parts []string
	for _, msg := range msgs {
		if msg.Role == llmrelay.RoleSystem {
			parts = append(parts, msg.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// toHistory converts every non-system turn into Gemini contents
func toHistory(msgs []llmrelay.Message) []*genai.Content {
	history := make([]*genai.Content, 0, len(msgs))

	for _, msg := range msgs {
		switch msg.Role {
		case llmrelay.RoleUser:
			history = append(history, genai.NewUserContent(genai.Text(msg.Content)))

		case llmrelay.RoleAssistant:
			parts := []genai.Part{}
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
				parts = append(parts, genai.FunctionCall{Name: tc.Function.Name, Args: args})
			}
			if len(parts) > 0 {
				history = append(history, &genai.Content{Role: "model", Parts: parts})
			}

		case llmrelay.RoleTool:
			var result map[string]any
			_ = json.Unmarshal([]byte(msg.Content), &result)
			if result == nil {
				result = map[string]any{"result": msg.Content}
			}
			name := msg.Name
			if name == "" {
				// tool call ids are the function names on this provider
				name = msg.ToolCallID
			}
			history = append(history, &genai.Content{
				Role:  "function",
				Parts: []genai.Part{genai.FunctionResponse{Name: name, Response: result}},
			})
		}
	}

	return history
}

func toTools(tools []llmrelay.Tool) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		var params map[string]any
		if len(tool.Function.Parameters) > 0 {
			_ = json.Unmarshal(tool.Function.Parameters, &params)
		}
		decls[i] = &genai.FunctionDeclaration{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  toSchema(params),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

var schemaTypes = map[string]genai.Type{
	"string":  genai.TypeString,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
	"object":  genai.TypeObject,
}

// toSchema converts a JSON schema object. A nil map yields nil; the root is
// always an object.
func toSchema(params map[string]any) *genai.Schema {
	if params == nil {
		return nil
	}
	schema := toPropertySchema(params)
	schema.Type = genai.TypeObject
	return schema
}

func toPropertySchema(prop map[string]any) *genai.Schema {
	schema := &genai.Schema{}

	if t, ok := prop["type"].(string); ok {
		schema.Type = schemaTypes[t]
	}
	if desc, ok := prop["description"].(string); ok {
		schema.Description = desc
	}
	if items, ok := prop["items"].(map[string]any); ok {
		schema.Items = toPropertySchema(items)
	}
	if props, ok := prop["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				schema.Properties[name] = toPropertySchema(pm)
			}
		}
	}
	schema.Required = stringList(prop["required"])
	schema.Enum = stringList(prop["enum"])

	return schema
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// fromParts collects text and function calls of the first candidate.
// Tool call indexes start at offset.
func fromParts(resp *genai.GenerateContentResponse, offset int) (string, []llmrelay.ToolCall) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var text strings.Builder
	var calls []llmrelay.ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.FunctionCall:
			args := "{}"
			if p.Args != nil {
				b, _ := json.Marshal(p.Args)
				args = string(b)
			}
			idx := offset + len(calls)
			calls = append(calls, llmrelay.ToolCall{
				ID:       p.Name,
				Type:     "function",
				Index:    &idx,
				Function: llmrelay.FuncCall{Name: p.Name, Arguments: args},
			})
		}
	}
	return text.String(), calls
}

func fromFinishReason(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonMaxTokens:
		return "length"
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return "content_filter"
	}
	return "stop"
}

func fromUsage(u *genai.UsageMetadata) *llmrelay.Usage {
	if u == nil {
		return nil
	}
	return &llmrelay.Usage{
		PromptTokens:     int(u.PromptTokenCount),
		CompletionTokens: int(u.CandidatesTokenCount),
		TotalTokens:      int(u.TotalTokenCount),
	}
}

func newResponse(model, provider, content string, toolCalls []llmrelay.ToolCall, finish string) *llmrelay.Response {
	if len(toolCalls) > 0 {
		finish = "tool_calls"
	} else if finish == "" {
		finish = "stop"
	}
	return &llmrelay.Response{
		Model:    model,
		Provider: provider,
		Object:   "chat.completion",
		Created:  time.Now().Unix(),
		Choices: []llmrelay.Choice{{
			Message: &llmrelay.Message{
				Role:      llmrelay.RoleAssistant,
				Content:   content,
				ToolCalls: toolCalls,
			},
			FinishReason: finish,
		}},
	}
}

func fromResponse(resp *genai.GenerateContentResponse, model, provider string) *llmrelay.Response {
	text, calls := fromParts(resp, 0)
	finish := ""
	if len(resp.Candidates) > 0 {
		finish = fromFinishReason(resp.Candidates[0].FinishReason)
	}
	out := newResponse(model, provider, text, calls, finish)
	out.Usage = fromUsage(resp.UsageMetadata)
	return out
}

var grpcStatus = map[codes.Code]int{
	codes.Unauthenticated:   http.StatusUnauthorized,
	codes.PermissionDenied:  http.StatusForbidden,
	codes.ResourceExhausted: http.StatusTooManyRequests,
	codes.InvalidArgument:   http.StatusBadRequest,
	codes.Unavailable:       http.StatusServiceUnavailable,
	codes.Internal:          http.StatusInternalServerError,
	codes.DeadlineExceeded:  http.StatusGatewayTimeout,
}

func wrapError(provider string, err error) error {
	if err == nil {
		return nil
	}

	apiErr := &llmrelay.APIError{Provider: provider, Err: err}

	var gErr *apierror.APIError
	if errors.As(err, &gErr) {
		status := gErr.HTTPCode()
		if status <= 0 && gErr.GRPCStatus() != nil {
			status = grpcStatus[gErr.GRPCStatus().Code()]
		}
		apiErr.StatusCode = status
		apiErr.Message = gErr.Error()
		apiErr.Type = gErr.Reason()
		if sentinel := llmrelay.StatusSentinel(status); sentinel != nil {
			apiErr.Err = sentinel
		}
	}

	return apiErr
}
