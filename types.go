package llmrelay

import (
	"encoding/json"
	"time"
)

// Request is the provider-neutral chat request handed to every adapter
type Request struct {
	Messages    []Message      `json:"messages"`
	Model       string         `json:"model,omitempty"`
	Tools       []Tool         `json:"tools,omitempty"`
	ToolChoice  *ToolChoice    `json:"tool_choice,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	TopP        *float64       `json:"top_p,omitempty"`
	Stop        []string       `json:"stop,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// WithModel returns a shallow copy of the request targeting another model.
func (r *Request) WithModel(model string) *Request {
	clone := *r
	clone.Model = model
	return &clone
}

// Message is a single chat turn
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Role of a message author
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Response is the OpenAI-shaped completion every adapter converts into
type Response struct {
	ID       string   `json:"id"`
	Object   string   `json:"object"`
	Created  int64    `json:"created"`
	Model    string   `json:"model"`
	Choices  []Choice `json:"choices"`
	Usage    *Usage   `json:"usage,omitempty"`
	Provider string   `json:"provider"`
}

// Text returns the content of the first choice, or "" when there is none.
func (r *Response) Text() string {
	if r == nil || len(r.Choices) == 0 || r.Choices[0].Message == nil {
		return ""
	}
	return r.Choices[0].Message.Content
}

type Choice struct {
	Index        int      `json:"index"`
	Message      *Message `json:"message,omitempty"`
	Delta        *Delta   `json:"delta,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
}

type Delta struct {
	Role      Role       `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Event is one item of a streaming response
type Event struct {
	Type     EventType
	Content  string
	Delta    *Delta
	Response *Response
	Error    error
}

// EventType identifies the kind of a streaming event
type EventType int

const (
	EventContentDelta  EventType = iota // Text content chunk
	EventToolCallDelta                  // Tool call chunk
	EventDone                           // Stream completed
	EventError                          // Error occurred
	EventThinking                       // Placeholder shown while the model has not produced output yet
)

func (t EventType) String() string {
	switch t {
	case EventContentDelta:
		return "content"
	case EventToolCallDelta:
		return "tool_call"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	case EventThinking:
		return "thinking"
	}
	return "unknown"
}

type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

type Function struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type ToolCall struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Function FuncCall `json:"function"`
	Index    *int     `json:"index,omitempty"`
}

type FuncCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolChoice controls tool selection: "auto", "none", "required" or "function"
type ToolChoice struct {
	Type     string   `json:"type,omitempty"`
	Function *FuncRef `json:"function,omitempty"`
}

type FuncRef struct {
	Name string `json:"name"`
}

// ModelInfo is one entry of a model listing
type ModelInfo struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
}

// EmbeddingRequest asks an Embedder to vectorise a batch of texts
type EmbeddingRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

// Embedding is the vector for Input[Index] of the originating request
type Embedding struct {
	Index  int       `json:"index"`
	Vector []float32 `json:"vector"`
}

// ProviderConfig holds common configuration for providers.
// MaxRetries, Timeout, RetryBackoff and MaxConcurrent are consumed by the
// admission middleware at call time; adapters only read Timeout.
type ProviderConfig struct {
	Name           string
	APIKey         string
	BaseURL        string
	Model          string
	Models         []string
	EmbeddingModel string
	MaxRetries     int
	Timeout        time.Duration
	RetryBackoff   time.Duration
	MaxConcurrent  int
}
