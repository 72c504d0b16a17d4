package provider

import (
	"encoding/json"
	"strings"
)

// Message is one entry of a conversation history. Content holds plain text;
// structured messages carry Parts instead and Content may be empty.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content,omitempty"`
	Parts      []Part `json:"parts,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	Name       string `json:"name,omitempty"`
}

// Part is one structured content part.
type Part struct {
	Type       string          `json:"type"` // text, reasoning, tool-call, tool-result, image
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	URL        string          `json:"url,omitempty"`
}

// Text flattens the message into the text a tokenizer or transcript sees.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var sb strings.Builder
	if m.Content != "" {
		sb.WriteString(m.Content)
	}
	for _, p := range m.Parts {
		var s string
		switch p.Type {
		case "text", "reasoning":
			s = p.Text
		case "tool-call":
			s = p.ToolName + " " + string(p.Args)
		case "tool-result":
			s = string(p.Result)
			if s == "" {
				s = p.Text
			}
		}
		if s == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(s)
	}
	return sb.String()
}

// Tool describes a function tool offered to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatRequest is what the orchestrator hands to a provider.
type ChatRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	MaxTokens   int       `json:"maxTokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// ChatResponse is a completed, non-streaming reply.
type ChatResponse struct {
	Content      string `json:"content"`
	FinishReason string `json:"finishReason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
}

// Usage represents token usage statistics.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Target identifies one attempt candidate. Equality is structural.
type Target struct {
	ProfileID string `json:"profileId" mapstructure:"profile_id" yaml:"profile_id"`
	ModelID   string `json:"modelId" mapstructure:"model_id" yaml:"model_id"`
}

// String renders the target as profile/model.
func (t Target) String() string {
	if t.ModelID == "" {
		return t.ProfileID
	}
	return t.ProfileID + "/" + t.ModelID
}

// IsZero reports whether neither field is set.
func (t Target) IsZero() bool {
	return t.ProfileID == "" && t.ModelID == ""
}

// Role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// FinishReason constants.
const (
	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool-calls"
	FinishReasonLength    = "length"
	FinishReasonError     = "error"
)
