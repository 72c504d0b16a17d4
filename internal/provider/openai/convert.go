package openai

import (
	"strings"

	sdk "github.com/sashabaranov/go-openai"

	"chatroute/internal/provider"
)

func convertMessages(system string, messages []provider.Message) []sdk.ChatCompletionMessage {
	out := make([]sdk.ChatCompletionMessage, 0, len(messages)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, sdk.ChatCompletionMessage{Role: sdk.ChatMessageRoleSystem, Content: system})
	}

	for _, m := range messages {
		switch m.Role {
		case provider.RoleSystem:
			out = append(out, sdk.ChatCompletionMessage{Role: sdk.ChatMessageRoleSystem, Content: m.Text()})

		case provider.RoleTool:
			content := m.Text()
			if content == "" {
				content = "(no output)"
			}
			out = append(out, sdk.ChatCompletionMessage{
				Role:       sdk.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: m.ToolCallID,
				Name:       m.Name,
			})

		case provider.RoleAssistant:
			msg := sdk.ChatCompletionMessage{Role: sdk.ChatMessageRoleAssistant, Content: m.Content}
			var text []string
			for _, part := range m.Parts {
				switch part.Type {
				case "text":
					text = append(text, part.Text)
				case "tool-call":
					args := string(part.Args)
					if args == "" {
						args = "{}"
					}
					msg.ToolCalls = append(msg.ToolCalls, sdk.ToolCall{
						ID:   part.ToolCallID,
						Type: sdk.ToolTypeFunction,
						Function: sdk.FunctionCall{
							Name:      part.ToolName,
							Arguments: args,
						},
					})
				}
			}
			if msg.Content == "" && len(text) > 0 {
				msg.Content = strings.Join(text, "\n")
			}
			out = append(out, msg)

		default:
			out = append(out, convertUser(m))
		}
	}
	return out
}

func convertUser(m provider.Message) sdk.ChatCompletionMessage {
	hasImage := false
	for _, p := range m.Parts {
		if p.Type == "image" && p.URL != "" {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return sdk.ChatCompletionMessage{Role: sdk.ChatMessageRoleUser, Content: m.Text()}
	}

	var parts []sdk.ChatMessagePart
	if m.Content != "" {
		parts = append(parts, sdk.ChatMessagePart{Type: sdk.ChatMessagePartTypeText, Text: m.Content})
	}
	for _, p := range m.Parts {
		switch p.Type {
		case "image":
			parts = append(parts, sdk.ChatMessagePart{
				Type:     sdk.ChatMessagePartTypeImageURL,
				ImageURL: &sdk.ChatMessageImageURL{URL: p.URL, Detail: sdk.ImageURLDetailAuto},
			})
		case "text":
			parts = append(parts, sdk.ChatMessagePart{Type: sdk.ChatMessagePartTypeText, Text: p.Text})
		}
	}
	return sdk.ChatCompletionMessage{Role: sdk.ChatMessageRoleUser, MultiContent: parts}
}

func convertTools(tools []provider.Tool) []sdk.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]sdk.Tool, len(tools))
	for i, t := range tools {
		def := &sdk.FunctionDefinition{Name: t.Name, Description: t.Description}
		if len(t.Parameters) > 0 {
			def.Parameters = t.Parameters
		}
		out[i] = sdk.Tool{Type: sdk.ToolTypeFunction, Function: def}
	}
	return out
}
