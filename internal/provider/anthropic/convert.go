package anthropic

import (
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"chatroute/internal/provider"
)

// convertMessages splits history into system blocks and turns. System
// messages found in the history join the system blocks.
func convertMessages(system string, messages []provider.Message) ([]sdk.TextBlockParam, []sdk.MessageParam) {
	var blocks []sdk.TextBlockParam
	if s := strings.TrimSpace(system); s != "" {
		blocks = append(blocks, sdk.TextBlockParam{Text: s})
	}

	out := make([]sdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case provider.RoleSystem:
			if s := strings.TrimSpace(m.Text()); s != "" {
				blocks = append(blocks, sdk.TextBlockParam{Text: s})
			}

		case provider.RoleAssistant:
			var content []sdk.ContentBlockParamUnion
			if m.Content != "" {
				content = append(content, sdk.NewTextBlock(m.Content))
			}
			for _, part := range m.Parts {
				switch part.Type {
				case "text":
					if part.Text != "" {
						content = append(content, sdk.NewTextBlock(part.Text))
					}
				case "tool-call":
					args := part.Args
					if len(args) == 0 || !json.Valid(args) {
						args = json.RawMessage("{}")
					}
					content = append(content, sdk.NewToolUseBlock(part.ToolCallID, args, part.ToolName))
				}
			}
			if len(content) > 0 {
				out = append(out, sdk.NewAssistantMessage(content...))
			}

		case provider.RoleTool:
			text := m.Text()
			if m.ToolCallID == "" {
				if text != "" {
					out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(text)))
				}
				continue
			}
			out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, text, false)))

		default:
			if text := m.Text(); text != "" {
				out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(text)))
			}
		}
	}
	return blocks, out
}

func convertTools(tools []provider.Tool) []sdk.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema sdk.ToolInputSchemaParam
		var params map[string]any
		if len(t.Parameters) > 0 && json.Unmarshal(t.Parameters, &params) == nil {
			schema.Properties = params["properties"]
			if req, ok := params["required"].([]any); ok {
				for _, r := range req {
					if s, ok := r.(string); ok {
						schema.Required = append(schema.Required, s)
					}
				}
			}
		}
		tool := &sdk.ToolParam{Name: t.Name, InputSchema: schema}
		if t.Description != "" {
			tool.Description = sdk.String(t.Description)
		}
		out = append(out, sdk.ToolUnionParam{OfTool: tool})
	}
	return out
}
