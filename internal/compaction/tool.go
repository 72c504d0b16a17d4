package compaction

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"chatroute/pkg/logger"
)

var (
	// base64Pattern matches inline data URIs: data:...;base64,...
	base64Pattern = regexp.MustCompile(`data:[a-zA-Z0-9+/=\-]+;base64,[A-Za-z0-9+/=]{64,}`)

	// hexBlobPattern matches contiguous hex strings of 256 characters or more.
	hexBlobPattern = regexp.MustCompile(`[0-9a-fA-F]{256,}`)
)

const toolSummarySystemPrompt = `You condense tool output for another model. Keep every value the user's request depends on: identifiers, numbers, errors, paths, URLs and short code fragments. Drop boilerplate, repetition and formatting noise. Answer with the condensed output only.`

// ToolResult is the outcome of ToolCompactor.MaybeCompact.
type ToolResult struct {
	Text          string `json:"text"`
	WasSummarized bool   `json:"wasSummarized"`
	WasTruncated  bool   `json:"wasTruncated"`
	TokensFreed   int    `json:"tokensFreed"`
}

// ToolCompactor shrinks oversized tool outputs.
type ToolCompactor struct {
	calc *Calculator
}

// NewToolCompactor creates a ToolCompactor.
func NewToolCompactor(calc *Calculator) *ToolCompactor {
	return &ToolCompactor{calc: calc}
}

// MaybeCompact returns raw unchanged when policy is off or raw is within the
// threshold. Summary failures fall back to truncation; no error escapes.
func (tc *ToolCompactor) MaybeCompact(ctx context.Context, s Summarizer, model, toolName, raw, userRequest string, policy ToolCompactionPolicy) ToolResult {
	policy = policy.Normalize()
	unchanged := ToolResult{Text: raw}
	if policy.Mode == ToolModeOff {
		return unchanged
	}
	original := tc.calc.Tokens(model, raw)
	if original <= policy.ThresholdTokens {
		return unchanged
	}

	log := logger.Component("tool-compaction")

	if policy.Mode == ToolModeSummary {
		if s == nil {
			log.Warn().Str("tool", toolName).Msg("no summarizer, truncating tool result")
		} else {
			summary, err := s.Summarize(ctx, SummaryRequest{
				SystemPrompt: toolSummarySystemPrompt,
				Input:        toolSummaryInput(toolName, raw, userRequest, policy.SummaryInputMaxChars),
				MaxTokens:    policy.SummaryMaxTokens,
			})
			if err == nil && strings.TrimSpace(summary) != "" {
				text := fmt.Sprintf("[Summarized — original was ~%d tokens]\n%s", original, strings.TrimSpace(summary))
				return ToolResult{
					Text:          text,
					WasSummarized: true,
					TokensFreed:   original - tc.calc.Tokens(model, text),
				}
			}
			log.Warn().Err(err).Str("tool", toolName).Msg("tool summary failed, truncating")
		}
	}

	text := fmt.Sprintf("[Truncated from %d tokens]\n%s", original, TruncateText(raw, policy.TruncateMaxChars))
	return ToolResult{
		Text:         text,
		WasTruncated: true,
		TokensFreed:  original - tc.calc.Tokens(model, text),
	}
}

func toolSummaryInput(toolName, raw, userRequest string, maxChars int) string {
	var sb strings.Builder
	sb.WriteString("Tool: ")
	sb.WriteString(toolName)
	sb.WriteString("\n")
	if userRequest = strings.TrimSpace(userRequest); userRequest != "" {
		sb.WriteString("User request: ")
		sb.WriteString(userRequest)
		sb.WriteString("\n")
	}
	sb.WriteString("Output:\n")
	sb.WriteString(headRunes(raw, maxChars))
	return sb.String()
}

// TruncateText cuts content to at most maxChars runes. Inline base64 data
// URIs and long hex blobs are replaced first; if that is not enough the
// head and tail are kept around a marker.
func TruncateText(content string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(content) <= maxChars {
		return content
	}

	content = stripBase64Blocks(content)
	if utf8.RuneCountInString(content) <= maxChars {
		return content
	}

	content = stripHexBlobs(content)
	n := utf8.RuneCountInString(content)
	if n <= maxChars {
		return content
	}

	r := []rune(content)
	marker := fmt.Sprintf("\n\n[... %d chars truncated ...]\n\n", n-maxChars)
	budget := maxChars - utf8.RuneCountInString(marker)
	if budget <= 0 {
		return string(r[:maxChars])
	}
	head := budget / 2
	tail := budget - head
	marker = fmt.Sprintf("\n\n[... %d chars truncated ...]\n\n", n-head-tail)
	if utf8.RuneCountInString(marker) > maxChars-head-tail {
		return string(r[:maxChars])
	}
	return string(r[:head]) + marker + string(r[n-tail:])
}

func headRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func stripBase64Blocks(s string) string {
	return base64Pattern.ReplaceAllStringFunc(s, func(match string) string {
		return fmt.Sprintf("[base64 data removed, %d bytes]", len(match))
	})
}

func stripHexBlobs(s string) string {
	return hexBlobPattern.ReplaceAllStringFunc(s, func(match string) string {
		return fmt.Sprintf("[hex data removed, %d bytes]", len(match))
	})
}
