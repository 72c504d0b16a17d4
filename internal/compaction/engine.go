package compaction

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"chatroute/internal/provider"
	"chatroute/pkg/logger"
)

// SummaryTag prefixes the synthetic summary message.
const SummaryTag = "[Conversation Summary]"

const summarySystemPrompt = `You compress chat transcripts. Extract what a model needs to continue the conversation:
- the user's goals and open questions
- decisions made and their outcomes
- facts, names, numbers, file paths and code identifiers that were referenced
- pending tasks and commitments

Write terse bullet points. Do not invent content. Do not address the user.`

// Result is the outcome of MaybeCompact.
type Result struct {
	Messages []provider.Message
	Stats    Stats
}

// Engine applies a ContextManagementPolicy to a message history.
type Engine struct {
	calc *Calculator
}

// NewEngine creates an Engine over calc.
func NewEngine(calc *Calculator) *Engine {
	return &Engine{calc: calc}
}

// Calculator returns the engine's calculator.
func (e *Engine) Calculator() *Calculator { return e.calc }

// MaybeCompact reduces messages according to policy. The input slice is
// never modified. Summarization failures are absorbed: the original history
// comes back with WasCompacted false.
func (e *Engine) MaybeCompact(ctx context.Context, s Summarizer, messages []provider.Message, systemPrompt, model string, policy ContextManagementPolicy) Result {
	policy = policy.Normalize()
	log := logger.Component("compaction")

	before := e.calc.Count(messages, systemPrompt, model)
	stats := e.calc.statsFor(before, policy)
	original := Result{Messages: cloneMessages(messages), Stats: stats}

	switch policy.Mode {
	case ModeTruncate:
		keep := min(policy.KeepRecentMessages, len(messages))
		if keep == len(messages) {
			return original
		}
		return e.finish(messages[len(messages)-keep:], systemPrompt, model, before, policy)

	case ModeSummary, ModeRunningSummary:
		if !stats.ShouldCompact {
			return original
		}
		if s == nil {
			log.Warn().Msg("compaction skipped: no summarizer")
			return original
		}

		keep := min(policy.KeepRecentMessages, len(messages))
		if keep >= len(messages) {
			log.Debug().Int("messages", len(messages)).Msg("compaction skipped: history shorter than keep window")
			return original
		}
		toSummarize := messages[:len(messages)-keep]
		toKeep := messages[len(messages)-keep:]

		log.Debug().
			Str("mode", string(policy.Mode)).
			Int("summarize", len(toSummarize)).
			Int("keep", len(toKeep)).
			Float64("percentage", stats.Percentage).
			Msg("summarizing history")

		summary, err := s.Summarize(ctx, SummaryRequest{
			SystemPrompt: summarySystemPrompt,
			Input:        Transcript(toSummarize, policy.TranscriptMaxChars),
			MaxTokens:    policy.SummaryMaxTokens,
		})
		if err == nil && strings.TrimSpace(summary) == "" {
			err = fmt.Errorf("%w: empty summary", ErrSummaryFailed)
		}
		if err != nil {
			log.Warn().Err(err).Msg("summary failed, keeping original history")
			return original
		}

		out := make([]provider.Message, 0, len(toKeep)+1)
		out = append(out, provider.Message{
			Role:    provider.RoleSystem,
			Content: SummaryTag + "\n" + strings.TrimSpace(summary),
		})
		out = append(out, toKeep...)
		return e.finish(out, systemPrompt, model, before, policy)

	default:
		return original
	}
}

func (e *Engine) finish(msgs []provider.Message, systemPrompt, model string, before int, policy ContextManagementPolicy) Result {
	after := e.calc.Count(msgs, systemPrompt, model)
	stats := e.calc.statsFor(after, policy)
	stats.WasCompacted = true
	stats.TokensFreed = before - after
	return Result{Messages: cloneMessages(msgs), Stats: stats}
}

// Transcript renders messages as "role: text" blocks. When the result is
// longer than maxChars the oldest part is dropped.
func Transcript(messages []provider.Message, maxChars int) string {
	var sb strings.Builder
	for i, m := range messages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		role := m.Role
		if m.Name != "" {
			role += "(" + m.Name + ")"
		}
		sb.WriteString(role)
		sb.WriteString(": ")
		sb.WriteString(m.Text())
	}
	out := sb.String()
	if maxChars <= 0 || utf8.RuneCountInString(out) <= maxChars {
		return out
	}
	r := []rune(out)
	return "[earlier transcript omitted]\n" + string(r[len(r)-maxChars:])
}

func cloneMessages(in []provider.Message) []provider.Message {
	out := make([]provider.Message, len(in))
	copy(out, in)
	return out
}
