package compaction

import (
	"context"
	"fmt"
	"strings"

	"chatroute/internal/provider"
)

// SummaryRequest is one summarization call.
type SummaryRequest struct {
	SystemPrompt string
	Input        string
	MaxTokens    int
}

// Summarizer produces a summary from a transcript. Implementations typically
// call a fast, cheap model.
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, req SummaryRequest) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	return f(ctx, req)
}

// ProviderSummarizer summarizes through a Provider's blocking Chat call.
type ProviderSummarizer struct {
	Provider provider.Provider
	Model    string
}

// NewProviderSummarizer uses the handle's fast model when one is configured.
func NewProviderSummarizer(h *provider.Handle) *ProviderSummarizer {
	return &ProviderSummarizer{Provider: h.Provider, Model: h.SummaryModel()}
}

// Summarize implements Summarizer.
func (s *ProviderSummarizer) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	if s == nil || s.Provider == nil {
		return "", ErrNoSummarizer
	}
	resp, err := s.Provider.Chat(ctx, provider.ChatRequest{
		Model:     s.Model,
		System:    req.SystemPrompt,
		Messages:  []provider.Message{{Role: provider.RoleUser, Content: req.Input}},
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSummaryFailed, err)
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", fmt.Errorf("%w: empty summary", ErrSummaryFailed)
	}
	return out, nil
}
