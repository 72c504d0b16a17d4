// Package openai adapts OpenAI and OpenAI-compatible chat completion APIs
// (vLLM, Ollama, OpenRouter, LM Studio and friends) to provider.Provider.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	sdk "github.com/sashabaranov/go-openai"

	"chatroute/internal/provider"
	"chatroute/internal/stream"
	"chatroute/pkg/logger"
)

// Adapter kinds served by this package.
const (
	KindOpenAI     = "openai"
	KindCompatible = "openai-compatible"
)

// DefaultMaxTokens is used when neither the request nor the profile sets one.
const DefaultMaxTokens = 4096

var _ provider.Provider = (*Provider)(nil)

// Provider talks to one OpenAI-style endpoint with one model and key.
type Provider struct {
	kind      string
	client    *sdk.Client
	model     string
	maxTokens int
}

// Register adds both OpenAI kinds to r.
func Register(r *provider.Registry) {
	r.Register(KindOpenAI, New)
	r.Register(KindCompatible, New)
}

// New builds a Provider for a resolved profile. OpenAI-compatible profiles
// must name a base URL.
func New(p provider.Profile, model, token string) (provider.Provider, error) {
	kind := strings.ToLower(p.Provider)
	if kind == "" {
		kind = KindOpenAI
	}
	if kind == KindCompatible && strings.TrimSpace(p.BaseURL) == "" {
		return nil, fmt.Errorf("%w: profile %q is %s but has no baseUrl", provider.ErrUnknownAdapter, p.ID, kind)
	}
	if token == "" {
		// local servers usually ignore the header but the client wants one
		token = "not-needed"
	}

	cfg := sdk.DefaultConfig(token)
	if base := normalizeBaseURL(p.BaseURL); base != "" {
		cfg.BaseURL = base
	}
	cfg.HTTPClient = &http.Client{Transport: &headerTransport{headers: p.Headers}}

	maxTokens := p.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Provider{
		kind:      kind,
		client:    sdk.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// normalizeBaseURL makes sure compatible endpoints end in /v1.
func normalizeBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return ""
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base
}

type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) > 0 {
		req = req.Clone(req.Context())
		for k, v := range t.headers {
			req.Header.Set(k, v)
		}
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

func (p *Provider) Name() string { return p.kind }

func (p *Provider) request(req provider.ChatRequest) sdk.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	out := sdk.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    convertMessages(req.System, req.Messages),
		Tools:       convertTools(req.Tools),
		Temperature: float32(req.Temperature),
	}
	return out
}

// Stream opens a streaming completion and re-encodes it as frames.
func (p *Provider) Stream(ctx context.Context, req provider.ChatRequest) (io.ReadCloser, error) {
	creq := p.request(req)
	creq.Stream = true
	creq.StreamOptions = &sdk.StreamOptions{IncludeUsage: true}

	upstream, err := p.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return nil, p.mapError(err)
	}

	log := logger.Component("openai")
	log.Debug().Str("kind", p.kind).Str("model", creq.Model).Int("messages", len(creq.Messages)).Msg("stream opened")

	return stream.Pipe(func(w *stream.Writer) error {
		defer upstream.Close()
		return p.pump(upstream, w)
	}, func() { upstream.Close() }), nil
}

type toolCallState struct {
	id   string
	name string
	args strings.Builder
}

func (p *Provider) pump(upstream *sdk.ChatCompletionStream, w *stream.Writer) error {
	var (
		started bool
		calls   []*toolCallState
		finish  = provider.FinishReasonStop
		usage   *stream.Usage
	)

	for {
		chunk, err := upstream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return p.mapError(err)
		}
		if !started {
			if err := w.StartStep(chunk.ID); err != nil {
				return err
			}
			started = true
		}
		if chunk.Usage != nil {
			usage = &stream.Usage{PromptTokens: chunk.Usage.PromptTokens, CompletionTokens: chunk.Usage.CompletionTokens}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.ReasoningContent != "" {
			if err := w.Reasoning(choice.Delta.ReasoningContent); err != nil {
				return err
			}
		}
		if choice.Delta.Content != "" {
			if err := w.Text(choice.Delta.Content); err != nil {
				return err
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			for len(calls) <= idx {
				calls = append(calls, &toolCallState{})
			}
			st := calls[idx]
			if st.id == "" && tc.ID != "" {
				st.id = tc.ID
				st.name = tc.Function.Name
				if err := w.ToolCallStart(st.id, st.name); err != nil {
					return err
				}
			}
			if tc.Function.Arguments != "" {
				st.args.WriteString(tc.Function.Arguments)
				if err := w.ToolCallDelta(st.id, tc.Function.Arguments); err != nil {
					return err
				}
			}
		}
		if choice.FinishReason != "" {
			finish = mapFinishReason(choice.FinishReason)
		}
	}

	if !started {
		if err := w.StartStep(""); err != nil {
			return err
		}
	}
	for _, st := range calls {
		if err := w.ToolCall(st.id, st.name, st.args.String()); err != nil {
			return err
		}
	}
	if err := w.FinishStep(finish, usage); err != nil {
		return err
	}
	return w.Finish(finish, usage)
}

// Chat performs a blocking completion.
func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.request(req))
	if err != nil {
		return nil, p.mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, provider.NewProviderError(provider.ErrCodeUnknown, "response has no choices", p.kind, false)
	}
	choice := resp.Choices[0]
	return &provider.ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: mapFinishReason(choice.FinishReason),
		Usage: &provider.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *Provider) mapError(err error) error {
	var apiErr *sdk.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if code, ok := apiErr.Code.(string); ok && code != "" {
			msg = code + ": " + msg
		}
		return provider.FromStatus(p.kind, apiErr.HTTPStatusCode, msg, err)
	}
	var reqErr *sdk.RequestError
	if errors.As(err, &reqErr) {
		return provider.FromStatus(p.kind, reqErr.HTTPStatusCode, reqErr.Error(), err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	pe := provider.NewProviderError(provider.ErrCodeNetworkError, err.Error(), p.kind, true)
	pe.Err = err
	return pe
}

func mapFinishReason(r sdk.FinishReason) string {
	switch r {
	case sdk.FinishReasonToolCalls, sdk.FinishReasonFunctionCall:
		return provider.FinishReasonToolCalls
	case sdk.FinishReasonLength:
		return provider.FinishReasonLength
	default:
		return provider.FinishReasonStop
	}
}
