// Package anthropic adapts the Anthropic Messages API to provider.Provider.
package anthropic

import (
	"context"
	"errors"
	"io"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"chatroute/internal/provider"
	"chatroute/internal/stream"
	"chatroute/pkg/logger"
)

// Kind is the adapter kind served by this package.
const Kind = "anthropic"

// DefaultMaxTokens is sent when neither request nor profile sets a limit;
// the API requires one.
const DefaultMaxTokens = 4096

var _ provider.Provider = (*Provider)(nil)

// Provider talks to the Messages API with one model and credential.
type Provider struct {
	client    sdk.Client
	model     string
	maxTokens int
}

// Register adds the adapter to r.
func Register(r *provider.Registry) {
	r.Register(Kind, New)
}

// New builds a Provider for a resolved profile.
func New(p provider.Profile, model, token string) (provider.Provider, error) {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if p.AuthType == provider.AuthOAuth {
		opts = append(opts, option.WithHeader("Authorization", "Bearer "+token))
	} else {
		opts = append(opts, option.WithAPIKey(token))
	}
	if base := strings.TrimSpace(p.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	for k, v := range p.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}

	maxTokens := p.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Provider{
		client:    sdk.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

func (p *Provider) Name() string { return Kind }

func (p *Provider) params(req provider.ChatRequest) sdk.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	system, messages := convertMessages(req.System, req.Messages)
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if tools := convertTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	return params
}

// Stream opens a streaming message and re-encodes its events as frames.
// HTTP failures are reported before any frame is produced.
func (p *Provider) Stream(ctx context.Context, req provider.ChatRequest) (io.ReadCloser, error) {
	params := p.params(req)
	upstream := p.client.Messages.NewStreaming(ctx, params)
	if err := upstream.Err(); err != nil {
		upstream.Close()
		return nil, mapError(err)
	}

	clog := logger.Component("anthropic")
	clog.Debug().
		Str("model", string(params.Model)).
		Int("messages", len(params.Messages)).
		Msg("stream opened")

	return stream.Pipe(func(w *stream.Writer) error {
		defer upstream.Close()
		return pump(upstream, w)
	}, func() { upstream.Close() }), nil
}

// events is the subset of the SDK stream pump relies on.
type events interface {
	Next() bool
	Current() sdk.MessageStreamEventUnion
	Err() error
}

type toolBlock struct {
	id   string
	name string
	args strings.Builder
}

func pump(upstream events, w *stream.Writer) error {
	var (
		started bool
		tools   = make(map[int64]*toolBlock)
		finish  = provider.FinishReasonStop
		usage   stream.Usage
	)
	start := func(id string) error {
		if started {
			return nil
		}
		started = true
		return w.StartStep(id)
	}

	for upstream.Next() {
		switch ev := upstream.Current().AsAny().(type) {
		case sdk.MessageStartEvent:
			usage.PromptTokens = int(ev.Message.Usage.InputTokens)
			if err := start(ev.Message.ID); err != nil {
				return err
			}

		case sdk.ContentBlockStartEvent:
			if err := start(""); err != nil {
				return err
			}
			if ev.ContentBlock.Type == "tool_use" {
				tools[ev.Index] = &toolBlock{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
				if err := w.ToolCallStart(ev.ContentBlock.ID, ev.ContentBlock.Name); err != nil {
					return err
				}
			}

		case sdk.ContentBlockDeltaEvent:
			if err := start(""); err != nil {
				return err
			}
			var err error
			switch d := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				err = w.Text(d.Text)
			case sdk.ThinkingDelta:
				err = w.Reasoning(d.Thinking)
			case sdk.InputJSONDelta:
				if tb, ok := tools[ev.Index]; ok && d.PartialJSON != "" {
					tb.args.WriteString(d.PartialJSON)
					err = w.ToolCallDelta(tb.id, d.PartialJSON)
				}
			}
			if err != nil {
				return err
			}

		case sdk.ContentBlockStopEvent:
			if tb, ok := tools[ev.Index]; ok {
				delete(tools, ev.Index)
				if err := w.ToolCall(tb.id, tb.name, tb.args.String()); err != nil {
					return err
				}
			}

		case sdk.MessageDeltaEvent:
			usage.CompletionTokens = int(ev.Usage.OutputTokens)
			finish = mapStopReason(string(ev.Delta.StopReason))
		}
	}
	if err := upstream.Err(); err != nil {
		return mapError(err)
	}

	if err := start(""); err != nil {
		return err
	}
	if err := w.FinishStep(finish, &usage); err != nil {
		return err
	}
	return w.Finish(finish, &usage)
}

// Chat performs a blocking completion.
func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	msg, err := p.client.Messages.New(ctx, p.params(req))
	if err != nil {
		return nil, mapError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type != "text" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(block.Text)
	}
	in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return &provider.ChatResponse{
		Content:      sb.String(),
		FinishReason: mapStopReason(string(msg.StopReason)),
		Usage:        &provider.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
	}, nil
}

func mapError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return provider.FromStatus(Kind, apiErr.StatusCode, apiErr.Error(), err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	pe := provider.NewProviderError(provider.ErrCodeUnknown, err.Error(), Kind, false)
	pe.Err = err
	return pe
}

func mapStopReason(r string) string {
	switch r {
	case "tool_use":
		return provider.FinishReasonToolCalls
	case "max_tokens":
		return provider.FinishReasonLength
	default:
		return provider.FinishReasonStop
	}
}
