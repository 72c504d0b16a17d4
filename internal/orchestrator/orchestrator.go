// Package orchestrator walks a route plan until one target yields a healthy
// response stream.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatroute/internal/compaction"
	"chatroute/internal/probe"
	"chatroute/internal/profiles"
	"chatroute/internal/provider"
	"chatroute/internal/routestate"
	"chatroute/pkg/logger"
)

// Defaults applied when Options leave a field unset.
const (
	DefaultAttemptTimeout    = 10 * time.Second
	DefaultCompactionTimeout = 30 * time.Second
)

// Resolver turns a target into an invocable handle.
type Resolver interface {
	Resolve(ctx context.Context, target provider.Target) (*provider.Handle, error)
}

// SummarizerFactory picks the summarizer used for a resolved handle.
type SummarizerFactory func(ctx context.Context, h *provider.Handle) compaction.Summarizer

// Options configures an Orchestrator.
type Options struct {
	Resolver          Resolver
	Engine            *compaction.Engine
	ToolCompactor     *compaction.ToolCompactor
	Prober            *probe.Prober
	Routes            routestate.Store
	AttemptTimeout    time.Duration
	CompactionTimeout time.Duration
	Summarizer        SummarizerFactory
}

// Orchestrator runs attempts strictly one after another.
type Orchestrator struct {
	resolver          Resolver
	engine            *compaction.Engine
	tools             *compaction.ToolCompactor
	prober            probe.Prober
	routes            routestate.Store
	attemptTimeout    time.Duration
	compactionTimeout time.Duration
	summarizer        SummarizerFactory
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		resolver:          opts.Resolver,
		engine:            opts.Engine,
		tools:             opts.ToolCompactor,
		routes:            opts.Routes,
		attemptTimeout:    opts.AttemptTimeout,
		compactionTimeout: opts.CompactionTimeout,
		summarizer:        opts.Summarizer,
	}
	if opts.Prober != nil {
		o.prober = *opts.Prober
	}
	if o.attemptTimeout <= 0 {
		o.attemptTimeout = DefaultAttemptTimeout
	}
	if o.compactionTimeout <= 0 {
		o.compactionTimeout = DefaultCompactionTimeout
	}
	if o.engine == nil {
		o.engine = compaction.NewEngine(compaction.NewCalculator(nil))
	}
	if o.tools == nil {
		o.tools = compaction.NewToolCompactor(o.engine.Calculator())
	}
	if o.summarizer == nil {
		o.summarizer = func(_ context.Context, h *provider.Handle) compaction.Summarizer {
			return compaction.NewProviderSummarizer(h)
		}
	}
	return o
}

// Request is one chat turn.
type Request struct {
	Targets              []provider.Target
	Messages             []provider.Message
	SystemPromptOverride string
	DefaultSystemPrompt  string
	Tools                []provider.Tool
	MaxTokens            int
	Temperature          float64

	// ConversationID enables route persistence when set.
	ConversationID string
	// DefaultTarget is the head of the global priority list.
	DefaultTarget provider.Target
	// CurrentRoute is the conversation's stored override, if any.
	CurrentRoute *routestate.State

	ContextPolicy compaction.ContextManagementPolicy
	ToolPolicy    compaction.ToolCompactionPolicy
}

// Response is a successful attempt.
type Response struct {
	Stream       io.ReadCloser
	Target       provider.Target
	Attempt      int
	Failures     []AttemptRecord
	Stats        compaction.Stats
	SystemPrompt string
	RunID        string
}

// Fallback reports whether earlier attempts failed.
func (r *Response) Fallback() bool { return len(r.Failures) > 0 }

// compacted holds the once-per-request compaction outcome.
type compacted struct {
	done     bool
	messages []provider.Message
	stats    compaction.Stats
}

// Run tries each target in order. The first attempt whose stream passes
// the probe is returned; the rest are never tried. When all fail the error
// is a *TotalFailureError carrying every AttemptRecord.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Response, error) {
	if len(req.Targets) == 0 {
		return nil, ErrNoTargets
	}

	runID := uuid.NewString()
	log := logger.Component("orchestrator").With().Str("run", runID).Logger()

	var (
		failures []AttemptRecord
		comp     compacted
	)

	for i, target := range req.Targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempt := i + 1

		resp, err := o.attempt(ctx, log, req, target, attempt, &comp)
		if err == nil {
			resp.Attempt = attempt
			resp.Failures = failures
			resp.RunID = runID
			o.persistRoute(ctx, log, req, target, resp.Target)
			log.Info().
				Str("profile", resp.Target.ProfileID).
				Str("model", resp.Target.ModelID).
				Int("attempt", attempt).
				Bool("fallback", resp.Fallback()).
				Msg("attempt succeeded")
			return resp, nil
		}

		rec := AttemptRecord{
			ProfileID: target.ProfileID,
			ModelID:   target.ModelID,
			Kind:      classify(err),
			Error:     err.Error(),
		}
		failures = append(failures, rec)
		log.Warn().
			Str("profile", target.ProfileID).
			Str("model", target.ModelID).
			Int("attempt", attempt).
			Str("kind", string(rec.Kind)).
			Err(err).
			Msg("attempt failed")
	}

	log.Error().Int("attempts", len(failures)).Msg("all route attempts failed")
	return nil, &TotalFailureError{Attempts: failures}
}

func (o *Orchestrator) attempt(ctx context.Context, log zerolog.Logger, req Request, target provider.Target, attempt int, comp *compacted) (*Response, error) {
	log.Debug().Str("profile", target.ProfileID).Str("model", target.ModelID).Int("attempt", attempt).Msg("resolving")
	start := time.Now()
	resolveCtx, cancelResolve := context.WithTimeout(ctx, o.attemptTimeout)
	h, err := o.resolver.Resolve(resolveCtx, target)
	resolveTimedOut := errors.Is(resolveCtx.Err(), context.DeadlineExceeded)
	cancelResolve()
	if err != nil {
		if resolveTimedOut {
			return nil, probe.TimeoutFailure("attempt timed out during resolution", err.Error())
		}
		return nil, err
	}
	// compaction runs on its own budget and does not count against the attempt
	budget := o.attemptTimeout - time.Since(start)

	if !comp.done {
		comp.messages, comp.stats = o.compact(ctx, log, req, h)
		comp.done = true
	}
	if budget <= 0 {
		return nil, probe.TimeoutFailure("attempt timed out during resolution", "")
	}
	deadline := time.Now().Add(budget)

	system := profiles.ComposeSystemPrompt(h.Profile, req.SystemPromptOverride, req.DefaultSystemPrompt)
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = h.Profile.MaxOutputTokens
	}

	attemptCtx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(budget, func() { cancel(probe.ErrProbeTimeout) })
	fail := func(err error) (*Response, error) {
		timer.Stop()
		cancel(err)
		return nil, err
	}

	log.Debug().Int("attempt", attempt).Msg("invoking")
	raw, err := h.Provider.Stream(attemptCtx, provider.ChatRequest{
		Model:       h.Model,
		System:      system,
		Messages:    comp.messages,
		Tools:       req.Tools,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		if errors.Is(context.Cause(attemptCtx), probe.ErrProbeTimeout) {
			return fail(probe.TimeoutFailure("attempt timed out before the stream opened", err.Error()))
		}
		return fail(fmt.Errorf("invoke %s: %w", h.Target, err))
	}

	p := o.prober
	p.Timeout = time.Until(deadline)
	if p.Timeout <= 0 {
		// upstream bodies may block on Close; the next target must not wait
		go raw.Close()
		return fail(probe.TimeoutFailure("attempt timed out before probing", ""))
	}

	log.Debug().Int("attempt", attempt).Dur("budget", p.Timeout).Msg("probing")
	client, err := p.Probe(attemptCtx, raw)
	if err != nil {
		return fail(err)
	}
	if !timer.Stop() {
		go client.Close()
		return fail(probe.TimeoutFailure("attempt timed out while probing", ""))
	}

	return &Response{
		Stream:       &cancelOnClose{ReadCloser: client, cancel: func() { cancel(context.Canceled) }},
		Target:       h.Target,
		Stats:        comp.stats,
		SystemPrompt: system,
	}, nil
}

// compact runs tool-result compaction and then context compaction against
// the first resolved handle. Failures never escape.
func (o *Orchestrator) compact(ctx context.Context, log zerolog.Logger, req Request, h *provider.Handle) ([]provider.Message, compaction.Stats) {
	cctx, cancel := context.WithTimeout(ctx, o.compactionTimeout)
	defer cancel()

	summarizer := o.summarizer(cctx, h)
	messages := o.compactTools(cctx, summarizer, h, req)

	system := profiles.ComposeSystemPrompt(h.Profile, req.SystemPromptOverride, req.DefaultSystemPrompt)
	log.Debug().Int("messages", len(messages)).Msg("compacting")
	res := o.engine.MaybeCompact(cctx, summarizer, messages, system, h.Model, req.ContextPolicy)
	if res.Stats.WasCompacted {
		log.Info().
			Int("before", len(messages)).
			Int("after", len(res.Messages)).
			Int("freed", res.Stats.TokensFreed).
			Msg("context compacted")
	}
	return res.Messages, res.Stats
}

func (o *Orchestrator) compactTools(ctx context.Context, s compaction.Summarizer, h *provider.Handle, req Request) []provider.Message {
	out := make([]provider.Message, len(req.Messages))
	copy(out, req.Messages)

	userRequest := lastUserText(req.Messages)
	for i, m := range out {
		if m.Role != provider.RoleTool {
			continue
		}
		res := o.CompactToolResult(ctx, s, h, m.Name, m.Text(), userRequest, req.ToolPolicy)
		if res.WasSummarized || res.WasTruncated {
			m.Content = res.Text
			m.Parts = nil
			out[i] = m
		}
	}
	return out
}

// CompactToolResult shrinks one tool output for the handle's model.
func (o *Orchestrator) CompactToolResult(ctx context.Context, s compaction.Summarizer, h *provider.Handle, toolName, raw, userRequest string, policy compaction.ToolCompactionPolicy) compaction.ToolResult {
	return o.tools.MaybeCompact(ctx, s, h.Model, toolName, raw, userRequest, policy)
}

func (o *Orchestrator) persistRoute(ctx context.Context, log zerolog.Logger, req Request, planned, resolved provider.Target) {
	if o.routes == nil || req.ConversationID == "" || planned == req.DefaultTarget {
		return
	}
	if req.CurrentRoute != nil && req.CurrentRoute.Target() == resolved {
		return
	}
	st := routestate.State{ActiveProfileID: resolved.ProfileID, ActiveModelID: resolved.ModelID}
	if err := o.routes.Upsert(ctx, req.ConversationID, st); err != nil {
		log.Warn().Err(err).Str("conversation", req.ConversationID).Msg("persist route failed")
	}
}

func lastUserText(messages []provider.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == provider.RoleUser {
			return messages[i].Text()
		}
	}
	return ""
}

// cancelOnClose cancels the attempt context when the client stream closes.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.once.Do(c.cancel)
	return err
}
