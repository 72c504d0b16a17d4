package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"chatroute/internal/compaction"
	"chatroute/internal/orchestrator"
	"chatroute/internal/profiles"
	"chatroute/internal/provider"
	"chatroute/internal/routestate"
	"chatroute/internal/routing"
	"chatroute/internal/stream"
	"chatroute/pkg/logger"
)

// Response headers set on a successful chat.
const (
	HeaderContextUsed    = "X-Context-Used"
	HeaderContextLimit   = "X-Context-Limit"
	HeaderWasCompacted   = "X-Was-Compacted"
	HeaderActiveProfile  = "X-Active-Profile"
	HeaderActiveModel    = "X-Active-Model"
	HeaderRouteFallback  = "X-Route-Fallback"
	HeaderRouteFailures  = "X-Route-Failures"
	HeaderRouteCommand   = "X-Route-Command"
	maxFailuresInHeader  = 3
	streamContentType    = "text/plain; charset=utf-8"
	maxRequestBodyBytes  = 32 << 20
	noConversationNotice = "This command needs a conversationId."
)

// ConfigSource returns the current configuration document.
type ConfigSource interface {
	ReadConfig() (profiles.AppConfig, error)
}

// Runner executes one chat turn across the route plan.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
}

// CommandDispatcher applies an in-chat routing command.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, conversationID string, cmd routing.Command, policy routing.Policy) (string, error)
}

// Defaults fill in what the configuration document leaves unset.
type Defaults struct {
	Context      compaction.ContextManagementPolicy
	Tools        compaction.ToolCompactionPolicy
	SystemPrompt string
}

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Messages             []provider.Message `json:"messages"`
	ProfileID            string             `json:"profileId,omitempty"`
	ModelID              string             `json:"modelId,omitempty"`
	UseManualRouting     bool               `json:"useManualRouting,omitempty"`
	SystemPromptOverride string             `json:"systemPromptOverride,omitempty"`
	ConversationID       string             `json:"conversationId,omitempty"`
	Tools                []provider.Tool    `json:"tools,omitempty"`
	MaxTokens            int                `json:"maxTokens,omitempty"`
	Temperature          float64            `json:"temperature,omitempty"`
}

func (r ChatRequest) validate() error {
	if len(r.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case provider.RoleUser, provider.RoleAssistant, provider.RoleSystem, provider.RoleTool:
		default:
			return fmt.Errorf("messages[%d]: unknown role %q", i, m.Role)
		}
	}
	if r.ModelID != "" && r.ProfileID == "" {
		return errors.New("modelId requires profileId")
	}
	return nil
}

// ChatHandler serves POST /api/v1/chat.
type ChatHandler struct {
	Config   ConfigSource
	Routes   routestate.Store
	Runner   Runner
	Commands CommandDispatcher
	Defaults Defaults
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.Component("gateway")
	ctx := r.Context()

	var req ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	doc, err := h.Config.ReadConfig()
	if err != nil {
		log.Error().Err(err).Msg("read config document")
		SendError(w, http.StatusInternalServerError, ErrCodeConfigError, "configuration unavailable")
		return
	}

	if cmd, ok := routing.ParseCommand(lastUserText(req.Messages)); ok && h.Commands != nil {
		h.runCommand(w, r, req, cmd, doc.Routing)
		return
	}

	state, err := routestate.Lookup(ctx, h.Routes, req.ConversationID)
	if err != nil {
		log.Warn().Err(err).Str("conversation", req.ConversationID).Msg("route lookup failed, using global priority")
		state = nil
	}
	var override *provider.Target
	if req.ProfileID != "" {
		override = &provider.Target{ProfileID: req.ProfileID, ModelID: req.ModelID}
	}

	targets := routing.Plan(doc.Routing, state, override, req.UseManualRouting)
	log.Debug().
		Str("conversation", req.ConversationID).
		Int("targets", len(targets)).
		Bool("manual", req.UseManualRouting).
		Msg("route planned")

	resp, err := h.Runner.Run(ctx, orchestrator.Request{
		Targets:              targets,
		Messages:             req.Messages,
		SystemPromptOverride: req.SystemPromptOverride,
		DefaultSystemPrompt:  h.systemPrompt(doc),
		Tools:                req.Tools,
		MaxTokens:            req.MaxTokens,
		Temperature:          req.Temperature,
		ConversationID:       req.ConversationID,
		DefaultTarget:        routing.Primary(doc.Routing, nil, nil),
		CurrentRoute:         state,
		ContextPolicy:        h.contextPolicy(doc),
		ToolPolicy:           h.toolPolicy(doc),
	})
	if err != nil {
		var total *orchestrator.TotalFailureError
		switch {
		case errors.As(err, &total):
			SendRouteFailure(w, total)
		case errors.Is(err, context.Canceled):
			log.Debug().Msg("client went away before a route succeeded")
		default:
			SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		}
		return
	}
	defer resp.Stream.Close()

	writeRouteHeaders(w.Header(), resp)
	w.Header().Set("Content-Type", streamContentType)
	w.WriteHeader(http.StatusOK)

	fw := &flushWriter{w: w}
	fw.f, _ = w.(http.Flusher)

	annotation, err := stream.Encode(stream.CodeAnnotation, annotations(resp))
	if err == nil {
		if _, err := fw.Write(annotation); err != nil {
			return
		}
	}
	n, err := io.Copy(fw, resp.Stream)
	if err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Int64("bytes", n).Msg("forwarding stream failed")
	}
}

func (h *ChatHandler) runCommand(w http.ResponseWriter, r *http.Request, req ChatRequest, cmd routing.Command, policy routing.Policy) {
	ack, err := h.Commands.Dispatch(r.Context(), req.ConversationID, cmd, policy)
	if errors.Is(err, routing.ErrNoConversation) {
		ack, err = noConversationNotice, nil
	}
	if err != nil {
		clog := logger.Component("gateway")
		clog.Error().Err(err).Str("command", cmd.String()).Msg("command failed")
		SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	w.Header().Set("Content-Type", streamContentType)
	w.Header().Set(HeaderRouteCommand, string(cmd.Kind))
	w.WriteHeader(http.StatusOK)

	sw := stream.NewWriter(w)
	_ = sw.StartStep(uuid.NewString())
	_ = sw.Text(ack)
	_ = sw.FinishStep(provider.FinishReasonStop, nil)
	_ = sw.Finish(provider.FinishReasonStop, nil)
}

func (h *ChatHandler) contextPolicy(doc profiles.AppConfig) compaction.ContextManagementPolicy {
	if doc.ContextManagement != nil {
		return doc.ContextManagement.Normalize()
	}
	return h.Defaults.Context.Normalize()
}

func (h *ChatHandler) toolPolicy(doc profiles.AppConfig) compaction.ToolCompactionPolicy {
	if doc.ToolCompaction != nil {
		return doc.ToolCompaction.Normalize()
	}
	return h.Defaults.Tools.Normalize()
}

func (h *ChatHandler) systemPrompt(doc profiles.AppConfig) string {
	if doc.DefaultSystemPrompt != "" {
		return doc.DefaultSystemPrompt
	}
	return h.Defaults.SystemPrompt
}

func writeRouteHeaders(hdr http.Header, resp *orchestrator.Response) {
	hdr.Set(HeaderContextUsed, strconv.Itoa(resp.Stats.Used))
	hdr.Set(HeaderContextLimit, strconv.Itoa(resp.Stats.Limit))
	hdr.Set(HeaderWasCompacted, strconv.FormatBool(resp.Stats.WasCompacted))
	hdr.Set(HeaderActiveProfile, resp.Target.ProfileID)
	hdr.Set(HeaderActiveModel, resp.Target.ModelID)
	hdr.Set(HeaderRouteFallback, strconv.FormatBool(resp.Fallback()))
	if resp.Fallback() {
		failures := resp.Failures
		if len(failures) > maxFailuresInHeader {
			failures = failures[:maxFailuresInHeader]
		}
		if raw, err := json.Marshal(failures); err == nil {
			hdr.Set(HeaderRouteFailures, string(raw))
		}
	}
}

type contextStatsAnnotation struct {
	Type         string  `json:"type"`
	Used         int     `json:"used"`
	Limit        int     `json:"limit"`
	Percentage   float64 `json:"percentage"`
	WasCompacted bool    `json:"wasCompacted"`
	TokensFreed  int     `json:"tokensFreed,omitempty"`
}

type routeAttemptAnnotation struct {
	Type      string                       `json:"type"`
	Attempt   int                          `json:"attempt"`
	ProfileID string                       `json:"profileId"`
	ModelID   string                       `json:"modelId"`
	Failures  []orchestrator.AttemptRecord `json:"failures"`
}

func annotations(resp *orchestrator.Response) []any {
	failures := resp.Failures
	if failures == nil {
		failures = []orchestrator.AttemptRecord{}
	}
	return []any{
		contextStatsAnnotation{
			Type:         "context-stats",
			Used:         resp.Stats.Used,
			Limit:        resp.Stats.Limit,
			Percentage:   resp.Stats.Percentage,
			WasCompacted: resp.Stats.WasCompacted,
			TokensFreed:  resp.Stats.TokensFreed,
		},
		routeAttemptAnnotation{
			Type:      "route-attempt",
			Attempt:   resp.Attempt,
			ProfileID: resp.Target.ProfileID,
			ModelID:   resp.Target.ModelID,
			Failures:  failures,
		},
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

// flushWriter pushes every forwarded chunk to the client immediately.
type flushWriter struct {
	w io.Writer
	f http.Flusher
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if fw.f != nil {
		fw.f.Flush()
	}
	return n, err
}
