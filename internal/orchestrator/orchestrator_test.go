package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatroute/internal/compaction"
	"chatroute/internal/probe"
	"chatroute/internal/provider"
	"chatroute/internal/provider/providertest"
	"chatroute/internal/routestate"
)

type byteTokenizer struct{}

func (byteTokenizer) Count(_ string, text string) int { return len(text) }

type harness struct {
	fakes  map[string]*providertest.Fake
	routes *routestate.MemoryStore
	orch   *Orchestrator
}

func newHarness(t *testing.T, fakes map[string]*providertest.Fake, opts Options) *harness {
	t.Helper()
	profs := providertest.Profiles{}
	for id := range fakes {
		profs[id] = provider.Profile{ID: id, Provider: "kind-" + id, APIKey: "k-" + id, DefaultModel: "m-" + id}
	}
	kinds := make(map[string]*providertest.Fake, len(fakes))
	for id, f := range fakes {
		kinds["kind-"+id] = f
	}

	h := &harness{fakes: fakes, routes: routestate.NewMemoryStore()}
	opts.Resolver = provider.NewResolver(profs, providertest.StaticCredentials{}, providertest.Registry(kinds))
	opts.Routes = h.routes
	if opts.AttemptTimeout == 0 {
		opts.AttemptTimeout = 2 * time.Second
	}
	h.orch = New(opts)
	return h
}

func targets(ids ...string) []provider.Target {
	out := make([]provider.Target, len(ids))
	for i, id := range ids {
		out[i] = provider.Target{ProfileID: id}
	}
	return out
}

func userTurn(text string) []provider.Message {
	return []provider.Message{{Role: provider.RoleUser, Content: text}}
}

func TestRun_FirstTargetHealthy(t *testing.T) {
	a := &providertest.Fake{Steps: providertest.Text("hi")}
	b := &providertest.Fake{Steps: providertest.Text("unused")}
	h := newHarness(t, map[string]*providertest.Fake{"a": a, "b": b}, Options{})

	resp, err := h.orch.Run(context.Background(), Request{
		Targets:  targets("a", "b"),
		Messages: userTurn("hello"),
	})
	require.NoError(t, err)
	defer resp.Stream.Close()

	assert.Equal(t, provider.Target{ProfileID: "a", ModelID: "m-a"}, resp.Target)
	assert.Equal(t, 1, resp.Attempt)
	assert.False(t, resp.Fallback())
	assert.NotEmpty(t, resp.RunID)
	assert.Empty(t, b.Requests())

	body, err := io.ReadAll(resp.Stream)
	require.NoError(t, err)
	assert.Equal(t, "f:{\"messageId\":\"m1\"}\n0:\"hi\"\n", string(body))
}

func TestRun_InvalidKeyFallsBackWithoutLeakingBytes(t *testing.T) {
	a := &providertest.Fake{Steps: []providertest.Step{
		{Data: "f:{\"messageId\":\"bad\"}\n"},
		{Data: "3:\"invalid_api_key\"\n"},
	}}
	b := &providertest.Fake{Steps: providertest.Text("Hello", " there")}
	h := newHarness(t, map[string]*providertest.Fake{"a": a, "b": b}, Options{})

	resp, err := h.orch.Run(context.Background(), Request{
		Targets:  targets("a", "b"),
		Messages: userTurn("hello"),
	})
	require.NoError(t, err)
	defer resp.Stream.Close()

	assert.Equal(t, "b", resp.Target.ProfileID)
	assert.Equal(t, 2, resp.Attempt)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, KindProbe, resp.Failures[0].Kind)
	assert.Equal(t, "a", resp.Failures[0].ProfileID)
	assert.Contains(t, resp.Failures[0].Error, "invalid_api_key")

	body, err := io.ReadAll(resp.Stream)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "bad")
	assert.NotContains(t, string(body), "invalid_api_key")
	assert.Equal(t, "f:{\"messageId\":\"m1\"}\n0:\"Hello\"\n0:\" there\"\n", string(body))

	assert.Eventually(t, func() bool { return a.Closed() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRun_AttemptTimeoutMovesOn(t *testing.T) {
	a := &providertest.Fake{Steps: providertest.Text(), Hang: true}
	b := &providertest.Fake{Steps: providertest.Text("ok")}
	h := newHarness(t, map[string]*providertest.Fake{"a": a, "b": b}, Options{AttemptTimeout: 100 * time.Millisecond})

	start := time.Now()
	resp, err := h.orch.Run(context.Background(), Request{
		Targets:  targets("a", "b"),
		Messages: userTurn("hello"),
	})
	require.NoError(t, err)
	defer resp.Stream.Close()

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "b", resp.Target.ProfileID)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, KindProbe, resp.Failures[0].Kind)
	assert.Eventually(t, func() bool { return a.Closed() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRun_TotalFailure(t *testing.T) {
	a := &providertest.Fake{StreamErr: provider.FromStatus("a", 500, "boom", nil)}
	b := &providertest.Fake{Steps: []providertest.Step{{Data: "3:\"quota exceeded\"\n"}}}
	h := newHarness(t, map[string]*providertest.Fake{"a": a, "b": b}, Options{})

	_, err := h.orch.Run(context.Background(), Request{
		Targets:  []provider.Target{{ProfileID: "missing"}, {ProfileID: "a"}, {ProfileID: "b", ModelID: "m-b"}},
		Messages: userTurn("hello"),
	})
	require.Error(t, err)

	var total *TotalFailureError
	require.True(t, errors.As(err, &total))
	require.Len(t, total.Attempts, 3)

	kinds := []FailureKind{total.Attempts[0].Kind, total.Attempts[1].Kind, total.Attempts[2].Kind}
	assert.Equal(t, []FailureKind{KindResolution, KindInvocation, KindProbe}, kinds)
	assert.Equal(t, "missing", total.Attempts[0].ProfileID)
	assert.Equal(t, "m-b", total.Attempts[2].ModelID)
	assert.Contains(t, err.Error(), "all 3 route attempts failed")
}

func TestRun_NoTargets(t *testing.T) {
	h := newHarness(t, map[string]*providertest.Fake{}, Options{})
	_, err := h.orch.Run(context.Background(), Request{Messages: userTurn("x")})
	assert.ErrorIs(t, err, ErrNoTargets)
}

func TestRun_CompactsOnceAcrossAttempts(t *testing.T) {
	a := &providertest.Fake{StreamErr: errors.New("connection refused")}
	b := &providertest.Fake{Steps: []providertest.Step{{Data: "3:\"overloaded\"\n"}}}
	c := &providertest.Fake{Steps: providertest.Text("done")}

	var summaries atomic.Int32
	h := newHarness(t, map[string]*providertest.Fake{"a": a, "b": b, "c": c}, Options{
		Engine: compaction.NewEngine(compaction.NewCalculator(byteTokenizer{})),
		Summarizer: func(context.Context, *provider.Handle) compaction.Summarizer {
			return compaction.SummarizerFunc(func(context.Context, compaction.SummaryRequest) (string, error) {
				summaries.Add(1)
				return "earlier turns discussed widgets", nil
			})
		},
	})

	var history []provider.Message
	for i := 0; i < 20; i++ {
		role := provider.RoleUser
		if i%2 == 1 {
			role = provider.RoleAssistant
		}
		history = append(history, provider.Message{Role: role, Content: strings.Repeat("w", 200)})
	}

	policy := compaction.DefaultContextPolicy()
	policy.MaxContextTokens = 2000

	resp, err := h.orch.Run(context.Background(), Request{
		Targets:       targets("a", "b", "c"),
		Messages:      history,
		ContextPolicy: policy,
	})
	require.NoError(t, err)
	defer resp.Stream.Close()

	assert.Equal(t, int32(1), summaries.Load())
	assert.True(t, resp.Stats.WasCompacted)
	assert.Greater(t, resp.Stats.TokensFreed, 0)

	sent := c.Requests()
	require.Len(t, sent, 1)
	msgs := sent[0].Messages
	require.Less(t, len(msgs), len(history))
	assert.Equal(t, provider.RoleSystem, msgs[0].Role)
	assert.True(t, strings.HasPrefix(msgs[0].Content, compaction.SummaryTag))

	// every attempt saw the same compacted history
	assert.Equal(t, msgs, a.Requests()[0].Messages)
	assert.Equal(t, msgs, b.Requests()[0].Messages)
}

func TestRun_CompactsToolResults(t *testing.T) {
	a := &providertest.Fake{Steps: providertest.Text("ok")}
	h := newHarness(t, map[string]*providertest.Fake{"a": a}, Options{
		Engine: compaction.NewEngine(compaction.NewCalculator(byteTokenizer{})),
	})

	huge := strings.Repeat("line of tool output\n", 2000)
	toolPolicy := compaction.DefaultToolPolicy()
	toolPolicy.Mode = compaction.ToolModeTruncate

	resp, err := h.orch.Run(context.Background(), Request{
		Targets: targets("a"),
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: "list the files"},
			{Role: provider.RoleTool, Name: "ls", ToolCallID: "call-1", Content: huge},
		},
		ContextPolicy: compaction.ContextManagementPolicy{Mode: compaction.ModeOff},
		ToolPolicy:    toolPolicy,
	})
	require.NoError(t, err)
	defer resp.Stream.Close()

	sent := a.Requests()[0].Messages
	require.Len(t, sent, 2)
	assert.Equal(t, "call-1", sent[1].ToolCallID)
	assert.Less(t, len(sent[1].Content), len(huge))
	assert.True(t, strings.HasPrefix(sent[1].Content, "[Truncated from "))
}

func TestRun_SystemPromptComposition(t *testing.T) {
	a := &providertest.Fake{Steps: providertest.Text("ok")}
	h := newHarness(t, map[string]*providertest.Fake{"a": a}, Options{})

	resp, err := h.orch.Run(context.Background(), Request{
		Targets:              targets("a"),
		Messages:             userTurn("hi"),
		SystemPromptOverride: "be brief",
		DefaultSystemPrompt:  "fallback",
	})
	require.NoError(t, err)
	defer resp.Stream.Close()

	assert.Equal(t, "be brief", resp.SystemPrompt)
	assert.Equal(t, "be brief", a.Requests()[0].System)
	assert.Equal(t, "m-a", a.Requests()[0].Model)
}

func TestRun_PersistsNonDefaultRoute(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		failA   bool
		current *routestate.State
		want    *routestate.State
	}{
		{name: "default succeeds", failA: false, want: nil},
		{name: "fallback persisted", failA: true, want: &routestate.State{ActiveProfileID: "b", ActiveModelID: "m-b"}},
		{
			name:    "already current",
			failA:   true,
			current: &routestate.State{ActiveProfileID: "b", ActiveModelID: "m-b"},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &providertest.Fake{Steps: providertest.Text("a")}
			if tt.failA {
				a = &providertest.Fake{StreamErr: errors.New("down")}
			}
			b := &providertest.Fake{Steps: providertest.Text("b")}
			h := newHarness(t, map[string]*providertest.Fake{"a": a, "b": b}, Options{})

			resp, err := h.orch.Run(ctx, Request{
				Targets:        targets("a", "b"),
				Messages:       userTurn("hi"),
				ConversationID: "conv-1",
				DefaultTarget:  provider.Target{ProfileID: "a"},
				CurrentRoute:   tt.current,
			})
			require.NoError(t, err)
			resp.Stream.Close()

			got, err := routestate.Lookup(ctx, h.routes, "conv-1")
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want.Target(), got.Target())
		})
	}
}

func TestRun_CloseCancelsUpstream(t *testing.T) {
	a := &providertest.Fake{Steps: providertest.Text("partial"), Hang: true}
	h := newHarness(t, map[string]*providertest.Fake{"a": a}, Options{})

	resp, err := h.orch.Run(context.Background(), Request{Targets: targets("a"), Messages: userTurn("hi")})
	require.NoError(t, err)

	buf := make([]byte, 8)
	_, err = resp.Stream.Read(buf)
	require.NoError(t, err)
	require.NoError(t, resp.Stream.Close())

	assert.Eventually(t, func() bool { return a.Closed() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRun_ParentCancelled(t *testing.T) {
	a := &providertest.Fake{Steps: providertest.Text("x")}
	h := newHarness(t, map[string]*providertest.Fake{"a": a}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.orch.Run(ctx, Request{Targets: targets("a"), Messages: userTurn("hi")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, a.Requests())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want FailureKind
	}{
		{provider.ErrProfileNotFound, KindResolution},
		{provider.ErrMissingCredential, KindResolution},
		{probe.TimeoutFailure("slow", ""), KindProbe},
		{errors.New("dial tcp: refused"), KindInvocation},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.err), tt.err.Error())
	}
}

// stallingResolver blocks on one profile until the resolve context ends,
// like a credential fetch that never answers.
type stallingResolver struct {
	inner Resolver
	stall string
}

func (r stallingResolver) Resolve(ctx context.Context, target provider.Target) (*provider.Handle, error) {
	if target.ProfileID == r.stall {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: token fetch: %v", provider.ErrMissingCredential, ctx.Err())
	}
	return r.inner.Resolve(ctx, target)
}

func TestRun_ResolutionTimeoutIsProbeFailure(t *testing.T) {
	a := &providertest.Fake{Steps: providertest.Text("unused")}
	b := &providertest.Fake{Steps: providertest.Text("ok")}
	h := newHarness(t, map[string]*providertest.Fake{"a": a, "b": b}, Options{AttemptTimeout: 50 * time.Millisecond})
	h.orch.resolver = stallingResolver{inner: h.orch.resolver, stall: "a"}

	resp, err := h.orch.Run(context.Background(), Request{
		Targets:  targets("a", "b"),
		Messages: userTurn("hello"),
	})
	require.NoError(t, err)
	defer resp.Stream.Close()

	assert.Equal(t, "b", resp.Target.ProfileID)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, KindProbe, resp.Failures[0].Kind)
	assert.Contains(t, resp.Failures[0].Error, "timed out during resolution")
	assert.Empty(t, a.Requests())
}

func TestRun_ResolutionErrorBeforeDeadlineStaysResolution(t *testing.T) {
	h := newHarness(t, map[string]*providertest.Fake{"b": {Steps: providertest.Text("ok")}}, Options{AttemptTimeout: time.Second})

	resp, err := h.orch.Run(context.Background(), Request{
		Targets:  []provider.Target{{ProfileID: "missing"}, {ProfileID: "b"}},
		Messages: userTurn("hello"),
	})
	require.NoError(t, err)
	defer resp.Stream.Close()

	require.Len(t, resp.Failures, 1)
	assert.Equal(t, KindResolution, resp.Failures[0].Kind)
}

// lateProvider opens its stream only after the attempt budget is spent and
// hands back a body whose Close blocks until release is closed.
type lateProvider struct {
	delay   time.Duration
	release chan struct{}
	closes  atomic.Int32
}

func (p *lateProvider) Name() string { return "late" }

func (p *lateProvider) Stream(context.Context, provider.ChatRequest) (io.ReadCloser, error) {
	time.Sleep(p.delay)
	return &stuckBody{Reader: strings.NewReader(""), p: p}, nil
}

func (p *lateProvider) Chat(context.Context, provider.ChatRequest) (*provider.ChatResponse, error) {
	return nil, errors.New("late: chat unsupported")
}

type stuckBody struct {
	io.Reader
	p *lateProvider
}

func (b *stuckBody) Close() error {
	b.p.closes.Add(1)
	<-b.p.release
	return nil
}

func TestRun_BlockingCloseDoesNotDelayFallback(t *testing.T) {
	late := &lateProvider{delay: 80 * time.Millisecond, release: make(chan struct{})}
	t.Cleanup(func() { close(late.release) })
	b := &providertest.Fake{Steps: providertest.Text("ok")}

	profs := providertest.Profiles{
		"a": {ID: "a", Provider: "kind-late", APIKey: "k-a", DefaultModel: "m-a"},
		"b": {ID: "b", Provider: "kind-b", APIKey: "k-b", DefaultModel: "m-b"},
	}
	reg := providertest.Registry(map[string]*providertest.Fake{"kind-b": b})
	reg.Register("kind-late", func(provider.Profile, string, string) (provider.Provider, error) {
		return late, nil
	})
	orch := New(Options{
		Resolver:       provider.NewResolver(profs, providertest.StaticCredentials{}, reg),
		Routes:         routestate.NewMemoryStore(),
		AttemptTimeout: 40 * time.Millisecond,
	})

	start := time.Now()
	resp, err := orch.Run(context.Background(), Request{
		Targets:  targets("a", "b"),
		Messages: userTurn("hello"),
	})
	require.NoError(t, err)
	defer resp.Stream.Close()

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, "b", resp.Target.ProfileID)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, KindProbe, resp.Failures[0].Kind)
	assert.Eventually(t, func() bool { return late.closes.Load() == 1 }, time.Second, 5*time.Millisecond)
}
