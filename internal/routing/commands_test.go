package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatroute/internal/provider"
	"chatroute/internal/provider/providertest"
	"chatroute/internal/routestate"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in    string
		want  Command
		isCmd bool
	}{
		{"/profile work", Command{Kind: CmdProfile, ProfileID: "work"}, true},
		{"  /model gpt-4o  ", Command{Kind: CmdModel, ModelID: "gpt-4o"}, true},
		{"/route primary a m1", Command{Kind: CmdRoutePrimary, ProfileID: "a", ModelID: "m1"}, true},
		{"/route show", Command{Kind: CmdRouteShow}, true},
		{"/ROUTE Reset", Command{Kind: CmdRouteReset}, true},
		{"/profile", Command{Kind: CmdUsage, Usage: usageProfile}, true},
		{"/model a b", Command{Kind: CmdUsage, Usage: usageModel}, true},
		{"/route primary a", Command{Kind: CmdUsage, Usage: usageRoute}, true},
		{"/route sideways", Command{Kind: CmdUsage, Usage: usageRoute}, true},
		{"/help", Command{}, false},
		{"/", Command{}, false},
		{"what does /profile do?", Command{}, false},
		{"hello", Command{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseCommand(tt.in)
			assert.Equal(t, tt.isCmd, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

type policyRecorder struct {
	primary []provider.Target
}

func (p *policyRecorder) SetPrimaryRoute(_ context.Context, t provider.Target) error {
	p.primary = append(p.primary, t)
	return nil
}

func newDispatcher() (*Dispatcher, *routestate.MemoryStore, *policyRecorder) {
	routes := routestate.NewMemoryStore()
	rec := &policyRecorder{}
	return &Dispatcher{
		Routes: routes,
		Policy: rec,
		Profiles: providertest.Profiles{
			"a":   {ID: "a", DefaultModel: "m1", AllowedModels: []string{"m1", "m1-mini"}},
			"b":   {ID: "b", DefaultModel: "m2"},
			"off": {ID: "off", Disabled: true},
		},
	}, routes, rec
}

func TestDispatch_ProfileAndModel(t *testing.T) {
	d, routes, _ := newDispatcher()
	ctx := context.Background()
	policy := Policy{ModelPriority: []provider.Target{tA}, MaxAttempts: 3}

	ack, err := d.Dispatch(ctx, "c1", Command{Kind: CmdProfile, ProfileID: "b"}, policy)
	require.NoError(t, err)
	assert.Contains(t, ack, "profile b")
	st, err := routes.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "b", st.ActiveProfileID)
	assert.Empty(t, st.ActiveModelID)

	ack, err = d.Dispatch(ctx, "c1", Command{Kind: CmdModel, ModelID: "m2-large"}, policy)
	require.NoError(t, err)
	assert.Contains(t, ack, "m2-large")
	st, _ = routes.Get(ctx, "c1")
	assert.Equal(t, routestate.State{ActiveProfileID: "b", ActiveModelID: "m2-large", UpdatedAt: st.UpdatedAt}, st)

	// model on a fresh conversation uses the priority head's profile
	_, err = d.Dispatch(ctx, "c2", Command{Kind: CmdModel, ModelID: "m1-mini"}, policy)
	require.NoError(t, err)
	st, _ = routes.Get(ctx, "c2")
	assert.Equal(t, "a", st.ActiveProfileID)

	ack, err = d.Dispatch(ctx, "c2", Command{Kind: CmdModel, ModelID: "o3"}, policy)
	require.NoError(t, err)
	assert.Contains(t, ack, "not allowed")
	st, _ = routes.Get(ctx, "c2")
	assert.Equal(t, "m1-mini", st.ActiveModelID)
}

func TestDispatch_Rejections(t *testing.T) {
	d, routes, rec := newDispatcher()
	ctx := context.Background()

	ack, err := d.Dispatch(ctx, "c1", Command{Kind: CmdProfile, ProfileID: "ghost"}, Policy{})
	require.NoError(t, err)
	assert.Contains(t, ack, "does not exist")

	ack, err = d.Dispatch(ctx, "c1", Command{Kind: CmdProfile, ProfileID: "off"}, Policy{})
	require.NoError(t, err)
	assert.Contains(t, ack, "disabled")

	ack, err = d.Dispatch(ctx, "c1", Command{Kind: CmdModel, ModelID: "x"}, Policy{})
	require.NoError(t, err)
	assert.Contains(t, ack, "No profile")

	ack, err = d.Dispatch(ctx, "c1", Command{Kind: CmdRoutePrimary, ProfileID: "a", ModelID: "o3"}, Policy{})
	require.NoError(t, err)
	assert.Contains(t, ack, "not allowed")
	assert.Empty(t, rec.primary)

	_, err = d.Dispatch(ctx, "", Command{Kind: CmdProfile, ProfileID: "a"}, Policy{})
	assert.ErrorIs(t, err, ErrNoConversation)

	ack, err = d.Dispatch(ctx, "c1", Command{Kind: CmdUsage, Usage: usageModel}, Policy{})
	require.NoError(t, err)
	assert.Equal(t, usageModel, ack)

	assert.Zero(t, routes.Len())
}

func TestDispatch_Route(t *testing.T) {
	d, routes, rec := newDispatcher()
	ctx := context.Background()
	policy := Policy{ModelPriority: []provider.Target{tA, tB}, MaxAttempts: 3}

	ack, err := d.Dispatch(ctx, "c1", Command{Kind: CmdRoutePrimary, ProfileID: "b", ModelID: "m2"}, policy)
	require.NoError(t, err)
	assert.Equal(t, "Primary route set to b/m2.", ack)
	assert.Equal(t, []provider.Target{tB}, rec.primary)

	require.NoError(t, routes.Upsert(ctx, "c1", routestate.State{ActiveProfileID: "b", ActiveModelID: "m2"}))
	ack, err = d.Dispatch(ctx, "c1", Command{Kind: CmdRouteShow}, policy)
	require.NoError(t, err)
	assert.Equal(t, "Route plan:\n1. b/m2\n2. a/m1\nConversation override: b/m2", ack)

	_, err = d.Dispatch(ctx, "c1", Command{Kind: CmdRouteReset}, policy)
	require.NoError(t, err)
	_, err = routes.Get(ctx, "c1")
	assert.ErrorIs(t, err, routestate.ErrNotFound)

	// resetting twice is fine
	_, err = d.Dispatch(ctx, "c1", Command{Kind: CmdRouteReset}, policy)
	require.NoError(t, err)
}
