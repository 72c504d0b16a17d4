package routing

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"chatroute/internal/provider"
	"chatroute/internal/routestate"
)

var (
	tA = provider.Target{ProfileID: "a", ModelID: "m1"}
	tB = provider.Target{ProfileID: "b", ModelID: "m2"}
	tC = provider.Target{ProfileID: "c", ModelID: "m3"}
)

func TestPlan(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		state    *routestate.State
		override *provider.Target
		manual   bool
		want     []provider.Target
	}{
		{
			name:     "override first",
			policy:   Policy{ModelPriority: []provider.Target{tA, tB}, MaxAttempts: 3},
			override: &tC,
			want:     []provider.Target{tC, tA, tB},
		},
		{
			name:   "priority only",
			policy: Policy{ModelPriority: []provider.Target{tA, tB}, MaxAttempts: 3},
			want:   []provider.Target{tA, tB},
		},
		{
			name:   "state beats priority",
			policy: Policy{ModelPriority: []provider.Target{tA, tB}, MaxAttempts: 3},
			state:  &routestate.State{ActiveProfileID: "b", ActiveModelID: "m2"},
			want:   []provider.Target{tB, tA},
		},
		{
			name:     "override beats state",
			policy:   Policy{ModelPriority: []provider.Target{tA}, MaxAttempts: 5},
			state:    &routestate.State{ActiveProfileID: "b", ActiveModelID: "m2"},
			override: &tC,
			want:     []provider.Target{tC, tA},
		},
		{
			name:     "capped",
			policy:   Policy{ModelPriority: []provider.Target{tA, tB}, MaxAttempts: 2},
			override: &tC,
			want:     []provider.Target{tC, tA},
		},
		{
			name:     "zero max attempts still tries one",
			policy:   Policy{ModelPriority: []provider.Target{tA, tB}},
			override: &tC,
			want:     []provider.Target{tC},
		},
		{
			name:     "manual",
			policy:   Policy{ModelPriority: []provider.Target{tA, tB}, MaxAttempts: 3},
			override: &tC,
			manual:   true,
			want:     []provider.Target{tC},
		},
		{
			name:   "empty",
			policy: Policy{MaxAttempts: 3},
			want:   []provider.Target{{}},
		},
		{
			name:   "duplicates in priority",
			policy: Policy{ModelPriority: []provider.Target{tA, tA, tB, tA}, MaxAttempts: 5},
			want:   []provider.Target{tA, tB},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Plan(tt.policy, tt.state, tt.override, tt.manual))
		})
	}
}

func TestPrimary_Layering(t *testing.T) {
	policy := Policy{ModelPriority: []provider.Target{tA}}

	// model-only override keeps the profile
	got := Primary(policy, nil, &provider.Target{ModelID: "m9"})
	assert.Equal(t, provider.Target{ProfileID: "a", ModelID: "m9"}, got)

	// profile-only override resets the model
	got = Primary(policy, nil, &provider.Target{ProfileID: "b"})
	assert.Equal(t, provider.Target{ProfileID: "b"}, got)

	// same profile without a model keeps the layered model
	got = Primary(policy, &routestate.State{ActiveProfileID: "a", ActiveModelID: "m5"}, &provider.Target{ProfileID: "a"})
	assert.Equal(t, provider.Target{ProfileID: "a", ModelID: "m5"}, got)
}

func TestPlan_NeverExceedsMaxOrDuplicates(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	pick := func() provider.Target {
		return provider.Target{ProfileID: fmt.Sprintf("p%d", rng.Intn(3)), ModelID: fmt.Sprintf("m%d", rng.Intn(3))}
	}
	for i := 0; i < 300; i++ {
		policy := Policy{MaxAttempts: rng.Intn(6)}
		for n := rng.Intn(8); n > 0; n-- {
			policy.ModelPriority = append(policy.ModelPriority, pick())
		}
		var override *provider.Target
		if rng.Intn(2) == 0 {
			o := pick()
			override = &o
		}

		plan := Plan(policy, nil, override, false)
		assert.LessOrEqual(t, len(plan), max(1, policy.MaxAttempts))
		seen := map[provider.Target]bool{}
		for _, tg := range plan {
			assert.False(t, seen[tg], "duplicate %v in %v", tg, plan)
			seen[tg] = true
		}
	}
}

func TestPolicy_Normalize(t *testing.T) {
	p := Policy{ModelPriority: []provider.Target{{ModelID: "orphan"}, tA}}.Normalize()
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts)
	assert.Equal(t, []provider.Target{tA}, p.ModelPriority)
}
