// Package routing builds the ordered attempt list for a chat turn and
// handles the in-chat routing commands.
package routing

import (
	"chatroute/internal/provider"
	"chatroute/internal/routestate"
)

// DefaultMaxAttempts is used when a policy leaves MaxAttempts unset.
const DefaultMaxAttempts = 3

// Policy is the global fallback order.
type Policy struct {
	ModelPriority []provider.Target `json:"modelPriority"`
	MaxAttempts   int               `json:"maxAttempts"`
}

// Normalize fills MaxAttempts and drops priority entries without a profile.
func (p Policy) Normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	out := make([]provider.Target, 0, len(p.ModelPriority))
	for _, t := range p.ModelPriority {
		if t.ProfileID != "" {
			out = append(out, t)
		}
	}
	p.ModelPriority = out
	return p
}

// Primary returns the first candidate: override, else conversation state,
// else the head of the priority list. A layer that names only a profile
// resets the model to that profile's default; a layer that names only a
// model keeps the profile chosen so far.
func Primary(policy Policy, state *routestate.State, override *provider.Target) provider.Target {
	var t provider.Target
	if len(policy.ModelPriority) > 0 {
		t = policy.ModelPriority[0]
	}
	if state != nil {
		t = layer(t, state.Target())
	}
	if override != nil {
		t = layer(t, *override)
	}
	return t
}

func layer(base, over provider.Target) provider.Target {
	switch {
	case over.ProfileID != "" && over.ProfileID != base.ProfileID:
		return provider.Target{ProfileID: over.ProfileID, ModelID: over.ModelID}
	case over.ModelID != "":
		return provider.Target{ProfileID: base.ProfileID, ModelID: over.ModelID}
	default:
		return base
	}
}

// Plan returns the ordered, de-duplicated attempt list, never longer than
// max(1, MaxAttempts). In manual mode only the primary is returned. An empty
// policy with no override yields one target with an empty profile id, which
// fails at resolution.
func Plan(policy Policy, state *routestate.State, override *provider.Target, manual bool) []provider.Target {
	primary := Primary(policy, state, override)
	if manual {
		return []provider.Target{primary}
	}

	limit := max(1, policy.MaxAttempts)
	targets := make([]provider.Target, 0, limit)
	targets = append(targets, primary)
	seen := map[provider.Target]bool{primary: true}

	for _, t := range policy.ModelPriority {
		if len(targets) >= limit {
			break
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		targets = append(targets, t)
	}
	return targets
}
