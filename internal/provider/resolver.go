package provider

import (
	"context"
	"fmt"
)

// ProfileSource looks up profiles by id.
type ProfileSource interface {
	GetProfileByID(id string) (Profile, bool)
}

// Credentials yields the bearer token for a profile, refreshing it when the
// auth type requires it.
type Credentials interface {
	Token(ctx context.Context, p Profile) (string, error)
}

// Resolver turns targets into invocable handles.
type Resolver struct {
	profiles ProfileSource
	creds    Credentials
	registry *Registry
	pool     *Pool
}

// NewResolver wires a resolver over the given profile source, credential
// manager and adapter registry.
func NewResolver(profiles ProfileSource, creds Credentials, registry *Registry) *Resolver {
	return &Resolver{
		profiles: profiles,
		creds:    creds,
		registry: registry,
		pool:     NewPool(registry.Build),
	}
}

// Resolve validates target against the profile set and returns a handle.
// An empty ModelID falls back to the profile's default model.
func (r *Resolver) Resolve(ctx context.Context, target Target) (*Handle, error) {
	profile, ok := r.profiles.GetProfileByID(target.ProfileID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, target.ProfileID)
	}
	if profile.Disabled {
		return nil, fmt.Errorf("%w: %q", ErrProfileDisabled, profile.ID)
	}

	model := target.ModelID
	if model == "" {
		model = profile.DefaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("%w: %q", ErrNoModel, profile.ID)
	}
	if !profile.AllowsModel(model) {
		return nil, fmt.Errorf("%w: %q on %q", ErrModelNotAllowed, model, profile.ID)
	}
	if _, ok := r.registry.Lookup(profile.Provider); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, profile.Provider)
	}

	token, err := r.creds.Token(ctx, profile)
	if err != nil {
		return nil, err
	}

	prov, err := r.pool.Get(profile, model, token)
	if err != nil {
		return nil, err
	}

	return &Handle{
		Target:   Target{ProfileID: profile.ID, ModelID: model},
		Profile:  profile,
		Model:    model,
		Provider: prov,
	}, nil
}

// Invalidate drops every cached provider.
func (r *Resolver) Invalidate() {
	r.pool.Clear()
}
