// Package provider defines the model-provider capability interface, the
// credential profiles it is configured from, and the resolver that turns a
// (profile, model) target into a live handle.
package provider

import (
	"context"
	"io"
)

// Provider is the single capability interface every backend adapter
// implements. Adapters never retry internally.
type Provider interface {
	// Name returns the adapter kind, e.g. "openai".
	Name() string

	// Stream starts a generation and returns the response as a frame byte
	// stream (see package stream). Closing the reader, or cancelling ctx,
	// aborts the upstream request.
	Stream(ctx context.Context, req ChatRequest) (io.ReadCloser, error)

	// Chat performs a blocking completion. It backs summarization calls.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Auth types for Profile.AuthType.
const (
	AuthAPIKey = "api_key"
	AuthOAuth  = "oauth"
)

// Profile is a named credential/configuration bundle for one provider.
type Profile struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name,omitempty"`
	Provider             string            `json:"provider"`
	Disabled             bool              `json:"disabled,omitempty"`
	AuthType             string            `json:"authType,omitempty"`
	APIKey               string            `json:"apiKey,omitempty"`
	APIKeyEnv            string            `json:"apiKeyEnv,omitempty"`
	BaseURL              string            `json:"baseUrl,omitempty"`
	DefaultModel         string            `json:"defaultModel,omitempty"`
	FastModel            string            `json:"fastModel,omitempty"`
	AllowedModels        []string          `json:"allowedModels,omitempty"`
	RequiredSystemPrompt string            `json:"requiredSystemPrompt,omitempty"`
	SystemPrompts        []string          `json:"systemPrompts,omitempty"`
	Headers              map[string]string `json:"headers,omitempty"`
	MaxOutputTokens      int               `json:"maxOutputTokens,omitempty"`
	OAuth                *OAuthConfig      `json:"oauth,omitempty"`
}

// OAuthConfig describes a refresh-token grant used when AuthType is oauth.
type OAuthConfig struct {
	TokenURL        string   `json:"tokenUrl"`
	ClientID        string   `json:"clientId,omitempty"`
	RefreshToken    string   `json:"refreshToken,omitempty"`
	RefreshTokenEnv string   `json:"refreshTokenEnv,omitempty"`
	Scopes          []string `json:"scopes,omitempty"`
}

// AllowsModel reports whether model is usable with the profile. An empty
// allow-list admits every model.
func (p Profile) AllowsModel(model string) bool {
	if len(p.AllowedModels) == 0 {
		return true
	}
	for _, m := range p.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// Handle is a resolved, ready-to-invoke target.
type Handle struct {
	Target   Target
	Profile  Profile
	Model    string
	Provider Provider
}

// SummaryModel returns the model used for cheap auxiliary calls.
func (h *Handle) SummaryModel() string {
	if h.Profile.FastModel != "" {
		return h.Profile.FastModel
	}
	return h.Model
}
