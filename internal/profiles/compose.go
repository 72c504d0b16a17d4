package profiles

import (
	"strings"

	"chatroute/internal/provider"
)

// ComposeSystemPrompt builds the effective system prompt: the profile's
// required prompt, then its ordered prompts without repeats, then the
// caller's override, separated by blank lines. An empty result falls back
// to fallback.
func ComposeSystemPrompt(p provider.Profile, override, fallback string) string {
	var parts []string
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		parts = append(parts, s)
	}

	add(p.RequiredSystemPrompt)
	for _, sp := range p.SystemPrompts {
		add(sp)
	}
	add(override)

	if len(parts) == 0 {
		return strings.TrimSpace(fallback)
	}
	return strings.Join(parts, "\n\n")
}
