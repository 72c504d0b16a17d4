package orchestrator

import (
	"context"

	"chatroute/internal/compaction"
	"chatroute/internal/provider"
	"chatroute/pkg/logger"
)

// SummaryTargetFactory summarizes through a dedicated target when target
// returns one, and through the attempt's own handle otherwise or when the
// dedicated target cannot be resolved.
func SummaryTargetFactory(r Resolver, target func() *provider.Target) SummarizerFactory {
	return func(ctx context.Context, h *provider.Handle) compaction.Summarizer {
		t := target()
		if t == nil || t.ProfileID == "" {
			return compaction.NewProviderSummarizer(h)
		}
		if t.ProfileID == h.Target.ProfileID && t.ModelID == h.Target.ModelID {
			return compaction.NewProviderSummarizer(h)
		}
		dedicated, err := r.Resolve(ctx, *t)
		if err != nil {
			log := logger.Component("orchestrator")
			log.Warn().Err(err).
				Str("profile", t.ProfileID).
				Str("model", t.ModelID).
				Msg("summary target unavailable, using attempt target")
			return compaction.NewProviderSummarizer(h)
		}
		return &compaction.ProviderSummarizer{Provider: dedicated.Provider, Model: dedicated.Model}
	}
}
