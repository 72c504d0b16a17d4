package compaction

import "strings"

// Mode selects the context management strategy.
type Mode string

const (
	ModeOff            Mode = "off"
	ModeTruncate       Mode = "truncate"
	ModeSummary        Mode = "summary"
	ModeRunningSummary Mode = "running-summary"
)

// ToolMode selects the tool-result strategy.
type ToolMode string

const (
	ToolModeOff      ToolMode = "off"
	ToolModeSummary  ToolMode = "summary"
	ToolModeTruncate ToolMode = "truncate"
)

// ContextManagementPolicy controls how a conversation history is kept inside
// the model's token budget.
type ContextManagementPolicy struct {
	Mode Mode `json:"mode" mapstructure:"mode" yaml:"mode"`

	// MaxContextTokens is the budget used as the denominator for percentage.
	MaxContextTokens int `json:"maxContextTokens" mapstructure:"max_context_tokens" yaml:"max_context_tokens"`

	// CompactionThreshold triggers summary mode. Must be < 1.
	CompactionThreshold float64 `json:"compactionThreshold" mapstructure:"compaction_threshold" yaml:"compaction_threshold"`

	// TargetContextRatio is kept below RunningSummaryThreshold by Normalize.
	// It does not change how many recent messages a pass keeps.
	TargetContextRatio float64 `json:"targetContextRatio" mapstructure:"target_context_ratio" yaml:"target_context_ratio"`

	KeepRecentMessages int `json:"keepRecentMessages" mapstructure:"keep_recent_messages" yaml:"keep_recent_messages"`
	MinRecentMessages  int `json:"minRecentMessages" mapstructure:"min_recent_messages" yaml:"min_recent_messages"`

	// RunningSummaryThreshold triggers running-summary mode.
	RunningSummaryThreshold float64 `json:"runningSummaryThreshold" mapstructure:"running_summary_threshold" yaml:"running_summary_threshold"`

	SummaryMaxTokens   int `json:"summaryMaxTokens" mapstructure:"summary_max_tokens" yaml:"summary_max_tokens"`
	TranscriptMaxChars int `json:"transcriptMaxChars" mapstructure:"transcript_max_chars" yaml:"transcript_max_chars"`
}

// DefaultContextPolicy returns the policy used when none is configured.
func DefaultContextPolicy() ContextManagementPolicy {
	return ContextManagementPolicy{
		Mode:                    ModeSummary,
		MaxContextTokens:        128000,
		CompactionThreshold:     0.8,
		TargetContextRatio:      0.5,
		KeepRecentMessages:      10,
		MinRecentMessages:       4,
		RunningSummaryThreshold: 0.65,
		SummaryMaxTokens:        1024,
		TranscriptMaxChars:      60000,
	}
}

// Normalize clamps every field into range so that
// TargetContextRatio < RunningSummaryThreshold <= CompactionThreshold < 1
// and 0 <= MinRecentMessages <= KeepRecentMessages. Invalid input is never
// rejected.
func (p ContextManagementPolicy) Normalize() ContextManagementPolicy {
	def := DefaultContextPolicy()

	switch Mode(strings.ToLower(strings.TrimSpace(string(p.Mode)))) {
	case ModeOff, "":
		p.Mode = ModeOff
	case ModeTruncate:
		p.Mode = ModeTruncate
	case ModeSummary:
		p.Mode = ModeSummary
	case ModeRunningSummary, "running_summary", "runningsummary":
		p.Mode = ModeRunningSummary
	default:
		p.Mode = ModeOff
	}

	if p.MaxContextTokens <= 0 {
		p.MaxContextTokens = def.MaxContextTokens
	}

	c := p.CompactionThreshold
	switch {
	case c <= 0:
		c = def.CompactionThreshold
	case c >= 1:
		c = 0.99
	}
	p.CompactionThreshold = c

	r := p.RunningSummaryThreshold
	switch {
	case r <= 0:
		r = min(def.RunningSummaryThreshold, c)
	case r > c:
		r = c
	}
	p.RunningSummaryThreshold = r

	t := p.TargetContextRatio
	if t <= 0 {
		t = def.TargetContextRatio
	}
	if t >= r {
		t = r * 0.75
	}
	p.TargetContextRatio = t

	if p.KeepRecentMessages <= 0 {
		p.KeepRecentMessages = def.KeepRecentMessages
	}
	if p.MinRecentMessages < 0 {
		p.MinRecentMessages = 0
	}
	if p.MinRecentMessages > p.KeepRecentMessages {
		p.MinRecentMessages = p.KeepRecentMessages
	}
	if p.SummaryMaxTokens <= 0 {
		p.SummaryMaxTokens = def.SummaryMaxTokens
	}
	if p.TranscriptMaxChars <= 0 {
		p.TranscriptMaxChars = def.TranscriptMaxChars
	}
	return p
}

// Threshold returns the ratio at which the policy's mode compacts.
func (p ContextManagementPolicy) Threshold() float64 {
	if p.Mode == ModeRunningSummary {
		return p.RunningSummaryThreshold
	}
	return p.CompactionThreshold
}

// ToolCompactionPolicy controls compaction of a single tool output.
type ToolCompactionPolicy struct {
	Mode                 ToolMode `json:"mode" mapstructure:"mode" yaml:"mode"`
	ThresholdTokens      int      `json:"thresholdTokens" mapstructure:"threshold_tokens" yaml:"threshold_tokens"`
	SummaryMaxTokens     int      `json:"summaryMaxTokens" mapstructure:"summary_max_tokens" yaml:"summary_max_tokens"`
	SummaryInputMaxChars int      `json:"summaryInputMaxChars" mapstructure:"summary_input_max_chars" yaml:"summary_input_max_chars"`
	TruncateMaxChars     int      `json:"truncateMaxChars" mapstructure:"truncate_max_chars" yaml:"truncate_max_chars"`
}

// DefaultToolPolicy returns the tool policy used when none is configured.
func DefaultToolPolicy() ToolCompactionPolicy {
	return ToolCompactionPolicy{
		Mode:                 ToolModeTruncate,
		ThresholdTokens:      4000,
		SummaryMaxTokens:     512,
		SummaryInputMaxChars: 40000,
		TruncateMaxChars:     16000,
	}
}

// Normalize fills unset limits from the defaults. Unknown modes become off.
func (p ToolCompactionPolicy) Normalize() ToolCompactionPolicy {
	def := DefaultToolPolicy()
	switch ToolMode(strings.ToLower(strings.TrimSpace(string(p.Mode)))) {
	case ToolModeSummary:
		p.Mode = ToolModeSummary
	case ToolModeTruncate:
		p.Mode = ToolModeTruncate
	default:
		p.Mode = ToolModeOff
	}
	if p.ThresholdTokens <= 0 {
		p.ThresholdTokens = def.ThresholdTokens
	}
	if p.SummaryMaxTokens <= 0 {
		p.SummaryMaxTokens = def.SummaryMaxTokens
	}
	if p.SummaryInputMaxChars <= 0 {
		p.SummaryInputMaxChars = def.SummaryInputMaxChars
	}
	if p.TruncateMaxChars <= 0 {
		p.TruncateMaxChars = def.TruncateMaxChars
	}
	return p
}
