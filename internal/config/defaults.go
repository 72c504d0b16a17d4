package config

import (
	"time"

	"github.com/spf13/viper"

	"chatroute/internal/compaction"
)

// SetDefaults 设置所有配置项的默认值
func SetDefaults() {
	viper.SetDefault("version", "1")

	// Gateway 配置
	viper.SetDefault("gateway.port", 8787)
	viper.SetDefault("gateway.host", "127.0.0.1")
	viper.SetDefault("gateway.read_timeout", 30*time.Second)
	viper.SetDefault("gateway.idle_timeout", 120*time.Second)
	viper.SetDefault("gateway.watch_config", true)
	viper.SetDefault("gateway.watch_debounce", 300*time.Millisecond)

	// Log 配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")

	// Store 配置
	viper.SetDefault("store.config_path", "~/.chatroute/profiles.json")
	viper.SetDefault("store.routes_driver", "sqlite")
	viper.SetDefault("store.routes_path", "~/.chatroute/routes.db")

	// Routing 配置
	viper.SetDefault("routing.attempt_timeout", 10*time.Second)
	viper.SetDefault("routing.compaction_timeout", 30*time.Second)
	viper.SetDefault("routing.probe_window_chars", 4000)
	viper.SetDefault("routing.max_buffer_bytes", 4<<20)
	viper.SetDefault("routing.default_system_prompt", DefaultSystemPrompt)

	// 上下文压缩
	ctx := compaction.DefaultContextPolicy()
	viper.SetDefault("context.mode", string(ctx.Mode))
	viper.SetDefault("context.max_context_tokens", ctx.MaxContextTokens)
	viper.SetDefault("context.compaction_threshold", ctx.CompactionThreshold)
	viper.SetDefault("context.target_context_ratio", ctx.TargetContextRatio)
	viper.SetDefault("context.keep_recent_messages", ctx.KeepRecentMessages)
	viper.SetDefault("context.min_recent_messages", ctx.MinRecentMessages)
	viper.SetDefault("context.running_summary_threshold", ctx.RunningSummaryThreshold)
	viper.SetDefault("context.summary_max_tokens", ctx.SummaryMaxTokens)
	viper.SetDefault("context.transcript_max_chars", ctx.TranscriptMaxChars)

	// 工具结果压缩
	tools := compaction.DefaultToolPolicy()
	viper.SetDefault("tools.mode", string(tools.Mode))
	viper.SetDefault("tools.threshold_tokens", tools.ThresholdTokens)
	viper.SetDefault("tools.summary_max_tokens", tools.SummaryMaxTokens)
	viper.SetDefault("tools.summary_input_max_chars", tools.SummaryInputMaxChars)
	viper.SetDefault("tools.truncate_max_chars", tools.TruncateMaxChars)
}

// DefaultSystemPrompt 在 profile 与请求都未提供系统提示词时使用
const DefaultSystemPrompt = "You are a helpful assistant. Answer accurately and concisely."
