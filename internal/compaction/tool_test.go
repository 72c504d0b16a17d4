package compaction

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCompactor_MaybeCompact(t *testing.T) {
	tc := NewToolCompactor(NewCalculator(byteTokenizer{}))
	big := strings.Repeat("abcdefghij", 500) // 5000 tokens
	ctx := context.Background()

	t.Run("off", func(t *testing.T) {
		res := tc.MaybeCompact(ctx, nil, "m", "read", big, "", ToolCompactionPolicy{Mode: ToolModeOff})
		assert.Equal(t, big, res.Text)
		assert.False(t, res.WasSummarized)
	})

	t.Run("below threshold", func(t *testing.T) {
		res := tc.MaybeCompact(ctx, nil, "m", "read", "small", "", ToolCompactionPolicy{Mode: ToolModeTruncate, ThresholdTokens: 10})
		assert.Equal(t, "small", res.Text)
	})

	t.Run("at threshold", func(t *testing.T) {
		res := tc.MaybeCompact(ctx, nil, "m", "read", "0123456789", "", ToolCompactionPolicy{Mode: ToolModeTruncate, ThresholdTokens: 10})
		assert.Equal(t, "0123456789", res.Text)
	})

	t.Run("truncate", func(t *testing.T) {
		res := tc.MaybeCompact(ctx, nil, "m", "read", big, "", ToolCompactionPolicy{Mode: ToolModeTruncate, ThresholdTokens: 100, TruncateMaxChars: 500})
		require.True(t, strings.HasPrefix(res.Text, "[Truncated from 5000 tokens]\n"))
		body := strings.TrimPrefix(res.Text, "[Truncated from 5000 tokens]\n")
		assert.LessOrEqual(t, utf8.RuneCountInString(body), 500)
		assert.True(t, res.WasTruncated)
		assert.False(t, res.WasSummarized)
		assert.Greater(t, res.TokensFreed, 4000)
	})

	t.Run("summary", func(t *testing.T) {
		s := &fakeSummarizer{reply: "10 rows, all ok"}
		res := tc.MaybeCompact(ctx, s, "m", "sql", big, "how many rows?", ToolCompactionPolicy{Mode: ToolModeSummary, ThresholdTokens: 100, SummaryInputMaxChars: 300, SummaryMaxTokens: 64})
		assert.True(t, res.WasSummarized)
		assert.Equal(t, "[Summarized — original was ~5000 tokens]\n10 rows, all ok", res.Text)
		require.Len(t, s.calls, 1)
		assert.Equal(t, 64, s.calls[0].MaxTokens)
		assert.Contains(t, s.calls[0].Input, "Tool: sql")
		assert.Contains(t, s.calls[0].Input, "User request: how many rows?")
		assert.Less(t, len(s.calls[0].Input), 400)
	})

	t.Run("summary failure falls back to truncate", func(t *testing.T) {
		s := &fakeSummarizer{err: errors.New("timeout")}
		res := tc.MaybeCompact(ctx, s, "m", "sql", big, "", ToolCompactionPolicy{Mode: ToolModeSummary, ThresholdTokens: 100, TruncateMaxChars: 200})
		assert.False(t, res.WasSummarized)
		assert.True(t, strings.HasPrefix(res.Text, "[Truncated from 5000 tokens]"))
	})
}

func TestTruncateText(t *testing.T) {
	t.Run("fits", func(t *testing.T) {
		assert.Equal(t, "short", TruncateText("short", 100))
	})

	t.Run("strips base64 first", func(t *testing.T) {
		in := "before data:image/png;base64," + strings.Repeat("QUJD", 100) + " after"
		out := TruncateText(in, 100)
		assert.Contains(t, out, "[base64 data removed")
		assert.Contains(t, out, "after")
	})

	t.Run("strips hex", func(t *testing.T) {
		in := "h " + strings.Repeat("deadbeef", 64) + " t"
		out := TruncateText(in, 100)
		assert.Contains(t, out, "[hex data removed")
	})

	t.Run("head and tail", func(t *testing.T) {
		in := "HEAD" + strings.Repeat("-", 1000) + "TAIL"
		out := TruncateText(in, 120)
		assert.LessOrEqual(t, utf8.RuneCountInString(out), 120)
		assert.True(t, strings.HasPrefix(out, "HEAD"))
		assert.True(t, strings.HasSuffix(out, "TAIL"))
		assert.Contains(t, out, "chars truncated")
	})

	t.Run("multibyte", func(t *testing.T) {
		in := strings.Repeat("日本語", 200)
		out := TruncateText(in, 90)
		assert.True(t, utf8.ValidString(out))
		assert.LessOrEqual(t, utf8.RuneCountInString(out), 90)
	})

	t.Run("tiny limit", func(t *testing.T) {
		out := TruncateText(strings.Repeat("z", 50), 5)
		assert.Equal(t, "zzzzz", out)
	})
}
