// Package compaction keeps conversation histories and tool outputs inside a
// token budget by truncation or model-generated summaries.
package compaction

import "errors"

// Compaction errors. None of them escape MaybeCompact; they are logged and
// surfaced only through Summarizer implementations and tests.
var (
	// ErrSummaryFailed indicates that summary generation failed.
	ErrSummaryFailed = errors.New("compaction: summary generation failed")

	// ErrNoSummarizer indicates that no summarizer is available.
	ErrNoSummarizer = errors.New("compaction: summarizer not configured")
)
