package probe

import (
	"regexp"
	"strings"

	"chatroute/internal/stream"
)

// Kind is the verdict on the bytes seen so far.
type Kind int

const (
	Inconclusive Kind = iota
	Content
	Error
)

func (k Kind) String() string {
	switch k {
	case Content:
		return "content"
	case Error:
		return "error"
	default:
		return "inconclusive"
	}
}

// Verdict is a classification with the line that decided it.
type Verdict struct {
	Kind    Kind
	Excerpt string
}

// Classifier decides whether a window of stream text shows content, an
// error, or neither yet.
type Classifier interface {
	Classify(window string) Verdict
}

// DefaultErrorSubstrings are matched case-insensitively on non-content lines.
var DefaultErrorSubstrings = []string{
	"unauthorized",
	"invalid api key",
	"invalid_api_key",
	"incorrect api key",
	"invalid x-api-key",
	"authentication_error",
	"permission_error",
	"invalid model",
	"model_not_found",
	"bad request",
	"invalid_request_error",
	"insufficient_quota",
}

var (
	sseContentType = regexp.MustCompile(`"type"\s*:\s*"(text-delta|reasoning-delta|tool-input-start|tool-input-delta|tool-call|tool-result|text_delta|thinking_delta|input_json_delta)"`)
	openAIDelta    = regexp.MustCompile(`"delta"\s*:\s*\{[^}]*"(content|reasoning_content|tool_calls)"\s*:\s*("[^"]|\[)`)
	sseErrorType   = regexp.MustCompile(`"type"\s*:\s*"error"|"error"\s*:\s*[{"]|^event:\s*error`)
)

// MarkerClassifier scans the window line by line; the first decisive line
// wins. Frame prefixes are checked before substrings so text a model writes
// about "unauthorized" access is still content.
type MarkerClassifier struct {
	ErrorSubstrings []string
}

// NewMarkerClassifier returns a classifier with the default markers.
func NewMarkerClassifier() *MarkerClassifier {
	return &MarkerClassifier{ErrorSubstrings: DefaultErrorSubstrings}
}

// Classify implements Classifier.
func (c *MarkerClassifier) Classify(window string) Verdict {
	for _, line := range strings.Split(window, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if k := c.classifyLine(line); k != Inconclusive {
			return Verdict{Kind: k, Excerpt: excerpt(line)}
		}
	}
	return Verdict{Kind: Inconclusive}
}

func (c *MarkerClassifier) classifyLine(line string) Kind {
	if len(line) >= 2 && line[1] == ':' {
		code := stream.Code(line[0])
		if code.IsError() {
			return Error
		}
		if code.IsContent() {
			return Content
		}
	}

	lower := strings.ToLower(line)
	if sseErrorType.MatchString(lower) {
		return Error
	}
	for _, s := range c.ErrorSubstrings {
		if strings.Contains(lower, s) {
			return Error
		}
	}
	if sseContentType.MatchString(line) || openAIDelta.MatchString(line) {
		return Content
	}
	return Inconclusive
}

const maxExcerpt = 300

func excerpt(s string) string {
	r := []rune(s)
	if len(r) <= maxExcerpt {
		return s
	}
	return string(r[:maxExcerpt]) + "…"
}
