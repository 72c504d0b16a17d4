// Package tokenizer counts tokens for a model family using tiktoken encodings.
package tokenizer

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"chatroute/pkg/logger"
)

// Encoding names understood by tiktoken.
const (
	EncodingO200K  = "o200k_base"
	EncodingCL100K = "cl100k_base"
)

// Tokenizer counts tokens in text for a given model.
type Tokenizer interface {
	Count(model, text string) int
}

// Family maps a model id to the encoding used to count its tokens. Models
// from vendors without a public BPE table are counted with cl100k_base.
func Family(model string) string {
	m := strings.ToLower(model)
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	switch {
	case strings.HasPrefix(m, "gpt-4o"),
		strings.HasPrefix(m, "gpt-4.1"),
		strings.HasPrefix(m, "gpt-5"),
		strings.HasPrefix(m, "chatgpt-4o"),
		strings.HasPrefix(m, "o1"),
		strings.HasPrefix(m, "o3"),
		strings.HasPrefix(m, "o4"):
		return EncodingO200K
	default:
		return EncodingCL100K
	}
}

// Tiktoken is a Tokenizer backed by a lazily populated encoder table, one
// encoder per family. Families whose encoder cannot be loaded fall back to
// Heuristic permanently.
type Tiktoken struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
	failed   map[string]bool
	fallback Heuristic
}

// New returns an empty Tiktoken tokenizer.
func New() *Tiktoken {
	return &Tiktoken{
		encoders: make(map[string]*tiktoken.Tiktoken),
		failed:   make(map[string]bool),
	}
}

var (
	defaultOnce sync.Once
	defaultTok  *Tiktoken
)

// Default returns the process-wide tokenizer.
func Default() *Tiktoken {
	defaultOnce.Do(func() { defaultTok = New() })
	return defaultTok
}

// Count implements Tokenizer.
func (t *Tiktoken) Count(model, text string) int {
	return t.countWith(Family(model), text)
}

func (t *Tiktoken) countWith(encoding, text string) int {
	if text == "" {
		return 0
	}
	enc := t.encoder(encoding)
	if enc == nil {
		return t.fallback.Count("", text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (t *Tiktoken) encoder(encoding string) *tiktoken.Tiktoken {
	t.mu.Lock()
	defer t.mu.Unlock()

	if enc, ok := t.encoders[encoding]; ok {
		return enc
	}
	if t.failed[encoding] {
		return nil
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		log := logger.Component("tokenizer")
		log.Warn().Err(err).Str("encoding", encoding).Msg("encoder unavailable, using character heuristic")
		t.failed[encoding] = true
		return nil
	}
	t.encoders[encoding] = enc
	return enc
}

// Heuristic estimates roughly four characters per token.
type Heuristic struct{}

// Count implements Tokenizer.
func (Heuristic) Count(_ string, text string) int {
	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return 0
	}
	return (runes + 3) / 4
}
