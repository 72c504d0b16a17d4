// Package probe inspects the first bytes of an upstream response stream and
// decides, before anything reaches the client, whether the attempt produced
// real output.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"chatroute/pkg/logger"
)

// Defaults used when Prober fields are zero.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultWindowChars = 4000
	DefaultMaxBuffer   = 4 << 20
)

var (
	// ErrProbeTimeout matches failures caused by the deadline.
	ErrProbeTimeout = errors.New("probe: timed out")
	// ErrUpstreamError matches failures caused by an error marker.
	ErrUpstreamError = errors.New("probe: upstream reported an error")
	// ErrNoContent matches streams that ended without content.
	ErrNoContent = errors.New("probe: stream ended without content")
)

// Failure explains why a stream was rejected.
type Failure struct {
	Reason    string
	Excerpt   string
	Timeout   bool
	BytesSeen int
	cause     error
}

func (f *Failure) Error() string {
	if f.Excerpt != "" && !strings.Contains(f.Reason, f.Excerpt) {
		return f.Reason + ": " + f.Excerpt
	}
	return f.Reason
}

func (f *Failure) Unwrap() error { return f.cause }

// TimeoutFailure reports an attempt budget that ran out outside the read
// loop, for example while the upstream request was still connecting.
func TimeoutFailure(reason, excerpt string) *Failure {
	return &Failure{Reason: reason, Excerpt: excerpt, Timeout: true, cause: ErrProbeTimeout}
}

// Prober runs the bounded read loop.
type Prober struct {
	Timeout     time.Duration
	WindowChars int
	MaxBuffer   int
	Classifier  Classifier
}

// New returns a Prober with the given timeout and default settings.
func New(timeout time.Duration) *Prober {
	return &Prober{Timeout: timeout}
}

func (p *Prober) settings() (time.Duration, int, int, Classifier) {
	timeout, window, maxBuf, cls := p.Timeout, p.WindowChars, p.MaxBuffer, p.Classifier
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if window <= 0 {
		window = DefaultWindowChars
	}
	if maxBuf <= 0 {
		maxBuf = DefaultMaxBuffer
	}
	if cls == nil {
		cls = NewMarkerClassifier()
	}
	return timeout, window, maxBuf, cls
}

type chunkResult struct {
	data []byte
	err  error
}

// Probe tees src and reads only the probe branch until a content or error
// marker appears, the deadline passes, or the stream ends. On success it
// returns the untouched client branch, which replays src from its first
// byte. On failure src is closed in the background and a *Failure is
// returned. The effective deadline is the earlier of ctx's and Timeout.
func (p *Prober) Probe(ctx context.Context, src io.ReadCloser) (io.ReadCloser, error) {
	timeout, windowChars, maxBuf, cls := p.settings()
	log := logger.Component("probe")

	branches := Tee(src, 2, maxBuf)
	probeBranch, client := branches[0], branches[1]

	done := make(chan struct{})
	results := make(chan chunkResult)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := probeBranch.Read(buf)
			if n > 0 {
				data := append([]byte(nil), buf[:n]...)
				select {
				case results <- chunkResult{data: data}:
				case <-done:
					return
				}
			}
			if err != nil {
				select {
				case results <- chunkResult{err: err}:
				case <-done:
				}
				return
			}
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	seen := 0
	window := ""

	fail := func(f *Failure) (io.ReadCloser, error) {
		close(done)
		f.BytesSeen = seen
		go func() {
			probeBranch.Close()
			client.Close()
		}()
		log.Debug().Str("reason", f.Reason).Int("bytes", seen).Msg("probe failed")
		return nil, f
	}

	for {
		select {
		case r := <-results:
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					return fail(&Failure{Reason: noContentReason("stream ended", seen), cause: ErrNoContent})
				}
				return fail(&Failure{Reason: "stream read failed", Excerpt: r.err.Error(), cause: errors.Join(ErrNoContent, r.err)})
			}
			seen += len(r.data)
			window = trailing(window+string(r.data), windowChars)

			v := cls.Classify(window)
			switch v.Kind {
			case Error:
				return fail(&Failure{Reason: "upstream error", Excerpt: v.Excerpt, cause: ErrUpstreamError})
			case Content:
				close(done)
				go probeBranch.Close()
				log.Debug().Int("bytes", seen).Msg("probe saw content")
				return client, nil
			}

		case <-timer.C:
			return fail(&Failure{
				Reason:  noContentReason(fmt.Sprintf("no content within %s", timeout), seen),
				Timeout: true,
				cause:   ErrProbeTimeout,
			})

		case <-ctx.Done():
			cause := context.Cause(ctx)
			timedOut := errors.Is(cause, context.DeadlineExceeded) || errors.Is(cause, ErrProbeTimeout)
			if timedOut && !errors.Is(cause, ErrProbeTimeout) {
				cause = errors.Join(ErrProbeTimeout, cause)
			}
			return fail(&Failure{
				Reason:  noContentReason("attempt cancelled", seen),
				Timeout: timedOut,
				cause:   cause,
			})
		}
	}
}

func noContentReason(prefix string, seen int) string {
	if seen == 0 {
		return prefix + " (no bytes received)"
	}
	return fmt.Sprintf("%s (%d bytes of lifecycle frames only)", prefix, seen)
}

// trailing keeps the last n runes of s.
func trailing(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[len(r)-n:])
}
