// Package providertest offers scripted Provider fakes for tests.
package providertest

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"chatroute/internal/provider"
)

// Step is one scripted chunk of a fake stream.
type Step struct {
	Delay time.Duration
	Data  string
}

// Fake is a Provider whose behaviour is fully scripted.
type Fake struct {
	Kind      string
	StreamErr error
	Steps     []Step
	// Hang keeps the stream open after the last step until closed.
	Hang bool

	ChatReply string
	ChatErr   error

	mu       sync.Mutex
	requests []provider.ChatRequest
	closed   int
}

func (f *Fake) Name() string {
	if f.Kind == "" {
		return "fake"
	}
	return f.Kind
}

// Stream replays Steps into a pipe.
func (f *Fake) Stream(ctx context.Context, req provider.ChatRequest) (io.ReadCloser, error) {
	f.record(req)
	if f.StreamErr != nil {
		return nil, f.StreamErr
	}

	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	go func() {
		defer cancel()
		for _, s := range f.Steps {
			if s.Delay > 0 {
				select {
				case <-time.After(s.Delay):
				case <-ctx.Done():
					pw.CloseWithError(ctx.Err())
					return
				}
			}
			if _, err := io.WriteString(pw, s.Data); err != nil {
				return
			}
		}
		if f.Hang {
			<-ctx.Done()
			pw.CloseWithError(ctx.Err())
			return
		}
		pw.Close()
	}()
	return &closer{ReadCloser: pr, cancel: cancel, onClose: f.markClosed}, nil
}

// Chat returns ChatReply or ChatErr.
func (f *Fake) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	f.record(req)
	if f.ChatErr != nil {
		return nil, f.ChatErr
	}
	return &provider.ChatResponse{Content: f.ChatReply, FinishReason: provider.FinishReasonStop}, nil
}

// Requests returns a copy of every request seen so far.
func (f *Fake) Requests() []provider.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.ChatRequest(nil), f.requests...)
}

// Closed returns how many returned streams were closed by the caller.
func (f *Fake) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) record(req provider.ChatRequest) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
}

func (f *Fake) markClosed() {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

type closer struct {
	io.ReadCloser
	cancel  context.CancelFunc
	once    sync.Once
	onClose func()
}

func (c *closer) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.onClose()
	})
	return c.ReadCloser.Close()
}

// Text builds steps that emit a start-step frame and then text frames.
func Text(chunks ...string) []Step {
	steps := []Step{{Data: `f:{"messageId":"m1"}` + "\n"}}
	for _, c := range chunks {
		steps = append(steps, Step{Data: `0:"` + c + `"` + "\n"})
	}
	return steps
}

// Profiles is a map-backed provider.ProfileSource.
type Profiles map[string]provider.Profile

func (p Profiles) GetProfileByID(id string) (provider.Profile, bool) {
	prof, ok := p[id]
	return prof, ok
}

// StaticCredentials returns the profile's APIKey or ErrMissingCredential.
type StaticCredentials struct{}

func (StaticCredentials) Token(_ context.Context, p provider.Profile) (string, error) {
	if strings.TrimSpace(p.APIKey) == "" {
		return "", errors.Join(provider.ErrMissingCredential, errors.New(p.ID))
	}
	return p.APIKey, nil
}

// Registry returns a registry where every kind in fakes builds the mapped
// fake regardless of model.
func Registry(fakes map[string]*Fake) *provider.Registry {
	r := provider.NewRegistry()
	for kind, f := range fakes {
		f := f
		r.Register(kind, func(provider.Profile, string, string) (provider.Provider, error) {
			return f, nil
		})
	}
	return r
}
