package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"chatroute/internal/probe"
	"chatroute/internal/provider"
)

// FailureKind classifies a failed attempt.
type FailureKind string

const (
	KindResolution FailureKind = "resolution"
	KindInvocation FailureKind = "invocation"
	KindProbe      FailureKind = "probe"
)

// AttemptRecord describes one failed attempt.
type AttemptRecord struct {
	ProfileID string      `json:"profileId"`
	ModelID   string      `json:"modelId"`
	Kind      FailureKind `json:"kind"`
	Error     string      `json:"error"`
}

// Target returns the attempted target.
func (r AttemptRecord) Target() provider.Target {
	return provider.Target{ProfileID: r.ProfileID, ModelID: r.ModelID}
}

// ErrNoTargets is returned when Run is called with an empty plan.
var ErrNoTargets = errors.New("orchestrator: no route targets")

// TotalFailureError is returned when every target failed.
type TotalFailureError struct {
	Attempts []AttemptRecord
}

func (e *TotalFailureError) Error() string {
	if len(e.Attempts) == 0 {
		return "all route attempts failed"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %s", a.Target(), a.Error)
	}
	return fmt.Sprintf("all %d route attempts failed: %s", len(e.Attempts), strings.Join(parts, "; "))
}

// classify maps an attempt error to its kind. Resolution errors are known
// sentinels; probe failures carry *probe.Failure; everything else happened
// while invoking the provider.
func classify(err error) FailureKind {
	var pf *probe.Failure
	switch {
	case errors.As(err, &pf):
		return KindProbe
	case provider.IsResolutionError(err):
		return KindResolution
	default:
		return KindInvocation
	}
}
