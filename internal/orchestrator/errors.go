package orchestrator

import (
	"errors"
	"fmt"
)

// FailureKind classifies what went wrong with a playback attempt and drives
// the advance decision.
type FailureKind string

// Failure kinds
const (
	// FailureConnection means the sink was unreachable. Fatal for the
	// attempt; the cursor does not advance.
	FailureConnection FailureKind = "connection"

	// FailureResolution means the input never became a playable source.
	// The item is marked failed and the queue advances.
	FailureResolution FailureKind = "resolution"

	// FailureProtected is a resolution failure where the page requires
	// manual viewing. Reported distinctly so the requester knows not to
	// expect playback.
	FailureProtected FailureKind = "protected"

	// FailurePipeline means the transcode or transport died mid-stream.
	// The queue advances unless the stop was deliberate.
	FailurePipeline FailureKind = "pipeline"
)

// Orchestrator errors
var (
	ErrNothingPlaying = errors.New("nothing is playing")
	ErrSkipInFlight   = errors.New("a skip is already in progress")
	ErrQueueEmpty     = errors.New("the queue is empty")
)

// PlaybackError is the single error shape that crosses the orchestrator
// boundary. Every failure becomes exactly one of these, one notification,
// and an advance decision.
type PlaybackError struct {
	Kind  FailureKind
	Input string
	Cause error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("%s failure for %q: %v", e.Kind, e.Input, e.Cause)
}

func (e *PlaybackError) Unwrap() error {
	return e.Cause
}

func newPlaybackError(kind FailureKind, input string, cause error) *PlaybackError {
	return &PlaybackError{Kind: kind, Input: input, Cause: cause}
}

// advances reports whether a failure of this kind moves the cursor to the
// next item.
func (k FailureKind) advances() bool {
	return k != FailureConnection
}
