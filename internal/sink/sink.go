// Package sink delivers the encoded audio stream to its destination and owns
// the voice connection lifecycle. The orchestrator talks to the Sink interface
// only; the Discord adapter is one implementation.
package sink

import (
	"context"
	"io"

	"github.com/mbeck712/troubadour/internal/models"
)

// Sink is a playback destination. Join and Leave manage the connection;
// Stream blocks while pumping one pipeline's output and returns when the
// reader is drained, errors, or the context is cancelled.
type Sink interface {
	Join(ctx context.Context, channels models.SinkChannels) error
	Leave() error
	Connected() bool
	Stream(ctx context.Context, r io.Reader) error
	SetActivity(activity string)
}
