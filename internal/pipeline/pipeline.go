// Package pipeline runs the external transcode process that turns a prepared
// playable input into a sink-consumable audio stream.
package pipeline

import (
	"context"
	"io"
)

// Input is one prepared playable input: exactly one of Path or URL is set.
type Input struct {
	Path        string            // local file
	URL         string            // remote source, fetched by the transcoder
	Headers     map[string]string // forwarded verbatim for remote sources
	SeekSeconds int               // start offset, for crash resume
	IsLive      bool
}

// Options are the fixed encode parameters for every attempt.
type Options struct {
	FFmpegBin   string
	BitrateKbps int
}

// Handle is one running pipeline attempt. Done yields exactly one error:
// nil for a clean end, the context error when the attempt was cancelled,
// anything else for a crash.
type Handle interface {
	Output() io.Reader
	Done() <-chan error
	Stop()
}

// Runner starts pipeline attempts. The context carries the attempt's
// cancellation token; the runner must terminate the underlying process
// promptly when it fires.
type Runner interface {
	Start(ctx context.Context, in Input) (Handle, error)
}
