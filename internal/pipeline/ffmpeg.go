package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/mbeck712/troubadour/internal/logger"
)

const (
	sampleRate    = 48000
	audioChannels = 2
)

// Pipeline errors
var (
	ErrNoInput = errors.New("pipeline input has neither path nor URL")
)

// FFmpegRunner turns inputs into an ogg/opus byte stream on stdout.
type FFmpegRunner struct {
	opts Options
	log  zerolog.Logger
}

// NewFFmpegRunner creates a runner with the given encode options.
func NewFFmpegRunner(opts Options) *FFmpegRunner {
	return &FFmpegRunner{opts: opts, log: logger.With("pipeline")}
}

// Start launches the transcode process for one attempt. The returned handle's
// Output carries the encoded stream; Done fires once when the process ends.
func (r *FFmpegRunner) Start(ctx context.Context, in Input) (Handle, error) {
	args, err := BuildArgs(r.opts, in)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(r.opts.FFmpegBin, args...)

	pr, pw := io.Pipe()
	cmd.Stdout = pw

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	h := &ffmpegHandle{
		cmd:  cmd,
		out:  pr,
		done: make(chan error, 1),
	}

	tail := newStderrTail()
	go captureProcessOutput(cmd.Process.Pid, stderr, tail)
	go r.monitor(ctx, h, pw, tail)

	r.log.Info().
		Int("pid", cmd.Process.Pid).
		Str("input", describeInput(in)).
		Int("seek_seconds", in.SeekSeconds).
		Bool("live", in.IsLive).
		Msg("Pipeline started")

	return h, nil
}

// monitor waits for the process and reports exactly one terminal error on the
// handle. A cancelled context terminates the process and reports the context
// error, so callers can tell a deliberate stop from a crash.
func (r *FFmpegRunner) monitor(ctx context.Context, h *ffmpegHandle, pw *io.PipeWriter, tail *stderrTail) {
	waitDone := make(chan error, 1)
	go func() { waitDone <- h.cmd.Wait() }()

	var result error
	select {
	case <-ctx.Done():
		if err := terminateProcess(h.cmd.Process.Pid); err != nil {
			r.log.Warn().Err(err).Int("pid", h.cmd.Process.Pid).Msg("Failed to terminate pipeline process")
		}
		<-waitDone
		result = ctx.Err()
	case err := <-waitDone:
		if err != nil {
			result = fmt.Errorf("ffmpeg exited: %w: %s", err, tail.String())
		}
	}

	if result != nil {
		pw.CloseWithError(result)
	} else {
		pw.Close()
	}

	r.log.Debug().
		Int("pid", h.cmd.Process.Pid).
		AnErr("result", result).
		Msg("Pipeline ended")

	h.done <- result
}

type ffmpegHandle struct {
	cmd  *exec.Cmd
	out  *io.PipeReader
	done chan error
}

func (h *ffmpegHandle) Output() io.Reader  { return h.out }
func (h *ffmpegHandle) Done() <-chan error { return h.done }

// Stop terminates the process; the monitor goroutine still delivers the
// terminal error. Safe to call after the process has already exited.
func (h *ffmpegHandle) Stop() {
	_ = terminateProcess(h.cmd.Process.Pid)
}

// BuildArgs assembles the ffmpeg argument list for an input. The command
// reads from the local path or remote URL and writes ogg/opus to stdout.
func BuildArgs(opts Options, in Input) ([]string, error) {
	src := in.Path
	if src == "" {
		src = in.URL
	}
	if src == "" {
		return nil, ErrNoInput
	}

	inputKw := ffmpeg.KwArgs{}
	if in.SeekSeconds > 0 {
		inputKw["ss"] = in.SeekSeconds
	}
	if in.Path == "" {
		if len(in.Headers) > 0 {
			inputKw["headers"] = formatHeaders(in.Headers)
		}
		if !in.IsLive {
			inputKw["reconnect"] = 1
			inputKw["reconnect_streamed"] = 1
			inputKw["reconnect_delay_max"] = 5
		}
	}

	outputKw := ffmpeg.KwArgs{
		"f":      "ogg",
		"acodec": "libopus",
		"b:a":    fmt.Sprintf("%dk", opts.BitrateKbps),
		"ar":     sampleRate,
		"ac":     audioChannels,
		"vn":     "",
	}

	compiled := ffmpeg.Input(src, inputKw).Output("pipe:1", outputKw).Compile()
	// Strip argv0; the runner picks the binary itself
	args := append([]string{"-hide_banner", "-loglevel", "error"}, compiled.Args[1:]...)
	return args, nil
}

// formatHeaders renders transport headers in the CRLF form ffmpeg expects.
// Order is fixed so command lines are reproducible.
func formatHeaders(headers map[string]string) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(headers[k])
		b.WriteString("\r\n")
	}
	return b.String()
}

func describeInput(in Input) string {
	if in.Path != "" {
		return in.Path
	}
	return in.URL
}
