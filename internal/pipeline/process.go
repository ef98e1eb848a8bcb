package pipeline

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mbeck712/troubadour/internal/logger"
)

const (
	// Process termination timeout before escalating to SIGKILL
	terminationTimeout = 5 * time.Second

	// Number of trailing stderr lines kept for error reports
	stderrTailLines = 8
)

// Process management errors
var (
	ErrProcessNotFound = errors.New("process not found")
)

// terminateProcess terminates a process gracefully (SIGTERM) then forcefully
// (SIGKILL) if needed. It only signals; the caller's Wait reaps the process.
func terminateProcess(pid int) error {
	if pid <= 0 {
		return ErrProcessNotFound
	}

	process, err := findProcess(pid)
	if err != nil {
		// Already gone
		return nil
	}

	logger.Log.Debug().
		Int("pid", pid).
		Msg("Sending SIGTERM to pipeline process")

	if err := process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	go func() {
		time.Sleep(terminationTimeout)
		if !processAlive(pid) {
			return
		}
		logger.Log.Warn().
			Int("pid", pid).
			Dur("timeout", terminationTimeout).
			Msg("Pipeline process didn't exit gracefully, sending SIGKILL")
		_ = process.Kill()
	}()

	return nil
}

// findProcess finds a live process by PID. On Unix FindProcess always
// succeeds, so existence is checked with signal 0.
func findProcess(pid int) (*os.Process, error) {
	process, err := os.FindProcess(pid)
	if err != nil {
		return nil, err
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcessNotFound, err)
	}
	return process, nil
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// captureProcessOutput drains and logs stderr from the transcode process,
// keeping the trailing lines so a crash report carries the actual cause.
func captureProcessOutput(pid int, reader io.Reader, tail *stderrTail) {
	scanner := bufio.NewScanner(reader)
	scanner.Split(bufio.ScanLines)

	for scanner.Scan() {
		line := scanner.Text()
		tail.Add(line)
		logger.Log.Debug().
			Int("ffmpeg_pid", pid).
			Str("output", line).
			Msg("FFmpeg output")
	}

	if err := scanner.Err(); err != nil {
		logger.Log.Warn().
			Err(err).
			Int("ffmpeg_pid", pid).
			Msg("Error reading FFmpeg output")
	}
}

// stderrTail holds the last few stderr lines of a process.
type stderrTail struct {
	mu    sync.Mutex
	lines []string
}

func newStderrTail() *stderrTail {
	return &stderrTail{}
}

func (t *stderrTail) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > stderrTailLines {
		t.lines = t.lines[len(t.lines)-stderrTailLines:]
	}
}

func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == 0 {
		return "no output"
	}
	return strings.Join(t.lines, " | ")
}
