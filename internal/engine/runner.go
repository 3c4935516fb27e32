package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Process is a handle on a running pipeline process.
type Process interface {
	// Wait blocks until the process exits and returns its exit error.
	Wait() error
	// Stop asks the process to exit gracefully, escalating to a kill after
	// the grace period. It returns when the process is gone.
	Stop(grace time.Duration)
	// PID returns the OS process ID, or 0 for fakes.
	PID() int
}

// ProcessRunner launches pipeline processes. The production implementation
// wraps os/exec; tests inject fakes to drive the supervisor.
type ProcessRunner interface {
	Start(ctx context.Context, spec CommandSpec) (Process, error)
}

// execRunner runs real ffmpeg processes.
type execRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates the os/exec backed ProcessRunner.
func NewExecRunner(logger *slog.Logger) ProcessRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &execRunner{logger: logger}
}

// Start launches the process. The context only gates the launch; lifetime is
// managed through Stop so a graceful signal always precedes the kill.
func (r *execRunner) Start(ctx context.Context, spec CommandSpec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.Binary, spec.Args...)
	stderr := &tailBuffer{limit: 4 * 1024}
	cmd.Stderr = stderr
	cmd.Stdout = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPipelineSpawn, err)
	}

	r.logger.Debug("pipeline process started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("binary", spec.Binary))

	p := &execProcess{
		cmd:    cmd,
		stderr: stderr,
		logger: r.logger,
		done:   make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// execProcess wraps a started exec.Cmd.
type execProcess struct {
	cmd     *exec.Cmd
	stderr  *tailBuffer
	logger  *slog.Logger
	done    chan struct{}
	waitErr error
}

// Wait blocks until exit. A non-zero exit carries the stderr tail for
// diagnosis.
func (p *execProcess) Wait() error {
	<-p.done
	if p.waitErr == nil {
		return nil
	}
	if tail := p.stderr.Tail(); tail != "" {
		return fmt.Errorf("%w: %s", p.waitErr, tail)
	}
	return p.waitErr
}

// Stop sends SIGTERM, waits out the grace period, then kills. It always
// returns with the process reaped or draining in the background.
func (p *execProcess) Stop(grace time.Duration) {
	if p.cmd.Process == nil {
		return
	}

	select {
	case <-p.done:
		return
	default:
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-p.done:
		return
	case <-time.After(grace):
		p.logger.Warn("pipeline did not respond to SIGTERM, killing",
			slog.Int("pid", p.cmd.Process.Pid))
		_ = p.cmd.Process.Kill()
	}

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		p.logger.Error("pipeline could not be killed, draining in background",
			slog.Int("pid", p.cmd.Process.Pid))
		go func() { <-p.done }()
	}
}

// PID returns the OS process ID.
func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if t.buf.Len() > t.limit {
		data := t.buf.Bytes()
		trimmed := append([]byte(nil), data[len(data)-t.limit:]...)
		t.buf.Reset()
		t.buf.Write(trimmed)
	}
	return len(p), nil
}

func (t *tailBuffer) Tail() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}
