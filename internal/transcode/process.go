package transcode

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"
)

// ExitStatus describes how a supervised process ended.
type ExitStatus struct {
	Code      int
	TimedOut  bool
	Cancelled bool
}

// Handle is a running child process.
type Handle interface {
	Pid() int
	// Wait blocks until the process exits, the timeout elapses, or ctx is
	// cancelled. In the latter two cases the process is killed and reaped
	// before Wait returns.
	Wait(ctx context.Context, timeout time.Duration) (ExitStatus, error)
	Kill() error
}

// Spawner starts child processes.
type Spawner interface {
	Spawn(name string, args []string, stderr io.Writer) (Handle, error)
}

// ExecSpawner starts real processes in their own process group.
type ExecSpawner struct {
	// WaitDelay bounds how long Wait keeps draining stderr after the process
	// exits.
	WaitDelay time.Duration
}

func (s ExecSpawner) Spawn(name string, args []string, stderr io.Writer) (Handle, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = stderr
	cmd.WaitDelay = s.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 5 * time.Second
	}
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	h := &execHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

type execHandle struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
	kill    sync.Once
}

func (h *execHandle) Pid() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Wait(ctx context.Context, timeout time.Duration) (ExitStatus, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var status ExitStatus
	select {
	case <-h.done:
	case <-expired:
		status.TimedOut = true
		_ = h.Kill()
		<-h.done
	case <-ctx.Done():
		status.Cancelled = true
		_ = h.Kill()
		<-h.done
	}

	status.Code = h.cmd.ProcessState.ExitCode()
	var exitErr *exec.ExitError
	if h.waitErr != nil && !errors.As(h.waitErr, &exitErr) && !errors.Is(h.waitErr, exec.ErrWaitDelay) {
		return status, h.waitErr
	}
	return status, nil
}

func (h *execHandle) Kill() error {
	var err error
	h.kill.Do(func() {
		err = killProcessGroup(h.cmd)
	})
	return err
}
