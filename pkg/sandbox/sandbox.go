// Package sandbox executes untrusted scripts out of process with enforced
// time and memory budgets and guaranteed workspace cleanup.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	// DefaultTimeout bounds script wall time when the evaluator declares none.
	DefaultTimeout = 30 * time.Second

	// DefaultMemoryLimit bounds script resident memory.
	DefaultMemoryLimit = 512 * 1024 * 1024

	// memorySampleInterval is how often resident memory is checked.
	memorySampleInterval = 250 * time.Millisecond
)

// Command configures one sandboxed subprocess run.
type Command struct {
	Binary string
	Args   []string
	Dir    string
	Env    []string
	Stdin  io.Reader

	// Timeout kills the process with SIGKILL on expiry. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// MemoryLimitBytes kills the process when resident memory exceeds it.
	// Zero means DefaultMemoryLimit.
	MemoryLimitBytes int64
}

// Result is the outcome of a finished (or killed) subprocess.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration

	// Killed is set when the runner terminated the process, with the
	// reason ("timeout" or "memory limit exceeded").
	Killed     bool
	KillReason string
}

// Runner executes sandboxed commands. The kill function is injectable so
// tests can observe process termination without real subprocesses dying in
// awkward ways.
type Runner struct {
	logger *slog.Logger
	kill   func(pid int) error
}

// NewRunner creates a Runner that kills whole process groups with SIGKILL.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{
		logger: logger.With("module", "sandbox"),
		kill: func(pid int) error {
			return syscall.Kill(-pid, syscall.SIGKILL)
		},
	}
}

// WithKillFunc replaces the process-kill function. Test hook.
func (r *Runner) WithKillFunc(kill func(pid int) error) *Runner {
	r.kill = kill

	return r
}

// Run executes the command and waits for completion, a timeout kill, a
// memory kill or ctx cancellation, whichever comes first.
func (r *Runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Binary == "" {
		return nil, fmt.Errorf("sandbox: binary is required")
	}

	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	memLimit := cmd.MemoryLimitBytes
	if memLimit == 0 {
		memLimit = DefaultMemoryLimit
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(runCtx, cmd.Binary, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)

	if cmd.Stdin != nil {
		c.Stdin = cmd.Stdin
	}

	var stdout, stderr bytes.Buffer

	c.Stdout = &stdout
	c.Stderr = &stderr

	// Own process group so the entire tree dies on kill.
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}

		return r.kill(c.Process.Pid)
	}

	start := time.Now()

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("sandbox: start: %w", err)
	}

	memKilled := make(chan struct{})
	sampleDone := make(chan struct{})

	go r.sampleMemory(runCtx, c.Process.Pid, memLimit, memKilled, sampleDone)

	err := c.Wait()
	cancel()
	<-sampleDone

	result := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: c.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}

	select {
	case <-memKilled:
		result.Killed = true
		result.KillReason = "memory limit exceeded"

		return result, fmt.Errorf("sandbox: memory limit exceeded")
	default:
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.Killed = true
		result.KillReason = "timeout"

		return result, fmt.Errorf("sandbox: timeout after %s", timeout)
	}

	if err != nil {
		return result, fmt.Errorf("sandbox: exit code %d: %w", result.ExitCode, err)
	}

	return result, nil
}

// sampleMemory polls the process's resident memory and kills it when the
// limit is exceeded. Closes memKilled when a memory kill happened.
func (r *Runner) sampleMemory(ctx context.Context, pid int, limit int64, memKilled, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(memorySampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rss, err := residentMemory(pid)
			if err != nil {
				// Process already exited.
				return
			}

			if rss > limit {
				r.logger.Warn("killing process over memory limit",
					"pid", pid, "rss_bytes", rss, "limit_bytes", limit)

				if err := r.kill(pid); err == nil {
					close(memKilled)
				}

				return
			}
		}
	}
}

// residentMemory reads VmRSS from /proc/<pid>/status, in bytes.
func residentMemory(pid int) (int64, error) {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "status"))
	if err != nil {
		return 0, err
	}

	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}

		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}

		return kb * 1024, nil
	}

	return 0, fmt.Errorf("VmRSS not found for pid %d", pid)
}
