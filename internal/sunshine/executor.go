package sunshine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Command describes one subprocess invocation.
type Command struct {
	Name string
	Args []string
	Env  []string
	// Privileged runs the command as uid/gid 0.
	Privileged bool
	// Detach starts the command in a new session, making it the leader of
	// its own process group.
	Detach bool
	// Stdout receives both stdout and stderr of a started command.
	// Ignored by Output and Run.
	Stdout io.Writer
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Process is a started subprocess.
type Process interface {
	Pid() int
	Wait() error
}

// Executor runs subprocesses on behalf of the controller. Tests replace it
// to avoid real privilege escalation.
type Executor interface {
	// Output runs the command to completion and returns its stdout.
	Output(ctx context.Context, cmd Command) ([]byte, error)
	// Run runs the command to completion; a non-zero exit is an error.
	Run(ctx context.Context, cmd Command) error
	// Start launches the command without waiting for it.
	Start(cmd Command) (Process, error)
}

// ExecExecutor is the Executor backed by os/exec.
type ExecExecutor struct{}

func (ExecExecutor) Output(ctx context.Context, c Command) ([]byte, error) {
	cmd := build(exec.CommandContext(ctx, c.Name, c.Args...), c)
	out, err := cmd.Output()
	if err != nil {
		return out, classify(c, err, nil)
	}
	return out, nil
}

func (ExecExecutor) Run(ctx context.Context, c Command) error {
	cmd := build(exec.CommandContext(ctx, c.Name, c.Args...), c)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return classify(c, err, stderr.Bytes())
	}
	return nil
}

func (ExecExecutor) Start(c Command) (Process, error) {
	cmd := build(exec.Command(c.Name, c.Args...), c)
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
		cmd.Stderr = c.Stdout
	}
	if err := cmd.Start(); err != nil {
		return nil, classify(c, err, nil)
	}
	return execProcess{cmd}, nil
}

func build(cmd *exec.Cmd, c Command) *exec.Cmd {
	cmd.Env = c.Env
	attr := &syscall.SysProcAttr{Setsid: c.Detach}
	if c.Privileged {
		attr.Credential = &syscall.Credential{Uid: 0, Gid: 0}
	}
	cmd.SysProcAttr = attr
	return cmd
}

// classify wraps a subprocess failure with the matching error kind.
func classify(c Command, err error, stderr []byte) error {
	msg := strings.TrimSpace(string(stderr))
	if exitErr, ok := err.(*exec.ExitError); ok && msg == "" {
		msg = strings.TrimSpace(string(exitErr.Stderr))
	}
	if msg != "" {
		err = fmt.Errorf("%w: %s", err, msg)
	}

	switch {
	case errors.Is(err, syscall.EPERM), errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%s: %w: %w", c.Name, ErrPermission, err)
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%s: %w: %w", c.Name, ErrNotFound, err)
	default:
		return fmt.Errorf("%s: %w", c.Name, err)
	}
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p execProcess) Pid() int    { return p.cmd.Process.Pid }
func (p execProcess) Wait() error { return p.cmd.Wait() }
