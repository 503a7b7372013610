// Package execservice runs external programs for the staging and delivery
// engines.
//
// The split between Start and WaitFor matters: staging and delivery launch
// long-running rsync/mover processes from a request handler, record the pid,
// return immediately, and only a background goroutine waits for the exit.
package execservice

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
)

// Execution is a handle to a started process.
type Execution struct {
	Pid int

	cmd    *exec.Cmd
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

// ExecutionResult is the outcome of a finished process.
type ExecutionResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner starts external programs and awaits their completion. It is the seam
// that tests replace with fakes.
type Runner interface {
	Start(cmd []string) (*Execution, error)
	WaitFor(execution *Execution) (*ExecutionResult, error)
	RunAndWait(cmd []string) (*ExecutionResult, error)
}

// Service is the production Runner backed by os/exec.
type Service struct{}

func New() *Service {
	return &Service{}
}

// Start launches cmd without waiting for it. Full stdout/stderr are captured
// in memory; mover and rsync output is small enough that spooling to files
// (as bigger job runners do) would be overkill here.
func (s *Service) Start(cmd []string) (*Execution, error) {
	if len(cmd) == 0 {
		return nil, errors.New("empty command")
	}

	var stdout, stderr bytes.Buffer
	// #nosec G204 -- argv comes from service configuration, not request input
	c := exec.Command(cmd[0], cmd[1:]...)
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd[0], err)
	}

	return &Execution{
		Pid:    c.Process.Pid,
		cmd:    c,
		stdout: &stdout,
		stderr: &stderr,
	}, nil
}

// WaitFor blocks the calling goroutine until the process exits.
//
// A nonzero exit is reported through ExitCode, not as an error: the engines
// translate exit codes into order states and must see stdout/stderr either way.
func (s *Service) WaitFor(execution *Execution) (*ExecutionResult, error) {
	if execution == nil || execution.cmd == nil {
		return nil, errors.New("execution has no process attached")
	}

	err := execution.cmd.Wait()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("wait for pid %d: %w", execution.Pid, err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &ExecutionResult{
		ExitCode: exitCode,
		Stdout:   execution.stdout.String(),
		Stderr:   execution.stderr.String(),
	}, nil
}

// RunAndWait composes Start and WaitFor for short synchronous calls such as
// moverinfo status polls.
func (s *Service) RunAndWait(cmd []string) (*ExecutionResult, error) {
	execution, err := s.Start(cmd)
	if err != nil {
		return nil, err
	}
	return s.WaitFor(execution)
}
