// Package testing provides shared test doubles for the remote command
// layer.
package testing

import (
	"context"
	"sync"

	"github.com/opsgate/opsgate/internal/sshexec"
)

// FakeResponse scripts the outcome of one remote command.
type FakeResponse struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// FakeRunner is a scripted sshexec.Runner. Commands are matched exactly
// against the Responses map; unscripted commands succeed with empty
// output. Every call is recorded in order.
type FakeRunner struct {
	mu        sync.Mutex
	Responses map[string]FakeResponse
	Calls     []string
}

// NewFakeRunner returns a runner with no scripted responses.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{Responses: make(map[string]FakeResponse)}
}

// Script registers a response for an exact command string.
func (f *FakeRunner) Script(command string, resp FakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Responses == nil {
		f.Responses = make(map[string]FakeResponse)
	}
	f.Responses[command] = resp
}

// Run implements sshexec.Runner.
func (f *FakeRunner) Run(ctx context.Context, command string) (sshexec.Result, error) {
	if err := ctx.Err(); err != nil {
		return sshexec.Result{}, &sshexec.TransportError{Op: "run", Err: err}
	}
	f.mu.Lock()
	f.Calls = append(f.Calls, command)
	resp, scripted := f.Responses[command]
	f.mu.Unlock()
	if !scripted {
		return sshexec.Result{}, nil
	}
	result := sshexec.Result{
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
		ExitCode: resp.ExitCode,
	}
	if resp.Err != nil {
		return result, resp.Err
	}
	if resp.ExitCode != 0 {
		return result, &sshexec.RemoteCommandError{
			Command:  command,
			ExitCode: resp.ExitCode,
			Stderr:   resp.Stderr,
		}
	}
	return result, nil
}

// CallLog returns a copy of the commands executed so far.
func (f *FakeRunner) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Calls))
	copy(out, f.Calls)
	return out
}
