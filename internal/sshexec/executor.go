// Package sshexec runs single whitelisted shell commands on the managed
// host over SSH.
//
// The executor opens one session per command and makes exactly one attempt:
// retries, if any, belong to the caller. Failures are split into two
// distinguishable classes so the hosting agent can narrate the cause:
//
//   - TransportError: the SSH connection could not be established or
//     dropped mid-command (includes caller-side timeouts via ctx)
//   - RemoteCommandError: the remote command itself exited non-zero
package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Result holds the structured outcome of one remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes one fully-formed remote command and returns its result.
// Implementations are safe for concurrent use; each call is independent.
type Runner interface {
	Run(ctx context.Context, command string) (Result, error)
}

// TransportError indicates the SSH transport failed before or during a
// command. A timeout is a TransportError: the command must not be assumed
// applied or assumed failed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ssh %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteCommandError indicates the remote command returned non-zero.
type RemoteCommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *RemoteCommandError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("remote command %q exited %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("remote command %q exited %d: %s", e.Command, e.ExitCode, stderr)
}

// Options configures an Executor.
type Options struct {
	Host              string
	Port              int
	User              string
	KeyPath           string
	AgeIdentitiesPath string
	KnownHostsPath    string
	InsecureHostKey   bool
	DialTimeout       time.Duration
}

// Executor is the production Runner backed by golang.org/x/crypto/ssh.
// It holds no remote state; every Run dials a fresh connection.
type Executor struct {
	addr            string
	user            string
	signer          ssh.Signer
	hostKeyCallback ssh.HostKeyCallback
	dialTimeout     time.Duration
}

// NewExecutor loads the private key and host key policy and returns a
// ready Executor. The key file may be age-encrypted (".age" suffix), in
// which case AgeIdentitiesPath must point at an identities file; the key
// is decrypted in-memory and never written to disk in plaintext.
func NewExecutor(opts Options) (*Executor, error) {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		return nil, errors.New("ssh host is required")
	}
	user := strings.TrimSpace(opts.User)
	if user == "" {
		return nil, errors.New("ssh user is required")
	}
	port := opts.Port
	if port <= 0 {
		port = 22
	}
	signer, err := LoadSigner(opts.KeyPath, opts.AgeIdentitiesPath)
	if err != nil {
		return nil, err
	}
	callback, err := hostKeyCallback(opts.KnownHostsPath, opts.InsecureHostKey)
	if err != nil {
		return nil, err
	}
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Executor{
		addr:            net.JoinHostPort(host, strconv.Itoa(port)),
		user:            user,
		signer:          signer,
		hostKeyCallback: callback,
		dialTimeout:     timeout,
	}, nil
}

// Run executes one command on the managed host. It returns captured
// stdout/stderr and the exit code; non-zero exits surface as
// *RemoteCommandError alongside the partial Result.
func (e *Executor) Run(ctx context.Context, command string) (Result, error) {
	if strings.TrimSpace(command) == "" {
		return Result{}, errors.New("command is required")
	}
	dialer := net.Dialer{Timeout: e.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", e.addr)
	if err != nil {
		return Result{}, &TransportError{Op: "dial " + e.addr, Err: err}
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, e.addr, &ssh.ClientConfig{
		User:            e.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(e.signer)},
		HostKeyCallback: e.hostKeyCallback,
		Timeout:         e.dialTimeout,
	})
	if err != nil {
		_ = conn.Close()
		return Result{}, &TransportError{Op: "handshake " + e.addr, Err: err}
	}
	client := ssh.NewClient(clientConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{}, &TransportError{Op: "session", Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()
	select {
	case <-ctx.Done():
		_ = client.Close()
		<-done
		return Result{}, &TransportError{Op: "run", Err: ctx.Err()}
	case err = <-done:
	}

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, &RemoteCommandError{
				Command:  command,
				ExitCode: result.ExitCode,
				Stderr:   result.Stderr,
			}
		}
		return result, &TransportError{Op: "run", Err: err}
	}
	return result, nil
}

func hostKeyCallback(knownHostsPath string, insecure bool) (ssh.HostKeyCallback, error) {
	if insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if strings.TrimSpace(knownHostsPath) == "" {
		return nil, errors.New("known_hosts path is required unless insecure_host_key is set")
	}
	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", knownHostsPath, err)
	}
	return callback, nil
}
