package sshexec

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTypes(t *testing.T) {
	t.Run("transport error wraps cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := &TransportError{Op: "dial 10.0.0.5:22", Err: cause}
		assert.EqualError(t, err, "ssh dial 10.0.0.5:22: connection refused")
		assert.ErrorIs(t, err, cause)
	})

	t.Run("remote command error with stderr", func(t *testing.T) {
		err := &RemoteCommandError{
			Command:  "sudo mv /tmp/x /opt/x",
			ExitCode: 1,
			Stderr:   "mv: cannot move\n",
		}
		assert.EqualError(t, err, `remote command "sudo mv /tmp/x /opt/x" exited 1: mv: cannot move`)
	})

	t.Run("remote command error without stderr", func(t *testing.T) {
		err := &RemoteCommandError{Command: "nginx -t", ExitCode: 2}
		assert.EqualError(t, err, `remote command "nginx -t" exited 2`)
	})
}

func TestNewExecutor(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, generateKeyPEM(t), 0o600))

	t.Run("missing host", func(t *testing.T) {
		_, err := NewExecutor(Options{User: "svc", KeyPath: keyPath, InsecureHostKey: true})
		assert.EqualError(t, err, "ssh host is required")
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := NewExecutor(Options{Host: "10.0.0.5", KeyPath: keyPath, InsecureHostKey: true})
		assert.EqualError(t, err, "ssh user is required")
	})

	t.Run("known hosts required", func(t *testing.T) {
		_, err := NewExecutor(Options{Host: "10.0.0.5", User: "svc", KeyPath: keyPath})
		assert.ErrorContains(t, err, "known_hosts")
	})

	t.Run("insecure host key skips known hosts", func(t *testing.T) {
		exec, err := NewExecutor(Options{
			Host:            "10.0.0.5",
			User:            "svc",
			KeyPath:         keyPath,
			InsecureHostKey: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.5:22", exec.addr)
	})

	t.Run("custom port", func(t *testing.T) {
		exec, err := NewExecutor(Options{
			Host:            "10.0.0.5",
			Port:            2222,
			User:            "svc",
			KeyPath:         keyPath,
			InsecureHostKey: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.5:2222", exec.addr)
	})
}
