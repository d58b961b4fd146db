package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubInteractive(t *testing.T, interactive bool) {
	t.Helper()
	orig := isInteractiveFn
	isInteractiveFn = func() bool { return interactive }
	t.Cleanup(func() { isInteractiveFn = orig })
}

func stubConfirmIO(t *testing.T, input string) *bytes.Buffer {
	t.Helper()
	origReader := confirmReader
	origWriter := confirmWriter
	out := &bytes.Buffer{}
	confirmReader = strings.NewReader(input)
	confirmWriter = out
	t.Cleanup(func() {
		confirmReader = origReader
		confirmWriter = origWriter
	})
	return out
}

func TestRequireConfirmation(t *testing.T) {
	t.Run("force skips prompting", func(t *testing.T) {
		stubInteractive(t, false)
		err := requireConfirmation(confirmOptions{action: "apply change chg_x", force: true})
		assert.NoError(t, err)
	})

	t.Run("json mode requires force", func(t *testing.T) {
		stubInteractive(t, true)
		err := requireConfirmation(confirmOptions{action: "apply change chg_x", jsonOutput: true})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--json mode")
	})

	t.Run("non-interactive requires force", func(t *testing.T) {
		stubInteractive(t, false)
		err := requireConfirmation(confirmOptions{action: "apply change chg_x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-interactive")
	})

	t.Run("yes confirms", func(t *testing.T) {
		stubInteractive(t, true)
		out := stubConfirmIO(t, "yes\n")
		err := requireConfirmation(confirmOptions{action: "apply change chg_x"})
		assert.NoError(t, err)
		assert.Contains(t, out.String(), "apply change chg_x")
	})

	t.Run("anything else aborts", func(t *testing.T) {
		stubInteractive(t, true)
		stubConfirmIO(t, "y\n")
		err := requireConfirmation(confirmOptions{action: "apply change chg_x"})
		assert.EqualError(t, err, "aborted")
	})

	t.Run("case insensitive yes", func(t *testing.T) {
		stubInteractive(t, true)
		stubConfirmIO(t, "YES\n")
		err := requireConfirmation(confirmOptions{action: "apply change chg_x"})
		assert.NoError(t, err)
	})
}

func TestParseGlobal(t *testing.T) {
	opts, args, err := parseGlobal([]string{"--socket", "/tmp/x.sock", "--json", "pending"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.sock", opts.socketPath)
	assert.True(t, opts.jsonOutput)
	assert.Equal(t, []string{"pending"}, args)

	opts, args, err = parseGlobal(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultSocketPath, opts.socketPath)
	assert.Empty(t, args)
}
