package sshexec

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func generateKeyPEM(t *testing.T) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	return pem.EncodeToMemory(block)
}

func TestLoadSigner(t *testing.T) {
	t.Run("plain key", func(t *testing.T) {
		dir := t.TempDir()
		keyPath := filepath.Join(dir, "id_ed25519")
		require.NoError(t, os.WriteFile(keyPath, generateKeyPEM(t), 0o600))

		signer, err := LoadSigner(keyPath, "")
		require.NoError(t, err)
		assert.Equal(t, "ssh-ed25519", signer.PublicKey().Type())
	})

	t.Run("age encrypted key", func(t *testing.T) {
		dir := t.TempDir()
		identity, err := age.GenerateX25519Identity()
		require.NoError(t, err)

		var encrypted bytes.Buffer
		w, err := age.Encrypt(&encrypted, identity.Recipient())
		require.NoError(t, err)
		_, err = w.Write(generateKeyPEM(t))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		keyPath := filepath.Join(dir, "id_ed25519.age")
		require.NoError(t, os.WriteFile(keyPath, encrypted.Bytes(), 0o600))
		identitiesPath := filepath.Join(dir, "identities.txt")
		require.NoError(t, os.WriteFile(identitiesPath,
			[]byte("# created for opsgated\n"+identity.String()+"\n"), 0o600))

		signer, err := LoadSigner(keyPath, identitiesPath)
		require.NoError(t, err)
		assert.Equal(t, "ssh-ed25519", signer.PublicKey().Type())
	})

	t.Run("age key without identities", func(t *testing.T) {
		dir := t.TempDir()
		keyPath := filepath.Join(dir, "id_ed25519.age")
		require.NoError(t, os.WriteFile(keyPath, []byte("ciphertext"), 0o600))

		_, err := LoadSigner(keyPath, "")
		assert.ErrorContains(t, err, "age identities path is required")
	})

	t.Run("identities file with no keys", func(t *testing.T) {
		dir := t.TempDir()
		keyPath := filepath.Join(dir, "id_ed25519.age")
		require.NoError(t, os.WriteFile(keyPath, []byte("ciphertext"), 0o600))
		identitiesPath := filepath.Join(dir, "identities.txt")
		require.NoError(t, os.WriteFile(identitiesPath, []byte("# comments only\n"), 0o600))

		_, err := LoadSigner(keyPath, identitiesPath)
		assert.ErrorContains(t, err, "no age identities found")
	})

	t.Run("missing key path", func(t *testing.T) {
		_, err := LoadSigner("", "")
		assert.EqualError(t, err, "ssh key path is required")
	})

	t.Run("unreadable key", func(t *testing.T) {
		_, err := LoadSigner(filepath.Join(t.TempDir(), "nope"), "")
		assert.Error(t, err)
	})

	t.Run("garbage key material", func(t *testing.T) {
		dir := t.TempDir()
		keyPath := filepath.Join(dir, "id_ed25519")
		require.NoError(t, os.WriteFile(keyPath, []byte("not a key"), 0o600))

		_, err := LoadSigner(keyPath, "")
		assert.ErrorContains(t, err, "parse ssh key")
	})
}
