package sshexec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"golang.org/x/crypto/ssh"
)

// LoadSigner reads an SSH private key from keyPath. Keys with a ".age"
// suffix are decrypted in-memory with the identities file at
// ageIdentitiesPath before parsing.
func LoadSigner(keyPath, ageIdentitiesPath string) (ssh.Signer, error) {
	if strings.TrimSpace(keyPath) == "" {
		return nil, errors.New("ssh key path is required")
	}
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key %s: %w", keyPath, err)
	}
	if strings.HasSuffix(keyPath, ".age") {
		data, err = decryptKey(data, ageIdentitiesPath)
		if err != nil {
			return nil, fmt.Errorf("decrypt ssh key %s: %w", keyPath, err)
		}
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", keyPath, err)
	}
	return signer, nil
}

func decryptKey(ciphertext []byte, identitiesPath string) ([]byte, error) {
	if strings.TrimSpace(identitiesPath) == "" {
		return nil, errors.New("age identities path is required for .age keys")
	}
	keyData, err := os.ReadFile(identitiesPath)
	if err != nil {
		return nil, fmt.Errorf("read age identities %s: %w", identitiesPath, err)
	}
	identities, err := parseAgeIdentities(keyData)
	if err != nil {
		return nil, err
	}
	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identities...)
	if err != nil {
		return nil, err
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

func parseAgeIdentities(data []byte) ([]age.Identity, error) {
	var identities []age.Identity
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "AGE-SECRET-KEY-") {
			continue
		}
		identity, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("parse age identity: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read age identities: %w", err)
	}
	if len(identities) == 0 {
		return nil, errors.New("no age identities found")
	}
	return identities, nil
}
