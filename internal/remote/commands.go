// Package remote builds whitelisted remote command strings and provides
// read-only resource readers on top of them.
//
// Every command sent to the managed host comes from the closed set of
// templates in this file, parameterized only by validated fields. File
// content travels base64-encoded so no caller-supplied text is ever
// interpolated into a shell command unescaped. Violations are rejected
// here, at construction time, never at execution time.
package remote

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/opsgate/opsgate/internal/models"
)

const (
	// stagingDir is where file and crontab content is staged before the
	// privileged move or install step.
	stagingDir = "/tmp"

	// MaxLogLines bounds any remote log tail to avoid unbounded output.
	MaxLogLines = 2000

	// MaxStageContentBytes bounds staged file content. The base64 payload
	// is a single argument of the remote shell invocation, and Linux caps
	// one argument at 128 KiB (MAX_ARG_STRLEN); 64 KiB raw encodes to
	// ~87 KiB, leaving headroom for the rest of the command.
	MaxStageContentBytes = 64 * 1024
)

var (
	// pathPattern matches absolute paths without shell metacharacters.
	pathPattern = regexp.MustCompile(`^/[A-Za-z0-9._/-]+$`)
	// namePattern matches usernames, service names, container names, and
	// change ids.
	namePattern = regexp.MustCompile(`^[A-Za-z0-9_][\w.-]*$`)
)

// ValidatePath checks that path is absolute, free of traversal and shell
// metacharacters, and (when prefixes are given) under an allowed prefix.
func ValidatePath(path string, allowedPrefixes []string) error {
	if !pathPattern.MatchString(path) {
		return models.NewValidationError("invalid path %q", path)
	}
	if strings.Contains(path, "..") {
		return models.NewValidationError("path %q must not contain ..", path)
	}
	if len(allowedPrefixes) == 0 {
		return nil
	}
	for _, prefix := range allowedPrefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return nil
		}
	}
	return models.NewValidationError("path %q is outside the allowed prefixes", path)
}

// ValidateName checks a username, service name, or container name.
func ValidateName(kind, name string) error {
	if !namePattern.MatchString(name) {
		return models.NewValidationError("invalid %s %q", kind, name)
	}
	return nil
}

func validateLines(lines int) error {
	if lines <= 0 || lines > MaxLogLines {
		return models.NewValidationError("lines must be between 1 and %d, got %d", MaxLogLines, lines)
	}
	return nil
}

// StagingPath returns the remote staging location for a change id.
func StagingPath(changeID string) string {
	return stagingDir + "/opsgate-" + changeID
}

// ContainerLogsCommand tails a docker container's logs.
func ContainerLogsCommand(container string, lines int) (string, error) {
	if err := ValidateName("container", container); err != nil {
		return "", err
	}
	if err := validateLines(lines); err != nil {
		return "", err
	}
	return fmt.Sprintf("docker logs %s --tail %d", container, lines), nil
}

// ComposeLogsCommand tails a compose service's logs in a project directory.
func ComposeLogsCommand(projectDir, service string, lines int) (string, error) {
	if err := ValidatePath(projectDir, nil); err != nil {
		return "", err
	}
	if err := ValidateName("service", service); err != nil {
		return "", err
	}
	if err := validateLines(lines); err != nil {
		return "", err
	}
	return fmt.Sprintf("cd %s && docker-compose logs --tail=%d %s", projectDir, lines, service), nil
}

// ComposePSCommand lists container status for a compose project.
func ComposePSCommand(projectDir string) (string, error) {
	if err := ValidatePath(projectDir, nil); err != nil {
		return "", err
	}
	return fmt.Sprintf("cd %s && docker-compose ps", projectDir), nil
}

// ComposeActionCommand runs one compose verb, optionally scoped to a
// single service. up detaches so the remote call returns.
func ComposeActionCommand(projectDir, service string, action models.ServiceVerb) (string, error) {
	if err := ValidatePath(projectDir, nil); err != nil {
		return "", err
	}
	if !models.ValidServiceVerb(action) {
		return "", models.NewValidationError("invalid service action %q", action)
	}
	verb := string(action)
	if action == models.ServiceUp {
		verb = "up -d"
	}
	if service == "" {
		return fmt.Sprintf("cd %s && docker-compose %s", projectDir, verb), nil
	}
	if err := ValidateName("service", service); err != nil {
		return "", err
	}
	return fmt.Sprintf("cd %s && docker-compose %s %s", projectDir, verb, service), nil
}

// CatFileCommand reads a whitelisted config file via sudo.
func CatFileCommand(path string, allowedPrefixes []string) (string, error) {
	if err := ValidatePath(path, allowedPrefixes); err != nil {
		return "", err
	}
	return "sudo cat " + path, nil
}

// StageFileCommand writes content to the staging path for a change. The
// content rides base64-encoded through the shell.
func StageFileCommand(changeID string, content []byte) (string, error) {
	if err := ValidateName("change id", changeID); err != nil {
		return "", err
	}
	if len(content) == 0 {
		return "", models.NewValidationError("staged content must not be empty")
	}
	if len(content) > MaxStageContentBytes {
		return "", models.NewValidationError("staged content is %d bytes, limit is %d", len(content), MaxStageContentBytes)
	}
	encoded := base64.StdEncoding.EncodeToString(content)
	return fmt.Sprintf("printf '%%s' %s | base64 -d > %s", encoded, StagingPath(changeID)), nil
}

// MoveIntoPlaceCommand installs a staged file at its real config path via
// the passwordless-sudo move shape.
func MoveIntoPlaceCommand(changeID, destPath string, allowedPrefixes []string) (string, error) {
	if err := ValidateName("change id", changeID); err != nil {
		return "", err
	}
	if err := ValidatePath(destPath, allowedPrefixes); err != nil {
		return "", err
	}
	return fmt.Sprintf("sudo mv %s %s", StagingPath(changeID), destPath), nil
}

// CrontabListCommand lists a user's crontab.
func CrontabListCommand(owner string) (string, error) {
	if err := ValidateName("owner", owner); err != nil {
		return "", err
	}
	return fmt.Sprintf("sudo crontab -u %s -l", owner), nil
}

// CrontabInstallCommand installs the staged file as a user's crontab.
func CrontabInstallCommand(changeID, owner string) (string, error) {
	if err := ValidateName("change id", changeID); err != nil {
		return "", err
	}
	if err := ValidateName("owner", owner); err != nil {
		return "", err
	}
	return fmt.Sprintf("sudo crontab -u %s %s", owner, StagingPath(changeID)), nil
}

// NginxValidateCommand checks nginx config syntax inside its container.
func NginxValidateCommand(container string) (string, error) {
	if err := ValidateName("container", container); err != nil {
		return "", err
	}
	return fmt.Sprintf("sudo docker exec %s nginx -t", container), nil
}

// NginxReloadCommand reloads nginx inside its container.
func NginxReloadCommand(container string) (string, error) {
	if err := ValidateName("container", container); err != nil {
		return "", err
	}
	return fmt.Sprintf("sudo docker exec %s nginx -s reload", container), nil
}
