package remote

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/opsgate/opsgate/internal/models"
	"github.com/opsgate/opsgate/internal/sshexec"
)

// Client provides the read-only remote operations. Reads never mutate
// remote state, so they execute immediately with no staging or approval.
type Client struct {
	runner              sshexec.Runner
	defaultLogLines     int
	maxLogLines         int
	allowedFilePrefixes []string
}

// ClientOptions configures a reader client.
type ClientOptions struct {
	DefaultLogLines     int
	MaxLogLines         int
	AllowedFilePrefixes []string
}

// NewClient builds a reader client on top of a command runner.
func NewClient(runner sshexec.Runner, opts ClientOptions) (*Client, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	defaultLines := opts.DefaultLogLines
	if defaultLines <= 0 {
		defaultLines = 100
	}
	maxLines := opts.MaxLogLines
	if maxLines <= 0 || maxLines > MaxLogLines {
		maxLines = MaxLogLines
	}
	return &Client{
		runner:              runner,
		defaultLogLines:     defaultLines,
		maxLogLines:         maxLines,
		allowedFilePrefixes: opts.AllowedFilePrefixes,
	}, nil
}

// AllowedFilePrefixes returns the configured file whitelist prefixes.
func (c *Client) AllowedFilePrefixes() []string {
	return c.allowedFilePrefixes
}

// ListServices runs docker-compose ps for a project directory and parses
// the tabular output into service rows.
func (c *Client) ListServices(ctx context.Context, projectDir string) ([]models.ComposeService, error) {
	command, err := ComposePSCommand(projectDir)
	if err != nil {
		return nil, err
	}
	result, err := c.runner.Run(ctx, command)
	if err != nil {
		return nil, err
	}
	return parseComposePS(result.Stdout), nil
}

// ReadContainerLogs tails a docker container's logs. lines <= 0 selects
// the configured default; values above the configured max are clamped.
func (c *Client) ReadContainerLogs(ctx context.Context, container string, lines int) (string, error) {
	command, err := ContainerLogsCommand(container, c.clampLines(lines))
	if err != nil {
		return "", err
	}
	result, err := c.runner.Run(ctx, command)
	if err != nil {
		return "", err
	}
	// docker logs emits the container's stderr stream on stderr
	if result.Stdout == "" {
		return result.Stderr, nil
	}
	return result.Stdout, nil
}

// ReadComposeLogs tails a compose service's logs in a project directory.
func (c *Client) ReadComposeLogs(ctx context.Context, projectDir, service string, lines int) (string, error) {
	command, err := ComposeLogsCommand(projectDir, service, c.clampLines(lines))
	if err != nil {
		return "", err
	}
	result, err := c.runner.Run(ctx, command)
	if err != nil {
		return "", err
	}
	return result.Stdout, nil
}

// ReadFile returns the content of a whitelisted config file. A missing
// file surfaces as *models.NotFoundError, distinguishable from transport
// or permission failures.
func (c *Client) ReadFile(ctx context.Context, path string) (string, error) {
	command, err := CatFileCommand(path, c.allowedFilePrefixes)
	if err != nil {
		return "", err
	}
	result, err := c.runner.Run(ctx, command)
	if err != nil {
		var remoteErr *sshexec.RemoteCommandError
		if errors.As(err, &remoteErr) && isMissingFile(remoteErr.Stderr) {
			return "", &models.NotFoundError{Kind: "file", Name: path}
		}
		return "", err
	}
	return result.Stdout, nil
}

// ReadComposeFile returns the docker-compose.yml of a project directory.
func (c *Client) ReadComposeFile(ctx context.Context, projectDir string) (string, error) {
	if err := ValidatePath(projectDir, nil); err != nil {
		return "", err
	}
	return c.ReadFile(ctx, projectDir+"/docker-compose.yml")
}

// ReadCrontab returns a user's crontab. An owner with no crontab yields
// empty content, not an error; permission failures stay errors.
func (c *Client) ReadCrontab(ctx context.Context, owner string) (string, error) {
	command, err := CrontabListCommand(owner)
	if err != nil {
		return "", err
	}
	result, err := c.runner.Run(ctx, command)
	if err != nil {
		var remoteErr *sshexec.RemoteCommandError
		if errors.As(err, &remoteErr) && isEmptyCrontab(remoteErr.Stderr) {
			return "", nil
		}
		return "", err
	}
	return result.Stdout, nil
}

func (c *Client) clampLines(lines int) int {
	if lines <= 0 {
		return c.defaultLogLines
	}
	if lines > c.maxLogLines {
		return c.maxLogLines
	}
	return lines
}

func isMissingFile(stderr string) bool {
	return strings.Contains(stderr, "No such file or directory")
}

func isEmptyCrontab(stderr string) bool {
	return strings.Contains(stderr, "no crontab for")
}

var composeColumnSplit = regexp.MustCompile(`\s{2,}`)

// parseComposePS parses classic docker-compose ps output:
//
//	  Name            Command          State   Ports
//	-------------------------------------------------
//	nginx   /docker-entrypoint.sh ...   Up      80/tcp
func parseComposePS(output string) []models.ComposeService {
	var services []models.ComposeService
	lines := strings.Split(output, "\n")
	headerSeen := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "---") {
			headerSeen = true
			continue
		}
		if !headerSeen {
			continue
		}
		fields := composeColumnSplit.Split(trimmed, -1)
		if len(fields) < 3 {
			continue
		}
		service := models.ComposeService{
			Name:  fields[0],
			State: fields[2],
		}
		if len(fields) >= 4 {
			service.Ports = fields[3]
		}
		services = append(services, service)
	}
	return services
}
