package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/opsgate/internal/models"
	testutil "github.com/opsgate/opsgate/internal/testing"
)

func newTestClient(t *testing.T, runner *testutil.FakeRunner) *Client {
	t.Helper()
	client, err := NewClient(runner, ClientOptions{
		DefaultLogLines:     100,
		MaxLogLines:         2000,
		AllowedFilePrefixes: []string{"/opt/iot-stack/"},
	})
	require.NoError(t, err)
	return client
}

func TestListServices(t *testing.T) {
	ctx := context.Background()
	runner := testutil.NewFakeRunner()
	runner.Script("cd /opt/iot-stack && docker-compose ps", testutil.FakeResponse{
		Stdout: "     Name                 Command               State    Ports\n" +
			"----------------------------------------------------------------\n" +
			"nginx       /docker-entrypoint.sh ngin ...   Up      0.0.0.0:80->80/tcp\n" +
			"mqtt        /usr/sbin/mosquitto -c ...       Up      1883/tcp\n" +
			"collector   python main.py                   Exit 1\n",
	})
	client := newTestClient(t, runner)

	services, err := client.ListServices(ctx, "/opt/iot-stack")
	require.NoError(t, err)
	require.Len(t, services, 3)
	assert.Equal(t, models.ComposeService{Name: "nginx", State: "Up", Ports: "0.0.0.0:80->80/tcp"}, services[0])
	assert.Equal(t, models.ComposeService{Name: "mqtt", State: "Up", Ports: "1883/tcp"}, services[1])
	assert.Equal(t, "collector", services[2].Name)
	assert.Equal(t, "Exit 1", services[2].State)
}

func TestReadContainerLogs(t *testing.T) {
	ctx := context.Background()

	t.Run("stdout stream", func(t *testing.T) {
		runner := testutil.NewFakeRunner()
		runner.Script("docker logs nginx --tail 100", testutil.FakeResponse{Stdout: "line1\nline2\n"})
		client := newTestClient(t, runner)

		out, err := client.ReadContainerLogs(ctx, "nginx", 0)
		require.NoError(t, err)
		assert.Equal(t, "line1\nline2\n", out)
	})

	t.Run("stderr stream fallback", func(t *testing.T) {
		runner := testutil.NewFakeRunner()
		runner.Script("docker logs mqtt --tail 50", testutil.FakeResponse{Stderr: "err line\n"})
		client := newTestClient(t, runner)

		out, err := client.ReadContainerLogs(ctx, "mqtt", 50)
		require.NoError(t, err)
		assert.Equal(t, "err line\n", out)
	})

	t.Run("clamps to max", func(t *testing.T) {
		runner := testutil.NewFakeRunner()
		runner.Script("docker logs nginx --tail 2000", testutil.FakeResponse{Stdout: "x"})
		client := newTestClient(t, runner)

		_, err := client.ReadContainerLogs(ctx, "nginx", 99999)
		require.NoError(t, err)
		assert.Equal(t, []string{"docker logs nginx --tail 2000"}, runner.CallLog())
	})
}

func TestReadFile(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		runner := testutil.NewFakeRunner()
		runner.Script("sudo cat /opt/iot-stack/docker-compose.yml", testutil.FakeResponse{Stdout: "version: '3'\n"})
		client := newTestClient(t, runner)

		content, err := client.ReadFile(ctx, "/opt/iot-stack/docker-compose.yml")
		require.NoError(t, err)
		assert.Equal(t, "version: '3'\n", content)
	})

	t.Run("missing file", func(t *testing.T) {
		runner := testutil.NewFakeRunner()
		runner.Script("sudo cat /opt/iot-stack/missing.conf", testutil.FakeResponse{
			ExitCode: 1,
			Stderr:   "cat: /opt/iot-stack/missing.conf: No such file or directory",
		})
		client := newTestClient(t, runner)

		_, err := client.ReadFile(ctx, "/opt/iot-stack/missing.conf")
		var notFound *models.NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "file", notFound.Kind)
	})

	t.Run("outside whitelist", func(t *testing.T) {
		runner := testutil.NewFakeRunner()
		client := newTestClient(t, runner)

		_, err := client.ReadFile(ctx, "/etc/shadow")
		var validation *models.ValidationError
		require.ErrorAs(t, err, &validation)
		assert.Empty(t, runner.CallLog())
	})

	t.Run("permission failure stays an error", func(t *testing.T) {
		runner := testutil.NewFakeRunner()
		runner.Script("sudo cat /opt/iot-stack/secret.conf", testutil.FakeResponse{
			ExitCode: 1,
			Stderr:   "sudo: a password is required",
		})
		client := newTestClient(t, runner)

		_, err := client.ReadFile(ctx, "/opt/iot-stack/secret.conf")
		require.Error(t, err)
		var notFound *models.NotFoundError
		assert.False(t, errors.As(err, &notFound))
	})
}

func TestReadCrontab(t *testing.T) {
	ctx := context.Background()

	t.Run("existing crontab", func(t *testing.T) {
		runner := testutil.NewFakeRunner()
		runner.Script("sudo crontab -u svc_iot -l", testutil.FakeResponse{Stdout: "0 * * * * /opt/iot-stack/backup.sh\n"})
		client := newTestClient(t, runner)

		content, err := client.ReadCrontab(ctx, "svc_iot")
		require.NoError(t, err)
		assert.Equal(t, "0 * * * * /opt/iot-stack/backup.sh\n", content)
	})

	t.Run("no crontab is empty not error", func(t *testing.T) {
		runner := testutil.NewFakeRunner()
		runner.Script("sudo crontab -u svc_iot -l", testutil.FakeResponse{
			ExitCode: 1,
			Stderr:   "no crontab for svc_iot",
		})
		client := newTestClient(t, runner)

		content, err := client.ReadCrontab(ctx, "svc_iot")
		require.NoError(t, err)
		assert.Empty(t, content)
	})

	t.Run("other failures propagate", func(t *testing.T) {
		runner := testutil.NewFakeRunner()
		runner.Script("sudo crontab -u root -l", testutil.FakeResponse{
			ExitCode: 1,
			Stderr:   "sudo: not allowed",
		})
		client := newTestClient(t, runner)

		_, err := client.ReadCrontab(ctx, "root")
		assert.Error(t, err)
	})
}

func TestParseComposePSEmpty(t *testing.T) {
	assert.Empty(t, parseComposePS(""))
	assert.Empty(t, parseComposePS("Name   Command   State   Ports\n"))
}
