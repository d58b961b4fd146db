package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opsgate/opsgate/internal/change"
	"github.com/opsgate/opsgate/internal/config"
	"github.com/opsgate/opsgate/internal/db"
	"github.com/opsgate/opsgate/internal/remote"
	"github.com/opsgate/opsgate/internal/sshexec"
)

const (
	shutdownTimeout = 5 * time.Second
	socketPerms     = 0o660
	runDirPerms     = 0o750
)

// Service wires the unix control socket and the optional loopback
// metrics listener.
type Service struct {
	cfg             config.Config
	store           *db.Store
	manager         *change.Manager
	unixListener    net.Listener
	metricsListener net.Listener
	unixServer      *http.Server
	metricsServer   *http.Server
}

// Run opens the store, builds the SSH executor, and serves until ctx is
// canceled.
func Run(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	store, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	service, err := NewService(cfg, store)
	if err != nil {
		_ = store.Close()
		return err
	}
	return service.Serve(ctx)
}

// NewService constructs a service with bound listeners.
func NewService(cfg config.Config, store *db.Store) (*Service, error) {
	executor, err := sshexec.NewExecutor(sshexec.Options{
		Host:              cfg.SSHHost,
		Port:              cfg.SSHPort,
		User:              cfg.SSHUser,
		KeyPath:           cfg.SSHKeyPath,
		AgeIdentitiesPath: cfg.AgeIdentitiesPath,
		KnownHostsPath:    cfg.KnownHostsPath,
		InsecureHostKey:   cfg.InsecureHostKey,
	})
	if err != nil {
		return nil, err
	}
	runner := withTimeout(executor, cfg.CommandTimeout)
	readers, err := remote.NewClient(runner, remote.ClientOptions{
		DefaultLogLines:     cfg.DefaultLogLines,
		MaxLogLines:         cfg.MaxLogLines,
		AllowedFilePrefixes: cfg.AllowedFilePrefixes,
	})
	if err != nil {
		return nil, err
	}
	manager, err := change.NewManager(store, readers, runner, change.Options{
		ExpiryWindow:   cfg.ExpiryWindow,
		NginxConfPath:  cfg.NginxConfPath,
		NginxContainer: cfg.NginxContainer,
	}, log.Default())
	if err != nil {
		return nil, err
	}

	if err := ensureDir(cfg.RunDir, runDirPerms); err != nil {
		return nil, err
	}
	unixListener, err := listenUnix(cfg.SocketPath)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()
	localMux := http.NewServeMux()
	localMux.HandleFunc("/healthz", healthHandler)
	NewOpsAPI(store, manager, readers, cfg.DefaultProjectDir, metrics, log.Default()).Register(localMux)

	unixServer := &http.Server{
		Handler:           localMux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	var metricsListener net.Listener
	var metricsServer *http.Server
	if strings.TrimSpace(cfg.MetricsListen) != "" {
		metricsListener, err = net.Listen("tcp", cfg.MetricsListen)
		if err != nil {
			_ = unixListener.Close()
			return nil, fmt.Errorf("listen metrics %s: %w", cfg.MetricsListen, err)
		}
		metricsMux := http.NewServeMux()
		metricsMux.HandleFunc("/healthz", healthHandler)
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       2 * time.Minute,
		}
	}

	return &Service{
		cfg:             cfg,
		store:           store,
		manager:         manager,
		unixListener:    unixListener,
		metricsListener: metricsListener,
		unixServer:      unixServer,
		metricsServer:   metricsServer,
	}, nil
}

// Serve blocks until shutdown or a listener error occurs. The expiry
// sweeper runs for the lifetime of ctx.
func (s *Service) Serve(ctx context.Context) error {
	log.Printf("opsgated: listening on unix=%s", s.cfg.SocketPath)
	if s.metricsServer != nil {
		log.Printf("opsgated: listening on metrics=%s", s.cfg.MetricsListen)
	}
	go s.manager.RunSweeper(ctx, s.cfg.SweepInterval)

	servers := 1
	errCh := make(chan error, 2)
	go func() { errCh <- s.unixServer.Serve(s.unixListener) }()
	if s.metricsServer != nil {
		servers = 2
		go func() { errCh <- s.metricsServer.Serve(s.metricsListener) }()
	}

	remaining := servers
	var serveErr error

	select {
	case <-ctx.Done():
		// graceful shutdown
	case err := <-errCh:
		remaining = servers - 1
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	s.shutdown()
	for i := 0; i < remaining; i++ {
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) && serveErr == nil {
			serveErr = err
		}
	}

	_ = os.Remove(s.cfg.SocketPath)
	return serveErr
}

func (s *Service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = s.unixServer.Shutdown(ctx)
	if s.metricsServer != nil {
		_ = s.metricsServer.Shutdown(ctx)
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// timeoutRunner bounds every remote command with a deadline so a hung
// remote command cannot wedge an approval forever.
type timeoutRunner struct {
	inner   sshexec.Runner
	timeout time.Duration
}

func withTimeout(inner sshexec.Runner, timeout time.Duration) sshexec.Runner {
	if timeout <= 0 {
		return inner
	}
	return &timeoutRunner{inner: inner, timeout: timeout}
}

func (r *timeoutRunner) Run(ctx context.Context, command string) (sshexec.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.inner.Run(ctx, command)
}

func ensureDir(path string, perms os.FileMode) error {
	if path == "" {
		return errors.New("run_dir is required")
	}
	if err := os.MkdirAll(path, perms); err != nil {
		return fmt.Errorf("create dir %s: %w", path, err)
	}
	return nil
}

func listenUnix(socketPath string) (net.Listener, error) {
	if socketPath == "" {
		return nil, errors.New("socket_path is required")
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), runDirPerms); err != nil {
		return nil, fmt.Errorf("create socket dir %s: %w", filepath.Dir(socketPath), err)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket %s: %w", socketPath, err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, socketPerms); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket %s: %w", socketPath, err)
	}
	return listener, nil
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
