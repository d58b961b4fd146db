package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds daemon configuration: the SSH target, whitelist bounds,
// and listener settings.
type Config struct {
	ConfigPath string

	SSHHost           string
	SSHPort           int
	SSHUser           string
	SSHKeyPath        string
	AgeIdentitiesPath string
	KnownHostsPath    string
	InsecureHostKey   bool
	CommandTimeout    time.Duration

	DataDir       string
	RunDir        string
	DBPath        string
	SocketPath    string
	MetricsListen string

	DefaultLogLines     int
	MaxLogLines         int
	ExpiryWindow        time.Duration
	SweepInterval       time.Duration
	AllowedFilePrefixes []string
	DefaultProjectDir   string
	NginxContainer      string
	NginxConfPath       string
}

// FileConfig represents supported YAML config overrides.
type FileConfig struct {
	SSHHost           string `yaml:"ssh_host"`
	SSHPort           int    `yaml:"ssh_port"`
	SSHUser           string `yaml:"ssh_user"`
	SSHKeyPath        string `yaml:"ssh_key_path"`
	AgeIdentitiesPath string `yaml:"age_identities_path"`
	KnownHostsPath    string `yaml:"known_hosts_path"`
	InsecureHostKey   bool   `yaml:"insecure_host_key"`
	CommandTimeoutSec int    `yaml:"command_timeout_seconds"`

	DataDir       string `yaml:"data_dir"`
	RunDir        string `yaml:"run_dir"`
	DBPath        string `yaml:"db_path"`
	SocketPath    string `yaml:"socket_path"`
	MetricsListen string `yaml:"metrics_listen"`

	DefaultLogLines     int      `yaml:"default_log_lines"`
	MaxLogLines         int      `yaml:"max_log_lines"`
	ExpiryWindowMinutes int      `yaml:"expiry_window_minutes"`
	SweepIntervalMin    int      `yaml:"sweep_interval_minutes"`
	AllowedFilePrefixes []string `yaml:"allowed_file_prefixes"`
	DefaultProjectDir   string   `yaml:"default_project_dir"`
	NginxContainer      string   `yaml:"nginx_container"`
	NginxConfPath       string   `yaml:"nginx_conf_path"`
}

func DefaultConfig() Config {
	dataDir := "/var/lib/opsgate"
	runDir := "/run/opsgate"
	return Config{
		ConfigPath:          "/etc/opsgate/config.yaml",
		SSHPort:             22,
		SSHUser:             "svc_opsgate",
		SSHKeyPath:          "/etc/opsgate/keys/id_ed25519",
		KnownHostsPath:      "/etc/opsgate/known_hosts",
		CommandTimeout:      60 * time.Second,
		DataDir:             dataDir,
		RunDir:              runDir,
		DBPath:              filepath.Join(dataDir, "opsgate.db"),
		SocketPath:          filepath.Join(runDir, "opsgated.sock"),
		MetricsListen:       "",
		DefaultLogLines:     100,
		MaxLogLines:         2000,
		ExpiryWindow:        24 * time.Hour,
		SweepInterval:       time.Hour,
		AllowedFilePrefixes: []string{"/opt/iot-stack/"},
		DefaultProjectDir:   "/opt/iot-stack",
		NginxContainer:      "nginx",
		NginxConfPath:       "/opt/iot-stack/volumes/nginx/conf/app.conf",
	}
}

// Load reads the YAML config file and applies overrides to defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		cfg.ConfigPath = path
	}
	data, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", cfg.ConfigPath, err)
	}
	var fileCfg FileConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", cfg.ConfigPath, err)
	}
	applyFileConfig(&cfg, fileCfg)
	if fileCfg.DataDir != "" && fileCfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "opsgate.db")
	}
	if fileCfg.RunDir != "" && fileCfg.SocketPath == "" {
		cfg.SocketPath = filepath.Join(cfg.RunDir, "opsgated.sock")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFileConfig(cfg *Config, fileCfg FileConfig) {
	if fileCfg.SSHHost != "" {
		cfg.SSHHost = fileCfg.SSHHost
	}
	if fileCfg.SSHPort > 0 {
		cfg.SSHPort = fileCfg.SSHPort
	}
	if fileCfg.SSHUser != "" {
		cfg.SSHUser = fileCfg.SSHUser
	}
	if fileCfg.SSHKeyPath != "" {
		cfg.SSHKeyPath = fileCfg.SSHKeyPath
	}
	if fileCfg.AgeIdentitiesPath != "" {
		cfg.AgeIdentitiesPath = fileCfg.AgeIdentitiesPath
	}
	if fileCfg.KnownHostsPath != "" {
		cfg.KnownHostsPath = fileCfg.KnownHostsPath
	}
	if fileCfg.InsecureHostKey {
		cfg.InsecureHostKey = true
	}
	if fileCfg.CommandTimeoutSec > 0 {
		cfg.CommandTimeout = time.Duration(fileCfg.CommandTimeoutSec) * time.Second
	}
	if fileCfg.DataDir != "" {
		cfg.DataDir = fileCfg.DataDir
	}
	if fileCfg.RunDir != "" {
		cfg.RunDir = fileCfg.RunDir
	}
	if fileCfg.DBPath != "" {
		cfg.DBPath = fileCfg.DBPath
	}
	if fileCfg.SocketPath != "" {
		cfg.SocketPath = fileCfg.SocketPath
	}
	if fileCfg.MetricsListen != "" {
		cfg.MetricsListen = fileCfg.MetricsListen
	}
	if fileCfg.DefaultLogLines > 0 {
		cfg.DefaultLogLines = fileCfg.DefaultLogLines
	}
	if fileCfg.MaxLogLines > 0 {
		cfg.MaxLogLines = fileCfg.MaxLogLines
	}
	if fileCfg.ExpiryWindowMinutes > 0 {
		cfg.ExpiryWindow = time.Duration(fileCfg.ExpiryWindowMinutes) * time.Minute
	}
	if fileCfg.SweepIntervalMin > 0 {
		cfg.SweepInterval = time.Duration(fileCfg.SweepIntervalMin) * time.Minute
	}
	if len(fileCfg.AllowedFilePrefixes) > 0 {
		cfg.AllowedFilePrefixes = fileCfg.AllowedFilePrefixes
	}
	if fileCfg.DefaultProjectDir != "" {
		cfg.DefaultProjectDir = fileCfg.DefaultProjectDir
	}
	if fileCfg.NginxContainer != "" {
		cfg.NginxContainer = fileCfg.NginxContainer
	}
	if fileCfg.NginxConfPath != "" {
		cfg.NginxConfPath = fileCfg.NginxConfPath
	}
}

// Validate performs basic validation without touching the network.
func (c Config) Validate() error {
	if c.ConfigPath == "" {
		return fmt.Errorf("config_path is required")
	}
	if strings.TrimSpace(c.SSHHost) == "" {
		return fmt.Errorf("ssh_host is required")
	}
	if c.SSHPort <= 0 || c.SSHPort > 65535 {
		return fmt.Errorf("ssh_port must be between 1 and 65535")
	}
	if strings.TrimSpace(c.SSHUser) == "" {
		return fmt.Errorf("ssh_user is required")
	}
	if strings.TrimSpace(c.SSHKeyPath) == "" {
		return fmt.Errorf("ssh_key_path is required")
	}
	if !c.InsecureHostKey && strings.TrimSpace(c.KnownHostsPath) == "" {
		return fmt.Errorf("known_hosts_path is required unless insecure_host_key is set")
	}
	if c.RunDir == "" {
		return fmt.Errorf("run_dir is required")
	}
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.DefaultLogLines <= 0 || c.DefaultLogLines > c.MaxLogLines {
		return fmt.Errorf("default_log_lines must be between 1 and max_log_lines")
	}
	if c.ExpiryWindow <= 0 {
		return fmt.Errorf("expiry_window_minutes must be positive")
	}
	if len(c.AllowedFilePrefixes) == 0 {
		return fmt.Errorf("allowed_file_prefixes is required")
	}
	for _, prefix := range c.AllowedFilePrefixes {
		if !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("allowed_file_prefixes entries must be absolute (got %q)", prefix)
		}
	}
	if strings.TrimSpace(c.MetricsListen) != "" {
		host, _, err := net.SplitHostPort(c.MetricsListen)
		if err != nil {
			return fmt.Errorf("metrics_listen must be host:port: %w", err)
		}
		if !isLoopbackHost(host) {
			return fmt.Errorf("metrics_listen must be localhost-only (got %q)", host)
		}
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
