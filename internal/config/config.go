package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the tool settings. Connection targets come from the
// environment (see LoadJob); everything else may be tuned from a YAML file.
type Config struct {
	SSH       SSHConfig       `yaml:"ssh" json:"ssh"`
	Timeouts  TimeoutConfig   `yaml:"timeouts" json:"timeouts"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Retention RetentionConfig `yaml:"retention" json:"retention"`
	History   HistoryConfig   `yaml:"history" json:"history"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// SSHConfig contains SSH connection and host verification settings
type SSHConfig struct {
	Port            int    `yaml:"port" json:"port"`
	KnownHostsPath  string `yaml:"known_hosts_path" json:"known_hosts_path"`
	TrustOnFirstUse bool   `yaml:"trust_on_first_use" json:"trust_on_first_use"`
	ConnectTimeout  string `yaml:"connect_timeout" json:"connect_timeout"`
}

// TimeoutConfig bounds the blocking remote steps. Empty values mean no limit.
type TimeoutConfig struct {
	Command  string `yaml:"command" json:"command"`
	Transfer string `yaml:"transfer" json:"transfer"`
}

// StorageConfig contains where archives land
type StorageConfig struct {
	LocalDir string        `yaml:"local_dir" json:"local_dir"`
	Mirror   *MirrorConfig `yaml:"mirror,omitempty" json:"mirror,omitempty"`
}

// MirrorConfig describes an optional second copy of the downloaded archive
type MirrorConfig struct {
	Type string `yaml:"type" json:"type"` // "local", "sftp" or "s3"
	Path string `yaml:"path" json:"path"`

	SFTPHost        string `yaml:"sftp_host" json:"sftp_host"`
	SFTPPort        int    `yaml:"sftp_port" json:"sftp_port"`
	SFTPUsername    string `yaml:"sftp_username" json:"sftp_username"`
	SFTPPassword    string `yaml:"sftp_password" json:"sftp_password"`
	SFTPKeyPath     string `yaml:"sftp_key_path" json:"sftp_key_path"`
	KnownHostsPath  string `yaml:"known_hosts_path" json:"known_hosts_path"`
	TrustOnFirstUse bool   `yaml:"trust_on_first_use" json:"trust_on_first_use"`

	S3Bucket    string `yaml:"s3_bucket" json:"s3_bucket"`
	S3Region    string `yaml:"s3_region" json:"s3_region"`
	S3AccessKey string `yaml:"s3_access_key" json:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key" json:"s3_secret_key"`
	S3Endpoint  string `yaml:"s3_endpoint" json:"s3_endpoint"`
}

// RetentionConfig controls pruning of old local archives
type RetentionConfig struct {
	Keep int `yaml:"keep" json:"keep"` // 0 = keep all
}

// HistoryConfig controls the optional SQLite run history
type HistoryConfig struct {
	DatabasePath string `yaml:"database_path" json:"database_path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

// Default returns the settings used when no config file is present
func Default() *Config {
	return &Config{
		SSH: SSHConfig{
			Port:            22,
			TrustOnFirstUse: true,
			ConnectTimeout:  "30s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
	}
}

// Load loads settings from the config file and environment overrides
func Load() (*Config, error) {
	cfg := Default()

	configPath := GetConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if knownHostsPath := os.Getenv("KNOWN_HOSTS_PATH"); knownHostsPath != "" {
		cfg.SSH.KnownHostsPath = knownHostsPath
	}

	if backupDir := os.Getenv("BACKUP_DIR"); backupDir != "" {
		cfg.Storage.LocalDir = backupDir
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.normalizePaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.SSH.Port < 1 || c.SSH.Port > 65535 {
		return fmt.Errorf("ssh.port must be between 1 and 65535")
	}

	for name, value := range map[string]string{
		"ssh.connect_timeout": c.SSH.ConnectTimeout,
		"timeouts.command":    c.Timeouts.Command,
		"timeouts.transfer":   c.Timeouts.Transfer,
	} {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.Retention.Keep < 0 {
		return fmt.Errorf("retention.keep must not be negative")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	if m := c.Storage.Mirror; m != nil {
		switch m.Type {
		case "local":
			if strings.TrimSpace(m.Path) == "" {
				return fmt.Errorf("local mirror requires path")
			}
		case "sftp":
			if m.SFTPHost == "" || m.SFTPUsername == "" {
				return fmt.Errorf("sftp mirror requires sftp_host and sftp_username")
			}
		case "s3":
			if m.S3Bucket == "" {
				return fmt.Errorf("s3 mirror requires s3_bucket")
			}
		default:
			return fmt.Errorf("unsupported mirror type: %s", m.Type)
		}
	}

	return nil
}

// ConnectTimeout returns the dial timeout, zero meaning none
func (c *Config) ConnectTimeout() time.Duration {
	d, _ := parseDuration(c.SSH.ConnectTimeout)
	return d
}

// CommandTimeout returns the remote command limit, zero meaning none
func (c *Config) CommandTimeout() time.Duration {
	d, _ := parseDuration(c.Timeouts.Command)
	return d
}

// TransferTimeout returns the download limit, zero meaning none
func (c *Config) TransferTimeout() time.Duration {
	d, _ := parseDuration(c.Timeouts.Transfer)
	return d
}

func parseDuration(value string) (time.Duration, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", trimmed, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", trimmed)
	}
	return d, nil
}

// GetConfigPath returns the resolved config path
func GetConfigPath() string {
	if configPath := os.Getenv("WPBACKUP_CONFIG"); configPath != "" {
		return configPath
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "wpbackup.yaml")
	}
	return filepath.Join(dir, "wpbackup", "config.yaml")
}

func (c *Config) normalizePaths() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to resolve home directory: %w", err)
	}

	resolvePath := func(value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return ""
		}
		if trimmed == "~" {
			return home
		}
		if strings.HasPrefix(trimmed, "~/") {
			return filepath.Join(home, trimmed[2:])
		}
		if abs, err := filepath.Abs(trimmed); err == nil {
			return abs
		}
		return filepath.Clean(trimmed)
	}

	if strings.TrimSpace(c.Storage.LocalDir) == "" {
		c.Storage.LocalDir = home
	}
	c.Storage.LocalDir = resolvePath(c.Storage.LocalDir)

	if strings.TrimSpace(c.SSH.KnownHostsPath) == "" {
		c.SSH.KnownHostsPath = filepath.Join(filepath.Dir(GetConfigPath()), "known_hosts")
	}
	c.SSH.KnownHostsPath = resolvePath(c.SSH.KnownHostsPath)

	c.History.DatabasePath = resolvePath(c.History.DatabasePath)
	c.Logging.File = resolvePath(c.Logging.File)

	if m := c.Storage.Mirror; m != nil {
		if m.Type == "local" {
			m.Path = resolvePath(m.Path)
		}
		m.SFTPKeyPath = resolvePath(m.SFTPKeyPath)
		m.KnownHostsPath = resolvePath(m.KnownHostsPath)
	}

	return nil
}
