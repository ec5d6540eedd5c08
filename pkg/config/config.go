// Package config defines the configuration surface the core consumes (spec
// §6): an enumerated record with explicit fields and defaults, decoded from
// YAML rather than the free-form mapping the original INI loader produced.
// Unknown keys are rejected at decode time; the core never sees a raw map.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Remote selects which back-end a Config targets.
type Remote string

const (
	RemoteFTP   Remote = "ftp"
	RemoteFTPS  Remote = "ftps"
	RemoteSFTP  Remote = "sftp"
	RemoteCloud Remote = "cloud"
)

// FTPConfig carries FTP/FTPS transport parameters.
type FTPConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	PassiveMode bool   `yaml:"passive_mode"`
	Encoding    string `yaml:"encoding"`
	Secure      bool   `yaml:"secure"`
}

// SSHConfig carries SFTP transport parameters.
type SSHConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	KeyFile       string `yaml:"key_file"`
	KeyPassphrase string `yaml:"key_passphrase"`
	UseAgent      bool   `yaml:"use_agent"`
	KnownHosts    string `yaml:"known_hosts_file"`
}

// CloudConfig carries Google Drive transport parameters.
type CloudConfig struct {
	ClientSecretsPath string `yaml:"client_secrets_path"`
	TokenPath         string `yaml:"token_path"`
	RootFolderID      string `yaml:"root_folder_id"`
	SharedDrive       string `yaml:"shared_drive"` // opaque ID or display name
}

// MountConfig carries mount-target parameters.
type MountConfig struct {
	MountPoint  string `yaml:"mount_point"`
	VolumeLabel string `yaml:"volume_label"`
}

// CacheConfig carries the three TTLs named in the external interface.
type CacheConfig struct {
	Enabled              bool `yaml:"enabled"`
	DirectoryTTLSeconds  int  `yaml:"directory_ttl_seconds"`
	MetadataTTLSeconds   int  `yaml:"metadata_ttl_seconds"`
	PathIDTTLSeconds     int  `yaml:"path_id_ttl_seconds"`
}

func (c CacheConfig) DirectoryTTL() time.Duration {
	return time.Duration(c.DirectoryTTLSeconds) * time.Second
}

func (c CacheConfig) MetadataTTL() time.Duration {
	return time.Duration(c.MetadataTTLSeconds) * time.Second
}

func (c CacheConfig) PathIDTTL() time.Duration {
	return time.Duration(c.PathIDTTLSeconds) * time.Second
}

// ConnectionConfig carries retry/timeout parameters shared by every
// back-end's pacer.
type ConnectionConfig struct {
	TimeoutSeconds            int `yaml:"timeout_seconds"`
	RetryAttempts             int `yaml:"retry_attempts"`
	RetryDelaySeconds         int `yaml:"retry_delay_seconds"`
	KeepaliveIntervalSeconds  int `yaml:"keepalive_interval_seconds"`
}

func (c ConnectionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c ConnectionConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

func (c ConnectionConfig) Keepalive() time.Duration {
	return time.Duration(c.KeepaliveIntervalSeconds) * time.Second
}

// LogConfig mirrors the original's logging section; consumed by cmd/ to
// configure zerolog's level and output sinks.
type LogConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// Config is the complete, decoded configuration surface. It is built once
// by the (out-of-core) entry point and passed into the translator's
// constructors; the core never parses configuration itself.
type Config struct {
	Remote     Remote           `yaml:"remote"`
	FTP        FTPConfig        `yaml:"ftp"`
	SSH        SSHConfig        `yaml:"ssh"`
	Cloud      CloudConfig      `yaml:"cloud"`
	Mount      MountConfig      `yaml:"mount"`
	Cache      CacheConfig      `yaml:"cache"`
	Connection ConnectionConfig `yaml:"connection"`
	Logging    LogConfig        `yaml:"logging"`
}

// Default returns the configuration defaults mirrored from the original
// loader's dataclass field defaults.
func Default() Config {
	return Config{
		Remote: RemoteFTP,
		FTP: FTPConfig{
			Port:        21,
			PassiveMode: true,
			Encoding:    "utf-8",
		},
		SSH: SSHConfig{
			Port:       22,
			UseAgent:   true,
			KnownHosts: "~/.ssh/known_hosts",
		},
		Mount: MountConfig{
			VolumeLabel: "FTP Drive",
		},
		Cache: CacheConfig{
			Enabled:             true,
			DirectoryTTLSeconds: 30,
			MetadataTTLSeconds:  60,
			PathIDTTLSeconds:    120,
		},
		Connection: ConnectionConfig{
			TimeoutSeconds:           30,
			RetryAttempts:            3,
			RetryDelaySeconds:        1,
			KeepaliveIntervalSeconds: 60,
		},
		Logging: LogConfig{
			Level:   "info",
			File:    "ftp-winmount.log",
			Console: true,
		},
	}
}

// Load reads and decodes a YAML configuration file over the defaults.
// Unknown keys are rejected (yaml.v3's KnownFields via decoder option),
// matching the original's strict section handling.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the required-field rules the original loader enforced
// (non-empty host for the selected remote, non-empty mount point) and
// normalizes the ftps-implies-secure-ftp rule.
func (c *Config) Validate() error {
	if c.Remote == RemoteFTPS {
		c.FTP.Secure = true
		c.Remote = RemoteFTP
	}

	var missing []string
	switch c.Remote {
	case RemoteSFTP:
		if strings.TrimSpace(c.SSH.Host) == "" {
			missing = append(missing, "ssh.host")
		}
	case RemoteCloud:
		if strings.TrimSpace(c.Cloud.ClientSecretsPath) == "" {
			missing = append(missing, "cloud.client_secrets_path")
		}
	default:
		if strings.TrimSpace(c.FTP.Host) == "" {
			missing = append(missing, "ftp.host")
		}
	}
	if strings.TrimSpace(c.Mount.MountPoint) == "" {
		missing = append(missing, "mount.mount_point")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
