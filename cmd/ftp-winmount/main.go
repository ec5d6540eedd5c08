// Command ftp-winmount is the thin process entry point: it parses flags,
// loads configuration, builds the selected back-end, and hands the
// resulting translator to the cgofuse host-driver adapter. Per spec.md §1
// this is an external collaborator to the core — it performs no retry or
// cache logic of its own.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/dansasser/ftp-winmount/backend/drive"
	"github.com/dansasser/ftp-winmount/backend/ftp"
	"github.com/dansasser/ftp-winmount/backend/sftp"
	"github.com/dansasser/ftp-winmount/pkg/config"
	"github.com/dansasser/ftp-winmount/pkg/fsys"
	"github.com/dansasser/ftp-winmount/pkg/fsys/cgofuseadapter"
	"github.com/dansasser/ftp-winmount/pkg/rcache"
	"github.com/dansasser/ftp-winmount/pkg/remote"
)

func main() {
	var (
		configPath   = flag.StringP("config", "c", "", "path to the YAML configuration file")
		mountPoint   = flag.StringP("mount", "m", "", "mount point (overrides mount.mount_point)")
		strictRename = flag.Bool("strict-rename", false, "honor replace_if_exists=false (WinFsp hosts only)")
	)
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "ftp-winmount: -c/--config is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ftp-winmount: %v\n", err)
		os.Exit(1)
	}
	if *mountPoint != "" {
		cfg.Mount.MountPoint = *mountPoint
	}

	log := newLogger(cfg.Logging)

	store, err := buildStore(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ftp-winmount: building back-end: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Connection.Timeout())
	defer cancel()
	if err := store.Connect(ctx); err != nil {
		host := remoteHost(cfg)
		log.Error().Str("host", host).Str("kind", remote.KindOf(err).String()).Err(err).Msg("connect failed")
		fmt.Fprintf(os.Stderr, "ftp-winmount: connecting to %s: %s\n", host, remote.KindOf(err))
		os.Exit(1)
	}

	dirCache := rcache.NewDirectoryCache(cfg.Cache.DirectoryTTL())
	metaCache := rcache.NewMetadataCache(cfg.Cache.MetadataTTL())
	translator := fsys.New(store, dirCache, metaCache,
		fsys.WithVolumeLabel(cfg.Mount.VolumeLabel),
		fsys.WithLogger(log),
	)

	log.Info().Str("mount_point", cfg.Mount.MountPoint).Str("remote", string(cfg.Remote)).Msg("mounting")
	if err := cgofuseadapter.Mount(translator, cfg.Mount.MountPoint, cfg.Mount.VolumeLabel, *strictRename); err != nil {
		log.Error().Err(err).Msg("mount failed")
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var writers []zerolog.LevelWriter
	if cfg.Console {
		writers = append(writers, zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}))
	}
	if cfg.File != "" {
		if f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			writers = append(writers, zerolog.New(f))
		}
	}
	var out zerolog.Logger
	switch len(writers) {
	case 0:
		out = zerolog.New(os.Stderr)
	case 1:
		out = zerolog.New(writers[0])
	default:
		out = zerolog.New(zerolog.MultiLevelWriter(writers...))
	}
	return out.Level(level).With().Timestamp().Logger()
}

func remoteHost(cfg config.Config) string {
	switch cfg.Remote {
	case config.RemoteSFTP:
		return cfg.SSH.Host
	case config.RemoteCloud:
		return "drive.google.com"
	default:
		return cfg.FTP.Host
	}
}

func buildStore(cfg config.Config, log zerolog.Logger) (remote.Store, error) {
	conn := cfg.Connection
	switch cfg.Remote {
	case config.RemoteSFTP:
		return sftp.New(sftp.Options{
			Host:           cfg.SSH.Host,
			Port:           portString(cfg.SSH.Port),
			User:           cfg.SSH.Username,
			Pass:           cfg.SSH.Password,
			KeyFile:        cfg.SSH.KeyFile,
			KeyFilePass:    cfg.SSH.KeyPassphrase,
			KeyUseAgent:    cfg.SSH.UseAgent,
			HostKeyTOFU:    true,
			KnownHostsPath: cfg.SSH.KnownHosts,
			Timeout:        conn.Timeout(),
			RetryAttempts:  conn.RetryAttempts,
			RetryDelay:     conn.RetryDelay(),
		}, log)
	case config.RemoteCloud:
		return drive.New(drive.Options{
			Auth: drive.AuthOptions{
				ClientSecretsFile: cfg.Cloud.ClientSecretsPath,
				TokenFile:         cfg.Cloud.TokenPath,
			},
			RootFolderID:  cfg.Cloud.RootFolderID,
			SharedDrive:   cfg.Cloud.SharedDrive,
			PathIDTTL:     cfg.Cache.PathIDTTL(),
			Timeout:       conn.Timeout(),
			RetryAttempts: conn.RetryAttempts,
			RetryDelay:    conn.RetryDelay(),
		}, log), nil
	default:
		return ftp.New(ftp.Options{
			Host:          cfg.FTP.Host,
			Port:          portString(cfg.FTP.Port),
			User:          cfg.FTP.Username,
			Pass:          cfg.FTP.Password,
			TLS:           cfg.FTP.Secure,
			DisablePassive: !cfg.FTP.PassiveMode,
			Timeout:       conn.Timeout(),
			RetryAttempts: conn.RetryAttempts,
			RetryDelay:    conn.RetryDelay(),
		}, log), nil
	}
}

func portString(p int) string {
	if p == 0 {
		return ""
	}
	return fmt.Sprintf("%d", p)
}
