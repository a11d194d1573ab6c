package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yourusername/wordpress-backup/internal/backup"
	"github.com/yourusername/wordpress-backup/internal/config"
	"github.com/yourusername/wordpress-backup/internal/logging"
	"github.com/yourusername/wordpress-backup/internal/ssh"
)

func main() {
	os.Exit(run(os.Stderr))
}

func run(stderr io.Writer) int {
	// Read the job first so a broken settings file never hides missing variables
	jobConfig, jobErr := config.LoadJob(os.Getenv)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		if jobErr != nil {
			fmt.Fprintf(stderr, "Environment validation failed: %v\n", jobErr)
		}
		return 1
	}

	// Set up logging
	logger, err := logging.InitWithWriter(stderr, cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to set up logging: %v\n", err)
		return 1
	}
	defer logging.Close()

	logger.Info("Starting WordPress backup process")

	if jobErr != nil {
		logger.Error("Environment validation failed", "error", jobErr)
		return 1
	}
	logger.Info("Environment variables validated successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job := backup.NewJob(jobConfig, cfg.Storage.LocalDir, time.Now())

	connector := &backup.SSHConnector{
		Port:            cfg.SSH.Port,
		KnownHostsPath:  cfg.SSH.KnownHostsPath,
		TrustOnFirstUse: cfg.SSH.TrustOnFirstUse,
		Timeout:         cfg.ConnectTimeout(),
		UseAgent:        true,
		Prompter:        ssh.NewTerminalPrompter(),
	}

	opts := backup.RunnerOptions{
		CommandTimeout:  cfg.CommandTimeout(),
		TransferTimeout: cfg.TransferTimeout(),
		Mirror:          backup.MirrorDestinationConfig(cfg.Storage.Mirror, cfg.SSH.KnownHostsPath),
		RetentionKeep:   cfg.Retention.Keep,
		Logger:          logger,
	}

	if path := cfg.History.DatabasePath; path != "" {
		history, err := backup.OpenHistory(path)
		if err != nil {
			logger.Warn("Run history disabled", "path", path, "error", err)
		} else {
			defer history.Close()
			opts.History = history
		}
	}

	runner := backup.NewRunner(connector, backup.NewLocalDestination(cfg.Storage.LocalDir), opts)
	if _, err := runner.Run(ctx, job); err != nil {
		// step failures are logged by the runner where they happen
		var stepErr *backup.StepError
		if !errors.As(err, &stepErr) {
			logger.Error("Backup failed", "error", err)
		}
		return 1
	}

	return 0
}
