package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/yourusername/wordpress-backup/internal/backup"
	"github.com/yourusername/wordpress-backup/internal/config"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, stdout io.Writer) (err error) {
	flags := flag.NewFlagSet("show-history", flag.ContinueOnError)
	host := flags.String("host", os.Getenv(config.EnvHost), "Host to list runs for")
	limit := flags.Int("limit", 20, "Maximum number of runs")
	dbPath := flags.String("db", "", "Path to history database (default from settings file)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		*dbPath = cfg.History.DatabasePath
	}
	if *dbPath == "" {
		return errors.New("history database is not configured (use -db or set history.database_path)")
	}
	if *host == "" {
		return fmt.Errorf("host is required (use -host or set %s)", config.EnvHost)
	}

	store, err := backup.OpenHistory(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close history: %w", closeErr)
		}
	}()

	runs, err := store.ListRuns(context.Background(), *host, *limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSTATUS\tSTATE\tFILE\tSIZE MB\tWARNINGS\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%d\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.Status,
			r.FinalState,
			r.Filename,
			float64(r.SizeBytes)/(1024*1024),
			len(r.Warnings),
			r.ErrorMessage,
		)
	}
	return w.Flush()
}
