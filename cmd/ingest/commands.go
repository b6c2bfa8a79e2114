package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"realtor/ingest/internal/api"
	"realtor/ingest/internal/database"
	"realtor/ingest/internal/fetch"
	"realtor/ingest/internal/models"
	"realtor/ingest/internal/notify"
	"realtor/ingest/internal/orchestrator"
)

const shutdownTimeout = 5 * time.Second

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "ingest [source...]",
		Short: "Ingest real-estate sales and rental data into the canonical store",
		Long: `Fetch, parse, enrich and persist the named sources. With no source
names every enabled source in the catalog is run.

The command exits with status 1 when any requested source fails or is
refused because a run of the same source is already in progress.`,
		Example: `  # Run every enabled source
  ingest

  # Run the sales feed only, against a local SQLite store
  ingest nsw_sales --database-url sqlite://data/ingest.db

  # Try a feed with the first thousand records
  ingest nsw_sales --limit 1000 --log-level debug`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.configureLogger()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSources(cmd.Context(), args)
		},
	}

	// Flags default to the environment so an explicit flag wins.
	flags := root.PersistentFlags()
	flags.StringVar(&a.cfg.DatabaseURL, "database-url", a.cfg.DatabaseURL, "Store connection string (postgres:// or a SQLite path)")
	flags.StringVar(&a.cfg.TempDir, "temp-dir", a.cfg.TempDir, "Working directory for fetched artifacts")
	flags.IntVar(&a.cfg.LimitRecords, "limit", a.cfg.LimitRecords, "Maximum parsed records per source (0 for unlimited)")
	flags.StringVar(&a.cfg.Log.Level, "log-level", a.cfg.Log.Level, "Log level (debug, info, warn, error)")
	flags.IntVar(&a.cfg.SourceConcurrency, "concurrency", a.cfg.SourceConcurrency, "Number of sources run concurrently")

	root.AddCommand(newSourcesCommand(a), newRunsCommand(a), newServeCommand(a))
	return root
}

func newSourcesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the configured sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := a.cfg.SourceCatalog()
			if err != nil {
				return err
			}

			table := tablewriter.NewTable(cmd.OutOrStdout())
			table.Header("ID", "Kind", "Region", "Tier", "Enabled", "URL")
			for _, s := range catalog.All() {
				if err := table.Append(s.ID, string(s.Kind), string(s.Region), string(s.Tier), strconv.FormatBool(s.Enabled), s.URL); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}
}

func newRunsCommand(a *app) *cobra.Command {
	var (
		sourceID string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent ingestion runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), database.RunFilter{SourceID: sourceID, Limit: limit})
			if err != nil {
				return err
			}
			return renderRuns(cmd, runs)
		},
	}
	cmd.Flags().StringVar(&sourceID, "source", "", "Only show runs of this source")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs shown")
	return cmd
}

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only run status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&a.cfg.StatusAddr, "addr", a.cfg.StatusAddr, "Listen address")
	return cmd
}

func (a *app) runSources(ctx context.Context, ids []string) error {
	catalog, err := a.cfg.SourceCatalog()
	if err != nil {
		return err
	}
	sources, err := catalog.Select(ids)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		a.logger.Warn("No enabled sources to run")
		return nil
	}

	notifier, err := notify.New(a.cfg, a.logger)
	if err != nil {
		return err
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	runner := orchestrator.NewRunner(store, fetch.NewFetcher(a.cfg.TempDir, a.logger), notifier, a.cfg, a.logger)
	results := runner.Run(ctx, sources)

	if err := renderResults(a, results); err != nil {
		return err
	}
	if orchestrator.Failed(results) {
		return errSourcesFailed
	}
	return nil
}

func (a *app) serve(ctx context.Context) error {
	catalog, err := a.cfg.SourceCatalog()
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	router := api.NewRouter(api.NewHandler(store, catalog, a.logger), a.cfg.CORSOrigins, a.logger)
	srv := &http.Server{
		Addr:              a.cfg.StatusAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("Starting status server on %s", a.cfg.StatusAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down status server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func renderResults(a *app, results []orchestrator.Result) error {
	table := tablewriter.NewTable(a.out)
	table.Header("Source", "Status", "Fetched", "Inserted", "Updated", "Skipped", "Rejected", "Error")
	for _, r := range results {
		row := []any{r.Source, "refused", "-", "-", "-", "-", "-", ""}
		if r.Run != nil {
			row = []any{r.Source, string(r.Run.Status), r.Run.Fetched, r.Run.Inserted, r.Run.Updated, r.Run.Skipped, r.Run.Rejected, ""}
		}
		if r.Err != nil {
			row[7] = r.Err.Error()
		}
		if err := table.Append(row...); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderRuns(cmd *cobra.Command, runs []models.IngestionRun) error {
	table := tablewriter.NewTable(cmd.OutOrStdout())
	table.Header("Run ID", "Source", "Status", "Started", "Duration", "Fetched", "Inserted", "Updated", "Skipped", "Rejected", "Error")
	for _, run := range runs {
		duration := "-"
		if run.EndedAt != nil {
			duration = run.EndedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		message := ""
		if run.ErrorMessage != nil {
			message = *run.ErrorMessage
		}
		err := table.Append(
			run.RunID, run.SourceID, string(run.Status), run.StartedAt.Format(time.RFC3339), duration,
			run.Fetched, run.Inserted, run.Updated, run.Skipped, run.Rejected, message,
		)
		if err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d run(s)\n", len(runs))
	return nil
}
