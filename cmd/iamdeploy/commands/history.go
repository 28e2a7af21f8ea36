package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/iamdeploy/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		runID    string
		category string
		entity   string
		status   string
		since    time.Duration
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show dispatch history",
		Long: `List recorded dispatches, newest first. Every dispatch, including dry runs
and ad-hoc dispatches through the HTTP API, is recorded with its operation,
signature, result and error code.`,
		Example: `  # Recent dispatches
  iamdeploy history

  # Failures of the last day for one category
  iamdeploy history --category oauth-client --status failed --since 24h

  # Dispatches of one run
  iamdeploy history --run 0b7c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := stores.DispatchFilter{
				RunID:    runID,
				Category: category,
				Entity:   entity,
				Status:   stores.DispatchStatus(status),
				Limit:    limit,
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			return withStore(cmd, func(store stores.Store) error {
				records, err := store.ListDispatches(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), records)
				}

				t := newTable(cmd.OutOrStdout(), "ID", "Started", "Category", "Entity", "Operation", "Status", "Error")
				for _, r := range records {
					t.AppendRow([]interface{}{
						r.ID, formatTime(r.StartedAt), r.Category, r.Entity, r.Operation,
						colorDispatchStatus(r.Status), deref(r.Error),
					})
				}
				t.Render()
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "only dispatches of this run")
	cmd.Flags().StringVar(&category, "category", "", "only this category")
	cmd.Flags().StringVar(&entity, "entity", "", "only this entity name")
	cmd.Flags().StringVar(&status, "status", "", "only this status (succeeded, failed, denied, skipped)")
	cmd.Flags().DurationVar(&since, "since", 0, "only dispatches started within this duration")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of records")

	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryRunsCommand())
	cmd.AddCommand(newHistoryPruneCommand())
	cmd.AddCommand(newHistoryBackupCommand())

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <dispatch-id>",
		Short: "Show one dispatch record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store stores.Store) error {
				rec, err := store.GetDispatch(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
}

func newHistoryRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List apply runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store stores.Store) error {
				runs, err := store.ListRuns(cmd.Context(), limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), runs)
				}

				t := newTable(cmd.OutOrStdout(), "Run", "Started", "Status", "Dry run", "Total", "Succeeded", "Failed", "Skipped")
				for _, r := range runs {
					t.AppendRow([]interface{}{
						r.ID, formatTime(r.StartedAt), colorRunStatus(r.Status), r.DryRun,
						r.Total, r.Succeeded, r.Failed, r.Skipped,
					})
				}
				t.Render()
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")

	return cmd
}

func newHistoryPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:     "prune",
		Short:   "Delete history older than a duration",
		Example: `  iamdeploy history prune --older-than 720h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return withStore(cmd, func(store stores.Store) error {
				n, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d records\n", n)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of the records to delete")

	return cmd
}

func newHistoryBackupCommand() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Copy the history database",
		Long: `Write a consistent copy of the history database. The copy is taken with
VACUUM INTO, so it is safe while a server is recording dispatches.`,
		Example: `  iamdeploy history backup --out history-2026-10-17.db`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outFile == "" {
				return fmt.Errorf("--out is required")
			}
			return withStore(cmd, func(store stores.Store) error {
				if err := store.Backup(cmd.Context(), outFile); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "History copied to %s\n", outFile)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "file to write the copy to")

	return cmd
}

// withStore opens the configured history database for fn.
func withStore(cmd *cobra.Command, fn func(stores.Store) error) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if settings.Store.Path == "" {
		return fmt.Errorf("dispatch history is disabled: store.path is empty")
	}

	store, err := stores.Open(cmd.Context(), settings.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	return fn(store)
}
