package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"threadmap/internal/store"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the work queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueResetStuckCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth per table and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				stats, err := st.GetStats(cmd.Context())
				if err != nil {
					return err
				}

				rows := [][]string{
					statusRow("city downloads", stats.Cities),
					statusRow("city analyses", stats.Analysis),
					statusRow("images", stats.Images),
					statusRow("detections", stats.Detections),
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable(
					[]string{"Queue", "Pending", "Processing", "Completed", "Failed"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
				))
				fmt.Fprintf(out, "Garment measurements: %d\n", stats.Garments)
				return nil
			})
		},
	}
}

func statusRow(name string, counts store.StatusCounts) []string {
	return []string{
		name,
		strconv.Itoa(counts[store.StatusPending]),
		strconv.Itoa(counts[store.StatusProcessing]),
		strconv.Itoa(counts[store.StatusCompleted]),
		strconv.Itoa(counts[store.StatusFailed]),
	}
}

func newQueueResetStuckCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "reset-stuck",
		Short: "Return rows stuck in processing to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				cutoff := olderThan
				if cutoff <= 0 {
					cfg, err := ctx.ensureConfig()
					if err != nil {
						return err
					}
					cutoff = time.Duration(cfg.Workflow.StaleClaimTimeout) * time.Second
				}
				reclaimed, err := st.ResetStuck(cmd.Context(), cutoff)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d stuck rows (claims older than %s)\n", reclaimed, cutoff)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Reclaim claims older than this (default: configured stale timeout)")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [cities|images|detections|all]",
		Short: "Return terminally failed rows to pending with a fresh retry budget",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "all"
			if len(args) == 1 {
				target = strings.ToLower(args[0])
			}
			return ctx.withStore(func(st *store.Store) error {
				var total int64
				run := func(name string, fn func() (int64, error)) error {
					n, err := fn()
					if err != nil {
						return fmt.Errorf("retry %s: %w", name, err)
					}
					total += n
					return nil
				}

				cmdCtx := cmd.Context()
				switch target {
				case "cities":
					if err := run("cities", func() (int64, error) { return st.RetryFailedCities(cmdCtx) }); err != nil {
						return err
					}
				case "images":
					if err := run("images", func() (int64, error) { return st.RetryFailedImages(cmdCtx) }); err != nil {
						return err
					}
				case "detections":
					if err := run("detections", func() (int64, error) { return st.RetryFailedDetections(cmdCtx) }); err != nil {
						return err
					}
				case "all":
					if err := run("cities", func() (int64, error) { return st.RetryFailedCities(cmdCtx) }); err != nil {
						return err
					}
					if err := run("images", func() (int64, error) { return st.RetryFailedImages(cmdCtx) }); err != nil {
						return err
					}
					if err := run("detections", func() (int64, error) { return st.RetryFailedDetections(cmdCtx) }); err != nil {
						return err
					}
				default:
					return fmt.Errorf("unknown retry target %q (want cities, images, detections, or all)", target)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d failed rows\n", total)
				return nil
			})
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Inspect the shared database file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				health := st.CheckHealth(cmd.Context())
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Database: %s\n", health.DBPath)
				if health.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", health.Error)
					return nil
				}
				fmt.Fprintf(out, "Schema version: %s\n", health.SchemaVersion)
				fmt.Fprintf(out, "Integrity check: %s\n", yesNo(health.IntegrityCheck))
				fmt.Fprintf(out, "Images: %d\n", health.TotalImages)
				if len(health.MissingTables) > 0 {
					fmt.Fprintf(out, "Missing tables: %s\n", strings.Join(health.MissingTables, ", "))
				}
				return nil
			})
		},
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
