package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"callflow_backend/internal/bootstrap"
	"callflow_backend/internal/calls"
	"callflow_backend/internal/processor"
	"callflow_backend/internal/scheduler"

	"github.com/spf13/cobra"
)

func newShowCmd(load runtimeLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "show <external-call-id>",
		Short: "Print a stored call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			rt, err := load(cmd.Context(), bootstrap.Options{})
			if err != nil {
				return err
			}
			defer rt.Close()

			call, err := rt.Store.FindByExternalID(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("find call: %w", err)
			}
			if call == nil {
				return fmt.Errorf("call %s not found", args[0])
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), call)
			}
			printCall(cmd.OutOrStdout(), *call)
			return nil
		},
	}
}

func newPayloadCmd(load runtimeLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payload <external-call-id>",
		Short: "Print the archived webhook body of a call",
		Long: `Print the raw webhook body stored in object storage when the call was accepted.

Examples:
  callctl payload conv_123         # write the JSON body to stdout
  callctl payload conv_123 --url   # print a presigned download link instead`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asURL, _ := cmd.Flags().GetBool("url")

			rt, err := load(cmd.Context(), bootstrap.Options{})
			if err != nil {
				return err
			}
			defer rt.Close()

			call, err := rt.Store.FindByExternalID(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("find call: %w", err)
			}
			if call == nil {
				return fmt.Errorf("call %s not found", args[0])
			}
			if call.RawPayloadKey == nil {
				return fmt.Errorf("call %s has no archived payload", args[0])
			}
			if rt.Archive == nil {
				return errors.New("payload archive not configured (MINIO_ENDPOINT)")
			}

			if asURL {
				link, err := rt.Archive.DownloadURL(cmd.Context(), *call.RawPayloadKey)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), link)
				return nil
			}
			data, err := rt.Archive.Get(cmd.Context(), *call.RawPayloadKey)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().Bool("url", false, "Print a presigned download link")
	return cmd
}

func newReprocessCmd(load runtimeLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reprocess <external-call-id>",
		Short: "Run the pipeline again for one call",
		Long: `Run the processing pipeline for one stored call and wait for the result.

A completed call is left untouched unless --force is given. With --force the
executor runs again even when tickets were already filed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			force, _ := cmd.Flags().GetBool("force")

			rt, err := load(cmd.Context(), bootstrap.Options{Notifications: true})
			if err != nil {
				return err
			}
			defer rt.Close()
			defer rt.EventBus.Wait()

			call, runErr := rt.Processor.Reprocess(cmd.Context(), args[0], force)
			if errors.Is(runErr, calls.ErrNotFound) {
				return fmt.Errorf("call %s not found", args[0])
			}
			if errors.Is(runErr, processor.ErrCallBusy) {
				return fmt.Errorf("call %s is being processed", args[0])
			}
			if call.ExternalCallID == "" {
				return runErr
			}

			if jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), call); err != nil {
					return err
				}
			} else {
				printCall(cmd.OutOrStdout(), call)
			}
			return runErr
		},
	}
	cmd.Flags().Bool("force", false, "Re-run completed calls and re-file tickets")
	return cmd
}

func newReprocessStuckCmd(load runtimeLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reprocess-stuck",
		Short: "Re-run calls that stopped progressing",
		Long: `Re-run the pipeline for calls resting in a non-terminal status.

Examples:
  callctl reprocess-stuck                                  # pending calls older than STUCK_OLDER_THAN
  callctl reprocess-stuck --status failed --older-than 2h  # retry recent failures
  callctl reprocess-stuck --queue                          # hand the sweep to the scheduler`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			rawStatuses, _ := cmd.Flags().GetStringSlice("status")
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			limit, _ := cmd.Flags().GetInt("limit")
			force, _ := cmd.Flags().GetBool("force")
			delay, _ := cmd.Flags().GetDuration("delay")
			queue, _ := cmd.Flags().GetBool("queue")

			statuses, err := parseStatuses(rawStatuses)
			if err != nil {
				return err
			}

			rt, err := load(cmd.Context(), bootstrap.Options{Notifications: !queue})
			if err != nil {
				return err
			}
			defer rt.Close()

			if queue {
				return enqueueSweep(cmd, rt, rawStatuses, olderThan, limit, force)
			}
			defer rt.EventBus.Wait()

			report, err := rt.Processor.ReprocessStuck(cmd.Context(), processor.ReprocessOptions{
				Statuses:  statuses,
				OlderThan: olderThan,
				Limit:     limit,
				Force:     force,
				Delay:     delay,
			})
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "processed: %d  succeeded: %d  failed: %d  skipped: %d\n",
				len(report.Processed), len(report.Succeeded), len(report.Failed), len(report.Skipped))
			for _, f := range report.Failed {
				fmt.Fprintf(out, "  failed %s: %s\n", f.ExternalCallID, f.Error)
			}
			for _, id := range report.Skipped {
				fmt.Fprintf(out, "  skipped %s (locked)\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("status", nil, "Statuses to sweep (default pending_sync,pending_analysis)")
	cmd.Flags().Duration("older-than", 0, "Only calls not updated for this long (default STUCK_OLDER_THAN)")
	cmd.Flags().Int("limit", 0, "Maximum calls to re-run (default STUCK_BATCH_LIMIT, max 500)")
	cmd.Flags().Bool("force", false, "Re-file tickets for calls that already have them")
	cmd.Flags().Duration("delay", 0, "Pause between calls (default REPROCESS_DELAY, negative for none)")
	cmd.Flags().Bool("queue", false, "Enqueue the sweep on the task queue instead of running it here")
	return cmd
}

func enqueueSweep(cmd *cobra.Command, rt *bootstrap.Runtime, statuses []string, olderThan time.Duration, limit int, force bool) error {
	client, err := scheduler.NewClient(rt.Config)
	if err != nil {
		return fmt.Errorf("task queue: %w", err)
	}
	defer client.Close()

	err = client.EnqueueReprocessStuck(cmd.Context(), scheduler.ReprocessStuckPayload{
		Statuses:         statuses,
		OlderThanMinutes: int(olderThan / time.Minute),
		Limit:            limit,
		Force:            force,
	})
	if err != nil {
		return fmt.Errorf("enqueue sweep: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "sweep enqueued")
	return nil
}

func parseStatuses(raw []string) ([]calls.Status, error) {
	var out []calls.Status
	for _, r := range raw {
		s, err := calls.ParseStatus(strings.TrimSpace(r))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func printCall(w io.Writer, c calls.Call) {
	fmt.Fprintf(w, "%s  %s\n", c.ExternalCallID, c.Status)
	fmt.Fprintf(w, "  id:        %s\n", c.ID)
	fmt.Fprintf(w, "  attempts:  %d\n", c.Attempts)
	if c.ClientID != nil {
		fmt.Fprintf(w, "  client:    %s\n", *c.ClientID)
	}
	if len(c.TicketIDs) > 0 {
		fmt.Fprintf(w, "  tickets:   %s\n", strings.Join(c.TicketIDs, ", "))
	}
	if c.CallbackID != nil {
		fmt.Fprintf(w, "  callback:  %s\n", *c.CallbackID)
	}
	if c.AnalysisSummary != nil {
		fmt.Fprintf(w, "  summary:   %s\n", *c.AnalysisSummary)
	}
	if c.ErrorMessage != nil {
		fmt.Fprintf(w, "  error:     %s\n", *c.ErrorMessage)
	}
	for _, e := range c.ProcessingLog {
		fmt.Fprintf(w, "  %s [%s/%s] %s\n", e.At.Format(time.RFC3339), e.Stage, e.Level, e.Message)
	}
}
