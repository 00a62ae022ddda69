package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dmagent/internal/journal"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show agent status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			cfg, _ := ctx.ensureConfig()
			status, err := client.Status(cmd.Context())
			if err != nil {
				return wrapAgentError(err, cfg.Paths.APIBind)
			}
			if asJSON {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			agentKind := statusOK
			if !status.Agent.Running || !status.Agent.Accepting {
				agentKind = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine("Agent", agentKind, "running "+yesNo(status.Agent.Running)+", accepting "+yesNo(status.Agent.Accepting), colorize))
			fmt.Fprintln(out, renderStatusLine("Session", statusInfo, status.Agent.SessionID, colorize))
			if !status.Agent.StartedAt.IsZero() {
				fmt.Fprintln(out, renderStatusLine("Uptime", statusInfo, time.Since(status.Agent.StartedAt).Truncate(time.Second).String(), colorize))
			}
			fmt.Fprintln(out, renderStatusLine("Queue", statusInfo, fmt.Sprintf("%d pending, %d submitted", status.Agent.QueueLength, status.Agent.Submitted), colorize))
			failed := status.TaskCounts[string(journal.StatusFailed)]
			taskKind := statusOK
			if failed > 0 {
				taskKind = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine("Tasks", taskKind, fmt.Sprintf("%d succeeded, %d failed", status.TaskCounts[string(journal.StatusSucceeded)], failed), colorize))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newApplyCommand(ctx *commandContext) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "apply <desired.json|->",
		Short: "Submit a desired-state document to the agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read desired document: %w", err)
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			cfg, _ := ctx.ensureConfig()
			resp, err := client.Apply(cmd.Context(), data, wait)
			if err != nil {
				return wrapAgentError(err, cfg.Paths.APIBind)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Submitted %s (correlation %s)\n", strings.Join(resp.Submission.Sections, ", "), resp.Submission.CorrelationID)
			if len(resp.Ignored) > 0 {
				fmt.Fprintf(out, "Ignored unknown sections: %s\n", strings.Join(resp.Ignored, ", "))
			}
			if wait {
				if resp.Error != "" {
					return fmt.Errorf("apply failed: %s", resp.Error)
				}
				fmt.Fprintln(out, "All sections applied")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until every section has been applied")
	return cmd
}

func newReportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the reported-state document",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			cfg, _ := ctx.ensureConfig()
			rep, err := client.Reported(cmd.Context())
			if err != nil {
				return wrapAgentError(err, cfg.Paths.APIBind)
			}
			return writeJSON(cmd, rep)
		},
	}
}

func newTasksCommand(ctx *commandContext) *cobra.Command {
	var name, status string
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List recently finished tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := journal.ListOptions{Name: strings.TrimSpace(name), Limit: limit}
			if strings.TrimSpace(status) != "" {
				parsed, err := journal.ParseStatus(status)
				if err != nil {
					return err
				}
				opts.Status = parsed
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			cfg, _ := ctx.ensureConfig()
			tasks, err := client.Tasks(cmd.Context(), opts)
			if err != nil {
				return wrapAgentError(err, cfg.Paths.APIBind)
			}
			if asJSON {
				return writeJSON(cmd, tasks)
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No tasks recorded")
				return nil
			}
			rows := make([][]string, 0, len(tasks))
			for _, task := range tasks {
				rows = append(rows, []string{
					strconv.FormatInt(task.ID, 10),
					task.Name,
					task.Status,
					task.FinishedAt.Local().Format("2006-01-02 15:04:05"),
					(time.Duration(task.DurationMS) * time.Millisecond).String(),
					task.Error,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Task", "Status", "Finished", "Took", "Error"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Only tasks with this name")
	cmd.Flags().StringVar(&status, "status", "", "Only tasks with this status (succeeded, failed)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

var invokableMethods = []string{"checkUpdates", "factoryReset", "immediateReboot", "reportAll"}

func newInvokeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "invoke <method>",
		Short:     "Invoke a direct method on the agent",
		Long:      "Invoke a direct method on the agent. Methods: " + strings.Join(invokableMethods, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: invokableMethods,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			cfg, _ := ctx.ensureConfig()
			resp, err := client.Invoke(cmd.Context(), args[0])
			if err != nil {
				return wrapAgentError(err, cfg.Paths.APIBind)
			}
			return writeJSON(cmd, resp)
		},
	}
}
