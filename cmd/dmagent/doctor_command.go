package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dmagent/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var skipAPI bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, platform commands, the worker and the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if skipAPI {
				client = nil
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			failed := 0
			for _, result := range preflight.RunAll(cmd.Context(), cfg, client) {
				kind := statusOK
				switch {
				case !result.Passed:
					kind = statusError
					failed++
				case result.Optional:
					kind = statusInfo
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipAPI, "no-api", false, "Skip the agent API probe")
	return cmd
}
