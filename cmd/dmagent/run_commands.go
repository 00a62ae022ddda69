package main

import (
	"github.com/spf13/cobra"

	"dmagent/internal/agentrun"
	"dmagent/internal/workerrun"
)

func newAgentCommand(ctx *commandContext) *cobra.Command {
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the agent in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return agentrun.Run(cmd.Context(), cfg, agentrun.Options{DisableWatch: noWatch})
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not watch paths.desired_file")
	return cmd
}

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var fake bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the privileged command worker in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return workerrun.Run(cmd.Context(), cfg, workerrun.Options{Fake: fake})
		},
	}
	cmd.Flags().BoolVar(&fake, "fake", false, "Serve an in-memory platform instead of running commands")
	return cmd
}
