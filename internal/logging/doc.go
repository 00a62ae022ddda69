// Package logging assembles structured slog loggers and formatting helpers used
// by the agent, the privileged worker, and the CLI.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so task execution can tag log
// lines with task IDs and command tags. A single logger is built at process
// start and handed to every component; there is no package-level logger.
package logging
