// Package agentapi serves the agent's local HTTP API and provides the client
// the CLI uses to reach it.
//
// Routes:
//
//	GET  /api/status              agent lifecycle and queue state
//	PUT  /api/desired             submit a desired-state document
//	GET  /api/reported            current reported-state document
//	GET  /api/tasks               task history from the journal
//	POST /api/methods/{method}    immediateReboot, reportAll, factoryReset, checkUpdates
//
// When a token is configured every route requires "Authorization: Bearer <token>".
package agentapi
