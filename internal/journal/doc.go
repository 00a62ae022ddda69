// Package journal persists the history of executed agent tasks in SQLite.
//
// The journal is informational: the agent records every finished task so the
// local API and `dmagent tasks` can show what ran, when, and how it ended.
// Nothing in the reconciliation path reads it back.
package journal
