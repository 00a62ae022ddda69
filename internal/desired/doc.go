// Package desired models the desired-state document the agent reconciles
// toward and the reported-state document it publishes back.
package desired
