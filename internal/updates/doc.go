// Package updates reconciles desired package operations against the units
// the device already knows about.
//
// A unit is identified by its manifest name. The manifests directory is the
// only persistent registry: a manifest file is written there last, after all
// of its package artifacts have been fetched and verified, so its presence
// means the unit is downloaded. Installed state comes from the privileged
// installer, never from local bookkeeping, which lets a restarted agent
// rebuild the unit set without trusting stale memory.
//
// The Engine is not safe for concurrent use. The agent drives it from the
// single queue worker.
package updates
