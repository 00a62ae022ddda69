// Package config loads, normalizes, and validates dmagent configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DMAGENT_API_TOKEN. Both the control process and the privileged worker read
// the same file so the command channel endpoint is discovered in one place.
package config
