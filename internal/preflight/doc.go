// Package preflight provides readiness checks for the directories, platform
// commands and local endpoints dmagent depends on.
//
// These checks run in two contexts:
//   - The worker logs CheckCommands at startup so missing binaries show up
//     before the first command fails.
//   - The CLI "dmagent doctor" command runs RunAll to display overall health.
//
// Optional pieces are skipped when their config is empty.
package preflight
