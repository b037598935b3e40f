// Package preflight provides readiness checks for the directories, disk
// space, external binaries, and accelerator the pipeline depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll once at startup and logs every failure before
//     the workflow begins claiming jobs.
//   - The CLI "lyrebird status" and "lyrebird deps" commands use individual
//     check functions to display readiness.
//
// Optional features are gated by their config toggles; the ntfy check only
// runs when a topic is configured.
package preflight
