// Package daemon coordinates the long-running lyrebird process and its
// external surfaces.
//
// It wires configuration, the job registry, the workflow manager, the
// accelerator manager, and the event hub into a single lifecycle with
// flock-based locking to prevent multiple instances. The daemon exposes
// registry maintenance helpers, accepts submissions on behalf of the HTTP
// and IPC surfaces, and serves the JSON API when an api bind address is
// configured.
//
// Keep orchestration logic here: individual pipeline stages live in their
// own packages while the daemon focuses on startup, shutdown, and high
// level coordination.
package daemon
