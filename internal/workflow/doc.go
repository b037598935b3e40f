// Package workflow advances jobs through the fixed processing pipeline.
//
// The Manager polls the registry for pending jobs, reclaims stale work via
// heartbeats, and walks each claimed job through the separation,
// transcription, and karaoke stages in order. Before a stage executes the
// manager consults the artifact cache (verified cached outputs skip the
// stage), checks the stage's declared prerequisites, and reserves the
// accelerator model variant the stage needs; there is no CPU fallback, so a
// job whose model cannot be loaded fails rather than degrading. While a stage
// runs, the manager drives progress (measured or predicted), stamps
// heartbeats, and fans job events out through the hub.
//
// A stage failure halts the job immediately. Nothing is retried
// automatically; the failure, classified by its taxonomy kind, lands on the
// job record, the event stream, and the configured notifier.
package workflow
