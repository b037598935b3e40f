// Package registry persists jobs and their per-stage lifecycle in SQLite.
//
// The Store manages database connections, schema initialization, duplicate
// detection by content fingerprint, stage transition validation, heartbeat
// tracking, and stale-job recovery. Jobs capture progress, probe metadata,
// and model variants so stages can coordinate without additional state.
//
// The database is treated as transient storage for in-flight jobs rather than
// a long-term archive. Schema changes bump the version in schema.go; users
// clear the database to adopt the new schema.
//
// Treat this package as the single source of truth for job semantics; when you
// add new statuses or metadata fields, update schema.sql and bump schemaVersion.
package registry
