// Package progress produces the per-stage progress stream. Stages that can
// measure real work report through an Updater; stages that only know their
// estimated wall time get a predictive sigmoid ticker. Both paths share the
// same emission rules: percentages never decrease within a stage invocation
// and points are dropped until they move at least one percent, so subscribers
// see a calm, strictly forward stream. Only a real completion reports 100.
package progress
