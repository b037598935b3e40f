// Package gpu owns the accelerator. It tracks which model variants are
// resident, reference-counts handles so a variant is never evicted while a
// stage is using it, single-flights concurrent loads of the same variant, and
// admits new loads against a VRAM budget with LRU eviction of idle residents.
//
// There is deliberately no CPU fallback: when no accelerator is present,
// Acquire fails immediately so jobs fail fast instead of grinding for hours.
package gpu
