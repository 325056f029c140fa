// Package projection folds journal events into the lifecycle read models:
// the per-aggregate current-state row, the stage visit history, and the
// per-product pipeline stage counts.
//
// Appliers are idempotent. Every event carries a per-aggregate sequence
// number and each read model row tracks the last sequence it absorbed, so
// replaying an already-applied event is a no-op and an out-of-order event is
// surfaced as a retryable gap.
package projection
