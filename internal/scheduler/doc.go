// Package scheduler runs the reconciliation loop that publishes due items and
// assigns free cadence slots to the unscheduled backlog.
//
// Each tick:
//   - partitions queued items into ready (scheduled at or before now), future and unscheduled
//   - publishes every ready item, isolating per-item failures
//   - assigns the earliest free candidate slots to unscheduled items in id order
//
// Ticks never overlap, and operator actions (force publish, delete) run under
// the same lock so every store mutation is serialized. The loop keeps no state
// between ticks beyond the store itself.
package scheduler
