package bridge

import (
	"fmt"

	"github.com/Iron-Ham/pixbridge/internal/imaging"
)

// Worker is a native computation module.
type Worker interface {
	// Run hosts the worker's entire session. It is called exactly once, on
	// the call thread, with the establish arguments, and should loop on
	// table.GetMoreWork until it returns nil. Views returned by GetPixels
	// are only valid until the next pixel callback or pull.
	Run(table *CallbackTable, args []string) error
}

// WorkerFunc adapts an ordinary function to the Worker interface.
type WorkerFunc func(table *CallbackTable, args []string) error

// Run calls f(table, args).
func (f WorkerFunc) Run(table *CallbackTable, args []string) error {
	return f(table, args)
}

// ExclusiveModule is implemented by workers that allow at most one live
// session per module identity. Supervisors configured with a Registry
// claim the identity during Establish.
type ExclusiveModule interface {
	Worker
	ModuleID() string
}

// ProgressSink receives progress reported by the worker for a run.
type ProgressSink interface {
	SetValue(percent float64)
	SetIndeterminate(indeterminate bool)
}

// RunOptions controls how a work item is submitted.
type RunOptions struct {
	// KeepAlive keeps the worker in its pull loop after the queue drains.
	// The last submitted run decides.
	KeepAlive bool
	// Block waits until the computing phase that picked up the item ends.
	Block bool
	// Progress receives progress reports while the item's batch runs.
	Progress ProgressSink
	// Hint is the largest slice shape the item will transfer. The transfer
	// buffer is grown to fit before the batch is delivered.
	Hint imaging.Dimensions
}

// ROI is a rectangular sub-area of a slice, in pixels.
type ROI struct {
	X, Y          int
	Width, Height int
}

// String returns the ROI in WxH+X+Y form.
func (r ROI) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}

// State is the lifecycle state of a Supervisor.
type State int

// Lifecycle states.
const (
	StateUnestablished State = iota
	StateEstablished
	StateComputing
	StateIdle
	StateTerminating
	StateTerminated
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateUnestablished:
		return "unestablished"
	case StateEstablished:
		return "established"
	case StateComputing:
		return "computing"
	case StateIdle:
		return "idle"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stats holds lifetime counters for a Supervisor.
type Stats struct {
	Delivered     int64 // Work items handed to the worker
	Failures      int64 // Return-code increments across all phases
	SkippedWrites int64 // Writes dropped because an auxiliary target was missing
}
