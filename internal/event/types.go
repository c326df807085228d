package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "bridge.established").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Bridge event types.
const (
	TypeEstablished         = "bridge.established"
	TypeRunSubmitted        = "bridge.run_submitted"
	TypeBatchDelivered      = "bridge.batch_delivered"
	TypeBatchCompleted      = "bridge.batch_completed"
	TypeCallbackFailed      = "bridge.callback_failed"
	TypeCollaboratorMissing = "bridge.collaborator_missing"
	TypeWorkerExited        = "bridge.worker_exited"
	TypeTerminated          = "bridge.terminated"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
	bridgeID  string
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// BridgeID returns the identifier of the bridge that emitted the event.
func (e baseEvent) BridgeID() string { return e.bridgeID }

func newBaseEvent(eventType, bridgeID string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
		bridgeID:  bridgeID,
	}
}

// -----------------------------------------------------------------------------
// Lifecycle Events
// -----------------------------------------------------------------------------

// EstablishedEvent is emitted once the call thread is running.
type EstablishedEvent struct {
	baseEvent
	Worker      string // Worker module identity
	BufferBytes int    // Initial transfer buffer capacity
}

// NewEstablishedEvent creates an EstablishedEvent.
func NewEstablishedEvent(bridgeID, worker string, bufferBytes int) EstablishedEvent {
	return EstablishedEvent{
		baseEvent:   newBaseEvent(TypeEstablished, bridgeID),
		Worker:      worker,
		BufferBytes: bufferBytes,
	}
}

// WorkerExitedEvent is emitted when the call thread returns from the worker.
type WorkerExitedEvent struct {
	baseEvent
	Requested bool  // Exit followed a terminate request or keepAlive=false
	Err       error // Error or recovered panic from the worker, if any
}

// NewWorkerExitedEvent creates a WorkerExitedEvent.
func NewWorkerExitedEvent(bridgeID string, requested bool, err error) WorkerExitedEvent {
	return WorkerExitedEvent{
		baseEvent: newBaseEvent(TypeWorkerExited, bridgeID),
		Requested: requested,
		Err:       err,
	}
}

// TerminatedEvent is emitted when the bridge releases its resources.
type TerminatedEvent struct {
	baseEvent
	Forced bool
}

// NewTerminatedEvent creates a TerminatedEvent.
func NewTerminatedEvent(bridgeID string, forced bool) TerminatedEvent {
	return TerminatedEvent{
		baseEvent: newBaseEvent(TypeTerminated, bridgeID),
		Forced:    forced,
	}
}

// -----------------------------------------------------------------------------
// Work Events
// -----------------------------------------------------------------------------

// RunSubmittedEvent is emitted when a work item is queued.
type RunSubmittedEvent struct {
	baseEvent
	RunID     string
	Args      []string
	KeepAlive bool
}

// NewRunSubmittedEvent creates a RunSubmittedEvent.
func NewRunSubmittedEvent(bridgeID, runID string, args []string, keepAlive bool) RunSubmittedEvent {
	return RunSubmittedEvent{
		baseEvent: newBaseEvent(TypeRunSubmitted, bridgeID),
		RunID:     runID,
		Args:      args,
		KeepAlive: keepAlive,
	}
}

// BatchDeliveredEvent is emitted when the worker pulls a batch.
type BatchDeliveredEvent struct {
	baseEvent
	RunIDs []string // Work items in delivery order
}

// NewBatchDeliveredEvent creates a BatchDeliveredEvent.
func NewBatchDeliveredEvent(bridgeID string, runIDs []string) BatchDeliveredEvent {
	return BatchDeliveredEvent{
		baseEvent: newBaseEvent(TypeBatchDelivered, bridgeID),
		RunIDs:    runIDs,
	}
}

// BatchCompletedEvent is emitted when the worker asks for more work with
// an empty queue, which ends the computing phase.
type BatchCompletedEvent struct {
	baseEvent
	Epoch    uint64 // Computing phase counter
	Failures int64  // Return code accumulated during the phase
}

// NewBatchCompletedEvent creates a BatchCompletedEvent.
func NewBatchCompletedEvent(bridgeID string, epoch uint64, failures int64) BatchCompletedEvent {
	return BatchCompletedEvent{
		baseEvent: newBaseEvent(TypeBatchCompleted, bridgeID),
		Epoch:     epoch,
		Failures:  failures,
	}
}

// -----------------------------------------------------------------------------
// Callback Events
// -----------------------------------------------------------------------------

// CallbackFailedEvent is emitted when a callback fails and increments the
// return code.
type CallbackFailedEvent struct {
	baseEvent
	Callback string
	Err      error
}

// NewCallbackFailedEvent creates a CallbackFailedEvent.
func NewCallbackFailedEvent(bridgeID, callback string, err error) CallbackFailedEvent {
	return CallbackFailedEvent{
		baseEvent: newBaseEvent(TypeCallbackFailed, bridgeID),
		Callback:  callback,
		Err:       err,
	}
}

// CollaboratorMissingEvent is emitted when a write targets an auxiliary
// destination that is not registered. The write is skipped.
type CollaboratorMissingEvent struct {
	baseEvent
	Callback string
	Image    string
}

// NewCollaboratorMissingEvent creates a CollaboratorMissingEvent.
func NewCollaboratorMissingEvent(bridgeID, callback, image string) CollaboratorMissingEvent {
	return CollaboratorMissingEvent{
		baseEvent: newBaseEvent(TypeCollaboratorMissing, bridgeID),
		Callback:  callback,
		Image:     image,
	}
}
