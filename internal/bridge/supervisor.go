package bridge

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/pixbridge/internal/errors"
	"github.com/Iron-Ham/pixbridge/internal/event"
	"github.com/Iron-Ham/pixbridge/internal/imaging"
	"github.com/Iron-Ham/pixbridge/internal/logging"
)

// Supervisor owns one native worker session: its lifecycle state, call
// thread, work queue and transfer buffer.
//
// All host methods are safe for concurrent use. Supervisor state is guarded
// by a single mutex; the call thread takes it only inside GetMoreWork.
type Supervisor struct {
	id           string
	worker       Worker
	bus          *event.Bus
	logger       *logging.Logger
	workerLogger *logging.Logger
	registry     *Registry
	output       io.Writer
	pollInterval time.Duration
	asyncWrites  bool
	debugGuards  bool

	catalog atomic.Pointer[imaging.Catalog]
	buffer  atomic.Pointer[transferBuffer]

	interrupt    atomic.Bool  // CancellationFlag
	logThreshold atomic.Int32 // LogLevel
	lastActive   atomic.Int64 // UnixNano
	failures     atomic.Int64 // return code of the current computing phase
	batchBytes   atomic.Int64 // arguments held by the worker

	delivered     atomic.Int64
	totalFailures atomic.Int64
	skippedWrites atomic.Int64

	progress *progressMailbox

	// Owned by the call thread.
	writer      *orderedWriter
	callSink    ProgressSink
	callSinkGen uint64

	mu          sync.Mutex
	cond        *sync.Cond
	state       State
	queue       workQueue
	keepAlive   bool
	terminate   bool // TerminationFlag
	computing   bool
	phase       uint64           // computing phases started so far
	waiters     map[uint64]int   // blocked Run calls per phase
	results     map[uint64]int64 // return codes of finished phases with waiters
	threadAlive bool
	threadDone  chan struct{}
	released    bool // getMoreWork returned the terminating signal
	unexpected  bool
	deathPhase  uint64
	module      string
}

// New creates a Supervisor for worker reading from and writing to the
// collaborators in catalog.
//
// worker and catalog must be non-nil. Passing nil will panic early to
// surface wiring bugs immediately.
func New(worker Worker, catalog *imaging.Catalog, opts ...Option) *Supervisor {
	if worker == nil {
		panic("bridge: Worker must not be nil")
	}
	if catalog == nil {
		panic("bridge: Catalog must not be nil")
	}

	cfg := &config{
		logger:        logging.NopLogger(),
		output:        io.Discard,
		pollInterval:  defaultPollInterval,
		queueCapacity: defaultQueueCapacity,
		logThreshold:  LogInfo,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.id == "" {
		cfg.id = "bridge-" + uuid.NewString()[:8]
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}
	if cfg.bus == nil {
		cfg.bus = event.NewBus(event.WithLogger(cfg.logger))
	}
	if cfg.output == nil {
		cfg.output = io.Discard
	}
	if cfg.pollInterval <= 0 {
		cfg.pollInterval = defaultPollInterval
	}
	if cfg.queueCapacity <= 0 {
		cfg.queueCapacity = defaultQueueCapacity
	}

	logger := cfg.logger.WithBridge(cfg.id)
	s := &Supervisor{
		id:           cfg.id,
		worker:       worker,
		bus:          cfg.bus,
		logger:       logger,
		workerLogger: logger.With("source", "worker"),
		registry:     cfg.registry,
		output:       cfg.output,
		pollInterval: cfg.pollInterval,
		asyncWrites:  cfg.asyncWrites,
		debugGuards:  cfg.debugGuards,
		progress:     newProgressMailbox(logger),
		queue:        workQueue{capacity: cfg.queueCapacity},
		waiters:      make(map[uint64]int),
		results:      make(map[uint64]int64),
	}
	s.cond = sync.NewCond(&s.mu)
	s.catalog.Store(catalog)
	s.logThreshold.Store(int32(cfg.logThreshold))
	s.writer = newOrderedWriter(asyncWriteGoroutines, s.asyncWriteFailed)
	return s
}

// ID returns the bridge identifier.
func (s *Supervisor) ID() string { return s.id }

// Bus returns the event bus the supervisor publishes on.
func (s *Supervisor) Bus() *event.Bus { return s.bus }

// Establish allocates the transfer buffer and starts the call thread with
// the initial arguments. The buffer is sized for the largest slice among
// the catalog's images or hint, whichever is larger.
func (s *Supervisor) Establish(args []string, hint imaging.Dimensions) error {
	s.mu.Lock()
	switch s.state {
	case StateUnestablished:
	case StateTerminated:
		err := s.stateError("establish after terminate", errors.ErrTerminated)
		s.mu.Unlock()
		return err
	default:
		err := s.stateError("establish", errors.ErrAlreadyEstablished)
		s.mu.Unlock()
		return err
	}

	name := workerName(s.worker)
	if mod, ok := s.worker.(ExclusiveModule); ok && s.registry != nil {
		if err := s.registry.Claim(mod.ModuleID(), s.id); err != nil {
			s.mu.Unlock()
			return errors.NewBridgeError("establish", err).WithBridgeID(s.id)
		}
		s.module = mod.ModuleID()
	}

	size := max(s.catalog.Load().LargestSliceBytes(), hint.SliceBytes(imaging.WidestPixelType))
	s.buffer.Store(newTransferBuffer(size, s.debugGuards))
	s.state = StateEstablished
	s.keepAlive = true
	s.threadAlive = true
	s.threadDone = make(chan struct{})
	s.progress.start()
	s.startCallThread(s.newCallbackTable(), slices.Clone(args), s.threadDone)
	s.mu.Unlock()

	s.touch()
	s.logger.Info("bridge established", "worker", name, "buffer_bytes", size, "args", len(args))
	s.bus.Publish(event.NewEstablishedEvent(s.id, name, size))
	return nil
}

// Run queues args as one work item and wakes the worker.
//
// With opts.Block, Run waits until the computing phase that picked up the
// item ends, the call thread dies, or the bridge is terminated, and returns
// an error matching errors.ErrRunFailed if any callback failed during the
// phase. Cancelling ctx while waiting forwards an interrupt to the worker
// and returns an error matching errors.ErrWaitInterrupted.
func (s *Supervisor) Run(ctx context.Context, args []string, opts RunOptions) error {
	if err := validateArgs(args); err != nil {
		return err
	}
	item := WorkItem{
		ID:        uuid.NewString(),
		Args:      slices.Clone(args),
		progress:  opts.Progress,
		hintBytes: opts.Hint.SliceBytes(imaging.WidestPixelType),
	}

	stop := s.broadcastOnDone(ctx)
	defer stop()

	s.mu.Lock()
	if err := s.runnableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	for s.queue.full() {
		if err := ctx.Err(); err != nil {
			s.mu.Unlock()
			return s.waitInterrupted(err)
		}
		s.cond.Wait()
		if err := s.runnableLocked(); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	s.queue.push(item)
	s.keepAlive = opts.KeepAlive
	if !s.computing {
		s.computing = true
		s.phase++
		s.failures.Store(0)
		s.state = StateComputing
	}
	phase := s.phase
	if opts.Block {
		s.waiters[phase]++
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	s.touch()
	log := s.logger.WithRun(item.ID)
	log.Debug("run submitted", "args", len(item.Args), "keep_alive", opts.KeepAlive, "block", opts.Block)
	s.bus.Publish(event.NewRunSubmittedEvent(s.id, item.ID, item.Args, opts.KeepAlive))

	if !opts.Block {
		return nil
	}
	err := s.awaitPhase(ctx, phase)
	s.progress.flush()
	if err != nil {
		log.Warn("run failed", "error", err)
	}
	return err
}

// awaitPhase blocks until phase ends and converts its return code into an
// error.
func (s *Supervisor) awaitPhase(ctx context.Context, phase uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.leavePhaseLocked(phase)

	for s.computing && s.phase == phase {
		if s.state == StateTerminating || s.state == StateTerminated {
			n := s.countFailure()
			return s.stateError("run abandoned by terminate", errors.ErrTerminated).WithFailures(n)
		}
		if err := ctx.Err(); err != nil {
			return s.waitInterrupted(err)
		}
		s.cond.Wait()
	}

	failures := s.results[phase]
	if s.unexpected && s.deathPhase == phase {
		return s.stateError("run", errors.ErrWorkerTerminatedUnexpectedly).WithFailures(failures)
	}
	if failures > 0 {
		return s.stateError("run", errors.ErrRunFailed).WithFailures(failures)
	}
	return nil
}

func (s *Supervisor) leavePhaseLocked(phase uint64) {
	s.waiters[phase]--
	if s.waiters[phase] <= 0 {
		delete(s.waiters, phase)
		delete(s.results, phase)
	}
}

// endPhaseLocked clears the computing flag and records the phase's return
// code for blocked Run calls. It returns nil if no phase was running.
func (s *Supervisor) endPhaseLocked() event.Event {
	if !s.computing {
		return nil
	}
	s.computing = false
	n := s.failures.Load()
	if s.waiters[s.phase] > 0 {
		s.results[s.phase] = n
	}
	if s.state == StateComputing {
		s.state = StateIdle
	}
	s.cond.Broadcast()
	if n > 0 {
		s.logger.Warn("computing phase finished with failures", "phase", s.phase, "failures", n)
	}
	return event.NewBatchCompletedEvent(s.id, s.phase, n)
}

func (s *Supervisor) runnableLocked() error {
	switch s.state {
	case StateUnestablished:
		return s.stateError("run before establish", errors.ErrNotEstablished)
	case StateTerminating, StateTerminated:
		return s.stateError("run after terminate", errors.ErrTerminated)
	}
	if !s.threadAlive || s.released {
		return s.stateError("run", errors.ErrWorkerDead)
	}
	return nil
}

// waitInterrupted turns an abandoned wait into an interrupt request.
func (s *Supervisor) waitInterrupted(cause error) error {
	s.interrupt.Store(true)
	return errors.NewBridgeError("run wait interrupted",
		fmt.Errorf("%w: %w", errors.ErrWaitInterrupted, cause)).WithBridgeID(s.id)
}

// broadcastOnDone wakes waiters on the supervisor's condition variable when
// ctx is cancelled, so they can observe ctx.Err.
func (s *Supervisor) broadcastOnDone(ctx context.Context) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// Interrupt asks the worker to stop at its next ShouldInterrupt poll.
// The worker is never preempted.
func (s *Supervisor) Interrupt() {
	s.interrupt.Store(true)
	s.logger.Debug("interrupt requested")
}

// Terminate sets the termination flag and wakes the worker and all blocked
// callers. With block it waits, re-checking every poll interval, until the
// call thread has exited or ctx ends. Terminated supervisors release the
// transfer buffer and their collaborators. Terminate is idempotent.
func (s *Supervisor) Terminate(ctx context.Context, block bool) error {
	var terminated event.Event

	s.mu.Lock()
	switch s.state {
	case StateUnestablished:
		s.state = StateTerminated
		s.mu.Unlock()
		return nil
	case StateTerminated, StateTerminating:
	default:
		s.state = StateTerminating
		s.terminate = true
		if !s.threadAlive {
			s.state = StateTerminated
			s.releaseLocked()
			terminated = event.NewTerminatedEvent(s.id, false)
		}
		s.logger.Info("terminate requested", "block", block)
	}
	s.cond.Broadcast()
	done := s.threadDone
	s.mu.Unlock()

	if terminated != nil {
		s.bus.Publish(terminated)
	}
	if !block {
		return nil
	}
	return s.awaitExit(ctx, done)
}

func (s *Supervisor) awaitExit(ctx context.Context, done <-chan struct{}) error {
	start := time.Now()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if !s.StillAlive() {
			return nil
		}
		select {
		case <-ctx.Done():
			s.logger.Warn("call thread did not exit", "waited", time.Since(start))
			return errors.NewTimeoutError("waiting for call thread to exit", time.Since(start)).WithCause(ctx.Err())
		case <-done:
		case <-ticker.C:
		}
	}
}

// TerminateForcibly marks the bridge terminated and releases host-side
// resources without waiting for the worker. The call thread cannot be
// preempted; it is abandoned and exits once the worker next pulls or
// returns.
func (s *Supervisor) TerminateForcibly() {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	established := s.state != StateUnestablished
	s.state = StateTerminated
	s.terminate = true
	s.interrupt.Store(true)
	if established {
		s.releaseLocked()
	}
	alive := s.threadAlive
	s.cond.Broadcast()
	s.mu.Unlock()

	if !established {
		return
	}
	s.logger.Warn("bridge terminated forcibly", "call_thread_alive", alive)
	s.bus.Publish(event.NewTerminatedEvent(s.id, true))
}

// releaseLocked drops the transfer buffer, collaborators and module claim.
func (s *Supervisor) releaseLocked() {
	s.buffer.Store(nil)
	s.catalog.Store(nil)
	s.progress.close()
	if s.module != "" {
		s.registry.Release(s.module, s.id)
		s.module = ""
	}
}

// StillAlive reports whether the call thread is running.
func (s *Supervisor) StillAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadAlive
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns lifetime counters.
func (s *Supervisor) Stats() Stats {
	return Stats{
		Delivered:     s.delivered.Load(),
		Failures:      s.totalFailures.Load(),
		SkippedWrites: s.skippedWrites.Load(),
	}
}

// CurrentMemoryUsage returns the bytes held on behalf of the worker: the
// transfer buffer plus queued and delivered arguments.
func (s *Supervisor) CurrentMemoryUsage() int64 {
	var n int64
	if buf := s.buffer.Load(); buf != nil {
		n += int64(buf.capacity())
	}
	s.mu.Lock()
	n += int64(s.queue.bytes())
	s.mu.Unlock()
	return n + s.batchBytes.Load()
}

// LastTimeActive returns when a host call or callback last touched the
// bridge, or the zero time if it never has.
func (s *Supervisor) LastTimeActive() time.Time {
	ns := s.lastActive.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// SetLogThreshold changes the minimum level of forwarded worker log
// messages. The table's LogThreshold keeps its establish-time value.
func (s *Supervisor) SetLogThreshold(level LogLevel) {
	s.logThreshold.Store(int32(level))
}

func (s *Supervisor) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// stateError must be called with mu held.
func (s *Supervisor) stateError(msg string, cause error) *errors.BridgeError {
	return errors.NewBridgeError(msg, cause).WithBridgeID(s.id).WithState(s.state.String())
}

func workerName(w Worker) string {
	if m, ok := w.(ExclusiveModule); ok {
		return m.ModuleID()
	}
	return fmt.Sprintf("%T", w)
}
