package bridge

import (
	"sync"

	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/pixbridge/internal/logging"
)

// progressUpdate is the latest unsent progress state for a sink.
type progressUpdate struct {
	sink             ProgressSink
	generation       uint64
	value            float64
	hasValue         bool
	indeterminate    bool
	hasIndeterminate bool
}

// progressMailbox decouples the call thread from progress sinks. The call
// thread overwrites a single pending update; a forwarder goroutine delivers
// it. Reports that arrive faster than the sink consumes them are coalesced.
type progressMailbox struct {
	logger *logging.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending *progressUpdate
	busy    bool
	started bool
	closed  bool
}

func newProgressMailbox(logger *logging.Logger) *progressMailbox {
	m := &progressMailbox{logger: logger}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// start launches the forwarder. It is a no-op after the first call.
func (m *progressMailbox) start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true
	go m.forward()
}

// update merges fn into the pending update. An update for a newer sink
// generation replaces the pending one.
func (m *progressMailbox) update(sink ProgressSink, generation uint64, fn func(u *progressUpdate)) {
	if sink == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.pending == nil || m.pending.generation != generation {
		m.pending = &progressUpdate{sink: sink, generation: generation}
	}
	fn(m.pending)
	m.cond.Broadcast()
}

func (m *progressMailbox) setValue(sink ProgressSink, generation uint64, percent float64) {
	m.update(sink, generation, func(u *progressUpdate) {
		u.value = percent
		u.hasValue = true
	})
}

func (m *progressMailbox) setIndeterminate(sink ProgressSink, generation uint64, indeterminate bool) {
	m.update(sink, generation, func(u *progressUpdate) {
		u.indeterminate = indeterminate
		u.hasIndeterminate = true
	})
}

// flush waits until every pending update has been delivered.
func (m *progressMailbox) flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for !m.closed && m.started && (m.pending != nil || m.busy) {
		m.cond.Wait()
	}
}

// close stops the forwarder after it finishes the update in hand. Pending
// updates are dropped.
func (m *progressMailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.pending = nil
	m.cond.Broadcast()
}

func (m *progressMailbox) forward() {
	for {
		m.mu.Lock()
		for m.pending == nil && !m.closed {
			m.cond.Wait()
		}
		if m.closed {
			m.mu.Unlock()
			return
		}
		u := m.pending
		m.pending = nil
		m.busy = true
		m.mu.Unlock()

		m.deliver(u)

		m.mu.Lock()
		m.busy = false
		m.cond.Broadcast()
		m.mu.Unlock()
	}
}

func (m *progressMailbox) deliver(u *progressUpdate) {
	var pc panics.Catcher
	pc.Try(func() {
		if u.hasIndeterminate {
			u.sink.SetIndeterminate(u.indeterminate)
		}
		if u.hasValue {
			u.sink.SetValue(u.value)
		}
	})
	if r := pc.Recovered(); r != nil {
		m.logger.Error("progress sink panicked", "panic", r.Value)
	}
}

func (s *Supervisor) progressReport(percent float64) {
	s.touch()
	s.progress.setValue(s.callSink, s.callSinkGen, percent)
}

func (s *Supervisor) progressSetIndeterminate(indeterminate bool) {
	s.touch()
	s.progress.setIndeterminate(s.callSink, s.callSinkGen, indeterminate)
}
