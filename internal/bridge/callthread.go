package bridge

import (
	"fmt"
	"runtime"

	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/pixbridge/internal/errors"
	"github.com/Iron-Ham/pixbridge/internal/event"
)

// startCallThread launches the goroutine that hosts the worker session.
// It stays locked to one OS thread for the whole call, as native modules
// with thread-local state require. done is closed after the exit has been
// recorded.
func (s *Supervisor) startCallThread(table *CallbackTable, args []string, done chan struct{}) {
	go func() {
		defer close(done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		err := s.callWorker(table, args)
		s.callThreadExited(err)
	}()
}

// callWorker makes the single blocking call into the worker.
func (s *Supervisor) callWorker(table *CallbackTable, args []string) (err error) {
	var pc panics.Catcher
	pc.Try(func() { err = s.worker.Run(table, args) })
	if r := pc.Recovered(); r != nil {
		s.logger.Error("worker panicked", "panic", r.Value, "stack", string(r.Stack))
		err = r.AsError()
	}
	return err
}

// callThreadExited records the end of the worker session. An exit that was
// not preceded by the terminating signal from getMoreWork is unexpected and
// counts as a failure of the current phase.
func (s *Supervisor) callThreadExited(err error) {
	s.writer.flush()
	s.progress.flush()

	var phaseEnd, terminated event.Event

	s.mu.Lock()
	requested := s.released
	if !requested {
		s.unexpected = true
		if s.computing {
			s.deathPhase = s.phase
		}
		s.countFailure()
		if err != nil {
			err = fmt.Errorf("%w: %w", errors.ErrWorkerTerminatedUnexpectedly, err)
		} else {
			err = errors.ErrWorkerTerminatedUnexpectedly
		}
	} else if err != nil {
		s.totalFailures.Add(1)
	}
	phaseEnd = s.endPhaseLocked()
	s.threadAlive = false

	switch s.state {
	case StateTerminated:
		// Released by TerminateForcibly.
	case StateTerminating:
		s.state = StateTerminated
		s.releaseLocked()
		terminated = event.NewTerminatedEvent(s.id, false)
	default:
		s.state = StateIdle
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	if requested && err == nil {
		s.logger.Info("call thread exited")
	} else {
		s.logger.Error("call thread exited", "requested", requested, "error", err)
	}
	if phaseEnd != nil {
		s.bus.Publish(phaseEnd)
	}
	s.bus.Publish(event.NewWorkerExitedEvent(s.id, requested, err))
	if terminated != nil {
		s.bus.Publish(terminated)
	}
}
