package bridge

import (
	"slices"

	"github.com/Iron-Ham/pixbridge/internal/errors"
	"github.com/Iron-Ham/pixbridge/internal/event"
)

// Batch sentinels. Every delivered item is followed by ItemTerminator and
// the batch ends with BatchTerminator, so a worker walking the raw slice
// stops at the batch boundary.
const (
	ItemTerminator  = "\x00"
	BatchTerminator = "\x00\x00"
)

// WorkItem is one Run call's arguments, queued for the worker.
type WorkItem struct {
	ID   string
	Args []string

	progress  ProgressSink
	hintBytes int
}

// workQueue is a bounded FIFO of work items. It is guarded by the
// supervisor's mutex.
type workQueue struct {
	items    []WorkItem
	capacity int
}

func (q *workQueue) len() int   { return len(q.items) }
func (q *workQueue) full() bool { return len(q.items) >= q.capacity }

func (q *workQueue) push(item WorkItem) {
	q.items = append(q.items, item)
}

// drain removes and returns every queued item in submission order.
func (q *workQueue) drain() []WorkItem {
	items := q.items
	q.items = nil
	return items
}

// bytes returns the total size of all queued arguments.
func (q *workQueue) bytes() int {
	n := 0
	for _, item := range q.items {
		for _, a := range item.Args {
			n += len(a)
		}
	}
	return n
}

// flatten builds the delivered batch for items.
func flatten(items []WorkItem) []string {
	n := 1
	for _, item := range items {
		n += len(item.Args) + 1
	}
	batch := make([]string, 0, n)
	for _, item := range items {
		batch = append(batch, item.Args...)
		batch = append(batch, ItemTerminator)
	}
	return append(batch, BatchTerminator)
}

// SplitBatch recovers the per-item argument lists from a delivered batch.
// Anything after BatchTerminator is ignored.
func SplitBatch(batch []string) [][]string {
	var items [][]string
	var cur []string
	for _, a := range batch {
		switch a {
		case BatchTerminator:
			return items
		case ItemTerminator:
			items = append(items, cur)
			cur = nil
		default:
			cur = append(cur, a)
		}
	}
	return items
}

func validateArgs(args []string) error {
	for i, a := range args {
		if a == ItemTerminator || a == BatchTerminator {
			return errors.Wrapf(errors.ErrInvalidInput, "argument %d is a batch sentinel", i)
		}
	}
	return nil
}

func argBytes(batch []string) int64 {
	var n int64
	for _, a := range batch {
		n += int64(len(a))
	}
	return n
}

// getMoreWork is the worker's pull callback. It waits while the queue is
// empty, the worker is kept alive and no termination is pending, then
// either delivers everything queued as one batch or returns nil.
func (s *Supervisor) getMoreWork() []string {
	s.touch()
	s.writer.flush()

	var events []event.Event

	s.mu.Lock()
	if s.queue.len() == 0 {
		if e := s.endPhaseLocked(); e != nil {
			s.mu.Unlock()
			s.bus.Publish(e)
			s.mu.Lock()
		}
	}

	for s.queue.len() == 0 && s.keepAlive && !s.terminate {
		s.cond.Wait()
	}

	var batch []string
	switch {
	case s.terminate:
		s.terminate = false
		if dropped := s.queue.drain(); len(dropped) > 0 {
			s.countFailures(int64(len(dropped)))
			s.logger.Warn("terminate dropped undelivered work", "items", len(dropped))
		}
		if e := s.endPhaseLocked(); e != nil {
			events = append(events, e)
		}
		s.released = true
	case s.queue.len() == 0:
		// keepAlive was cleared and nothing is left.
		s.released = true
	default:
		items := s.queue.drain()
		hint := 0
		ids := make([]string, len(items))
		for i, item := range items {
			ids[i] = item.ID
			hint = max(hint, item.hintBytes)
		}
		// Progress goes to the last delivered run, or nowhere when it has
		// no sink.
		s.callSink = items[len(items)-1].progress
		s.callSinkGen++
		if buf := s.buffer.Load(); buf != nil {
			buf.ensure(hint)
		}
		batch = flatten(items)
		s.delivered.Add(int64(len(items)))
		s.batchBytes.Store(argBytes(batch))
		events = append(events, event.NewBatchDeliveredEvent(s.id, ids))
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, e := range events {
		s.bus.Publish(e)
	}
	if batch == nil {
		s.logger.Debug("worker released from pull loop")
	}
	return slices.Clip(batch)
}
