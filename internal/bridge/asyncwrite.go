package bridge

import (
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/stream"
)

// preparedWrite resolves a deferred write's target and returns the function
// that applies it. Preparation may run concurrently with other writes;
// apply calls run one at a time in submission order.
type preparedWrite func() (apply func() error, err error)

// orderedWriter applies deferred pixel writes in the order they were
// submitted. It is owned by the call thread.
type orderedWriter struct {
	maxGoroutines int
	stream        *stream.Stream
	onError       func(error)
}

func newOrderedWriter(maxGoroutines int, onError func(error)) *orderedWriter {
	return &orderedWriter{maxGoroutines: maxGoroutines, onError: onError}
}

// submit queues a write and returns immediately.
func (w *orderedWriter) submit(prepare preparedWrite) {
	if w.stream == nil {
		w.stream = stream.New().WithMaxGoroutines(w.maxGoroutines)
	}
	w.stream.Go(func() stream.Callback {
		var apply func() error
		var err error
		var pc panics.Catcher
		pc.Try(func() { apply, err = prepare() })
		if r := pc.Recovered(); r != nil {
			err = r.AsError()
		}
		return func() {
			if err == nil {
				var applyPC panics.Catcher
				applyPC.Try(func() { err = apply() })
				if r := applyPC.Recovered(); r != nil {
					err = r.AsError()
				}
			}
			if err != nil {
				w.onError(err)
			}
		}
	})
}

// flush blocks until every submitted write has been applied.
func (w *orderedWriter) flush() {
	if w.stream == nil {
		return
	}
	w.stream.Wait()
	w.stream = nil
}
