package bridge

import (
	"io"
	"time"

	"github.com/Iron-Ham/pixbridge/internal/event"
	"github.com/Iron-Ham/pixbridge/internal/logging"
)

const (
	// defaultPollInterval is how often a blocking Terminate re-checks the call thread.
	defaultPollInterval = 100 * time.Millisecond
	// defaultQueueCapacity bounds the number of undelivered work items.
	defaultQueueCapacity = 64
	// asyncWriteGoroutines caps the goroutines preparing deferred writes.
	asyncWriteGoroutines = 4
)

// Option configures a Supervisor.
type Option func(*config)

type config struct {
	id            string
	logger        *logging.Logger
	bus           *event.Bus
	registry      *Registry
	output        io.Writer
	pollInterval  time.Duration
	queueCapacity int
	asyncWrites   bool
	debugGuards   bool
	logThreshold  LogLevel
}

// WithID sets the bridge identifier used in logs and events.
// By default a random identifier is generated.
func WithID(id string) Option {
	return func(c *config) {
		c.id = id
	}
}

// WithLogger sets the logger for the supervisor.
func WithLogger(logger *logging.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithBus sets the event bus lifecycle and callback events are published on.
func WithBus(bus *event.Bus) Option {
	return func(c *config) {
		c.bus = bus
	}
}

// WithRegistry enables single-instance enforcement for ExclusiveModule workers.
func WithRegistry(r *Registry) Option {
	return func(c *config) {
		c.registry = r
	}
}

// WithOutput sets where PrintCharacters output from the worker goes.
// The default discards it.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		c.output = w
	}
}

// WithPollInterval sets how often a blocking Terminate re-checks whether the
// call thread has exited. A zero or negative value is replaced with the
// default (100ms).
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		c.pollInterval = d
	}
}

// WithQueueCapacity bounds the work queue. Run waits while it is full.
// A zero or negative value is replaced with the default (64).
func WithQueueCapacity(n int) Option {
	return func(c *config) {
		c.queueCapacity = n
	}
}

// WithAsyncWrites lets SetPixels requests marked async return before the
// write lands in the destination.
func WithAsyncWrites(enabled bool) Option {
	return func(c *config) {
		c.asyncWrites = enabled
	}
}

// WithDebugGuards enables the single-slice-in-flight check on the transfer buffer.
func WithDebugGuards(enabled bool) Option {
	return func(c *config) {
		c.debugGuards = enabled
	}
}

// WithLogThreshold sets the minimum level of worker log messages that are
// forwarded to the host logger.
func WithLogThreshold(level LogLevel) Option {
	return func(c *config) {
		c.logThreshold = level
	}
}
