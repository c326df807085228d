package bridge

import (
	"io"
	"strings"

	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/pixbridge/internal/errors"
	"github.com/Iron-Ham/pixbridge/internal/event"
	"github.com/Iron-Ham/pixbridge/internal/imaging"
)

// ABIVersion is the layout version of CallbackTable. Workers built against
// a different version must not be loaded.
const ABIVersion uint32 = 4

// LogLevel is the severity of a worker log message.
type LogLevel int32

// Worker log levels, lowest first.
const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

// String returns the level in the form accepted by logging.Logger.Log.
func (l LogLevel) String() string {
	switch l {
	case LogDebug:
		return "DEBUG"
	case LogInfo:
		return "INFO"
	case LogWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// ParseLogLevel converts "debug", "info", "warn" or "error" (any case) to a
// LogLevel. Unknown strings map to LogInfo.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogDebug
	case "warn", "warning":
		return LogWarn
	case "error":
		return LogError
	default:
		return LogInfo
	}
}

// CallbackTable is the fixed set of entry points a worker calls back into.
//
// The field order is part of the ABI shared with pre-built workers and must
// not change without bumping ABIVersion. Every function runs on the call
// thread and never panics; failures are recorded by the supervisor and
// surface in the callback's return value.
type CallbackTable struct {
	// GetMoreWork blocks until work is queued and returns the next batch:
	// each item's arguments followed by ItemTerminator, then BatchTerminator.
	// It returns nil when the worker must leave its pull loop.
	GetMoreWork func() []string
	// GetDimensions returns the shape of the named collaborator, or the
	// zero value on failure. An empty name is the default source.
	GetDimensions func(image string) imaging.Dimensions
	// GetDimensionsByRef stores the shape in out and reports success.
	GetDimensionsByRef func(image string, out *imaging.Dimensions) bool
	// SetDimensions allocates or resizes a destination. An empty name is the
	// default destination.
	SetDimensions func(image string, dims imaging.Dimensions) bool
	// GetPixels copies a slice, or the ROI of it when roi is non-nil, into
	// the transfer buffer and returns a view of the copied bytes. It returns
	// nil on failure. An empty name is the default source.
	GetPixels func(slice int, image string, roi *ROI, cache imaging.CachePolicy) []byte
	// SetPixels copies the start of the transfer buffer into a destination
	// slice or ROI. With async the write may land after the call returns;
	// writes are still applied in call order. An empty name is the default
	// destination.
	SetPixels func(slice int, image string, roi *ROI, cache imaging.CachePolicy, async bool) bool
	// SetPixel writes one sample, for targets without bulk write support.
	SetPixel func(slice int, image string, x, y int, cache imaging.CachePolicy, value float64) bool
	// GetProtobufMetadata serializes the collaborator's metadata into out and
	// returns the number of bytes written, or -1 on failure. Nothing is
	// written when out is too small.
	GetProtobufMetadata func(image string, out []byte) int
	// SetProtobufMetadata attaches a serialized metadata blob. An empty name
	// is the default source.
	SetProtobufMetadata func(in []byte, image string) bool
	// ShouldInterrupt reports and clears a pending interrupt request.
	ShouldInterrupt func() bool
	// ProgressReport forwards a completion percentage to the run's sink.
	ProgressReport func(percent float64)
	// ProgressSetIndeterminate toggles the run's sink between determinate and
	// indeterminate display.
	ProgressSetIndeterminate func(indeterminate bool)
	// Log forwards a worker message to the host log if level is at or above
	// the host threshold.
	Log func(level LogLevel, msg string)
	// PrintCharacters forwards worker console output.
	PrintCharacters func(text string)
	// FreeGetMoreWork returns a batch obtained from GetMoreWork.
	FreeGetMoreWork func(batch []string)
	// Version is ABIVersion as seen by the host.
	Version uint32
	// LogThreshold is the host log threshold at establish time. Workers may
	// skip formatting messages below it.
	LogThreshold LogLevel
}

// Callback names used in logs, errors and events.
const (
	cbGetMoreWork              = "getMoreWork"
	cbGetDimensions            = "getDimensions"
	cbGetDimensionsByRef       = "getDimensionsByRef"
	cbSetDimensions            = "setDimensions"
	cbGetPixels                = "getPixels"
	cbSetPixels                = "setPixels"
	cbSetPixel                 = "setPixel"
	cbGetProtobufMetadata      = "getProtobufMetadata"
	cbSetProtobufMetadata      = "setProtobufMetadata"
	cbProgressReport           = "progressReport"
	cbProgressSetIndeterminate = "progressSetIndeterminate"
	cbPrintCharacters          = "printCharacters"
)

// writeCallbacks are the callbacks whose skipped operations count as
// skipped writes.
var writeCallbacks = map[string]bool{
	cbSetDimensions:       true,
	cbSetPixels:           true,
	cbSetPixel:            true,
	cbSetProtobufMetadata: true,
}

func (s *Supervisor) newCallbackTable() *CallbackTable {
	return &CallbackTable{
		GetMoreWork:              s.getMoreWork,
		GetDimensions:            s.getDimensions,
		GetDimensionsByRef:       s.getDimensionsByRef,
		SetDimensions:            s.setDimensions,
		GetPixels:                s.getPixels,
		SetPixels:                s.setPixels,
		SetPixel:                 s.setPixel,
		GetProtobufMetadata:      s.getProtobufMetadata,
		SetProtobufMetadata:      s.setProtobufMetadata,
		ShouldInterrupt:          s.shouldInterrupt,
		ProgressReport:           s.progressReport,
		ProgressSetIndeterminate: s.progressSetIndeterminate,
		Log:                      s.workerLog,
		PrintCharacters:          s.printCharacters,
		FreeGetMoreWork:          s.freeGetMoreWork,
		Version:                  ABIVersion,
		LogThreshold:             LogLevel(s.logThreshold.Load()),
	}
}

// guard runs fn at the callback boundary. Panics are recovered and treated
// like returned errors. It reports whether fn succeeded.
func (s *Supervisor) guard(callback string, fn func() error) bool {
	s.touch()

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = fn() })
	if r := pc.Recovered(); r != nil {
		err = errors.NewCallbackError(callback, r.AsError())
	}
	if err == nil {
		return true
	}

	var cbErr *errors.CallbackError
	if !errors.As(err, &cbErr) {
		err = errors.NewCallbackError(callback, err)
	}
	s.report(callback, err)
	return false
}

// report records a callback failure. Auxiliary failures are logged and
// skipped; everything else increments the return code.
func (s *Supervisor) report(callback string, err error) {
	log := s.logger.WithCallback(callback)

	if !errors.IsFatal(err) {
		image := ""
		var cbErr *errors.CallbackError
		if errors.As(err, &cbErr) {
			image = cbErr.Image
		}
		if writeCallbacks[callback] {
			s.skippedWrites.Add(1)
		}
		log.Warn("callback skipped", "image", image, "error", err)
		if errors.Is(err, errors.ErrCollaboratorNotFound) {
			s.bus.Publish(event.NewCollaboratorMissingEvent(s.id, callback, image))
		}
		return
	}

	s.countFailure()
	log.Error("callback failed", "error", err)
	s.bus.Publish(event.NewCallbackFailedEvent(s.id, callback, err))
}

// countFailure increments the return code of the current computing phase.
func (s *Supervisor) countFailure() int64 {
	return s.countFailures(1)
}

func (s *Supervisor) countFailures(n int64) int64 {
	s.totalFailures.Add(n)
	return s.failures.Add(n)
}

func (s *Supervisor) shouldInterrupt() bool {
	s.touch()
	return s.interrupt.Swap(false)
}

func (s *Supervisor) workerLog(level LogLevel, msg string) {
	if level < LogLevel(s.logThreshold.Load()) {
		return
	}
	s.workerLogger.Log(level.String(), msg)
}

func (s *Supervisor) printCharacters(text string) {
	s.guard(cbPrintCharacters, func() error {
		if _, err := io.WriteString(s.output, text); err != nil {
			return errors.NewCallbackError(cbPrintCharacters, err).AsAuxiliary()
		}
		return nil
	})
}

func (s *Supervisor) freeGetMoreWork(batch []string) {
	s.batchBytes.Store(0)
	s.logger.Debug("batch released", "args", len(batch))
}
