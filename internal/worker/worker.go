// Package worker implements a reference native worker that speaks the
// bridge callback protocol. It moves slices and metadata between
// collaborators and can rescale single-channel stacks; it exists to drive
// the CLI and to exercise the bridge end to end.
//
// Each work item is a command followed by its arguments:
//
//	ping                          copy slice 0 of the default source to the default destination
//	copy [src] [dst]              copy every slice
//	copy-roi x y w h [src] [dst]  copy a rectangle of every slice
//	metadata [src] [dst]          copy serialized metadata
//	resize w h [src] [dst]        allocate dst at w×h and rescale every slice into it
//	sleep ms                      wait, polling for interrupts
//	echo text...                  print to the bridge output
//	log level text...             log through the bridge
//
// Image names may be omitted or given as "-" for the default source and
// destination.
package worker

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/pixbridge/internal/bridge"
	"github.com/Iron-Ham/pixbridge/internal/errors"
	"github.com/Iron-Ham/pixbridge/internal/imaging"
)

// DefaultModuleID identifies the reference worker in a bridge.Registry.
const DefaultModuleID = "pixbridge/reference"

const (
	defaultMetadataCapacity = 64 << 10
	defaultSleepStep        = 10 * time.Millisecond
)

// Worker is the reference worker. A Worker hosts one session at a time.
type Worker struct {
	moduleID         string
	metadataCapacity int
	sleepStep        time.Duration

	// Session state, owned by the call thread.
	table    *bridge.CallbackTable
	metadata []byte
}

// Option configures a Worker.
type Option func(*Worker)

// WithModuleID overrides the module identity reported to a registry.
func WithModuleID(id string) Option {
	return func(w *Worker) {
		w.moduleID = id
	}
}

// WithMetadataCapacity sets the size of the buffer the worker passes to
// GetProtobufMetadata. Metadata larger than this fails the run.
func WithMetadataCapacity(n int) Option {
	return func(w *Worker) {
		w.metadataCapacity = n
	}
}

// WithSleepStep sets how often "sleep" polls for interrupts.
func WithSleepStep(d time.Duration) Option {
	return func(w *Worker) {
		w.sleepStep = d
	}
}

// New creates a reference worker.
func New(opts ...Option) *Worker {
	w := &Worker{
		moduleID:         DefaultModuleID,
		metadataCapacity: defaultMetadataCapacity,
		sleepStep:        defaultSleepStep,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.sleepStep <= 0 {
		w.sleepStep = defaultSleepStep
	}
	return w
}

// ModuleID implements bridge.ExclusiveModule.
func (w *Worker) ModuleID() string { return w.moduleID }

// Run implements bridge.Worker. It refuses tables of a different ABI
// version, then serves batches until the bridge releases it.
func (w *Worker) Run(table *bridge.CallbackTable, args []string) error {
	if table.Version != bridge.ABIVersion {
		return fmt.Errorf("callback table version %d, worker built for %d", table.Version, bridge.ABIVersion)
	}
	w.table = table
	w.metadata = make([]byte, w.metadataCapacity)
	defer func() {
		w.table = nil
		w.metadata = nil
	}()

	w.logf(bridge.LogInfo, "worker %s started with %d arguments", w.moduleID, len(args))
	for {
		batch := table.GetMoreWork()
		if batch == nil {
			w.logf(bridge.LogDebug, "worker %s released", w.moduleID)
			return nil
		}
		for _, item := range bridge.SplitBatch(batch) {
			if len(item) == 0 {
				continue
			}
			if err := w.dispatch(item[0], item[1:]); err != nil {
				w.logf(bridge.LogError, "%s: %v", item[0], err)
			}
		}
		table.FreeGetMoreWork(batch)
	}
}

func (w *Worker) dispatch(cmd string, args []string) error {
	switch cmd {
	case "ping":
		return w.ping()
	case "copy":
		return w.copy(nil, args)
	case "copy-roi":
		if len(args) < 4 {
			return errors.Wrap(errors.ErrInvalidInput, "copy-roi needs x y w h")
		}
		roi, err := parseROI(args[:4])
		if err != nil {
			return err
		}
		return w.copy(&roi, args[4:])
	case "metadata":
		src, dst := names(args)
		return w.copyMetadata(src, dst)
	case "resize":
		if len(args) < 2 {
			return errors.Wrap(errors.ErrInvalidInput, "resize needs w h")
		}
		width, err := positive(args[0])
		if err != nil {
			return err
		}
		height, err := positive(args[1])
		if err != nil {
			return err
		}
		src, dst := names(args[2:])
		return w.resize(width, height, src, dst)
	case "sleep":
		if len(args) < 1 {
			return errors.Wrap(errors.ErrInvalidInput, "sleep needs a duration in milliseconds")
		}
		ms, err := strconv.Atoi(args[0])
		if err != nil || ms < 0 {
			return errors.Wrapf(errors.ErrInvalidInput, "sleep duration %q", args[0])
		}
		w.sleep(time.Duration(ms) * time.Millisecond)
		return nil
	case "echo":
		w.table.PrintCharacters(strings.Join(args, " ") + "\n")
		return nil
	case "log":
		if len(args) < 1 {
			return errors.Wrap(errors.ErrInvalidInput, "log needs a level")
		}
		w.table.Log(bridge.ParseLogLevel(args[0]), strings.Join(args[1:], " "))
		return nil
	default:
		return errors.Wrapf(errors.ErrInvalidInput, "unknown command %q", cmd)
	}
}

func (w *Worker) ping() error {
	if w.table.GetPixels(0, "", nil, imaging.CacheDefault) == nil {
		return errors.New("read failed")
	}
	if !w.table.SetPixels(0, "", nil, imaging.CacheDefault, false) {
		return errors.New("write failed")
	}
	return nil
}

// copy moves every slice (or roi of it) from src to dst. An unallocated
// destination is first shaped like the source.
func (w *Worker) copy(roi *bridge.ROI, args []string) error {
	src, dst := names(args)
	dims := w.table.GetDimensions(src)
	if dims.Z == 0 {
		return fmt.Errorf("source %s has no slices", display(src, imaging.DefaultSource))
	}

	probe := dst
	if probe == "" {
		probe = imaging.DefaultDestination
	}
	// A missing auxiliary destination is skipped by the host, write by
	// write. Only the default destination has to exist.
	var out imaging.Dimensions
	found := w.table.GetDimensionsByRef(probe, &out)
	if found && out.Z == 0 {
		if !w.table.SetDimensions(dst, dims) {
			return errors.New("allocate destination failed")
		}
	}
	skipping := !found && probe != imaging.DefaultDestination && probe != imaging.DefaultSource
	skipped := 0

	for z := range dims.Z {
		if w.table.ShouldInterrupt() {
			w.logf(bridge.LogWarn, "copy interrupted after %d of %d slices", z, dims.Z)
			return nil
		}
		if w.table.GetPixels(z, src, roi, imaging.CacheDiscard) == nil {
			return fmt.Errorf("read slice %d failed", z)
		}
		if !w.table.SetPixels(z, dst, roi, imaging.CacheDefault, true) {
			if !skipping {
				return fmt.Errorf("write slice %d failed", z)
			}
			skipped++
		}
		w.table.ProgressReport(percent(z+1, dims.Z))
	}
	if skipped > 0 {
		w.logf(bridge.LogInfo, "%d of %d slices not written: no image named %s", skipped, dims.Z, probe)
	}
	return nil
}

func (w *Worker) copyMetadata(src, dst string) error {
	n := w.table.GetProtobufMetadata(src, w.metadata)
	if n < 0 {
		return errors.New("read metadata failed")
	}
	if dst == "" {
		dst = imaging.DefaultDestination
	}
	if !w.table.SetProtobufMetadata(w.metadata[:n], dst) {
		return errors.New("write metadata failed")
	}
	w.logf(bridge.LogDebug, "copied %d bytes of metadata", n)
	return nil
}

func (w *Worker) sleep(d time.Duration) {
	w.table.ProgressSetIndeterminate(true)
	defer w.table.ProgressSetIndeterminate(false)

	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if w.table.ShouldInterrupt() {
			w.logf(bridge.LogInfo, "sleep interrupted")
			return
		}
		time.Sleep(min(w.sleepStep, time.Until(deadline)))
	}
}

// logf formats only messages the host will keep.
func (w *Worker) logf(level bridge.LogLevel, format string, args ...any) {
	if level < w.table.LogThreshold {
		return
	}
	w.table.Log(level, fmt.Sprintf(format, args...))
}

// names returns the source and destination image names from optional
// positional arguments. "-" selects the default.
func names(args []string) (src, dst string) {
	if len(args) > 0 && args[0] != "-" {
		src = args[0]
	}
	if len(args) > 1 && args[1] != "-" {
		dst = args[1]
	}
	return src, dst
}

func display(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

func parseROI(args []string) (bridge.ROI, error) {
	var v [4]int
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return bridge.ROI{}, errors.Wrapf(errors.ErrInvalidInput, "roi component %q", a)
		}
		v[i] = n
	}
	return bridge.ROI{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

func positive(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.Wrapf(errors.ErrInvalidInput, "size %q", s)
	}
	return n, nil
}

func percent(done, total int) float64 {
	return 100 * float64(done) / float64(total)
}
