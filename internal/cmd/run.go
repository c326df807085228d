package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/pixbridge/internal/bridge"
	"github.com/Iron-Ham/pixbridge/internal/config"
	"github.com/Iron-Ham/pixbridge/internal/errors"
	"github.com/Iron-Ham/pixbridge/internal/event"
	"github.com/Iron-Ham/pixbridge/internal/imaging"
	"github.com/Iron-Ham/pixbridge/internal/logging"
	"github.com/Iron-Ham/pixbridge/internal/worker"
)

// appFs is the filesystem images and exports are read from and written to.
var appFs afero.Fs = afero.NewOsFs()

var runCmd = &cobra.Command{
	Use:   "run [command [args...]]",
	Short: "Run work items through the reference worker",
	Long: `Establish a bridge to the reference worker, submit work items in order
and wait for each to complete.

Positional arguments form a single work item. Use --item to submit several;
each value is split on whitespace. The input image is the default source and
the output image, allocated by the worker, is the default destination.

Examples:
  # Copy every slice of a stack into a new image
  pixbridge run -i in.tiff -o out.png copy

  # Rescale, then copy metadata
  pixbridge run -i in.png -o small.png --item "resize 64 64" --item metadata

  # Use an auxiliary image as a second source
  pixbridge run -i in.png -o out.png --aux mask=mask.png copy mask`,
	RunE: runRun,
}

var (
	runInput      string
	runOutput     string
	runItems      []string
	runAux        []string
	runArgs       []string
	runHint       hintValue
	runNoProgress bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	flags.StringVarP(&runInput, "input", "i", "", "Image used as the default source")
	flags.StringVarP(&runOutput, "output", "o", "", "Where the default destination is written after the run")
	flags.StringArrayVar(&runItems, "item", nil, "Work item to submit (repeatable)")
	flags.StringArrayVar(&runAux, "aux", nil, "Auxiliary image as name=path (repeatable)")
	flags.StringArrayVar(&runArgs, "arg", nil, "Argument passed to the worker at establish (repeatable)")
	flags.Var(&runHint, "hint", "Largest slice shape transferred, as WxH or WxHxZ")
	flags.BoolVar(&runNoProgress, "no-progress", false, "Do not render worker progress")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	items := workItems(args, runItems)
	if len(items) == 0 {
		return errors.Wrap(errors.ErrInvalidInput, "no work items; pass a command or --item")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	catalog, err := buildCatalog(appFs, runInput, runAux)
	if err != nil {
		return err
	}
	var output *imaging.DeferredStack
	if runOutput != "" {
		output = imaging.NewDeferredStack(imaging.DefaultDestination)
		catalog.SetDefaultDestination(output)
	}

	s := bridge.New(worker.New(), catalog, bridgeOptions(cfg, logger, cmd.OutOrStdout())...)
	subscribeWarnings(s.Bus(), cmd.ErrOrStderr())

	watchConfig(viper.GetViper(), func(c *config.Config) {
		s.SetLogThreshold(bridge.ParseLogLevel(c.Bridge.LogThreshold))
		logger.SetLevel(c.Logging.Level)
		logger.Info("configuration reloaded", "log_threshold", c.Bridge.LogThreshold)
	}, func(err error) {
		logger.Warn("ignoring invalid configuration change", "error", err.Error())
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hint := runHint.dims
	if hint == (imaging.Dimensions{}) {
		if src, err := catalog.ResolveImage(imaging.DefaultSource); err == nil {
			hint = imaging.Dimensions{X: src.Width(), Y: src.Height(), Z: 1, C: src.ChannelCount()}
		}
	}
	if err := s.Establish(runArgs, hint); err != nil {
		return err
	}

	var sink bridge.ProgressSink
	var bar *terminalProgress
	if !runNoProgress {
		if bar = newTerminalProgress(cfg.Progress, os.Stderr); bar != nil {
			sink = bar
		}
	}

	runErr := submitAll(ctx, s, items, bridge.RunOptions{KeepAlive: true, Block: true, Progress: sink, Hint: hint})
	if bar != nil {
		bar.Done()
	}

	termCtx := context.Background()
	if cfg.Bridge.TerminateTimeout > 0 {
		var cancel context.CancelFunc
		termCtx, cancel = context.WithTimeout(termCtx, cfg.Bridge.TerminateTimeout)
		defer cancel()
	}
	if err := s.Terminate(termCtx, true); err != nil {
		logger.Warn("worker did not exit in time, releasing it", "error", err.Error())
		s.TerminateForcibly()
	}

	stats := s.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "Delivered %d item(s), %d failure(s), %d skipped write(s)\n",
		stats.Delivered, stats.Failures, stats.SkippedWrites)

	if runErr != nil {
		return runErr
	}
	if output != nil {
		return writeOutput(appFs, runOutput, output)
	}
	return nil
}

// workItems builds the work items for a run: positional arguments first,
// then each --item split on whitespace.
func workItems(positional, items []string) [][]string {
	var out [][]string
	if len(positional) > 0 {
		out = append(out, positional)
	}
	for _, item := range items {
		if fields := strings.Fields(item); len(fields) > 0 {
			out = append(out, fields)
		}
	}
	return out
}

func submitAll(ctx context.Context, s *bridge.Supervisor, items [][]string, opts bridge.RunOptions) error {
	for _, item := range items {
		if err := s.Run(ctx, item, opts); err != nil {
			return fmt.Errorf("%s: %w", item[0], err)
		}
	}
	return nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	logger, err := logging.NewLogger(cfg.Logging.ResolveDir(), cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	return logger, nil
}

// bridgeOptions maps the bridge section of the configuration onto
// supervisor options.
func bridgeOptions(cfg *config.Config, logger *logging.Logger, out io.Writer) []bridge.Option {
	return []bridge.Option{
		bridge.WithLogger(logger),
		bridge.WithOutput(out),
		bridge.WithQueueCapacity(cfg.Bridge.QueueCapacity),
		bridge.WithPollInterval(cfg.Bridge.TerminatePollInterval),
		bridge.WithAsyncWrites(cfg.Bridge.AsyncWriters),
		bridge.WithDebugGuards(cfg.Bridge.DebugGuards),
		bridge.WithLogThreshold(bridge.ParseLogLevel(cfg.Bridge.LogThreshold)),
	}
}

func subscribeWarnings(bus *event.Bus, w io.Writer) {
	bus.Subscribe(event.TypeCollaboratorMissing, func(e event.Event) {
		if m, ok := e.(event.CollaboratorMissingEvent); ok {
			fmt.Fprintf(w, "warning: %s: no image named %q, skipped\n", m.Callback, m.Image)
		}
	})
	bus.Subscribe(event.TypeCallbackFailed, func(e event.Event) {
		if f, ok := e.(event.CallbackFailedEvent); ok {
			fmt.Fprintf(w, "error: %s: %v\n", f.Callback, f.Err)
		}
	})
}

// buildCatalog decodes the input image as the default source and registers
// every name=path auxiliary image.
func buildCatalog(fs afero.Fs, input string, aux []string) (*imaging.Catalog, error) {
	catalog := imaging.NewCatalog(nil, nil)
	if input != "" {
		src, err := readImage(fs, imaging.DefaultSource, input)
		if err != nil {
			return nil, err
		}
		catalog.SetDefaultSource(src)
	}
	for _, arg := range aux {
		name, path, ok := strings.Cut(arg, "=")
		if !ok || name == "" || path == "" {
			return nil, errors.Wrapf(errors.ErrInvalidInput, "auxiliary image %q, want name=path", arg)
		}
		img, err := readImage(fs, name, path)
		if err != nil {
			return nil, err
		}
		catalog.Register(img)
	}
	return catalog, nil
}

func readImage(fs afero.Fs, name, path string) (*imaging.Stack, error) {
	format, err := imaging.FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return imaging.Decode(f, name, format)
}

// writeOutput encodes every slice of img. A single slice goes to path;
// deeper stacks are written as path's stem followed by _000, _001, ...
func writeOutput(fs afero.Fs, path string, img imaging.Image) error {
	if img.Depth() == 0 {
		return errors.Wrap(errors.ErrInvalidInput, "the worker did not allocate the output image")
	}
	format, err := imaging.FormatFromPath(path)
	if err != nil {
		return err
	}
	for z := range img.Depth() {
		target := path
		if img.Depth() > 1 {
			ext := filepath.Ext(path)
			target = fmt.Sprintf("%s_%03d%s", strings.TrimSuffix(path, ext), z, ext)
		}
		if err := writeSlice(fs, target, img, z, format); err != nil {
			return err
		}
	}
	return nil
}

func writeSlice(fs afero.Fs, path string, img imaging.Image, z int, format imaging.Format) error {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := imaging.Encode(f, img, z, format); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// hintValue parses "WxH" or "WxHxZ" into transfer dimensions.
type hintValue struct {
	dims imaging.Dimensions
}

var _ pflag.Value = (*hintValue)(nil)

func (h *hintValue) String() string {
	if h.dims == (imaging.Dimensions{}) {
		return ""
	}
	return fmt.Sprintf("%dx%dx%d", h.dims.X, h.dims.Y, h.dims.Z)
}

func (h *hintValue) Set(s string) error {
	if s == "" {
		h.dims = imaging.Dimensions{}
		return nil
	}
	dims, err := parseHint(s)
	if err != nil {
		return err
	}
	h.dims = dims
	return nil
}

func (h *hintValue) Type() string { return "WxHxZ" }

func parseHint(s string) (imaging.Dimensions, error) {
	parts := strings.Split(strings.ToLower(s), "x")
	if len(parts) < 2 || len(parts) > 3 {
		return imaging.Dimensions{}, errors.Wrapf(errors.ErrInvalidInput, "hint %q, want WxH or WxHxZ", s)
	}
	v := []int{0, 0, 1}
	for i, p := range parts {
		n, err := cast.ToIntE(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			return imaging.Dimensions{}, errors.Wrapf(errors.ErrInvalidInput, "hint component %q", p)
		}
		v[i] = n
	}
	return imaging.Dimensions{X: v[0], Y: v[1], Z: v[2], C: 1}, nil
}
