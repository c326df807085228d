package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/pixbridge/internal/config"
	"github.com/Iron-Ham/pixbridge/internal/errors"
	"github.com/Iron-Ham/pixbridge/internal/imaging"
	"github.com/Iron-Ham/pixbridge/internal/logging"
	"github.com/Iron-Ham/pixbridge/internal/testutil"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err = root.Execute()
	return buf.String(), err
}

// resetFlags restores every flag of c to its default so commands can be
// executed more than once per process.
func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
}

// setupEnvironment isolates config and logs in temporary directories and
// swaps appFs for an in-memory filesystem.
func setupEnvironment(t *testing.T) (fs afero.Fs, logDir string) {
	t.Helper()

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	logDir = t.TempDir()
	t.Setenv("PIXBRIDGE_LOGGING_DIR", logDir)
	t.Setenv("PIXBRIDGE_PROGRESS_ENABLED", "false")

	fs = afero.NewMemMapFs()
	prev := appFs
	appFs = fs
	t.Cleanup(func() {
		appFs = prev
		viper.Reset()
		for _, c := range []*cobra.Command{runCmd, logsCmd} {
			resetFlags(c)
		}
	})
	return fs, logDir
}

func writePNG(t *testing.T, fs afero.Fs, path string, img imaging.Image) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, 0, imaging.FormatPNG))
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0o644))
}

func readPNG(t *testing.T, fs afero.Fs, path string) *imaging.Stack {
	t.Helper()
	f, err := fs.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := imaging.Decode(f, path, imaging.FormatPNG)
	require.NoError(t, err)
	return img
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "pixbridge", rootCmd.Use)

	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "config", "logs"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestRunCommand_CopiesInputToOutput(t *testing.T) {
	fs, logDir := setupEnvironment(t)
	src := testutil.GradientStack(t, "in", 12, 9, 1)
	writePNG(t, fs, "/data/in.png", src)

	out, err := executeCommand(rootCmd, "run", "-i", "/data/in.png", "-o", "/data/out.png", "--no-progress", "copy")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Delivered 1 item(s), 0 failure(s), 0 skipped write(s)")

	got := readPNG(t, fs, "/data/out.png")
	assert.Equal(t, testutil.SlicePixels(t, src, 0), testutil.SlicePixels(t, got, 0))

	t.Run("logs show the run", func(t *testing.T) {
		out, err := executeCommand(rootCmd, "logs", "--dir", logDir, "-n", "0", "--no-color")
		require.NoError(t, err)
		assert.Contains(t, out, "bridge established")
		assert.Contains(t, out, "bridge=")
	})
}

func TestRunCommand_SeveralItemsAndAuxiliaryImages(t *testing.T) {
	fs, _ := setupEnvironment(t)
	writePNG(t, fs, "/in.png", testutil.GradientStack(t, "in", 8, 8, 1))
	mask := testutil.GradientStack(t, "mask", 4, 4, 1)
	writePNG(t, fs, "/mask.png", mask)

	out, err := executeCommand(rootCmd, "run",
		"-i", "/in.png", "-o", "/out.png", "--aux", "mask=/mask.png",
		"--item", "resize 4 4", "--item", "copy mask", "--item", "echo done")
	require.NoError(t, err, out)
	assert.Contains(t, out, "done\n")
	assert.Contains(t, out, "Delivered 3 item(s), 0 failure(s)")

	got := readPNG(t, fs, "/out.png")
	assert.Equal(t, testutil.SlicePixels(t, mask, 0), testutil.SlicePixels(t, got, 0))
}

func TestRunCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no work items", []string{"run"}, "no work items"},
		{"missing input", []string{"run", "-i", "/nope.png", "ping"}, "failed to open"},
		{"unsupported input", []string{"run", "-i", "/in.jpg", "ping"}, "unsupported image extension"},
		{"bad aux", []string{"run", "--aux", "nameonly", "ping"}, "want name=path"},
		{"bad hint", []string{"run", "--hint", "10", "ping"}, "hint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupEnvironment(t)
			out, err := executeCommand(rootCmd, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error()+out, tt.want)
		})
	}
}

func TestRunCommand_FailedItemReturnsError(t *testing.T) {
	fs, _ := setupEnvironment(t)
	writePNG(t, fs, "/in.png", testutil.GradientStack(t, "in", 4, 4, 1))

	// The default destination is absent without -o, so the write fails.
	out, err := executeCommand(rootCmd, "run", "-i", "/in.png", "ping")
	require.ErrorIs(t, err, errors.ErrRunFailed)
	assert.Contains(t, out, "1 failure(s)")
}

func TestParseHint(t *testing.T) {
	tests := []struct {
		in      string
		want    imaging.Dimensions
		wantErr bool
	}{
		{"64x32", imaging.Dimensions{X: 64, Y: 32, Z: 1, C: 1}, false},
		{"64X32x5", imaging.Dimensions{X: 64, Y: 32, Z: 5, C: 1}, false},
		{" 8 x 8 ", imaging.Dimensions{X: 8, Y: 8, Z: 1, C: 1}, false},
		{"64", imaging.Dimensions{}, true},
		{"0x4", imaging.Dimensions{}, true},
		{"4x-1", imaging.Dimensions{}, true},
		{"axb", imaging.Dimensions{}, true},
		{"1x2x3x4", imaging.Dimensions{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseHint(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, errors.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHintValue(t *testing.T) {
	var h hintValue
	assert.Empty(t, h.String())
	require.NoError(t, h.Set("3x4x5"))
	assert.Equal(t, "3x4x5", h.String())
	require.NoError(t, h.Set(""))
	assert.Empty(t, h.String())
	assert.Equal(t, "WxHxZ", h.Type())
}

func TestWorkItems(t *testing.T) {
	got := workItems([]string{"copy", "a"}, []string{"resize 4  4", "   ", "ping"})
	assert.Equal(t, [][]string{{"copy", "a"}, {"resize", "4", "4"}, {"ping"}}, got)
	assert.Empty(t, workItems(nil, nil))
}

func TestWriteOutput_Stack(t *testing.T) {
	fs := afero.NewMemMapFs()
	stack := testutil.GradientStack(t, "out", 3, 3, 3)

	require.NoError(t, writeOutput(fs, "/o/out.png", stack))
	for _, name := range []string{"/o/out_000.png", "/o/out_001.png", "/o/out_002.png"} {
		exists, err := afero.Exists(fs, name)
		require.NoError(t, err)
		assert.True(t, exists, name)
	}
	got := readPNG(t, fs, "/o/out_002.png")
	assert.Equal(t, testutil.SlicePixels(t, stack, 2), testutil.SlicePixels(t, got, 0))

	err := writeOutput(fs, "/o/empty.png", imaging.NewDeferredStack("empty"))
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestProgressWriter(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressWriter(&buf, 20)

	p.SetValue(50)
	assert.True(t, strings.HasPrefix(buf.String(), "\r"))
	assert.Contains(t, buf.String(), "progress")

	buf.Reset()
	p.SetIndeterminate(true)
	assert.Contains(t, buf.String(), "working...")

	buf.Reset()
	p.SetValue(250)
	assert.InDelta(t, 100.0, p.percent, 1e-9)

	buf.Reset()
	p.Done()
	assert.Equal(t, "\n", buf.String())
	buf.Reset()
	p.Done()
	assert.Empty(t, buf.String(), "second Done() should not print")
}

func TestNewTerminalProgress(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "stderr")
	require.NoError(t, err)
	defer f.Close()

	assert.Nil(t, newTerminalProgress(config.ProgressConfig{Enabled: true, Width: 10}, f), "regular file is not a terminal")
	assert.Nil(t, newTerminalProgress(config.ProgressConfig{Enabled: false}, f))
}

func TestWriteDefaultConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/home/u/.config/pixbridge/config.yaml"
	require.NoError(t, writeDefaultConfig(fs, path))

	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg, "the commented template should match the built-in defaults")

	err = writeDefaultConfig(fs, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestSetConfigValue(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/cfg/config.yaml"

	typed, err := setConfigValue(fs, path, "bridge.queue_capacity", "128")
	require.NoError(t, err)
	assert.Equal(t, 128, typed)

	typed, err = setConfigValue(fs, path, "bridge.terminate_timeout", "1m")
	require.NoError(t, err)
	assert.Equal(t, "1m0s", typed)

	_, err = setConfigValue(fs, path, "progress.enabled", "false")
	require.NoError(t, err)

	v := viper.New()
	v.SetFs(fs)
	config.SetDefaultsOn(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Bridge.QueueCapacity, "earlier values survive later sets")
	assert.Equal(t, time.Minute, cfg.Bridge.TerminateTimeout)
	assert.False(t, cfg.Progress.Enabled)

	t.Run("rejects", func(t *testing.T) {
		tests := []struct {
			key, value, want string
		}{
			{"bridge.nope", "1", "unknown configuration key"},
			{"bridge.queue_capacity", "lots", "invalid value"},
			{"bridge.queue_capacity", "0", "bridge.queue_capacity"},
			{"bridge.log_threshold", "loud", "bridge.log_threshold"},
		}
		for _, tt := range tests {
			_, err := setConfigValue(fs, path, tt.key, tt.value)
			require.Error(t, err, tt.key)
			assert.Contains(t, err.Error(), tt.want)
		}
	})
}

func TestWatchConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bridge:\n  log_threshold: info\n"), 0o644))

	v := viper.New()
	config.SetDefaultsOn(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	changes := make(chan string, 8)
	watchConfig(v, func(c *config.Config) {
		changes <- c.Bridge.LogThreshold
	}, func(error) {})

	// Give the watcher a moment to register before the write.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("bridge:\n  log_threshold: debug\n"), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-changes:
			if got == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("config change was not observed")
		}
	}
}

func TestWatchConfig_NoFile(t *testing.T) {
	called := false
	watchConfig(viper.New(), func(*config.Config) { called = true }, func(error) { called = true })
	assert.False(t, called)
}

func TestExportLogs(t *testing.T) {
	entries := []logging.LogEntry{
		{Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), Level: "INFO", Message: "bridge established", BridgeID: "b1"},
		{Timestamp: time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC), Level: "ERROR", Message: "getPixels failed", BridgeID: "b1", Callback: "getPixels"},
	}

	tests := []struct {
		path   string
		format string
		want   string
	}{
		{"/out/logs.txt", "text", "getPixels failed"},
		{"/out/logs.csv.zst", "csv", "timestamp,level,message"},
		{"/out/logs.json.zst", "json", `"callback": "getPixels"`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, exportLogs(fs, entries, tt.path, tt.format))

			f, err := fs.Open(tt.path)
			require.NoError(t, err)
			defer f.Close()
			var r io.Reader = f
			if strings.HasSuffix(tt.path, ".zst") {
				zr, err := zstd.NewReader(f)
				require.NoError(t, err)
				defer zr.Close()
				r = zr
			}
			data, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Contains(t, string(data), tt.want)
		})
	}

	t.Run("unknown format", func(t *testing.T) {
		err := exportLogs(afero.NewMemMapFs(), entries, "/x.zst", "xml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported export format")
	})
}

func TestBuildLogFilter(t *testing.T) {
	t.Cleanup(func() { resetFlags(logsCmd) })
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	logsLevel, logsSince, logsCallback = "warn", "30m", "setPixels"
	f, err := buildLogFilter(now)
	require.NoError(t, err)
	assert.Equal(t, logging.LevelWarn, f.Level)
	assert.Equal(t, now.Add(-30*time.Minute), f.StartTime)
	assert.Equal(t, "setPixels", f.Callback)

	logsSince = "yesterday"
	_, err = buildLogFilter(now)
	assert.Error(t, err)
}

func TestFormatLogEntry(t *testing.T) {
	e := logging.LogEntry{
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:     "WARN",
		Message:   "terminate dropped undelivered work",
		BridgeID:  "b1",
		Attrs:     map[string]any{"items": 2.0},
	}
	assert.Equal(t, logging.FormatText(e), formatLogEntry(e, false))

	colored := formatLogEntry(e, true)
	for _, want := range []string{"03:04:05.000", "[WARN]", e.Message, "bridge=b1", "items=", "2"} {
		assert.Contains(t, colored, want)
	}
}
