package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/pixbridge/internal/config"
	"github.com/Iron-Ham/pixbridge/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View bridge logs",
	Long: `View, filter and export the host log, including rotated backups.

Examples:
  # Show the last 50 entries
  pixbridge logs

  # Show every warning or error from the last hour
  pixbridge logs --level warn --since 1h -n 0

  # Entries from one run of one bridge
  pixbridge logs --bridge 1f0c --run 7a2e

  # Export matching entries as CSV, compressed with zstd
  pixbridge logs --grep getPixels --export pixels.csv.zst --format csv`,
	RunE: runLogs,
}

var (
	logsDir      string
	logsTail     int
	logsLevel    string
	logsSince    string
	logsBridge   string
	logsRun      string
	logsCallback string
	logsGrep     string
	logsExport   string
	logsFormat   string
	logsNoColor  bool
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsDir, "dir", "", "Log directory (default: logging.dir from config)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsBridge, "bridge", "", "Only entries from this bridge ID")
	logsCmd.Flags().StringVar(&logsRun, "run", "", "Only entries from this run ID")
	logsCmd.Flags().StringVar(&logsCallback, "callback", "", "Only entries logged by this callback")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Only entries whose message contains this text")
	logsCmd.Flags().StringVar(&logsExport, "export", "", "Write matching entries to this file instead (.zst compresses)")
	logsCmd.Flags().StringVar(&logsFormat, "format", "json", "Export format: json, text or csv")
	logsCmd.Flags().BoolVar(&logsNoColor, "no-color", false, "Disable colored output")
}

var levelStyles = map[string]lipgloss.Style{
	logging.LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	logging.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
	logging.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	logging.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
}

var (
	timeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	scopeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

func runLogs(cmd *cobra.Command, args []string) error {
	dir := logsDir
	if dir == "" {
		dir = config.Get().Logging.ResolveDir()
	}

	filter, err := buildLogFilter(time.Now())
	if err != nil {
		return err
	}

	entries, err := logging.AggregateLogs(dir)
	if err != nil {
		return fmt.Errorf("failed to read logs in %s: %w", dir, err)
	}
	entries = logging.FilterLogs(entries, filter)

	if logsExport != "" {
		if err := exportLogs(appFs, entries, logsExport, logsFormat); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", len(entries), logsExport)
		return nil
	}

	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No matching log entries found.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintln(cmd.OutOrStdout(), formatLogEntry(e, !logsNoColor))
	}
	return nil
}

func buildLogFilter(now time.Time) (logging.LogFilter, error) {
	filter := logging.LogFilter{
		BridgeID:        logsBridge,
		RunID:           logsRun,
		Callback:        logsCallback,
		MessageContains: logsGrep,
	}
	if logsLevel != "" {
		filter.Level = logging.ParseLevel(logsLevel)
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return filter, fmt.Errorf("invalid duration format: %w", err)
		}
		filter.StartTime = now.Add(-d)
	}
	return filter, nil
}

// exportLogs writes entries to path. A .zst suffix compresses the output;
// the format is taken from the flag, not the extension.
func exportLogs(fs afero.Fs, entries []logging.LogEntry, path, format string) error {
	if !strings.HasSuffix(path, ".zst") {
		return logging.ExportLogEntries(fs, entries, path, format)
	}

	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to start compression: %w", err)
	}
	if err := logging.WriteLogEntries(zw, entries, format); err != nil {
		_ = zw.Close()
		_ = f.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to finish compression: %w", err)
	}
	return f.Close()
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(e logging.LogEntry, color bool) string {
	if !color {
		return logging.FormatText(e)
	}

	var sb strings.Builder
	sb.WriteString(timeStyle.Render("[" + e.Timestamp.Format("15:04:05.000") + "]"))
	sb.WriteString(" ")
	level := strings.ToUpper(e.Level)
	if style, ok := levelStyles[level]; ok {
		sb.WriteString(style.Render("[" + level + "]"))
	} else {
		sb.WriteString("[" + level + "]")
	}
	sb.WriteString(" ")
	sb.WriteString(e.Message)

	for _, kv := range [][2]string{{"bridge", e.BridgeID}, {"run", e.RunID}, {"callback", e.Callback}} {
		if kv[1] != "" {
			sb.WriteString(" ")
			sb.WriteString(scopeStyle.Render(kv[0] + "=" + kv[1]))
		}
	}
	for key, value := range e.Attrs {
		sb.WriteString(" ")
		sb.WriteString(scopeStyle.Render(key + "="))
		sb.WriteString(fmt.Sprintf("%v", value))
	}
	return sb.String()
}
