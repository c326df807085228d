package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/pixbridge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify pixbridge configuration",
	Long: `View or modify pixbridge configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  pixbridge config set bridge.queue_capacity 128
  pixbridge config set bridge.log_threshold debug
  pixbridge config set bridge.terminate_timeout 1m
  pixbridge config set progress.enabled false

Run 'pixbridge config show' to list every key.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/pixbridge/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

// setConfigValue converts value to the type of key's default, applies it
// to the config file at path and validates the result before writing.
func setConfigValue(fs afero.Fs, path, key, value string) (any, error) {
	defaults := viper.New()
	config.SetDefaultsOn(defaults)
	if !slices.Contains(defaults.AllKeys(), key) {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'pixbridge config show' to see valid keys", key)
	}

	var (
		typed any
		err   error
	)
	switch defaults.Get(key).(type) {
	case bool:
		typed, err = cast.ToBoolE(value)
	case int:
		typed, err = cast.ToIntE(value)
	case time.Duration:
		var d time.Duration
		d, err = cast.ToDurationE(value)
		typed = d.String()
	default:
		typed = value
	}
	if err != nil {
		return nil, fmt.Errorf("invalid value for %s: %w", key, err)
	}

	v := viper.New()
	v.SetFs(fs)
	config.SetDefaultsOn(v)
	v.SetConfigFile(path)
	if exists, _ := afero.Exists(fs, path); exists {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	v.Set(key, typed)
	if _, err := config.LoadFrom(v); err != nil {
		return nil, err
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return nil, fmt.Errorf("failed to write config file: %w", err)
	}
	return typed, nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	path := viper.ConfigFileUsed()
	if path == "" {
		path = config.ConfigFile()
	}
	typed, err := setConfigValue(appFs, path, args[0], args[1])
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", args[0], typed)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", path)
	return nil
}

const defaultConfigContent = `# pixbridge configuration

# Bridge supervisor and call thread
bridge:
  # Maximum work items waiting for the worker; Run blocks while full
  queue_capacity: 64
  # How often a blocking terminate checks whether the worker has exited
  terminate_poll_interval: 100ms
  # How long the CLI waits for the worker to exit (0 = forever)
  terminate_timeout: 30s
  # Let setPixels return before the write lands; writes stay ordered
  async_writers: true
  # Fail callbacks that reuse the transfer buffer while a slice is in flight
  debug_guards: false
  # Minimum worker log level forwarded to the host log: debug, info, warn, error
  log_threshold: info

# Host logging
logging:
  enabled: true
  # debug, info, warn, error
  level: info
  # Empty means ~/.config/pixbridge/logs
  dir: ""
  # Rotate bridge.log after this many megabytes (0 disables rotation)
  max_size_mb: 10
  max_backups: 3
  # Gzip rotated files
  compress: true

# Terminal progress bar
progress:
  enabled: true
  width: 40
`

// writeDefaultConfig creates path with the commented default configuration.
// An existing file is never overwritten.
func writeDefaultConfig(fs afero.Fs, path string) error {
	if exists, _ := afero.Exists(fs, path); exists {
		return fmt.Errorf("config file already exists at %s\nUse 'pixbridge config set' to modify values", path)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := afero.WriteFile(fs, path, []byte(defaultConfigContent), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()
	if err := writeDefaultConfig(appFs, configFile); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	fmt.Fprintln(cmd.OutOrStdout(), "Edit this file to customize pixbridge's behavior.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Active config: %s\n", used)
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", config.ConfigFile())
	fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	fmt.Fprintln(out, "\nEnvironment variables: PIXBRIDGE_* (e.g., PIXBRIDGE_BRIDGE_LOG_THRESHOLD)")
	if _, err := os.Stat(config.ConfigDir()); err == nil {
		fmt.Fprintf(out, "\nLogs: %s\n", config.Get().Logging.ResolveDir())
	}
	return nil
}
