package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/ralph/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify ralph configuration",
	Long: `View or modify ralph configuration.

Without arguments, displays the effective configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration as YAML",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file, or in ./.ralph.yaml
with --project.

Keys use dot notation, e.g.:
  ralph config set loop.max_iterations 50
  ralph config set loop.session_mode continue
  ralph config set worker.args --dangerously-skip-permissions,--model,opus

List values are comma separated.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long: `Create a commented default config file at ~/.config/ralph/config.yaml,
or ./.ralph.yaml with --project.`,
	RunE: runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file locations",
	RunE:  runConfigPath,
}

var configProject bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)

	configSetCmd.Flags().BoolVar(&configProject, "project", false, "Write to ./.ralph.yaml instead of the user config")
	configInitCmd.Flags().BoolVar(&configProject, "project", false, "Write ./.ralph.yaml instead of the user config")
}

// configKeyKinds lists the settable keys and how their values are parsed.
var configKeyKinds = map[string]string{
	"loop.max_iterations":         "int",
	"loop.prompt_file":            "string",
	"loop.completion_marker":      "string",
	"loop.cooldown_seconds":       "int",
	"loop.session_mode":           "string",
	"loop.live":                   "bool",
	"timeouts.idle_seconds":       "int",
	"timeouts.hard_seconds":       "int",
	"timeouts.kill_grace_seconds": "int",
	"worker.command":              "string",
	"worker.args":                 "list",
	"worker.stream_args":          "list",
	"worker.prompt_flag":          "string",
	"worker.resume_flag":          "string",
	"worker.pty":                  "bool",
	"logging.enabled":             "bool",
	"logging.level":               "string",
	"logging.max_size_mb":         "int",
	"logging.max_backups":         "int",
	"paths.log_dir":               "string",
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		_, _ = fmt.Fprintf(out, "# Config file: %s\n", used)
	} else {
		_, _ = fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

// parseConfigValue converts value to the type expected for key.
func parseConfigValue(key, value string) (any, error) {
	kind, ok := configKeyKinds[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'ralph config set --help' to see examples", key)
	}

	switch kind {
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		return n, nil
	case "list":
		if value == "" {
			return []string{}, nil
		}
		return strings.Split(value, ","), nil
	default:
		return value, nil
	}
}

func targetConfigFile() (string, error) {
	if !configProject {
		return config.ConfigFile(), nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return filepath.Join(cwd, config.ProjectConfigFile), nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]

	value, err := parseConfigValue(key, raw)
	if err != nil {
		return err
	}

	target, err := targetConfigFile()
	if err != nil {
		return err
	}

	// Edit the target file alone so flags and env never leak into it.
	file := viper.New()
	file.SetConfigFile(target)
	file.SetConfigType("yaml")
	if _, err := os.Stat(target); err == nil {
		if err := file.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read %s: %w", target, err)
		}
	}
	file.Set(key, value)

	check := viper.New()
	config.SetDefaultsOn(check)
	if err := check.MergeConfigMap(file.AllSettings()); err != nil {
		return err
	}
	if _, err := config.LoadFrom(check); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := file.WriteConfigAs(target); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Set %s = %v\n", key, value)
	_, _ = fmt.Fprintf(out, "Config saved to %s\n", target)
	return nil
}

const configTemplate = `# ralph configuration
# Precedence: flags > RALPH_* environment > this file > defaults

loop:
  # Iteration budget for one run
  max_iterations: 30
  # Task prompt handed to the worker on every iteration
  prompt_file: docs/PROMPT.md
  # Literal text that ends the run when it appears in worker output
  completion_marker: "<promise>COMPLETE</promise>"
  # Pause between iterations, in seconds
  cooldown_seconds: 3
  # clean: every iteration starts fresh
  # continue: iterations 2+ resume the session started by iteration 1
  session_mode: clean
  # Stream worker events line by line (idle timeout) or buffer until exit (hard timeout)
  live: true

timeouts:
  # Longest silence tolerated in live mode
  idle_seconds: 600
  # Longest total runtime tolerated in buffered mode
  hard_seconds: 1800
  # Wait between SIGTERM and SIGKILL
  kill_grace_seconds: 5

worker:
  command: claude
  args:
    - --dangerously-skip-permissions
  # Appended in live mode
  stream_args:
    - --output-format
    - stream-json
    - --verbose
  prompt_flag: -p
  resume_flag: --resume
  # Attach the worker to a pseudo-terminal (unix only)
  pty: false

logging:
  # Structured debug log (debug.log in the log directory)
  enabled: true
  level: info
  max_size_mb: 10
  max_backups: 3

paths:
  # Empty means .ralph/logs in the working directory
  log_dir: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	target, err := targetConfigFile()
	if err != nil {
		return err
	}

	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'ralph config set' to modify values", target)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(target, []byte(configTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Created config file at %s\n", target)
	_, _ = fmt.Fprintln(out, "Edit this file to customize ralph's behavior.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if used := viper.ConfigFileUsed(); used != "" {
		_, _ = fmt.Fprintf(out, "Active config: %s\n", used)
	} else {
		_, _ = fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	_, _ = fmt.Fprintln(out, "\nSearch paths:")
	_, _ = fmt.Fprintf(out, "  1. --config flag\n")
	_, _ = fmt.Fprintf(out, "  2. ./%s (current directory)\n", config.ProjectConfigFile)
	_, _ = fmt.Fprintf(out, "  3. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	_, _ = fmt.Fprintf(out, "  4. $HOME/.config/ralph/config.yaml\n")
	_, _ = fmt.Fprintln(out, "\nEnvironment variables: RALPH_* (e.g., RALPH_LOOP_MAX_ITERATIONS)")
	return nil
}
