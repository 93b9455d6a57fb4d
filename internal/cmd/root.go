package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/ralph/internal/config"
	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/exitcode"
)

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Run a coding agent in a loop until it reports completion",
	Long: `Ralph invokes a non-interactive worker (by default the claude CLI) with the
same task prompt over and over. Each iteration's output is checked for a
completion marker; the loop stops when it appears, when the iteration budget
runs out, when the worker hangs, or when you press Ctrl+C.

Exit codes:
  0    completion marker found
  1    configuration error
  2    iteration budget exhausted
  124  worker hung and was stopped
  130  interrupted`,
	Example: `  # Run with defaults (docs/PROMPT.md, 30 iterations, live output)
  ralph

  # Resume the first iteration's session on every later iteration
  ralph --session continue -n 10

  # Buffered mode with a 20 minute cap per iteration
  ralph --no-live --hard-timeout 1200`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRalph,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return exitcode.Success
	}
	return reportError(os.Stderr, err)
}

// reportError prints errors that stop ralph before the loop runs and returns
// the exit code for err. Loop outcomes are already in the run summary.
func reportError(w io.Writer, err error) int {
	code := exitcode.Code(err)
	if code != exitcode.ErrConfig {
		return code
	}
	_, _ = fmt.Fprintf(w, "ralph: %v\n", err)
	if errors.IsConfigError(err) {
		_, _ = fmt.Fprintln(w, "Check the prompt file and worker command, or run 'ralph config show'.")
	}
	return code
}

// runFlag binds a root flag to a config key.
type runFlag struct {
	name string
	key  string
}

var runFlags = []runFlag{
	{"max-iterations", "loop.max_iterations"},
	{"prompt", "loop.prompt_file"},
	{"promise", "loop.completion_marker"},
	{"cooldown", "loop.cooldown_seconds"},
	{"session", "loop.session_mode"},
	{"live", "loop.live"},
	{"idle-timeout", "timeouts.idle_seconds"},
	{"hard-timeout", "timeouts.hard_seconds"},
	{"kill-grace", "timeouts.kill_grace_seconds"},
	{"worker", "worker.command"},
	{"pty", "worker.pty"},
	{"log-level", "logging.level"},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/ralph/config.yaml or ./.ralph.yaml)")
	rootCmd.PersistentFlags().String("log-dir", config.DefaultLogDir, "log directory")

	defaults := config.Default()
	flags := rootCmd.Flags()
	flags.IntP("max-iterations", "n", defaults.Loop.MaxIterations, "maximum number of iterations")
	flags.StringP("prompt", "p", defaults.Loop.PromptFile, "path of the prompt file")
	flags.String("promise", defaults.Loop.CompletionMarker, "completion marker that ends the run")
	flags.Int("cooldown", defaults.Loop.CooldownSeconds, "seconds to wait between iterations")
	flags.String("session", defaults.Loop.SessionMode, "session mode: clean or continue")
	flags.Bool("live", defaults.Loop.Live, "stream worker events and use the idle timeout")
	flags.Bool("no-live", false, "buffer worker output and use the hard timeout")
	flags.Int("idle-timeout", defaults.Timeouts.IdleSeconds, "seconds without output before a live worker is stopped")
	flags.Int("hard-timeout", defaults.Timeouts.HardSeconds, "seconds before a buffered worker is stopped")
	flags.Int("kill-grace", defaults.Timeouts.KillGraceSeconds, "seconds between SIGTERM and SIGKILL")
	flags.String("worker", defaults.Worker.Command, "worker command")
	flags.Bool("pty", defaults.Worker.PTY, "attach the worker to a pseudo-terminal")
	flags.String("log-level", defaults.Logging.Level, "debug log level (debug, info, warn, error)")
	rootCmd.MarkFlagsMutuallyExclusive("live", "no-live")

	bindConfigFlags()
}

// bindConfigFlags binds the global and run flags to their viper keys.
func bindConfigFlags() {
	persistent := rootCmd.PersistentFlags()
	_ = viper.BindPFlag("config", persistent.Lookup("config"))
	_ = viper.BindPFlag("paths.log_dir", persistent.Lookup("log-dir"))

	for _, f := range runFlags {
		_ = viper.BindPFlag(f.key, rootCmd.Flags().Lookup(f.name))
	}
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if _, err := os.Stat(config.ProjectConfigFile); err == nil {
		viper.SetConfigFile(config.ProjectConfigFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/ralph")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("RALPH")
	// Replace dots with underscores for nested keys in env vars
	// e.g., RALPH_LOOP_MAX_ITERATIONS for loop.max_iterations
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// applyNoLive maps --no-live onto the bound --live flag.
func applyNoLive(flags *pflag.FlagSet) error {
	noLive, err := flags.GetBool("no-live")
	if err != nil || !noLive {
		return err
	}
	return flags.Set("live", "false")
}
