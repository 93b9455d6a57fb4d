package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the complete ralph configuration
type Config struct {
	Loop     LoopConfig     `mapstructure:"loop" yaml:"loop"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`
	Worker   WorkerConfig   `mapstructure:"worker" yaml:"worker"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Paths    PathsConfig    `mapstructure:"paths" yaml:"paths"`
}

// LoopConfig controls the iteration loop
type LoopConfig struct {
	// MaxIterations is the iteration budget for one run (default: 30)
	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations"`
	// PromptFile is the path of the task prompt handed to the worker on every iteration
	PromptFile string `mapstructure:"prompt_file" yaml:"prompt_file"`
	// CompletionMarker is the literal text that ends the run when it appears in worker output
	CompletionMarker string `mapstructure:"completion_marker" yaml:"completion_marker"`
	// CooldownSeconds is the pause between iterations (0 = no pause)
	CooldownSeconds int `mapstructure:"cooldown_seconds" yaml:"cooldown_seconds"`
	// SessionMode selects whether iterations resume the first iteration's session.
	// Options: "clean", "continue"
	SessionMode string `mapstructure:"session_mode" yaml:"session_mode"`
	// Live streams worker events line by line and enables the idle watchdog.
	// When false, output is buffered until exit and the hard timeout applies.
	Live bool `mapstructure:"live" yaml:"live"`
}

// TimeoutsConfig controls hang detection and process termination
type TimeoutsConfig struct {
	// IdleSeconds is the longest silence tolerated in live mode (default: 600)
	IdleSeconds int `mapstructure:"idle_seconds" yaml:"idle_seconds"`
	// HardSeconds is the longest total runtime tolerated in buffered mode (default: 1800)
	HardSeconds int `mapstructure:"hard_seconds" yaml:"hard_seconds"`
	// KillGraceSeconds is the wait between SIGTERM and SIGKILL (default: 5)
	KillGraceSeconds int `mapstructure:"kill_grace_seconds" yaml:"kill_grace_seconds"`
}

// WorkerConfig describes how the worker executable is invoked
type WorkerConfig struct {
	// Command is the worker executable, resolved through PATH (default: "claude")
	Command string `mapstructure:"command" yaml:"command"`
	// Args are passed on every invocation before any mode-specific arguments
	Args []string `mapstructure:"args" yaml:"args"`
	// StreamArgs are appended in live mode to request one JSON event per line
	StreamArgs []string `mapstructure:"stream_args" yaml:"stream_args"`
	// PromptFlag precedes the prompt text. Empty passes the prompt as a bare argument.
	PromptFlag string `mapstructure:"prompt_flag" yaml:"prompt_flag"`
	// ResumeFlag precedes the captured session identifier in continue mode
	ResumeFlag string `mapstructure:"resume_flag" yaml:"resume_flag"`
	// PTY attaches the worker to a pseudo-terminal instead of pipes (unix only)
	PTY bool `mapstructure:"pty" yaml:"pty"`
}

// LoggingConfig controls the debug log
type LoggingConfig struct {
	// Enabled controls whether debug.log is written (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the minimum log level. Options: "debug", "info", "warn", "error"
	Level string `mapstructure:"level" yaml:"level"`
	// MaxSizeMB is the size at which debug.log is rotated (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files kept (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
}

// PathsConfig controls where run artifacts are written
type PathsConfig struct {
	// LogDir is the log root. Relative paths resolve against the working directory.
	// Empty means the default: .ralph/logs
	LogDir string `mapstructure:"log_dir" yaml:"log_dir"`
}

// DefaultLogDir is the log root used when paths.log_dir is empty.
const DefaultLogDir = ".ralph/logs"

// ResolveLogDir returns the resolved log root.
// A leading ~ expands to the user's home directory and relative paths are
// resolved against baseDir.
func (p *PathsConfig) ResolveLogDir(baseDir string) string {
	path := p.LogDir
	if path == "" {
		path = DefaultLogDir
	}

	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Loop: LoopConfig{
			MaxIterations:    30,
			PromptFile:       "docs/PROMPT.md",
			CompletionMarker: "<promise>COMPLETE</promise>",
			CooldownSeconds:  3,
			SessionMode:      SessionModeClean,
			Live:             true,
		},
		Timeouts: TimeoutsConfig{
			IdleSeconds:      600,  // 10 minutes of silence
			HardSeconds:      1800, // 30 minutes total
			KillGraceSeconds: 5,
		},
		Worker: WorkerConfig{
			Command:    "claude",
			Args:       []string{"--dangerously-skip-permissions"},
			StreamArgs: []string{"--output-format", "stream-json", "--verbose"},
			PromptFlag: "-p",
			ResumeFlag: "--resume",
			PTY:        false,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Paths: PathsConfig{
			LogDir: "", // Empty means use default: .ralph/logs
		},
	}
}

// Cooldown returns the cooldown as a time.Duration
func (c *LoopConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// IdleTimeout returns the idle timeout as a time.Duration
func (c *TimeoutsConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleSeconds) * time.Second
}

// HardTimeout returns the hard timeout as a time.Duration
func (c *TimeoutsConfig) HardTimeout() time.Duration {
	return time.Duration(c.HardSeconds) * time.Second
}

// KillGrace returns the kill grace period as a time.Duration
func (c *TimeoutsConfig) KillGrace() time.Duration {
	return time.Duration(c.KillGraceSeconds) * time.Second
}

// SetDefaults registers default values with the global viper instance
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values with v
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	// Loop defaults
	v.SetDefault("loop.max_iterations", defaults.Loop.MaxIterations)
	v.SetDefault("loop.prompt_file", defaults.Loop.PromptFile)
	v.SetDefault("loop.completion_marker", defaults.Loop.CompletionMarker)
	v.SetDefault("loop.cooldown_seconds", defaults.Loop.CooldownSeconds)
	v.SetDefault("loop.session_mode", defaults.Loop.SessionMode)
	v.SetDefault("loop.live", defaults.Loop.Live)

	// Timeout defaults
	v.SetDefault("timeouts.idle_seconds", defaults.Timeouts.IdleSeconds)
	v.SetDefault("timeouts.hard_seconds", defaults.Timeouts.HardSeconds)
	v.SetDefault("timeouts.kill_grace_seconds", defaults.Timeouts.KillGraceSeconds)

	// Worker defaults
	v.SetDefault("worker.command", defaults.Worker.Command)
	v.SetDefault("worker.args", defaults.Worker.Args)
	v.SetDefault("worker.stream_args", defaults.Worker.StreamArgs)
	v.SetDefault("worker.prompt_flag", defaults.Worker.PromptFlag)
	v.SetDefault("worker.resume_flag", defaults.Worker.ResumeFlag)
	v.SetDefault("worker.pty", defaults.Worker.PTY)

	// Logging defaults
	v.SetDefault("logging.enabled", defaults.Logging.Enabled)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Paths defaults
	v.SetDefault("paths.log_dir", defaults.Paths.LogDir)
}

// decodeHook lets list values arrive as comma-separated strings from the
// environment (RALPH_WORKER_ARGS=--foo,--bar).
func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v and validates it
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ralph")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ralph"
	}
	return filepath.Join(home, ".config", "ralph")
}

// ConfigFile returns the path to the user config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ProjectConfigFile is the per-project config file, looked up in the working directory.
const ProjectConfigFile = ".ralph.yaml"

// Session modes
const (
	SessionModeClean    = "clean"
	SessionModeContinue = "continue"
)

// ValidSessionModes returns the list of valid session mode values
func ValidSessionModes() []string {
	return []string{SessionModeClean, SessionModeContinue}
}
