package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL       string
	Enabled   bool
	OnSuccess bool
	PerMinute int
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Notification NotificationConfig

	// Mode selects the transports: http, mcp or both.
	Mode           string
	StateDir       string
	SeedFile       string
	UseUTC         bool
	ShutdownGrace  time.Duration
	CommandTimeout time.Duration
}

const (
	appName               = "taskcron"
	defaultAddr           = "127.0.0.1:7171"
	defaultLogLevel       = "info"
	defaultMode           = "http"
	defaultShutdownGrace  = 5 * time.Second
	defaultCommandTimeout = 5 * time.Minute
	defaultBarkPerMinute  = 30
)

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Parse builds the configuration from .env files, environment variables and
// the given command line arguments.
// Priority: CLI flags > Environment variables > .env file > defaults
func Parse(args []string) (*Config, error) {
	envFiles := []string{}
	if _, err := os.Stat(".env"); err == nil {
		envFiles = append(envFiles, ".env")
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		path := filepath.Join(configDir, appName, ".env")
		if _, err := os.Stat(path); err == nil {
			envFiles = append(envFiles, path)
		}
	}
	if len(envFiles) > 0 {
		// godotenv never overrides variables already present in the environment.
		_ = godotenv.Load(envFiles...)
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("TASKCRON_ADDR", defaultAddr),
			AuthToken: getEnvString("TASKCRON_AUTH_TOKEN", ""),
		},
		Log: LogConfig{
			Level: getEnvString("TASKCRON_LOG_LEVEL", defaultLogLevel),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:       getEnvString("TASKCRON_BARK_URL", ""),
				Enabled:   getEnvBool("TASKCRON_BARK_ENABLED", false),
				OnSuccess: getEnvBool("TASKCRON_BARK_ON_SUCCESS", false),
				PerMinute: getEnvInt("TASKCRON_BARK_RATE", defaultBarkPerMinute),
			},
		},
		Mode:           getEnvString("TASKCRON_MODE", defaultMode),
		StateDir:       getEnvString("TASKCRON_STATE_DIR", ""),
		SeedFile:       getEnvString("TASKCRON_SEED_FILE", ""),
		UseUTC:         getEnvBool("TASKCRON_USE_UTC", false),
		ShutdownGrace:  getEnvDuration("TASKCRON_SHUTDOWN_GRACE", defaultShutdownGrace),
		CommandTimeout: getEnvDuration("TASKCRON_COMMAND_TIMEOUT", defaultCommandTimeout),
	}

	fs := flag.NewFlagSet(appName+"d", flag.ContinueOnError)
	var (
		addr, logLevel, stateDir, mode, seedFile string
		useUTC                                   bool
		shutdownGrace, commandTimeout            time.Duration
	)
	fs.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	fs.StringVar(&stateDir, "state-dir", "", "Directory to store the database (\":memory:\" for an ephemeral store)")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&mode, "mode", "", "Transports to serve: http, mcp or both")
	fs.StringVar(&seedFile, "seed", "", "YAML file of tasks imported when the task list is empty")
	fs.BoolVar(&useUTC, "use-utc", false, "Evaluate daily and cron schedules in UTC instead of local time")
	fs.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")
	fs.DurationVar(&commandTimeout, "command-timeout", 0, "Hard timeout for a single command")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if seedFile != "" {
		cfg.SeedFile = seedFile
	}
	// For bool and duration flags, check if explicitly set via Visit
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "use-utc":
			cfg.UseUTC = useUTC
		case "shutdown-grace":
			cfg.ShutdownGrace = shutdownGrace
		case "command-timeout":
			cfg.CommandTimeout = commandTimeout
		}
	})

	switch cfg.Mode {
	case "http", "mcp", "both":
	default:
		return nil, fmt.Errorf("invalid mode %q: must be http, mcp or both", cfg.Mode)
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	return cfg, nil
}

// Location returns the zone daily and cron schedules are evaluated in.
func (c *Config) Location() *time.Location {
	if c.UseUTC {
		return time.UTC
	}
	return time.Local
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, appName)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
