package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"coworkerbot/internal/taskmaster"

	"github.com/joho/godotenv"
)

const envPrefix = "COWORKER_"

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
	// Dir receives the daily log_YYYYMMDD.txt files. Empty disables them.
	Dir string
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark      BarkConfig
	PerMinute int
}

// MasterConfig locates the task master and its companion files.
type MasterConfig struct {
	Env         string
	Path        string
	SettingsDir string
	HolidayFile string
}

// FetchConfig controls how source data is downloaded.
type FetchConfig struct {
	Mode         string
	DownloadsDir string
	Timeout      time.Duration
}

// BatchConfig tunes the batch loop.
type BatchConfig struct {
	AutoRun      bool
	WaitStep     time.Duration
	PauseStep    time.Duration
	PauseMessage string
}

// RunConfig are the one-shot options of run mode.
type RunConfig struct {
	Group  string
	TaskID string
	From   string
	Only   bool
	Force  bool
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Notification NotificationConfig
	Master       MasterConfig
	Fetch        FetchConfig
	Batch        BatchConfig
	Run          RunConfig

	Mode          string
	StateDir      string
	HistoryKeep   int
	UseUTC        bool
	ShutdownGrace time.Duration
}

const (
	defaultAddr          = "127.0.0.1:7071"
	defaultLogLevel      = "info"
	defaultHistoryKeep   = 200
	defaultShutdownGrace = 5 * time.Second
	defaultMode          = "http"
	defaultEnv           = "production"
	defaultSettingsDir   = "settings"
	defaultFetchMode     = "direct"
	defaultFetchTimeout  = 60 * time.Second
	defaultWaitStep      = 60 * time.Second
	defaultPauseStep     = 500 * time.Millisecond
	defaultNotifyPerMin  = 10
	holidayFileName      = "holidays.yaml"
)

// lookupFunc reads one environment variable, like os.LookupEnv.
type lookupFunc func(key string) (string, bool)

func (l lookupFunc) getString(key, defaultVal string) string {
	if val, ok := l(envPrefix + key); ok {
		return val
	}
	return defaultVal
}

func (l lookupFunc) getInt(key string, defaultVal int) int {
	if val, ok := l(envPrefix + key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return defaultVal
}

func (l lookupFunc) getBool(key string, defaultVal bool) bool {
	if val, ok := l(envPrefix + key); ok {
		lower := strings.ToLower(strings.TrimSpace(val))
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

func (l lookupFunc) getDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := l(envPrefix + key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
			return d
		}
	}
	return defaultVal
}

// Parse parses command line flags and environment variables into Config.
// Priority: CLI flags > Environment variables > .env file > defaults
func Parse() (*Config, error) {
	// Load .env file if exists. godotenv never overrides variables that are
	// already set, which gives the environment precedence.
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "coworkerbot", ".env"))
	}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}
	return parse(os.Args[1:], os.LookupEnv, os.Stderr)
}

func parse(args []string, lookup lookupFunc, output io.Writer) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:      lookup.getString("ADDR", defaultAddr),
			AuthToken: lookup.getString("AUTH_TOKEN", ""),
		},
		Log: LogConfig{
			Level: lookup.getString("LOG_LEVEL", defaultLogLevel),
			Dir:   lookup.getString("LOG_DIR", ""),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     lookup.getString("BARK_URL", ""),
				Enabled: lookup.getBool("BARK_ENABLED", false),
			},
			PerMinute: lookup.getInt("NOTIFY_PER_MINUTE", defaultNotifyPerMin),
		},
		Master: MasterConfig{
			Env:         lookup.getString("ENV", defaultEnv),
			Path:        lookup.getString("MASTER_PATH", ""),
			SettingsDir: lookup.getString("SETTINGS_DIR", defaultSettingsDir),
			HolidayFile: lookup.getString("HOLIDAY_FILE", ""),
		},
		Fetch: FetchConfig{
			Mode:         lookup.getString("FETCH_MODE", defaultFetchMode),
			DownloadsDir: lookup.getString("DOWNLOADS_DIR", ""),
			Timeout:      lookup.getDuration("FETCH_TIMEOUT", defaultFetchTimeout),
		},
		Batch: BatchConfig{
			AutoRun:      lookup.getBool("AUTO_RUN", false),
			WaitStep:     lookup.getDuration("WAIT_STEP", defaultWaitStep),
			PauseStep:    lookup.getDuration("PAUSE_STEP", defaultPauseStep),
			PauseMessage: lookup.getString("PAUSE_MESSAGE", ""),
		},
		Mode:          lookup.getString("MODE", defaultMode),
		StateDir:      lookup.getString("STATE_DIR", ""),
		HistoryKeep:   lookup.getInt("HISTORY_KEEP", defaultHistoryKeep),
		UseUTC:        lookup.getBool("USE_UTC", false),
		ShutdownGrace: lookup.getDuration("SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	fs := flag.NewFlagSet("coworkerbotd", flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		addr, logLevel, mode, stateDir, master, env string
		historyKeep                                 int
		useUTC, autoRun                             bool
		shutdownGrace                               time.Duration
	)
	fs.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	fs.StringVar(&mode, "mode", "", "Run mode: http, mcp, both or run")
	fs.StringVar(&stateDir, "state-dir", "", "Directory to store the history database and logs")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&master, "master", "", "Task master file (.xlsx, .csv or .yaml)")
	fs.StringVar(&env, "env", "", "Task master environment: production or test")
	fs.IntVar(&historyKeep, "history-keep", 0, "Number of recent batches to retain")
	fs.BoolVar(&useUTC, "use-utc", false, "Use UTC instead of system local time")
	fs.BoolVar(&autoRun, "auto-run", false, "Run each group daily at its earliest start time")
	fs.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")

	fs.StringVar(&cfg.Run.Group, "group", "", "run mode: group to execute")
	fs.StringVar(&cfg.Run.TaskID, "task", "", "run mode: retry from this task ID within its group")
	fs.StringVar(&cfg.Run.From, "from", "", "run mode: run the whole schedule from this start time (HH:MM)")
	fs.BoolVar(&cfg.Run.Only, "only", false, "run mode: with -task, run just that task")
	fs.BoolVar(&cfg.Run.Force, "force", false, "run mode: ignore session windows")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if addr != "" {
		cfg.Server.Addr = addr
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if master != "" {
		cfg.Master.Path = master
	}
	if env != "" {
		cfg.Master.Env = env
	}
	if historyKeep > 0 {
		cfg.HistoryKeep = historyKeep
	}
	// For bool flags, check if explicitly set via Visit
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "use-utc":
			cfg.UseUTC = useUTC
		case "auto-run":
			cfg.Batch.AutoRun = autoRun
		case "shutdown-grace":
			cfg.ShutdownGrace = shutdownGrace
		}
	})

	cfg.Master.Env = strings.ToLower(strings.TrimSpace(cfg.Master.Env))
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch cfg.Mode {
	case "http", "mcp", "both", "run":
	default:
		return nil, fmt.Errorf("invalid mode %q: want http, mcp, both or run", cfg.Mode)
	}

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	if cfg.Log.Dir == "" {
		cfg.Log.Dir = filepath.Join(cfg.StateDir, "logs")
	}
	if cfg.Master.Path == "" {
		cfg.Master.Path = filepath.Join(cfg.Master.SettingsDir, taskmaster.FileName(cfg.Master.Env))
	}
	if cfg.Master.HolidayFile == "" {
		cfg.Master.HolidayFile = filepath.Join(cfg.Master.SettingsDir, holidayFileName)
	}
	if cfg.Fetch.DownloadsDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Fetch.DownloadsDir = filepath.Join(home, "Downloads")
		}
	}
	if cfg.HistoryKeep < 1 {
		cfg.HistoryKeep = defaultHistoryKeep
	}
	return cfg, nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "coworkerbot")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
