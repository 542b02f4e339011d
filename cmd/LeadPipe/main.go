package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/lockfile"
	"github.com/BTreeMap/LeadPipe/internal/scheduler"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/twilio"
	"github.com/BTreeMap/LeadPipe/internal/util"
	"github.com/BTreeMap/LeadPipe/internal/workflow"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LeadPipe state data
	DefaultStateDir = "/var/lib/leadpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "leadpipe.db"
	// MemoryDSN selects the in-memory store.
	MemoryDSN = "memory"
)

// logLevel is shared by the default handler so LOG_LEVEL can be applied after .env is read.
var logLevel = new(slog.LevelVar)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()
	applyLogLevel(config.LogLevel)

	// Parse command line flags
	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Build module options
	engineOpts, err := buildEngineOptions(flags)
	if err != nil {
		slog.Error("Invalid engine configuration", "error", err)
		os.Exit(1)
	}
	storeOpts := buildStoreOptions(flags)
	twilioOpts := buildTwilioOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping LeadPipe with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "twilio", len(twilioOpts), "genai", len(genaiOpts), "engine", len(engineOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "schedule", *flags.schedule)

	// Guard the SQLite file against a second local instance
	lock, err := acquireStateLock(flags)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		os.Exit(1)
	}
	runErr := api.Run(storeOpts, twilioOpts, genaiOpts, engineOpts, apiOpts)
	if err := lock.Release(); err != nil {
		slog.Warn("Failed to release state directory lock", "error", err)
	}
	if runErr != nil {
		slog.Error("LeadPipe failed to run", "error", runErr)
		os.Exit(1)
	}
	slog.Info("LeadPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	DatabaseURL      string
	APIAddr          string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioVoiceURL   string
	OpenAIKey        string
	OpenAIModel      string
	GenAIDebug       bool
	ExecuteSchedule  string
	BatchSize        int
	ClaimLease       time.Duration
	Timezone         string
	WorkflowsFile    string
	LogLevel         string
	DryRun           bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	apiAddr       *string
	openaiKey     *string
	openaiModel   *string
	genaiDebug    *bool
	schedule      *string
	batchSize     *int
	claimLease    *time.Duration
	timezone      *string
	workflowsFile *string
	dryRun        *bool

	// Twilio credentials are only taken from the environment.
	twilioAccountSID string
	twilioAuthToken  string
	twilioVoiceURL   string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logLevel.Set(slog.LevelDebug)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}

// applyLogLevel switches the logger to the named level (debug, info, warn, error).
func applyLogLevel(name string) {
	if name == "" {
		return
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		slog.Warn("Invalid LOG_LEVEL, keeping current level", "value", name, "error", err)
		return
	}
	logLevel.Set(level)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         os.Getenv("LEADPIPE_STATE_DIR"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		APIAddr:          os.Getenv("API_ADDR"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioVoiceURL:   os.Getenv("TWILIO_VOICE_URL"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		GenAIDebug:       util.ParseBoolEnv("GENAI_DEBUG", false),
		BatchSize:        util.ParseIntEnv("BATCH_SIZE", workflow.DefaultBatchSize),
		ClaimLease:       util.ParseDurationEnv("CLAIM_LEASE", workflow.DefaultClaimLease),
		Timezone:         os.Getenv("ENGINE_TIMEZONE"),
		WorkflowsFile:    os.Getenv("WORKFLOWS_FILE"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		DryRun:           util.ParseBoolEnv("DRY_RUN", false),
	}

	// An explicitly empty EXECUTE_SCHEDULE disables the in-process trigger
	if schedule, ok := os.LookupEnv("EXECUTE_SCHEDULE"); ok {
		config.ExecuteSchedule = strings.TrimSpace(schedule)
	} else {
		config.ExecuteSchedule = scheduler.DefaultSchedule
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LEADPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("LEADPIPE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"LEADPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"API_ADDR", config.APIAddr,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"TWILIO_VOICE_URL_SET", config.TwilioVoiceURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"EXECUTE_SCHEDULE", config.ExecuteSchedule,
		"BATCH_SIZE", config.BatchSize,
		"CLAIM_LEASE", config.ClaimLease,
		"ENGINE_TIMEZONE", config.Timezone,
		"WORKFLOWS_FILE", config.WorkflowsFile,
		"DRY_RUN", config.DryRun)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		stateDir:         fs.String("state-dir", config.StateDir, "state directory for LeadPipe data (overrides $LEADPIPE_STATE_DIR)"),
		dbDSN:            fs.String("db-dsn", config.DatabaseURL, `database DSN: Postgres URL, SQLite path, or "memory" (overrides $DATABASE_URL)`),
		apiAddr:          fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		openaiKey:        fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:      fs.String("openai-model", config.OpenAIModel, "OpenAI chat model for ai_sms steps (overrides $OPENAI_MODEL)"),
		genaiDebug:       fs.Bool("genai-debug", config.GenAIDebug, "log GenAI requests under the state directory (overrides $GENAI_DEBUG)"),
		schedule:         fs.String("execute-schedule", config.ExecuteSchedule, "cron schedule for execute_pending passes, empty to disable (overrides $EXECUTE_SCHEDULE)"),
		batchSize:        fs.Int("batch-size", config.BatchSize, "maximum enrollments claimed per pass (overrides $BATCH_SIZE)"),
		claimLease:       fs.Duration("claim-lease", config.ClaimLease, "lease held on claimed enrollments (overrides $CLAIM_LEASE)"),
		timezone:         fs.String("timezone", config.Timezone, "IANA zone for wait step time_of_day (overrides $ENGINE_TIMEZONE)"),
		workflowsFile:    fs.String("workflows-file", config.WorkflowsFile, "YAML or JSON workflow definitions to import at startup (overrides $WORKFLOWS_FILE)"),
		dryRun:           fs.Bool("dry-run", config.DryRun, "log outbound SMS and calls instead of sending them (overrides $DRY_RUN)"),
		twilioAccountSID: config.TwilioAccountSID,
		twilioAuthToken:  config.TwilioAuthToken,
		twilioVoiceURL:   config.TwilioVoiceURL,
	}

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"openaiKeySet", *flags.openaiKey != "",
		"schedule", *flags.schedule,
		"batchSize", *flags.batchSize,
		"claimLease", *flags.claimLease,
		"timezone", *flags.timezone,
		"workflowsFile", *flags.workflowsFile,
		"dryRun", *flags.dryRun)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags, nil
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	dsn := *flags.dbDSN
	if dsn == "" || dsn == MemoryDSN || store.DetectDSNType(dsn) == "postgres" {
		return nil
	}
	stateDir := filepath.Dir(dsn)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
		return err
	}
	return nil
}

// acquireStateLock locks the directory holding a SQLite database. Postgres and
// in-memory stores need no local lock and get a nil *Lock.
func acquireStateLock(flags Flags) (*lockfile.Lock, error) {
	dsn := *flags.dbDSN
	if dsn == "" || dsn == MemoryDSN || store.DetectDSNType(dsn) == "postgres" {
		return nil, nil
	}
	return lockfile.Acquire(filepath.Dir(dsn))
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	dsn := *flags.dbDSN
	switch {
	case dsn == "" || dsn == MemoryDSN:
		slog.Debug("No database DSN provided, will use in-memory store")
	case store.DetectDSNType(dsn) == "postgres":
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithPostgresDSN(dsn))
	default:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", dsn)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(dsn))
	}
	return storeOpts
}

// buildTwilioOptions constructs Twilio configuration options
func buildTwilioOptions(flags Flags) []twilio.Option {
	var twOpts []twilio.Option
	if flags.twilioAccountSID != "" {
		twOpts = append(twOpts, twilio.WithAccountSID(flags.twilioAccountSID))
	}
	if flags.twilioAuthToken != "" {
		twOpts = append(twOpts, twilio.WithAuthToken(flags.twilioAuthToken))
	}
	if flags.twilioVoiceURL != "" {
		twOpts = append(twOpts, twilio.WithVoiceURL(flags.twilioVoiceURL))
	}
	if *flags.dryRun {
		twOpts = append(twOpts, twilio.WithDryRun(true))
	}
	return twOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	if *flags.genaiDebug {
		genaiOpts = append(genaiOpts, genai.WithDebugMode(true, *flags.stateDir))
	}
	return genaiOpts
}

// buildEngineOptions constructs workflow engine options
func buildEngineOptions(flags Flags) ([]workflow.Option, error) {
	engineOpts := []workflow.Option{
		workflow.WithBatchSize(*flags.batchSize),
		workflow.WithClaimLease(*flags.claimLease),
	}
	if tz := strings.TrimSpace(*flags.timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", tz, err)
		}
		engineOpts = append(engineOpts, workflow.WithLocation(loc))
	}
	return engineOpts, nil
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	apiOpts := []api.Option{api.WithSchedule(*flags.schedule)}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.workflowsFile != "" {
		apiOpts = append(apiOpts, api.WithWorkflowsFile(*flags.workflowsFile))
	}
	return apiOpts
}
