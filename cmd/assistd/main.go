package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gboost/assist/internal/api"
	"github.com/gboost/assist/internal/auth"
	"github.com/gboost/assist/internal/autoreply"
	"github.com/gboost/assist/internal/correction"
	"github.com/gboost/assist/internal/genai"
	"github.com/gboost/assist/internal/llm"
	"github.com/gboost/assist/internal/lockfile"
	"github.com/gboost/assist/internal/messaging"
	"github.com/gboost/assist/internal/models"
	"github.com/gboost/assist/internal/pipeline"
	"github.com/gboost/assist/internal/scheduler"
	"github.com/gboost/assist/internal/settings"
	"github.com/gboost/assist/internal/store"
	"github.com/gboost/assist/internal/twiliowhatsapp"
	"github.com/gboost/assist/internal/util"
	"github.com/gboost/assist/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for assist state data
	DefaultStateDir = "/var/lib/assist"
	// DefaultDBFileName is the default SQLite database filename for application data
	DefaultDBFileName = "assist.db"
	// DefaultWhatsAppDBFileName is the default SQLite database filename for whatsmeow
	DefaultWhatsAppDBFileName = "whatsmeow.db"

	// Transport selection values
	transportWhatsApp = "whatsapp"
	transportTwilio   = "twilio"

	// Processor selection values
	processorBackend = "backend"
	processorOpenAI  = "openai"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping assist with configured modules")
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"db_dsn_set", *flags.dbDSN != "",
		"transport", *flags.transport,
		"processor", *flags.processor,
		"api_addr", *flags.apiAddr)

	if err := run(flags); err != nil {
		slog.Error("assist failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("assist exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir      string
	AppDBDSN      string
	WhatsAppDBDSN string
	ServerURL     string
	OpenAIKey     string
	APIAddr       string
	Transport     string
	Processor     string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput  *string
	numeric   *bool
	stateDir  *string
	dbDSN     *string
	waDBDSN   *string
	serverURL *string
	openaiKey *string
	apiAddr   *string
	transport *string
	processor *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:      os.Getenv("ASSIST_STATE_DIR"),
		AppDBDSN:      os.Getenv("DATABASE_DSN"),
		WhatsAppDBDSN: os.Getenv("WHATSAPP_DB_DSN"),
		ServerURL:     os.Getenv("ASSIST_SERVER_URL"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		APIAddr:       os.Getenv("API_ADDR"),
		Transport:     os.Getenv("ASSIST_TRANSPORT"),
		Processor:     os.Getenv("ASSIST_PROCESSOR"),
	}

	// Legacy DATABASE_URL support for the application store
	if config.AppDBDSN == "" {
		config.AppDBDSN = os.Getenv("DATABASE_URL")
		if config.AppDBDSN != "" {
			slog.Debug("Using DATABASE_URL as DATABASE_DSN", "dsn_set", true)
		}
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ASSIST_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database DSN is provided, default to SQLite in the state directory
	if config.AppDBDSN == "" {
		config.AppDBDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.AppDBDSN)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
		slog.Debug("No WhatsApp database DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDBDSN)
	}

	if config.Transport == "" {
		config.Transport = transportWhatsApp
	}
	if config.Processor == "" {
		config.Processor = processorBackend
	}

	slog.Debug("environment variables loaded",
		"ASSIST_STATE_DIR", config.StateDir,
		"DATABASE_DSN_SET", config.AppDBDSN != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"ASSIST_SERVER_URL_SET", config.ServerURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"ASSIST_TRANSPORT", config.Transport,
		"ASSIST_PROCESSOR", config.Processor)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:  flag.String("qr-output", "", "path to write login QR code"),
		numeric:   flag.Bool("numeric-code", util.ParseBoolEnv("ASSIST_NUMERIC_CODE", false), "use numeric login code instead of QR code"),
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for assist data (overrides $ASSIST_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.AppDBDSN, "database DSN for the application store (overrides $DATABASE_DSN or $DATABASE_URL)"),
		waDBDSN:   flag.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "database DSN for the whatsmeow store (overrides $WHATSAPP_DB_DSN)"),
		serverURL: flag.String("server-url", config.ServerURL, "processing backend URL (overrides $ASSIST_SERVER_URL)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for local processing (overrides $OPENAI_API_KEY)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		transport: flag.String("transport", config.Transport, "message transport: whatsapp or twilio (overrides $ASSIST_TRANSPORT)"),
		processor: flag.String("processor", config.Processor, "text processor: backend or openai (overrides $ASSIST_PROCESSOR)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"waDBDSN_set", *flags.waDBDSN != "",
		"serverURL_set", *flags.serverURL != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"transport", *flags.transport,
		"processor", *flags.processor)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.AppDBDSN && config.AppDBDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// Ensure state directory exists if we're using a file-based DSN
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore constructs the application store from the configured DSN.
func buildStore(flags Flags) (store.Store, error) {
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildMessagingService constructs the configured transport.
func buildMessagingService(flags Flags) (messaging.Service, error) {
	switch *flags.transport {
	case transportTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		slog.Info("Using Twilio transport")
		return messaging.NewTwilioService(client), nil
	default:
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(*flags.waDBDSN)}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		slog.Info("Using WhatsApp transport")
		return messaging.NewWhatsAppService(client), nil
	}
}

// buildProcessor selects the text processor: the gboost backend client, or a
// local OpenAI-backed processor when requested.
func buildProcessor(flags Flags, st *settings.Store) (llm.Processor, error) {
	if *flags.processor == processorOpenAI {
		opts := []genai.Option{}
		if *flags.openaiKey != "" {
			opts = append(opts, genai.WithAPIKey(*flags.openaiKey))
		}
		client, err := genai.NewClient(st, opts...)
		if err != nil {
			return nil, err
		}
		slog.Info("Using local OpenAI processor")
		return client, nil
	}
	slog.Info("Using backend processor")
	return llm.NewClient(st), nil
}

// run wires all modules together and serves until interrupted.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Two daemons sharing a state directory would corrupt the SQLite stores.
	lock, err := lockfile.Acquire(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	persist, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer persist.Close()

	st := settings.New(persist)
	if _, err := st.Load(); err != nil {
		return err
	}
	if *flags.serverURL != "" {
		if _, err := st.Save(models.SettingsPatch{ServerURL: flags.serverURL}); err != nil {
			return err
		}
	}

	msgService, err := buildMessagingService(flags)
	if err != nil {
		return err
	}
	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer msgService.Stop()

	processor, err := buildProcessor(flags, st)
	if err != nil {
		return err
	}

	authCoord := auth.NewCoordinator(st, persist)
	flow := correction.NewFlow()
	pipe := pipeline.New(st, persist, processor, flow, msgService)
	autoReply := autoreply.NewCoordinator(st, persist, processor, msgService)
	go autoReply.Run(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.RegisterMaintenance(authCoord, persist); err != nil {
		return err
	}

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(st, persist, authCoord, pipe, autoReply, msgService, apiOpts...)
	return server.Run(ctx)
}
