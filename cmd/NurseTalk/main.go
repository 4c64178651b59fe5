package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Smoke-IT/NurseTalk/internal/api"
	"github.com/Smoke-IT/NurseTalk/internal/delivery"
	"github.com/Smoke-IT/NurseTalk/internal/genai"
	"github.com/Smoke-IT/NurseTalk/internal/lockfile"
	"github.com/Smoke-IT/NurseTalk/internal/messaging"
	"github.com/Smoke-IT/NurseTalk/internal/scheduler"
	"github.com/Smoke-IT/NurseTalk/internal/session"
	"github.com/Smoke-IT/NurseTalk/internal/speech"
	"github.com/Smoke-IT/NurseTalk/internal/store"
	"github.com/Smoke-IT/NurseTalk/internal/triage"
	"github.com/Smoke-IT/NurseTalk/internal/twiliowhatsapp"
	"github.com/Smoke-IT/NurseTalk/internal/util"
	"github.com/Smoke-IT/NurseTalk/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for NurseTalk state data
	DefaultStateDir = "/var/lib/nursetalk"
	// DefaultAppDBFileName is the default SQLite database filename for the conversation log
	DefaultAppDBFileName = "nursetalk.db"
	// DefaultWhatsAppDBFileName is the default SQLite database filename for the WhatsApp session store
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultAudioDirName is the directory under the state dir for synthesized voice clips
	DefaultAudioDirName = "audio"

	// TransportTwilio selects the Twilio webhook transport
	TransportTwilio = "twilio"
	// TransportWhatsApp selects the WhatsApp multidevice transport
	TransportWhatsApp = "whatsapp"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Prevent two instances from sharing the same state directory
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err, "state_dir", *flags.stateDir)
		os.Exit(1)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Error("Failed to release state directory lock", "error", err)
		}
	}()

	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize conversation log store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	genaiClient, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		slog.Error("Failed to initialize generator client", "error", err)
		os.Exit(1)
	}

	speechSvc := buildSpeechService(flags)

	msgService, twService, err := buildMessagingService(flags)
	if err != nil {
		slog.Error("Failed to initialize messaging transport", "error", err, "transport", *flags.transport)
		os.Exit(1)
	}

	sessions := session.NewInMemoryStore()
	engine := triage.NewEngine(sessions, genaiClient, st)
	deliverer := delivery.NewAdapter(msgService)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddSessionSweep(sessions); err != nil {
		slog.Error("Failed to schedule session sweep", "error", err)
		os.Exit(1)
	}
	if speechSvc != nil {
		if err := sched.AddAudioCleanup(speechSvc); err != nil {
			slog.Error("Failed to schedule audio cleanup", "error", err)
			os.Exit(1)
		}
	}

	apiOpts := buildAPIOptions(flags, speechSvc, twService)
	srv := api.NewServer(msgService, engine, st, deliverer, apiOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping NurseTalk", "transport", *flags.transport, "api_addr", *flags.apiAddr, "voice_enabled", speechSvc != nil)
	if err := srv.Run(ctx); err != nil {
		slog.Error("NurseTalk failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("NurseTalk exited successfully")
}

// Config holds environment configuration
type Config struct {
	Transport        string
	StateDir         string
	WhatsAppDBDSN    string
	ApplicationDBDSN string
	OpenAIKey        string
	APIAddr          string
	MediaBaseURL     string
	AudioDir         string
	VoiceEnabled     bool
	ValidateWebhook  bool
}

// Flags holds command line flag values
type Flags struct {
	transport       *string
	qrOutput        *string
	numeric         *bool
	stateDir        *string
	whatsappDBDSN   *string
	dbDSN           *string
	openaiKey       *string
	apiAddr         *string
	mediaBaseURL    *string
	audioDir        *string
	voice           *bool
	validateWebhook *bool
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
		Transport:        os.Getenv("NURSETALK_TRANSPORT"),
		StateDir:         os.Getenv("NURSETALK_STATE_DIR"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		ApplicationDBDSN: os.Getenv("DATABASE_DSN"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		APIAddr:          os.Getenv("API_ADDR"),
		MediaBaseURL:     os.Getenv("MEDIA_BASE_URL"),
		AudioDir:         os.Getenv("AUDIO_DIR"),
		VoiceEnabled:     util.ParseBoolEnv("ENABLE_VOICE", true),
		ValidateWebhook:  util.ParseBoolEnv("TWILIO_VALIDATE_SIGNATURE", true),
	}

	if config.Transport == "" {
		config.Transport = TransportTwilio
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No NURSETALK_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// Legacy fallback for the application database
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = os.Getenv("DATABASE_URL")
	}
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No application DSN provided, defaulting to SQLite", "sqlite_path", config.ApplicationDBDSN)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	if config.AudioDir == "" {
		config.AudioDir = filepath.Join(config.StateDir, DefaultAudioDirName)
	}

	slog.Debug("environment variables loaded",
		"NURSETALK_TRANSPORT", config.Transport,
		"NURSETALK_STATE_DIR", config.StateDir,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"DATABASE_DSN_SET", config.ApplicationDBDSN != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"MEDIA_BASE_URL_SET", config.MediaBaseURL != "",
		"ENABLE_VOICE", config.VoiceEnabled)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		transport:       flag.String("transport", config.Transport, "messaging transport: twilio or whatsapp (overrides $NURSETALK_TRANSPORT)"),
		qrOutput:        flag.String("qr-output", "", "path to write login QR code (whatsapp transport only)"),
		numeric:         flag.Bool("numeric-code", false, "use numeric login code instead of QR code (whatsapp transport only)"),
		stateDir:        flag.String("state-dir", config.StateDir, "state directory for NurseTalk data (overrides $NURSETALK_STATE_DIR)"),
		whatsappDBDSN:   flag.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "database DSN for the WhatsApp session store (overrides $WHATSAPP_DB_DSN)"),
		dbDSN:           flag.String("db-dsn", config.ApplicationDBDSN, "database DSN for the conversation log (overrides $DATABASE_DSN or $DATABASE_URL)"),
		openaiKey:       flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:         flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		mediaBaseURL:    flag.String("media-base-url", config.MediaBaseURL, "public base URL for synthesized voice clips (overrides $MEDIA_BASE_URL)"),
		audioDir:        flag.String("audio-dir", config.AudioDir, "directory for synthesized voice clips (overrides $AUDIO_DIR)"),
		voice:           flag.Bool("voice", config.VoiceEnabled, "enable voice note transcription and voice replies (overrides $ENABLE_VOICE)"),
		validateWebhook: flag.Bool("validate-webhook", config.ValidateWebhook, "validate Twilio webhook signatures (overrides $TWILIO_VALIDATE_SIGNATURE)"),
	}

	flag.Parse()

	// Follow an overridden state directory when the DSNs were defaulted from it
	if *flags.stateDir != config.StateDir {
		if *flags.dbDSN == filepath.Join(config.StateDir, DefaultAppDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultAppDBFileName)
		}
		if *flags.audioDir == filepath.Join(config.StateDir, DefaultAudioDirName) {
			*flags.audioDir = filepath.Join(*flags.stateDir, DefaultAudioDirName)
		}
	}

	slog.Debug("flags parsed",
		"transport", *flags.transport,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"voice", *flags.voice)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		return err
	}
	if *flags.voice {
		if err := os.MkdirAll(*flags.audioDir, 0755); err != nil {
			return err
		}
	}
	if store.DetectDSNType(*flags.dbDSN) == "sqlite3" {
		return os.MkdirAll(filepath.Dir(*flags.dbDSN), 0755)
	}
	return nil
}

// buildStore creates the conversation log store matching the DSN type
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildGenAIOptions constructs generator configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if n := util.ParseIntEnv("OPENAI_MAX_TOKENS", 0); n > 0 {
		genaiOpts = append(genaiOpts, genai.WithMaxTokens(int64(n)))
	}
	return genaiOpts
}

// buildSpeechOptions constructs speech service configuration options
func buildSpeechOptions(flags Flags) []speech.Option {
	speechOpts := []speech.Option{
		speech.WithAPIKey(*flags.openaiKey),
		speech.WithAudioDir(*flags.audioDir),
	}
	// Twilio-hosted voice note media requires basic auth on download.
	if *flags.transport == TransportTwilio {
		sid := os.Getenv("TWILIO_ACCOUNT_SID")
		token := os.Getenv("TWILIO_AUTH_TOKEN")
		if sid != "" && token != "" {
			speechOpts = append(speechOpts, speech.WithMediaCredentials(sid, token))
		} else {
			slog.Warn("Twilio credentials not set, voice note downloads will be unauthenticated")
		}
	}
	return speechOpts
}

// buildSpeechService initializes voice support, or returns nil when disabled.
func buildSpeechService(flags Flags) *speech.Service {
	if !*flags.voice {
		slog.Info("Voice support disabled")
		return nil
	}
	svc, err := speech.NewService(buildSpeechOptions(flags)...)
	if err != nil {
		slog.Warn("Voice support unavailable, continuing text-only", "error", err)
		return nil
	}
	return svc
}

// buildMessagingService creates the configured transport. The TwilioService is
// returned separately when active so the API server can wire the webhook.
func buildMessagingService(flags Flags) (messaging.Service, *messaging.TwilioService, error) {
	switch *flags.transport {
	case TransportWhatsApp:
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(*flags.whatsappDBDSN)}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		waClient, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, nil, err
		}
		return messaging.NewWhatsAppService(waClient), nil, nil
	default:
		twClient, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, err
		}
		var twOpts []messaging.TwilioOption
		if *flags.validateWebhook {
			twOpts = append(twOpts, messaging.WithSignatureValidator(twClient.ValidateSignature))
		}
		twService := messaging.NewTwilioService(twClient, twOpts...)
		return twService, twService, nil
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, speechSvc *speech.Service, twService *messaging.TwilioService) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.mediaBaseURL != "" {
		apiOpts = append(apiOpts, api.WithMediaBaseURL(*flags.mediaBaseURL))
	}
	if speechSvc != nil {
		apiOpts = append(apiOpts, api.WithSpeechService(speechSvc))
	}
	if twService != nil {
		apiOpts = append(apiOpts, api.WithTwilioService(twService))
	}
	return apiOpts
}
