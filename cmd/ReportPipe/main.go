package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/ReportPipe/internal/api"
	"github.com/BTreeMap/ReportPipe/internal/broadcast"
	"github.com/BTreeMap/ReportPipe/internal/lockfile"
	"github.com/BTreeMap/ReportPipe/internal/reference"
	"github.com/BTreeMap/ReportPipe/internal/session"
	"github.com/BTreeMap/ReportPipe/internal/store"
	"github.com/BTreeMap/ReportPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/ReportPipe/internal/util"
	"github.com/BTreeMap/ReportPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ReportPipe state data
	DefaultStateDir = "/var/lib/reportpipe"
	// DefaultAppDBFileName is the SQLite file holding drafts, reports and reference data
	DefaultAppDBFileName = "reportpipe.db"
	// DefaultWhatsAppDBFileName is the SQLite file holding the whatsmeow session
	DefaultWhatsAppDBFileName = "whatsapp.db"
)

func main() {
	initializeLogger(os.Getenv("LOG_LEVEL"))

	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(os.Args[1:], config)
	if err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.AcquireLock(flags.StateDir)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	waOpts := buildWhatsAppOptions(flags)
	twilioOpts := buildTwilioOptions(flags)
	storeOpts := buildStoreOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping ReportPipe with configured modules")
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "twilio", len(twilioOpts), "store", len(storeOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", flags.StateDir, "app_dsn_set", flags.AppDSN != "", "api_addr", flags.APIAddr, "transport", flags.Transport)
	if err := api.Run(waOpts, twilioOpts, storeOpts, apiOpts); err != nil {
		slog.Error("ReportPipe failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("ReportPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	WhatsAppDBDSN    string
	ApplicationDBDSN string
	RedisURL         string
	APIAddr          string
	Transport        string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string

	BroadcastEnabled    bool
	BroadcastRecipients string
	NotifyChannel       string

	IdleTimeout time.Duration
	SweepCron   string
	RefCacheTTL time.Duration
	SeedFile    string
}

// Flags holds the effective configuration after command line overrides
type Flags struct {
	QROutput    string
	Numeric     bool
	StateDir    string
	WhatsAppDSN string
	AppDSN      string
	RedisURL    string
	APIAddr     string
	Transport   string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string

	Broadcast     bool
	Recipients    string
	NotifyChannel string

	IdleTimeout time.Duration
	SweepCron   string
	RefCacheTTL time.Duration
	SeedFile    string
}

// initializeLogger sets up structured logging; LOG_LEVEL accepts debug, info, warn or error.
func initializeLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil || level == "" {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
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
		StateDir:            os.Getenv("REPORTPIPE_STATE_DIR"),
		WhatsAppDBDSN:       os.Getenv("WHATSAPP_DB_DSN"),
		ApplicationDBDSN:    os.Getenv("DATABASE_DSN"),
		RedisURL:            os.Getenv("REDIS_URL"),
		APIAddr:             os.Getenv("API_ADDR"),
		Transport:           os.Getenv("TRANSPORT"),
		TwilioAccountSID:    os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:          os.Getenv("TWILIO_FROM_NUMBER"),
		BroadcastEnabled:    util.ParseBoolEnv("BROADCAST_ENABLED", false),
		BroadcastRecipients: os.Getenv("BROADCAST_RECIPIENTS"),
		NotifyChannel:       os.Getenv("BROADCAST_NOTIFY_CHANNEL"),
		IdleTimeout:         util.ParseDurationEnv("DRAFT_IDLE_TIMEOUT", session.DefaultIdleTimeout),
		SweepCron:           os.Getenv("DRAFT_SWEEP_CRON"),
		RefCacheTTL:         util.ParseDurationEnv("REFERENCE_CACHE_TTL", reference.DefaultCacheTTL),
		SeedFile:            os.Getenv("REFERENCE_SEED_FILE"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No REPORTPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// DATABASE_DSN wins over the older DATABASE_URL.
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = os.Getenv("DATABASE_URL")
	}
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No application DSN provided, defaulting to SQLite", "sqlite_path", config.ApplicationDBDSN)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
	}
	if config.Transport == "" {
		config.Transport = api.TransportWhatsApp
	}
	if config.SweepCron == "" {
		config.SweepCron = session.DefaultSweepCron
	}
	if config.NotifyChannel == "" {
		config.NotifyChannel = broadcast.DefaultNotifyChannel
	}

	slog.Debug("environment variables loaded",
		"REPORTPIPE_STATE_DIR", config.StateDir,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"DATABASE_DSN_SET", config.ApplicationDBDSN != "",
		"REDIS_URL_SET", config.RedisURL != "",
		"API_ADDR", config.APIAddr,
		"TRANSPORT", config.Transport,
		"BROADCAST_ENABLED", config.BroadcastEnabled,
		"DRAFT_IDLE_TIMEOUT", config.IdleTimeout)

	return config
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(args []string, config Config) (Flags, error) {
	fs := flag.NewFlagSet("reportpipe", flag.ContinueOnError)
	f := Flags{}
	fs.StringVar(&f.QROutput, "qr-output", "", "path to write login QR code")
	fs.BoolVar(&f.Numeric, "numeric-code", false, "use numeric login code instead of QR code")
	fs.StringVar(&f.StateDir, "state-dir", config.StateDir, "state directory for ReportPipe data (overrides $REPORTPIPE_STATE_DIR)")
	fs.StringVar(&f.WhatsAppDSN, "whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow session database (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&f.AppDSN, "db-dsn", config.ApplicationDBDSN, "application database, SQLite path or Postgres DSN (overrides $DATABASE_DSN)")
	fs.StringVar(&f.RedisURL, "redis-url", config.RedisURL, "keep drafts in Redis (overrides $REDIS_URL)")
	fs.StringVar(&f.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&f.Transport, "transport", config.Transport, "chat transport: whatsapp, twilio or none (overrides $TRANSPORT)")
	fs.StringVar(&f.TwilioAccountSID, "twilio-account-sid", config.TwilioAccountSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)")
	fs.StringVar(&f.TwilioAuthToken, "twilio-auth-token", config.TwilioAuthToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)")
	fs.StringVar(&f.TwilioFrom, "twilio-from", config.TwilioFrom, "Twilio WhatsApp sender number (overrides $TWILIO_FROM_NUMBER)")
	fs.BoolVar(&f.Broadcast, "broadcast", config.BroadcastEnabled, "broadcast finalized reports (overrides $BROADCAST_ENABLED)")
	fs.StringVar(&f.Recipients, "broadcast-recipients", config.BroadcastRecipients, "comma separated report recipients (overrides $BROADCAST_RECIPIENTS)")
	fs.StringVar(&f.NotifyChannel, "notify-channel", config.NotifyChannel, "Postgres NOTIFY channel for reports (overrides $BROADCAST_NOTIFY_CHANNEL)")
	fs.DurationVar(&f.IdleTimeout, "draft-idle-timeout", config.IdleTimeout, "discard drafts idle for this long (overrides $DRAFT_IDLE_TIMEOUT)")
	fs.StringVar(&f.SweepCron, "draft-sweep-cron", config.SweepCron, "cron schedule of the idle draft sweep (overrides $DRAFT_SWEEP_CRON)")
	fs.DurationVar(&f.RefCacheTTL, "reference-cache-ttl", config.RefCacheTTL, "reference list cache lifetime (overrides $REFERENCE_CACHE_TTL)")
	fs.StringVar(&f.SeedFile, "reference-seed", config.SeedFile, "JSON file of hospitals, departments, doctors and translators (overrides $REFERENCE_SEED_FILE)")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	// Follow a moved state directory unless the DSNs were set explicitly.
	if f.StateDir != config.StateDir {
		if f.AppDSN == filepath.Join(config.StateDir, DefaultAppDBFileName) {
			f.AppDSN = filepath.Join(f.StateDir, DefaultAppDBFileName)
			slog.Debug("Updated application DSN based on state directory", "state_dir", f.StateDir)
		}
		if f.WhatsAppDSN == defaultWhatsAppDSN(config.StateDir) {
			f.WhatsAppDSN = defaultWhatsAppDSN(f.StateDir)
			slog.Debug("Updated WhatsApp DSN based on state directory", "state_dir", f.StateDir)
		}
	}

	switch f.Transport {
	case api.TransportWhatsApp, api.TransportTwilio, api.TransportNone:
	default:
		return Flags{}, fmt.Errorf("unknown transport %q", f.Transport)
	}

	slog.Debug("flags parsed",
		"qrOutput", f.QROutput,
		"numeric", f.Numeric,
		"stateDir", f.StateDir,
		"appDSN_set", f.AppDSN != "",
		"apiAddr", f.APIAddr,
		"transport", f.Transport,
		"broadcast", f.Broadcast)
	return f, nil
}

// ensureDirectoriesExist creates the state directory and the parents of
// file-based databases.
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{flags.StateDir}
	if flags.AppDSN != "" && store.DetectDSNType(flags.AppDSN) == store.DSNTypeSQLite {
		dirs = append(dirs, filepath.Dir(sqlitePath(flags.AppDSN)))
	}
	if flags.Transport == api.TransportWhatsApp && store.DetectDSNType(flags.WhatsAppDSN) == store.DSNTypeSQLite {
		dirs = append(dirs, filepath.Dir(sqlitePath(flags.WhatsAppDSN)))
	}
	for _, dir := range dirs {
		slog.Debug("Creating state directory", "dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// sqlitePath strips the "file:" scheme and query parameters from a SQLite DSN.
func sqlitePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if flags.QROutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(flags.QROutput))
	}
	if flags.Numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if flags.WhatsAppDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(flags.WhatsAppDSN))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio configuration options. Unset values
// fall back to the client's own environment lookup.
func buildTwilioOptions(flags Flags) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if flags.TwilioAccountSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(flags.TwilioAccountSID))
	}
	if flags.TwilioAuthToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(flags.TwilioAuthToken))
	}
	if flags.TwilioFrom != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(flags.TwilioFrom))
	}
	return opts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if flags.AppDSN == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return storeOpts
	}
	if store.DetectDSNType(flags.AppDSN) == store.DSNTypePostgres {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		storeOpts = append(storeOpts, store.WithPostgresDSN(flags.AppDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", flags.AppDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(flags.AppDSN))
	}
	return storeOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	apiOpts := []api.Option{
		api.WithTransport(flags.Transport),
		api.WithBroadcast(flags.Broadcast),
		api.WithBroadcastRecipients(broadcast.ParseRecipients(flags.Recipients)),
		api.WithNotifyChannel(flags.NotifyChannel),
		api.WithIdleTimeout(flags.IdleTimeout),
		api.WithSweepCron(flags.SweepCron),
		api.WithReferenceCacheTTL(flags.RefCacheTTL),
	}
	if flags.APIAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(flags.APIAddr))
	}
	if flags.RedisURL != "" {
		apiOpts = append(apiOpts, api.WithRedisURL(flags.RedisURL))
	}
	if flags.SeedFile != "" {
		apiOpts = append(apiOpts, api.WithSeedFile(flags.SeedFile))
	}
	return apiOpts
}
