// Package api wires ReportPipe together and serves its HTTP API.
//
// Run opens the store, connects the chat transport, builds the report engine
// and keeps the HTTP server running until the process is signalled.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/ReportPipe/internal/broadcast"
	"github.com/BTreeMap/ReportPipe/internal/flow"
	"github.com/BTreeMap/ReportPipe/internal/messaging"
	"github.com/BTreeMap/ReportPipe/internal/recovery"
	"github.com/BTreeMap/ReportPipe/internal/reference"
	"github.com/BTreeMap/ReportPipe/internal/scheduler"
	"github.com/BTreeMap/ReportPipe/internal/session"
	"github.com/BTreeMap/ReportPipe/internal/store"
	"github.com/BTreeMap/ReportPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/ReportPipe/internal/whatsapp"
)

// Default API configuration.
const (
	DefaultServerAddress   = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
)

// Transport names accepted by WithTransport.
const (
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
	TransportNone     = "none"
)

// Opts holds configuration options for the API server and its collaborators.
type Opts struct {
	Addr        string
	Transport   string
	RedisURL    string
	Broadcast   bool
	Recipients  []string
	NotifyChan  string
	IdleTimeout time.Duration
	SweepCron   string
	RefCacheTTL time.Duration
	SeedFile    string
}

// Option defines a function that configures Opts.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTransport selects the chat transport.
func WithTransport(name string) Option {
	return func(o *Opts) { o.Transport = name }
}

// WithRedisURL keeps drafts in Redis instead of the main store.
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.RedisURL = url }
}

// WithBroadcast enables broadcasting finalized reports.
func WithBroadcast(enabled bool) Option {
	return func(o *Opts) { o.Broadcast = enabled }
}

// WithBroadcastRecipients sets the chat recipients of finalized reports.
func WithBroadcastRecipients(recipients []string) Option {
	return func(o *Opts) { o.Recipients = recipients }
}

// WithNotifyChannel sets the Postgres NOTIFY channel for finalized reports.
func WithNotifyChannel(channel string) Option {
	return func(o *Opts) { o.NotifyChan = channel }
}

// WithIdleTimeout sets how long a draft may be left untouched.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Opts) { o.IdleTimeout = d }
}

// WithSweepCron sets the schedule of the idle-draft sweep.
func WithSweepCron(expr string) Option {
	return func(o *Opts) { o.SweepCron = expr }
}

// WithReferenceCacheTTL sets how long reference lists are cached.
func WithReferenceCacheTTL(d time.Duration) Option {
	return func(o *Opts) { o.RefCacheTTL = d }
}

// WithSeedFile loads reference options from a JSON file at startup.
func WithSeedFile(path string) Option {
	return func(o *Opts) { o.SeedFile = path }
}

func defaultOpts() Opts {
	return Opts{
		Addr:        DefaultServerAddress,
		Transport:   TransportWhatsApp,
		NotifyChan:  broadcast.DefaultNotifyChannel,
		IdleTimeout: session.DefaultIdleTimeout,
		SweepCron:   session.DefaultSweepCron,
		RefCacheTTL: reference.DefaultCacheTTL,
	}
}

// Run starts ReportPipe and blocks until SIGINT or SIGTERM.
func Run(waOpts []whatsapp.Option, twilioOpts []twiliowhatsapp.Option, storeOpts []store.Option, apiOpts []Option) error {
	slog.Debug("API Run invoked", "whatsapp_opts", len(waOpts), "twilio_opts", len(twilioOpts), "store_opts", len(storeOpts), "api_opts", len(apiOpts))
	cfg := defaultOpts()
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, pg, err := openStore(storeOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("API store close failed", "error", err)
		}
	}()

	var flows store.FlowStateStore = st
	if cfg.RedisURL != "" {
		rs, err := store.NewRedisFlowStateStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect draft cache: %w", err)
		}
		defer rs.Close()
		flows = rs
		slog.Info("API drafts stored in Redis")
	}

	refs := reference.NewCachedProvider(reference.NewStoreProvider(st), cfg.RefCacheTTL)
	if cfg.SeedFile != "" {
		n, err := reference.LoadSeedFile(ctx, cfg.SeedFile, refs)
		if err != nil {
			return fmt.Errorf("failed to load reference seed: %w", err)
		}
		slog.Info("API reference seed loaded", "options", n, "path", cfg.SeedFile)
	}

	svc, twilioSvc, err := newTransport(cfg.Transport, waOpts, twilioOpts)
	if err != nil {
		return err
	}

	publisher := buildPublisher(&cfg, svc, pg)
	if pg != nil && cfg.Broadcast {
		go logNotifications(ctx, storeDSN(storeOpts), cfg.NotifyChan)
	}

	states := flow.NewStoreBasedStateManager(flows)
	finalizer := flow.NewFinalizer(st, publisher, states, flow.BroadcastConfig{Enabled: cfg.Broadcast})
	engine := flow.NewEngine(states, finalizer, flow.WithOptionProvider(refs))

	var presenter *messaging.Presenter
	if svc != nil {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start messaging service: %w", err)
		}
		defer func() {
			if err := svc.Stop(); err != nil {
				slog.Warn("API messaging service stop failed", "error", err)
			}
		}()
		messaging.NewResponseHandler(svc, engine, st).Start(ctx)
		presenter = messaging.NewPresenter(svc)
	}

	var notifier recovery.Notifier
	janitorOpts := []session.Option{session.WithIdleTimeout(cfg.IdleTimeout)}
	if presenter != nil {
		notifier = presenter
		janitorOpts = append(janitorOpts, session.WithNotifier(presenter))
	}
	janitor := session.NewJanitor(flows, engine, janitorOpts...)

	rm := recovery.NewRecoveryManager()
	rm.RegisterRecoverable(recovery.NewPendingBroadcasts(flows, engine, notifier))
	rm.RegisterRecoverable(recovery.Func{Label: "idle-drafts", Fn: func(ctx context.Context) error {
		_, err := janitor.Sweep(ctx)
		return err
	}})
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("API startup recovery incomplete", "error", err)
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := janitor.Schedule(ctx, sched, cfg.SweepCron); err != nil {
		return fmt.Errorf("failed to schedule draft sweep: %w", err)
	}

	server := NewServer(engine, states, st, refs, twilioSvc)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", cfg.Addr, "transport", cfg.Transport, "broadcast", cfg.Broadcast)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		slog.Info("API shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
		return err
	}
	slog.Info("API server stopped")
	return nil
}

// openStore picks the backend from the configured DSN. The Postgres store is
// returned separately so its connection can carry report notifications.
func openStore(opts []store.Option) (store.Store, *store.PostgresStore, error) {
	dsn := storeDSN(opts)
	switch {
	case dsn == "":
		slog.Warn("API no database configured, using in-memory store")
		return store.NewInMemoryStore(), nil, nil
	case store.DetectDSNType(dsn) == store.DSNTypePostgres:
		pg, err := store.NewPostgresStore(opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return pg, pg, nil
	default:
		sq, err := store.NewSQLiteStore(opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return sq, nil, nil
	}
}

func storeDSN(opts []store.Option) string {
	var cfg store.Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg.DSN
}

// logNotifications subscribes to the report notify channel and logs each
// published report until ctx is done.
func logNotifications(ctx context.Context, dsn, channel string) {
	notes, err := broadcast.Listen(ctx, dsn, channel)
	if err != nil {
		slog.Warn("API report notification listener disabled", "error", err)
		return
	}
	for note := range notes {
		slog.Info("API report notification received", "reportID", note.ReportID, "pathway", note.PathwayID, "conversationID", note.ConversationID)
	}
}

// newTransport builds the chat service. The Twilio service is also returned
// on its own because its webhook is served by the API.
func newTransport(name string, waOpts []whatsapp.Option, twilioOpts []twiliowhatsapp.Option) (messaging.Service, *messaging.TwilioService, error) {
	switch name {
	case TransportWhatsApp, "":
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil, nil
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(twilioOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client)
		return svc, svc, nil
	case TransportNone:
		slog.Warn("API running without a chat transport; conversations are only reachable over HTTP")
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", name)
	}
}

// buildPublisher assembles the broadcast targets. With broadcast enabled but
// no target available, broadcast is switched off so finalization still works.
func buildPublisher(cfg *Opts, sender broadcast.Sender, pg *store.PostgresStore) flow.Publisher {
	if !cfg.Broadcast {
		return nil
	}
	var targets []flow.Publisher
	if sender != nil && len(cfg.Recipients) > 0 {
		chat, err := broadcast.NewChatPublisher(sender, cfg.Recipients)
		if err != nil {
			slog.Warn("API chat broadcast disabled", "error", err)
		} else {
			targets = append(targets, chat)
		}
	}
	if pg != nil {
		targets = append(targets, broadcast.NewPostgresNotifier(pg.DB(), cfg.NotifyChan))
	}
	multi := broadcast.NewMultiPublisher(targets...)
	if multi.Len() == 0 {
		slog.Warn("API broadcast enabled but no target configured, disabling broadcast")
		cfg.Broadcast = false
		return nil
	}
	slog.Info("API broadcast enabled", "targets", multi.Len())
	return multi
}
