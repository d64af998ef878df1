package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"vitalwatch/internal/alerting"
	"vitalwatch/internal/broadcast"
	"vitalwatch/internal/config"
	"vitalwatch/internal/fetcher"
	"vitalwatch/internal/httpapi"
	"vitalwatch/internal/logging"
	"vitalwatch/internal/service"
	"vitalwatch/internal/storage"
	"vitalwatch/internal/tui"
	"vitalwatch/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newClient(logger zerolog.Logger) *fetcher.Health {
	userAgent := a.Config.Service.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	return fetcher.NewHealth(fetcher.HealthOptions{
		BaseURL:   a.Config.Service.BaseURL,
		Timeout:   a.Config.Service.RequestTimeout,
		UserAgent: userAgent,
	}, logger)
}

func (a *App) newNotifier(logger zerolog.Logger) alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openPublisher(ctx context.Context, logger zerolog.Logger) (*broadcast.Publisher, error) {
	if a.Config.Redis.Addr == "" {
		return nil, nil
	}
	return broadcast.Dial(ctx, a.Config.Redis, logger)
}

// monitor is a fully wired service plus the resources it owns.
type monitor struct {
	svc     *service.Service
	metrics *service.Metrics
	closers []func()
}

func (m *monitor) Close() {
	for i := len(m.closers) - 1; i >= 0; i-- {
		m.closers[i]()
	}
}

func (a *App) newMonitor(ctx context.Context, logger zerolog.Logger) (*monitor, error) {
	m := &monitor{metrics: service.NewMetrics()}
	deps := service.Deps{
		Client:   a.newClient(logger),
		Notifier: a.newNotifier(logger),
		Metrics:  m.metrics,
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store != nil {
		deps.Journal = store
		m.closers = append(m.closers, closeStore)
	} else {
		logger.Warn().Msg("database.dsn not configured; alert journal disabled")
	}

	publisher, err := a.openPublisher(ctx, logger)
	if err != nil {
		m.Close()
		return nil, err
	}
	if publisher != nil {
		deps.Publisher = publisher
		m.closers = append(m.closers, func() { _ = publisher.Close() })
	}

	if a.Config.Alerting.Enabled && deps.Notifier == nil {
		logger.Warn().Msg("alerting enabled but no notification channel configured")
	}

	m.svc = service.New(service.OptionsFromConfig(a.Config), deps, logger)
	return m, nil
}

// serveHTTP starts the status surface when configured. The returned channel
// yields the server's exit error once.
func (a *App) serveHTTP(ctx context.Context, m *monitor, logger zerolog.Logger) <-chan error {
	errCh := make(chan error, 1)
	addr := a.Config.HTTP.ListenAddr
	if addr == "" {
		close(errCh)
		return errCh
	}
	srv := httpapi.NewServer(m.svc, m.metrics, logger)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(ctx, addr, a.Config.HTTP.ShutdownTimeout); err != nil {
			errCh <- err
		}
	}()
	return errCh
}

// Run executes the headless monitor: polling, alert notification, and the
// optional HTTP surface and Redis feed.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m, err := a.newMonitor(ctx, a.Logger)
	if err != nil {
		return err
	}
	defer m.Close()

	httpErr := a.serveHTTP(ctx, m, a.Logger)
	go func() {
		if err := <-httpErr; err != nil {
			a.Logger.Error().Err(err).Msg("http surface failed")
			cancel()
		}
	}()

	a.Logger.Info().
		Str("subject", a.Config.Service.SubjectID).
		Str("base_url", a.Config.Service.BaseURL).
		Str("run_id", m.svc.RunID()).
		Msg("starting monitor")
	err = m.svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("monitor terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitor stopped")
	return nil
}

// Watch runs the interactive terminal dashboard on top of the monitor.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := a.dashboardLogger()
	m, err := a.newMonitor(ctx, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	httpErr := a.serveHTTP(ctx, m, logger)

	done := make(chan error, 1)
	go func() { done <- m.svc.Run(ctx) }()

	uiErr := tui.Run(ctx, m.svc)
	cancel()
	<-done
	if err := <-httpErr; err != nil {
		logger.Error().Err(err).Msg("http surface failed")
	}
	return uiErr
}

// dashboardLogger keeps log lines off the terminal the dashboard draws on.
func (a *App) dashboardLogger() zerolog.Logger {
	switch strings.ToLower(strings.TrimSpace(a.Config.Logging.Output)) {
	case "", "stdout", "stderr":
		cfg := a.Config.Logging
		cfg.Output = "discard"
		return logging.NewLogger(cfg)
	default:
		return a.Logger
	}
}

// ExportOptions hold parameters for exporting the history window.
type ExportOptions struct {
	Hours     int
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	JSON   bool
	Cached bool
}

// HistoryOptions configure the history command.
type HistoryOptions struct {
	Hours int
	Limit int
}

// AlertsOptions configure the alerts list command.
type AlertsOptions struct {
	Limit int
}
