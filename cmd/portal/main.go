// Command portal is a terminal client for the renovation portal backend.
//
// Usage:
//
//	PORTAL_API_BASE_URL=http://localhost:8081 portal login --username alice --password secret
//	portal projects list
//	portal watch --project p1
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/khgapparov/flipApp/internal/api"
	"github.com/khgapparov/flipApp/internal/config"
	"github.com/khgapparov/flipApp/internal/eventbus"
	"github.com/khgapparov/flipApp/internal/health"
	"github.com/khgapparov/flipApp/internal/metrics"
	"github.com/khgapparov/flipApp/internal/notify"
	"github.com/khgapparov/flipApp/internal/poll"
	"github.com/khgapparov/flipApp/internal/portal"
	"github.com/khgapparov/flipApp/internal/session"
	"github.com/khgapparov/flipApp/internal/store"
	"github.com/khgapparov/flipApp/pkg/tokenstore"
)

// app holds the wired client for one command invocation.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	portal  *portal.Portal
	prober  *health.Prober
	metrics *metrics.Metrics
	db      *store.Store
	closers []func() error
}

func main() {
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if os.Getenv(config.Prefix+"_ENVIRONMENT") != "production" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize client")
	}
	defer a.close()

	if err := a.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, errUsage) {
			usage()
			os.Exit(2)
		}
		logger.Error().Err(err).Str("command", os.Args[1]).Msg("command failed")
		a.close()
		os.Exit(1)
	}
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	var backend tokenstore.Store
	if cfg.SessionDBPath != "" {
		db, err := store.New(cfg.SessionDBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.db = db
		backend = db
	} else {
		logger.Info().Msg("session DB path empty, keeping session in memory")
		backend = tokenstore.NewMemoryStore()
	}
	sessions := session.NewStore(backend, logger)

	notifiers := notify.Multi{notify.NewLog(logger)}
	if cfg.SlackEnabled() {
		notifiers = append(notifiers, notify.NewSlackFromToken(cfg.SlackBotToken, cfg.SlackChannel, logger))
		logger.Info().Str("channel", cfg.SlackChannel).Msg("mirroring notifications to Slack")
	}
	notifier := notify.Counted(notifiers, a.metrics)

	a.prober = health.NewProber(cfg.APIBaseURL, cfg.ProbePath, &http.Client{}, logger)

	opts := []api.Option{
		api.WithProber(a.prober),
		api.WithNotifier(notifier),
		api.WithMetrics(a.metrics),
		api.WithTimeout(cfg.RequestTimeout),
		api.WithNavigator(api.NavigatorFunc(func(ctx context.Context) {
			logger.Warn().Str("login_url", cfg.LoginURL).Msg("login required")
		})),
	}
	if cfg.RateLimited() {
		opts = append(opts, api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}
	client := api.NewClient(cfg.APIBaseURL, sessions, logger, opts...)

	popts := []portal.Option{
		portal.WithNotifier(notifier),
		portal.WithPollManager(poll.NewManager(logger, a.metrics)),
		portal.WithIntervals(portal.Intervals{
			Project: cfg.ProjectPollInterval,
			Updates: cfg.UpdatesPollInterval,
			Gallery: cfg.GalleryPollInterval,
			Chat:    cfg.ChatPollInterval,
		}),
	}
	if cfg.EventsEnabled() {
		bus := eventbus.New(notifier, logger)
		popts = append(popts, portal.WithEventBus(bus), portal.WithEventFeed(eventbus.NewFeed(cfg.EventsURL, bus, logger)))
	}
	a.portal = portal.New(client, sessions, logger, popts...)
	return a, nil
}

func (a *app) close() {
	if a.portal != nil {
		a.portal.Close()
		a.portal = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}

// checker reports backend reachability and, when persisted, session storage health.
func (a *app) checker() *health.Checker {
	checker := health.NewChecker(a.logger)
	checker.Register("backend", a.prober.Check)
	if a.db != nil {
		checker.Register("storage", func(ctx context.Context) health.Status {
			if err := a.db.Ping(ctx); err != nil {
				return health.StatusDown
			}
			return health.StatusOK
		})
	}
	return checker
}

// serveMetrics exposes /metrics, /health and /ready while watch runs.
func (a *app) serveMetrics(ctx context.Context) {
	if a.cfg.MetricsAddr == "" {
		return
	}
	checker := a.checker()

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/health", health.LivenessHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())

	server := &http.Server{
		Addr:         a.cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		a.logger.Info().Str("addr", a.cfg.MetricsAddr).Msg("metrics server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
