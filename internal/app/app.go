// Package app initializes and runs the sync engine: it opens the local
// cache, wires the two remote ports, bootstraps the configured identity and
// keeps the staleness loop and metrics endpoint running until shutdown.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "modernc.org/sqlite"

	"github.com/pubsync/pubsync/internal/apperr"
	"github.com/pubsync/pubsync/internal/bootstrap"
	"github.com/pubsync/pubsync/internal/config"
	"github.com/pubsync/pubsync/internal/homeserver"
	"github.com/pubsync/pubsync/internal/logging"
	"github.com/pubsync/pubsync/internal/metrics"
	"github.com/pubsync/pubsync/internal/models"
	"github.com/pubsync/pubsync/internal/netx"
	"github.com/pubsync/pubsync/internal/nexus"
	"github.com/pubsync/pubsync/internal/services"
	"github.com/pubsync/pubsync/internal/store"
	"github.com/pubsync/pubsync/internal/stream"
	"github.com/pubsync/pubsync/internal/ttl"
)

type App struct {
	config *config.Config
	logger logging.Logger

	repos    *store.Repositories
	registry *prometheus.Registry

	nexus   nexus.Service
	hs      homeserver.Service
	engine  *stream.Engine
	coord   *ttl.Coordinator
	orch    *bootstrap.Orchestrator
	follow  *services.FollowService
	account *services.AccountService
	setting *services.SettingsService
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if cfg.Pubky == "" {
		return nil, errors.New("no identity configured")
	}

	repos, err := store.InitDatabase(ctx, cfg.SQLiteDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	registry := prometheus.NewRegistry()
	reqs := metrics.NewRequests(registry)

	nx := nexus.NewClient(cfg.NexusBaseURL, cfg.RequestTimeout, logger, apperr.DefaultRetryPolicy(), reqs)

	token := cfg.SessionToken
	if token == "" {
		token = os.Getenv("PUBSYNC_SESSION_TOKEN")
	}
	tokens := func(ctx context.Context) (string, error) {
		if token == "" {
			return "", errors.New("no session token configured")
		}
		return token, nil
	}
	hs := homeserver.NewClient(cfg.HomeserverBaseURL, cfg.RequestTimeout, logger, tokens, nil, reqs)

	blobs, err := netx.NewDownloader(cfg.BlobCacheDir, cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("blob cache init error: %w", err)
	}

	coord := ttl.NewCoordinator(repos.TTL, logger, cfg.TTLScanInterval, cfg.TTLRetryDelay)
	coord.Register("user", func(ctx context.Context, pubky string) error {
		user, err := nx.FetchUser(ctx, pubky)
		if err != nil {
			return err
		}
		return repos.Users.Upsert(ctx, user)
	})
	coord.Register("post", func(ctx context.Context, id string) error {
		cid, err := models.ParseCompositeID(id)
		if err != nil {
			return err
		}
		data, err := hs.Get(ctx, cid.URI())
		if err != nil {
			if apperr.IsNotFound(err) {
				// The post is gone upstream; drop the snapshot too.
				return repos.Posts.Delete(ctx, cid)
			}
			return err
		}
		var rec struct {
			Content     string   `json:"content"`
			Kind        string   `json:"kind"`
			ReplyTo     string   `json:"reply_to"`
			Attachments []string `json:"attachments"`
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decoding post %s: %w", cid, err)
		}
		return repos.Posts.Upsert(ctx, &models.Post{
			ID:          cid,
			Author:      cid.Author(),
			Content:     rec.Content,
			Kind:        rec.Kind,
			ReplyTo:     rec.ReplyTo,
			Attachments: rec.Attachments,
			IndexedAt:   time.Now().UnixMilli(),
		})
	})

	orch := bootstrap.NewOrchestrator(bootstrap.Deps{
		Nexus:             nx,
		Homeserver:        hs,
		Repos:             repos,
		TTL:               coord,
		Blobs:             blobs,
		Flatten:           bootstrap.NewFlattener(nx, repos.Users, logger),
		Log:               logger,
		NotificationLimit: cfg.NotificationLimit,
		RetryDelay:        cfg.BootstrapRetryDelay,
	})

	return &App{
		config:   cfg,
		logger:   logger,
		repos:    repos,
		registry: registry,
		nexus:    nx,
		hs:       hs,
		engine:   stream.NewEngine(nx, repos.Posts, repos.Streams, logger),
		coord:    coord,
		orch:     orch,
		follow:   services.NewFollowService(repos.Users, hs),
		account:  services.NewAccountService(repos, hs, logger),
		setting:  services.NewSettingsService(repos.Settings, hs),
	}, nil
}

// Paginator opens a pagination session over one stream.
func (app *App) Paginator(id models.StreamID) *stream.Paginator {
	return stream.NewPaginator(app.engine, id, app.config.PostsPerPage, app.logger)
}

// Follow exposes the write-through follow service.
func (app *App) Follow() *services.FollowService { return app.follow }

// Account exposes the account deletion service.
func (app *App) Account() *services.AccountService { return app.account }

// Settings exposes the settings sync service.
func (app *App) Settings() *services.SettingsService { return app.setting }

func (app *App) initSignalHandler(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancel()
	}()
}

func (app *App) startMetricsServer(ctx context.Context) {
	if app.config.MetricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: app.config.MetricsAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error(ctx, "metrics server failed", "error", err)
		}
	}()
}

// Run bootstraps the identity and blocks until the context is cancelled or a
// termination signal arrives.
func (app *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app.logger.Info(ctx, "starting sync engine", "pubky", app.config.Pubky)

	app.initSignalHandler(cancel)
	app.startMetricsServer(ctx)

	stop := app.coord.Start(ctx)
	defer stop()

	lastReadURL := models.BaseDirURL(app.config.Pubky) + "last_read"
	state, err := app.orch.InitializeWithRetry(ctx, app.config.Pubky, lastReadURL)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	app.logger.Info(ctx, "bootstrap complete", "unread", state.Unread, "last_read", state.LastRead)

	<-ctx.Done()
	app.logger.Info(ctx, "shutting down")
	return app.repos.DB.Close()
}
