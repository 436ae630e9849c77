// Package app wires the application components together. Dependencies
// are constructed here and passed down explicitly; nothing reaches for
// package-level singletons.
package app

import (
	"fmt"

	"apibridge/internal/apiclient"
	"apibridge/internal/auth"
	"apibridge/internal/common/logging"
	"apibridge/internal/config"
	"apibridge/internal/metrics"
	"apibridge/internal/ratelimit"
	"apibridge/internal/scheduler"
	"apibridge/internal/tokenstore"
)

// App holds all the application dependencies.
type App struct {
	Config    *config.Config
	Store     tokenstore.Store
	Limiter   *ratelimit.Limiter
	Auth      *auth.Manager
	Client    *apiclient.Client
	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Metrics
	Logger    logging.Logger
}

// New creates an application instance with all dependencies wired in
// order: store, limiter, auth, client, scheduler.
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config:  cfg,
		Logger:  logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
		Metrics: metrics.New(nil),
	}

	store, err := tokenstore.NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token store: %w", err)
	}
	app.Store = store

	limiter, err := ratelimit.New(ratelimit.Config{
		Capacity:       cfg.RateLimitCapacity,
		RefillAmount:   cfg.RateLimitRefill,
		RefillInterval: cfg.RateLimitInterval,
	}, app.Metrics)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	app.Limiter = limiter

	authManager, err := auth.NewManager(auth.Config{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURI:  cfg.OAuthRedirectURI,
		AuthURL:      cfg.OAuthAuthURL,
		TokenURL:     cfg.OAuthTokenURL,
		RevokeURL:    cfg.OAuthRevokeURL,
		ProbeURL:     cfg.APIBaseURL,
		DefaultScope: cfg.OAuthDefaultScope,
		UserAgent:    cfg.UserAgent,
	}, store, app.Metrics)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize auth manager: %w", err)
	}
	app.Auth = authManager

	client, err := apiclient.New(apiclient.Config{
		BaseURL:        cfg.APIBaseURL,
		UserAgent:      cfg.UserAgent,
		RequestTimeout: cfg.APIRequestTimeout,
		MaxRetries:     cfg.APIMaxRetries,
		RetryBaseDelay: cfg.APIRetryBaseDelay,
	}, limiter, authManager, app.Metrics)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize API client: %w", err)
	}
	app.Client = client

	sched, err := scheduler.New(authManager, cfg.TokenRefreshInterval)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	app.Scheduler = sched

	return app, nil
}

// Start arms the background token refresh.
func (app *App) Start() error {
	return app.Scheduler.Start()
}

// Cleanup releases all resources: stops the scheduler, rejects queued
// rate limiter waiters and closes the token store.
func (app *App) Cleanup() {
	if app.Scheduler != nil {
		app.Scheduler.Stop()
	}
	if app.Limiter != nil {
		app.Limiter.ClearQueue()
	}
	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			app.Logger.Warn("Failed to close token store",
				logging.Field{Key: "error", Value: err.Error()})
		}
	}
}
