// Package server assembles the orchat service from its parts and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/auth"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/catalog"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/chat"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/config"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/handlers"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/interceptor"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/messaging"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/metrics"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/middleware"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/openrouter"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/secret"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/session"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage/sqlstore"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/widget"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/ws"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg *config.Config

	Storage  storage.Store
	Secrets  *secret.Store
	Rules    *interceptor.RuleSet
	Syncer   *interceptor.Syncer
	Client   *openrouter.Client
	Catalog  *catalog.Directory
	Sessions *session.Registry
	Widgets  *widget.Registry
	Router   *messaging.Router
	Hub      *ws.Hub

	handler http.Handler
}

// OpenStorage opens the configured storage backend.
func OpenStorage(cfg *config.Config) (storage.Store, error) {
	if err := cfg.EnsureDir(); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	st, err := sqlstore.New(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return st, nil
}

// NewVault returns the key vault selected by cfg.
func NewVault(cfg config.SecretConfig, st storage.Store) (secret.KeyVault, error) {
	var vault secret.KeyVault
	switch cfg.Backend {
	case "", "storage":
		vault = &secret.StorageVault{Storage: st}
	case "keyring":
		vault = secret.NewKeyringVault(cfg.KeyringUser)
	default:
		return nil, fmt.Errorf("unknown secret backend %q", cfg.Backend)
	}
	if cfg.Passphrase != "" {
		vault = &secret.PassphraseVault{Inner: vault, Passphrase: cfg.Passphrase}
	}
	return vault, nil
}

// New wires every component on top of st. The encryption key is created
// here, before any request can race for it.
func New(ctx context.Context, cfg *config.Config, st storage.Store) (*Server, error) {
	s := &Server{cfg: cfg, Storage: st}

	vault, err := NewVault(cfg.Secret, st)
	if err != nil {
		return nil, err
	}
	s.Secrets = secret.New(st, vault)
	if err := s.Secrets.Init(ctx); err != nil {
		return nil, fmt.Errorf("init secret store: %w", err)
	}

	mode, err := interceptor.ParseMode(cfg.Interceptor.Mode)
	if err != nil {
		return nil, err
	}
	prefix, err := interceptor.PrefixFor(cfg.API.BaseURL)
	if err != nil {
		return nil, err
	}
	s.Rules = interceptor.NewRuleSet()
	s.Syncer = &interceptor.Syncer{Rules: s.Rules, Credentials: s.Secrets, Storage: st, Prefix: prefix}
	if mode == interceptor.ModeRules {
		if err := s.Syncer.Resync(ctx); err != nil {
			logrus.WithError(err).Warn("initial header rule sync failed")
		}
	}
	live := &interceptor.Interceptor{Prefix: prefix, Credentials: s.Secrets}
	transport := interceptor.NewTransport(mode, live, s.Rules, prefix, nil)

	s.Client = openrouter.New(
		openrouter.WithBaseURL(cfg.API.BaseURL),
		openrouter.WithHTTPClient(&http.Client{Transport: transport}),
		openrouter.WithReferer(cfg.API.Referer),
		openrouter.WithTitle(cfg.API.Title),
		openrouter.WithTimeout(cfg.API.Timeout),
	)

	s.Router = messaging.NewRouter()
	s.Hub = ws.NewHub(s.Router)

	s.Catalog = catalog.New(st, s.Client, cfg.Models.CacheTTL)
	s.Catalog.OnSelect = func(modelID string) {
		s.Hub.Broadcast(ws.EventModelSelected, map[string]string{"model": modelID})
	}

	s.Sessions = session.NewRegistry(st, session.WithDefaultModel(cfg.Chat.DefaultModel))
	s.Sessions.OnChange(func(tabID string, v session.View) {
		s.Hub.Push(tabID, ws.EventSessionsUpdated, v)
	})

	s.Widgets = widget.NewRegistry(st)
	s.Hub.OnDisconnect = s.Widgets.Release

	recorder := metrics.NewRecorder(st, metrics.Config{
		MaxEntries: cfg.Metrics.MaxEntries,
		PerSecond:  cfg.Metrics.PerSecond,
		Burst:      cfg.Metrics.Burst,
	})
	(&handlers.KeyHandler{Keys: s.Secrets}).Register(s.Router)
	(&handlers.PanelHandler{Storage: st, Widgets: s.Widgets, Metrics: recorder}).Register(s.Router)

	secretBytes := []byte(cfg.Server.CookieSecret)
	if len(secretBytes) == 0 {
		if secretBytes, err = auth.LoadOrCreateSecret(ctx, st); err != nil {
			return nil, err
		}
	}
	signer, err := auth.NewSigner(secretBytes)
	if err != nil {
		return nil, err
	}

	target, err := url.Parse(prefix)
	if err != nil {
		return nil, err
	}
	target.Path = ""

	guard, err := middleware.NewGuard(cfg.Server.Addr, cfg.Server.AllowedOrigins)
	if err != nil {
		return nil, err
	}
	s.Hub.CheckOrigin = guard.AllowOrigin

	s.handler = s.routes(guard, signer, interceptor.NewProxy(target, transport))
	return s, nil
}

func (s *Server) routes(guard *middleware.Guard, signer *auth.Signer, proxy http.Handler) http.Handler {
	chatHandler := &handlers.ChatHandler{
		Sessions:   s.Sessions,
		Dispatcher: chat.New(s.Client),
		Archive:    session.NewArchive(s.Storage),
		Labels:     s.Catalog,
	}
	modelHandler := &handlers.ModelHandler{Catalog: s.Catalog, Credentials: s.Secrets}
	messageHandler := &handlers.MessageHandler{Router: s.Router}
	commandHandler := &handlers.CommandHandler{Hub: s.Hub, Storage: s.Storage, Resync: s.Syncer.Resync}

	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware)
	r.Use(guard.Middleware)

	// The proxy carries no tab identity.
	r.PathPrefix("/api/").Handler(proxy)

	app := r.NewRoute().Subrouter()
	app.Use(middleware.Tab(signer))

	app.HandleFunc("/sessions", chatHandler.ListSessions).Methods("GET")
	app.HandleFunc("/sessions", chatHandler.CreateSession).Methods("POST")
	app.HandleFunc("/sessions/{id}", chatHandler.CloseSession).Methods("DELETE")
	app.HandleFunc("/sessions/{id}/activate", chatHandler.ActivateSession).Methods("POST")
	app.HandleFunc("/sessions/{id}/model", chatHandler.SetModel).Methods("PUT")
	app.HandleFunc("/sessions/{id}/messages", chatHandler.SendMessage).Methods("POST")
	app.HandleFunc("/sessions/{id}/export", chatHandler.Export).Methods("GET")
	app.HandleFunc("/sessions/{id}/save", chatHandler.Save).Methods("POST")
	app.HandleFunc("/saved", chatHandler.ListSaved).Methods("GET")
	app.HandleFunc("/saved/{id}/open", chatHandler.OpenSaved).Methods("POST")
	app.HandleFunc("/saved/{id}", chatHandler.DeleteSaved).Methods("DELETE")

	app.HandleFunc("/models", modelHandler.ListModels).Methods("GET")
	app.HandleFunc("/models/selected", modelHandler.GetSelected).Methods("GET")
	app.HandleFunc("/models/selected", modelHandler.SetSelected).Methods("PUT")

	app.HandleFunc("/messages", messageHandler.Post).Methods("POST")
	app.HandleFunc("/commands/{name}", commandHandler.Run).Methods("POST")

	app.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(s.Hub, w, r, middleware.TabID(r.Context()))
	})

	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start runs the background loops until ctx is done.
func (s *Server) Start(ctx context.Context) {
	go s.Hub.Run(ctx)
	go func() {
		if err := s.Syncer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).Warn("header rule syncer stopped")
		}
	}()
}

// Run serves on the configured address until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.Start(ctx)

	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logrus.WithField("addr", srv.Addr).Info("starting server")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logrus.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
