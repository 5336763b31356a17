// Package api serves a read-only view of a user's ledger over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/oauth2"

	"github.com/susu3304/qarzbot/internal/config"
	"github.com/susu3304/qarzbot/internal/ledger"
	"github.com/susu3304/qarzbot/internal/users"
)

const (
	tokenTTL          = 24 * time.Hour
	defaultDiscordAPI = "https://discord.com/api"
)

type API struct {
	router      *mux.Router
	ledger      *ledger.Service
	users       users.Store
	config      *config.Config
	oauthConfig *oauth2.Config
	jwtSecret   []byte
	discordAPI  string
	http        *http.Client
	log         *slog.Logger
	now         func() time.Time
}

func New(cfg *config.Config, svc *ledger.Service, us users.Store, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	api := &API{
		router:     mux.NewRouter(),
		ledger:     svc,
		users:      us,
		config:     cfg,
		jwtSecret:  []byte(cfg.JWTSecret),
		discordAPI: defaultDiscordAPI,
		http:       &http.Client{Timeout: 15 * time.Second},
		log:        log,
		now:        time.Now,
	}
	if cfg.OAuthEnabled() {
		api.oauthConfig = &oauth2.Config{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			RedirectURL:  cfg.DiscordRedirectURI,
			Scopes:       []string{"identify"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://discord.com/api/oauth2/authorize",
				TokenURL: "https://discord.com/api/oauth2/token",
			},
		}
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.router.HandleFunc("/healthz", a.handleHealth).Methods("GET")

	// Auth endpoints
	a.router.HandleFunc("/api/auth/login", a.handleLogin).Methods("GET")
	a.router.HandleFunc("/api/auth/callback", a.handleCallback).Methods("GET")
	a.router.HandleFunc("/api/auth/logout", a.handleLogout).Methods("POST")

	// Web interface
	a.router.HandleFunc("/", a.handleWebInterface).Methods("GET")

	// Protected endpoints
	protected := a.router.PathPrefix("/api/me").Subrouter()
	protected.Use(a.authMiddleware)

	protected.HandleFunc("", a.handleMe).Methods("GET")
	protected.HandleFunc("/debts", a.handleDebts).Methods("GET")
	protected.HandleFunc("/debts/{id:[0-9]+}", a.handleDebt).Methods("GET")
	protected.HandleFunc("/summary", a.handleSummary).Methods("GET")
	protected.HandleFunc("/history", a.handleHistory).Methods("GET")
	protected.HandleFunc("/notifications", a.handleNotifications).Methods("GET")
	protected.HandleFunc("/notifications/{id:[0-9]+}/read", a.handleMarkRead).Methods("POST")
}

// Handler is the router wrapped with CORS.
func (a *API) Handler() http.Handler {
	// Bearer tokens only, so credentials stay off with the wildcard origin.
	corsOptions := cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}
	return cors.New(corsOptions).Handler(a.router)
}

// Start serves until ctx is done, then shuts down gracefully.
func (a *API) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.config.WebBind,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("API server listening", "addr", "http://"+a.config.WebBind)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
