package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"portfoliodoctor/src/auth"
	"portfoliodoctor/src/handler"
	"portfoliodoctor/src/repository"
	"portfoliodoctor/src/stream"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"
)

// Deps is everything the HTTP layer is wired to.
type Deps struct {
	Users      repository.UserRepository
	Tokens     auth.TokenParser
	Issuer     handler.TokenIssuer
	BcryptCost int
	Vault      handler.CredentialVault
	Catalogue  handler.ExchangeCatalogue
	Portfolio  handler.PortfolioDeps
	Hub        *stream.Hub
}

func NewRouter(cfg *Config, d Deps) http.Handler {
	r := chi.NewRouter()

	// === Global Middleware ===
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigin, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("healthcheck write failed")
		}
	})
	r.Handle("/metrics", promhttp.Handler())

	authDeps := handler.AuthDeps{Users: d.Users, Tokens: d.Issuer, BcryptCost: d.BcryptCost}
	requireUser := auth.Middleware(d.Tokens, d.Users)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", handler.RegisterHandler(authDeps))
		r.Post("/auth/login", handler.LoginHandler(authDeps))
		r.Get("/exchanges/list", handler.ListExchangesHandler(d.Catalogue))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			r.Get("/auth/profile", handler.ProfileHandler())
			r.Put("/users/profile", handler.UpdateUserHandler(d.Users))
			r.Post("/users/password", handler.ChangePasswordHandler(d.Users, d.BcryptCost))

			r.Get("/exchanges/connected", handler.ConnectedExchangesHandler(d.Vault))
			r.Post("/exchanges/connect", handler.ConnectExchangeHandler(d.Vault, d.Catalogue))
			r.Put("/exchanges/{exchangeId}", handler.UpdateExchangeKeysHandler(d.Vault, d.Catalogue))
			r.Delete("/exchanges/{exchangeId}", handler.DisconnectExchangeHandler(d.Vault, d.Catalogue))

			r.Get("/portfolio", handler.GetPortfolioHandler(d.Portfolio))
			r.Post("/portfolio/sync", handler.SyncPortfolioHandler(d.Portfolio))
			r.Get("/portfolio/sync-runs", handler.SyncRunsHandler(d.Portfolio))
		})
	})

	if d.Hub != nil {
		r.With(requireUser).Get("/ws/sync", stream.ServeWS(d.Hub, stream.NewUpgrader(cfg.CORSOrigin)))
	}

	return r
}

// StartServer serves h on port until SIGINT or SIGTERM, then shuts down
// gracefully.
func StartServer(cfg *Config, h http.Handler) {
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
