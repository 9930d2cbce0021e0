package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/vaultpass/identity-go/internal/middleware"
)

// Pinger reports whether the backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter wires the HTTP routes.
func NewRouter(
	logger *zerolog.Logger,
	auth *AuthHandler,
	tokens middleware.TokenResolver,
	store Pinger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			logger.Warn().Err(err).Msg("health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("store unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", auth.HandleRegister)
		r.Post("/login", auth.HandleLogin)

		r.Group(func(r chi.Router) {
			r.Use(middleware.TokenAuth(tokens, logger))
			r.Get("/me", auth.HandleMe)
		})
	})

	return r
}
