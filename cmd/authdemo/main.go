// Command authdemo wires the auth package into a small chi server. It is the
// reference integration: cookie-session routes, admin gating, OAuth redirect
// endpoints, a bearer-token API route, and Prometheus metrics.
package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/authcore-dev/authcore/auth"
)

func main() {
	reg := prometheus.NewRegistry()

	cfg := auth.ConfigFromEnv()
	cfg.Metrics = auth.NewCollector(reg)
	cfg.Logf = log.Printf

	api, err := auth.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer api.Close()

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Post("/register", func(w http.ResponseWriter, r *http.Request) {
		if !auth.SameOrigin(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		u, err := api.Register(r.Context(), w, r, r.FormValue("email"), r.FormValue("password"), r.FormValue("name"))
		switch {
		case errors.Is(err, auth.ErrEmailTaken):
			http.Error(w, "email already registered", http.StatusConflict)
		case errors.Is(err, auth.ErrWeakPassword):
			http.Error(w, "password does not meet policy", http.StatusBadRequest)
		case err != nil:
			http.Error(w, "invalid input", http.StatusBadRequest)
		default:
			writeJSON(w, http.StatusCreated, u)
		}
	})

	r.Post("/login", func(w http.ResponseWriter, r *http.Request) {
		if !auth.SameOrigin(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		u, err := api.Login(w, r, r.FormValue("email"), r.FormValue("password"))
		switch {
		case errors.Is(err, auth.ErrTooManyAttempts):
			http.Error(w, "too many attempts, try again later", http.StatusTooManyRequests)
		case err != nil:
			// One message for every failure cause; no account enumeration.
			http.Error(w, "invalid email or password", http.StatusUnauthorized)
		default:
			writeJSON(w, http.StatusOK, u)
		}
	})

	r.Post("/logout", func(w http.ResponseWriter, r *http.Request) {
		if !auth.SameOrigin(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if err := api.Logout(w, r); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Group(func(r chi.Router) {
		r.Use(api.Middleware)

		r.With(api.RequireAuth).Get("/me", func(w http.ResponseWriter, r *http.Request) {
			u, _ := auth.FromContext(r.Context())
			writeJSON(w, http.StatusOK, u)
		})

		r.With(api.RequireAuth).Post("/token", func(w http.ResponseWriter, r *http.Request) {
			u, _ := auth.FromContext(r.Context())
			tok, err := api.IssueToken(u, 0)
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"token": tok})
		})

		r.With(api.RequireAdmin).Get("/admin", func(w http.ResponseWriter, r *http.Request) {
			u, _ := auth.FromContext(r.Context())
			writeJSON(w, http.StatusOK, map[string]string{"admin": u.Email})
		})
	})

	// Stateless surface: same identity, no cookie, no DB lookup.
	r.With(api.RequireToken).Get("/api/whoami", func(w http.ResponseWriter, r *http.Request) {
		u, _ := auth.FromContext(r.Context())
		writeJSON(w, http.StatusOK, u)
	})

	r.Get("/oauth/{provider}/login", func(w http.ResponseWriter, r *http.Request) {
		redirect, err := api.OAuthInitiate(r.Context(), chi.URLParam(r, "provider"))
		if errors.Is(err, auth.ErrUnknownProvider) {
			http.Error(w, "unknown provider", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, redirect, http.StatusFound)
	})

	r.Get("/oauth/{provider}/callback", func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")
		_, err := api.OAuthCallback(r.Context(), w, r, provider, code, state)
		switch {
		case errors.Is(err, auth.ErrStateMismatch), errors.Is(err, auth.ErrExpiredState):
			http.Error(w, "login expired, start again", http.StatusBadRequest)
		case errors.Is(err, auth.ErrUnknownProvider):
			http.Error(w, "unknown provider", http.StatusNotFound)
		case err != nil:
			http.Error(w, "login failed", http.StatusBadGateway)
		default:
			http.Redirect(w, r, "/me", http.StatusFound)
		}
	})

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	addr := os.Getenv("AUTH_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, r))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
