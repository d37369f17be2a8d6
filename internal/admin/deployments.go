// Package admin exposes a small HTTP API to provision deployment configurations.
//
// Routes (mount under /admin):
//
//	GET    /deployments
//	GET    /deployments/{id}
//	PUT    /deployments/{id}
//	DELETE /deployments/{id}
//
// All routes require HTTP basic auth against a bcrypt password hash.
package admin

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-lti13/internal/registry"
)

// Options configures Routes.
type Options struct {
	User     string
	PassHash string // bcrypt
	Origins  []string
	Logger   *slog.Logger
}

// Routes returns the admin handler backed by store.
func Routes(store registry.Store, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	if len(opts.Origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.Origins,
			AllowedMethods:   []string{"GET", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(BasicAuth(opts.User, opts.PassHash))

	r.Get("/deployments", listDeployments(store))
	r.Get("/deployments/{id}", getDeployment(store))
	r.Put("/deployments/{id}", putDeployment(store, logger))
	r.Delete("/deployments/{id}", deleteDeployment(store, logger))
	return r
}

// BasicAuth rejects requests whose credentials do not match user and the bcrypt
// hash. An empty user or hash rejects everything.
func BasicAuth(user, passHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || user == "" || passHash == "" ||
				subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(passHash), []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="lti-admin"`)
				writeErr(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func listDeployments(store registry.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := store.List(r.Context())
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		if items == nil {
			items = []registry.DeploymentConfig{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func getDeployment(store registry.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := store.Lookup(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				writeErr(w, http.StatusNotFound, "deployment not found")
				return
			}
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func putDeployment(store registry.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var d registry.DeploymentConfig
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		d = trimDeployment(d)
		switch {
		case d.DeploymentID == "":
			d.DeploymentID = id
		case d.DeploymentID != id:
			writeErr(w, http.StatusBadRequest, "deployment_id does not match path")
			return
		}
		if err := d.Validate(); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := store.Upsert(r.Context(), d); err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		logger.InfoContext(r.Context(), "deployment upserted", "deployment_id", d.DeploymentID, "client_id", d.ClientID, "issuer", d.Issuer)
		writeJSON(w, http.StatusOK, d)
	}
}

func deleteDeployment(store registry.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := store.Delete(r.Context(), id); err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				writeErr(w, http.StatusNotFound, "deployment not found")
				return
			}
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		logger.InfoContext(r.Context(), "deployment deleted", "deployment_id", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func trimDeployment(d registry.DeploymentConfig) registry.DeploymentConfig {
	d.DeploymentID = strings.TrimSpace(d.DeploymentID)
	d.ClientID = strings.TrimSpace(d.ClientID)
	d.Issuer = strings.TrimSpace(d.Issuer)
	d.KeySetURL = strings.TrimSpace(d.KeySetURL)
	d.AuthLoginURL = strings.TrimSpace(d.AuthLoginURL)
	d.AuthTokenURL = strings.TrimSpace(d.AuthTokenURL)
	return d
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errResp struct {
	Error string `json:"error"`
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errResp{Error: msg})
}
