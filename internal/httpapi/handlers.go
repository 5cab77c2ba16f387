package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"fieldhub.org/internal/auth"
	"fieldhub.org/internal/notify"
	"fieldhub.org/internal/obs"
	"fieldhub.org/internal/scope"
	"fieldhub.org/internal/workflow"
)

// ReadyProbe reports readiness; with a DB configured that means a ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	engine        *workflow.Engine
	actors        auth.Store
	resolver      *auth.Resolver
	scopes        scope.Directory
	notifications notify.Store
}

// Config carries the API's collaborators.
type Config struct {
	ReadyProbe    ReadyProbe
	Version       string
	Engine        *workflow.Engine
	Actors        auth.Store
	Resolver      *auth.Resolver
	Scopes        scope.Directory
	Notifications notify.Store
}

func New(cfg Config) *API {
	a := &API{
		mux:           http.NewServeMux(),
		readyProbe:    cfg.ReadyProbe,
		version:       cfg.Version,
		engine:        cfg.Engine,
		actors:        cfg.Actors,
		resolver:      cfg.Resolver,
		scopes:        cfg.Scopes,
		notifications: cfg.Notifications,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// workflow items
	a.mux.HandleFunc("/v1/items/", a.handleItems)

	// notifications
	a.mux.HandleFunc("/v1/notifications", a.handleNotificationsCollection)
	a.mux.HandleFunc("/v1/notifications/", a.handleNotificationResource)

	// admin
	a.mux.HandleFunc("/v1/admin/bindings", a.handleBindingsCollection)
	a.mux.HandleFunc("/v1/admin/bindings/", a.handleBindingResource)
	a.mux.HandleFunc("/v1/admin/actors", a.handleActorsCollection)
	a.mux.HandleFunc("/v1/admin/actors/", a.handleActorResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "fieldhub-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "fieldhub-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
