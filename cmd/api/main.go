package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldhub.org/internal/auth"
	"fieldhub.org/internal/extsync"
	"fieldhub.org/internal/httpapi"
	"fieldhub.org/internal/notify"
	"fieldhub.org/internal/obs"
	"fieldhub.org/internal/scope"
	"fieldhub.org/internal/store/pg"
	"fieldhub.org/internal/workflow"
)

var version = "0.3.1"

func main() {
	obs.Init()

	var (
		actors        auth.Store
		scopes        scope.Directory
		items         workflow.Store
		notifications notify.Store
		probe         httpapi.ReadyProbe
		closeStore    func()
	)

	// With a DSN all subsystems share the Postgres store; without one the
	// service runs fully in memory, which is enough for local development.
	if dsn := os.Getenv("FIELDHUB_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		actors = store
		scopes = scope.NewCached(store, 30*time.Second)
		items = store
		notifications = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
		closeStore = func() { _ = store.Close() }
	} else {
		log.Println("FIELDHUB_PG_DSN not set, using in-memory stores")
		actors = auth.NewInMemory()
		scopes = scope.NewInMemory()
		items = workflow.NewInMemory()
		notifications = notify.NewInMemory()
		closeStore = func() {}
	}

	resolver := auth.NewResolver(actors)
	engine := workflow.NewEngine(items, resolver, scopes,
		notify.NewDispatcher(notifications), extsync.Noop{})

	api := httpapi.New(httpapi.Config{
		ReadyProbe:    probe,
		Version:       version,
		Engine:        engine,
		Actors:        actors,
		Resolver:      resolver,
		Scopes:        scopes,
		Notifications: notifications,
	})

	var handler http.Handler = api.Handler()
	handler = httpapi.RateLimit(handler, 50, 25)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.CORS(handler)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.Logging(handler)

	addr := os.Getenv("FIELDHUB_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting fieldhub-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	closeStore()
	log.Println("Stopped")
}
