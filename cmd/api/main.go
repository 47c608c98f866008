package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bibliodesk.org/internal/auth"
	"bibliodesk.org/internal/config"
	"bibliodesk.org/internal/httpapi"
	"bibliodesk.org/internal/migrate"
	"bibliodesk.org/internal/obs"
	"bibliodesk.org/internal/store"
)

var version = "0.1.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("BUILD_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	ctx := context.Background()
	mgr := migrate.NewManager(st, auth.NewHasher(cfg.HashSecret))
	if err := mgr.Up(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	if err := mgr.EnsureRoot(ctx); err != nil {
		log.Fatalf("ensure root: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: st.DB()}, version)
	handler := httpapi.SecurityHeaders(httpapi.MaxBodyBytes(api.Handler(), 1<<20))

	addr := os.Getenv("LISTEN_ADDR")
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

	log.Printf("Starting bibliodesk-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = st.Close()
	log.Println("Stopped")
}
