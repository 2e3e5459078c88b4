package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"tramita.org/internal/artifact"
	"tramita.org/internal/audit"
	"tramita.org/internal/auth"
	"tramita.org/internal/config"
	"tramita.org/internal/httpapi"
	"tramita.org/internal/module"
	"tramita.org/internal/obs"
	"tramita.org/internal/store/pg"
	"tramita.org/internal/stream"
	"tramita.org/internal/submission"
)

var (
	version = "0.3.0"
	commit  = ""
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	codec, err := auth.NewTokenCodec(cfg.TokenSecret, cfg.TokenIssuer)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	var (
		authStore  auth.Store
		subStore   submission.Store
		auditStore audit.Store
		db         *sql.DB
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		authStore = pgStore
		subStore = pgStore.Submissions()
		auditStore = pgStore.Audits()
		db = pgStore.DB()
	} else {
		// Development fallback: everything lives in process memory and is
		// lost on restart.
		obs.Log("warn", "no TRAMITA_PG_DSN set, using in-memory stores", nil)
		authStore = auth.NewMemoryStore()
		subStore = submission.NewMemoryStore()
		auditStore = audit.NewMemoryStore()
	}

	sessions, err := auth.NewSessionService(authStore, codec,
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithRememberTTL(cfg.RememberTTL),
		auth.WithRenewFraction(cfg.RenewFraction),
	)
	if err != nil {
		log.Fatalf("session service: %v", err)
	}
	principals, err := auth.NewPrincipalService(authStore, sessions)
	if err != nil {
		log.Fatalf("principal service: %v", err)
	}

	if cfg.BootstrapAdminIdentity != "" {
		_, created, err := principals.EnsureBootstrapAdmin(ctx, cfg.BootstrapAdminIdentity, cfg.BootstrapAdminPassword)
		if err != nil {
			log.Fatalf("bootstrap admin: %v", err)
		}
		if created {
			obs.Log("info", "bootstrap admin created", map[string]any{"identity": cfg.BootstrapAdminIdentity})
		}
	}

	audits := audit.New(auditStore)
	events := stream.New()

	subs, err := submission.NewService(subStore, submission.WithPublisher(events))
	if err != nil {
		log.Fatalf("submission service: %v", err)
	}

	registry := module.NewRegistry()
	if err := registerModules(registry); err != nil {
		log.Fatalf("register modules: %v", err)
	}

	artifacts, err := artifact.NewDir(cfg.ArtifactDir)
	if err != nil {
		log.Fatalf("artifact dir: %v", err)
	}

	worker, err := submission.NewWorker(subs, registry, audits,
		submission.WithPollInterval(cfg.WorkerInterval),
		submission.WithConcurrency(cfg.WorkerConcurrency),
		submission.WithArtifacts(artifacts),
	)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	go worker.Run(ctx)

	// Expired session records are swept hourly; live requests never see them
	// because Touch already refuses dead sessions.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := sessions.SweepExpired(ctx); err != nil {
					obs.Log("error", "session sweep failed", map[string]any{"error": err.Error()})
				} else if n > 0 {
					obs.Log("info", "swept expired sessions", map[string]any{"count": n})
				}
			}
		}
	}()

	api := httpapi.New(httpapi.Config{
		Version:     version,
		ReadyProbe:  httpapi.ReadyProbe{DB: db},
		Sessions:    sessions,
		Principals:  principals,
		Registry:    registry,
		Submissions: subs,
		Audits:      audits,
		Artifacts:   artifacts,
		Stream:      events,
		RateBurst:   cfg.RateBurst,
		RatePerSec:  cfg.RatePerSec,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second, // SSE connections stay open
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting tramita-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}
