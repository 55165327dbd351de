package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloutcast/clout"
	"cloutcast/handlers"
	"cloutcast/ledger"
	"cloutcast/logging"
	"cloutcast/migration"
	"cloutcast/resolution"
	"cloutcast/security"
	"cloutcast/seed"
	"cloutcast/setup"
	"cloutcast/storage"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", "setup/setup.yaml", "path to the YAML config file")
	seedDemo := flag.Bool("seed", false, "seed demo rooms, users and markets, then exit")
	flag.Parse()

	cfg, err := setup.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel)

	var db *gorm.DB
	if cfg.DatabaseURL != "" {
		db, err = storage.Open(cfg.DatabaseURL, log)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store; data will not survive restart")
		db, err = storage.OpenMemory()
	}
	if err != nil {
		log.WithError(err).Fatal("database open failed")
	}

	if err := migration.RunAll(db); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	if *seedDemo {
		if err := seed.Run(db, cfg, log); err != nil {
			log.WithError(err).Fatal("seed failed")
		}
		return
	}

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	led := ledger.New(db, log)
	ratings := clout.New(db, log, cfg.Economics.CloutK)
	coordinator := resolution.New(db, log, led, ratings, cfg.Economics.Supermajority)

	env := &handlers.Env{
		DB:          db,
		Log:         log,
		Cfg:         cfg,
		Ledger:      led,
		Coordinator: coordinator,
		Sanitizer:   security.NewService(),
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      newRouter(env),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runScheduler(ctx, coordinator, cfg.TickInterval(), log)

	go func() {
		log.WithField("addr", srv.Addr).Info("engine listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown failed")
	}
}

// runScheduler polls market deadlines. Every transition it triggers is
// idempotent, so overlapping external calls to /v0/lifecycle/advance are
// harmless.
func runScheduler(ctx context.Context, coordinator *resolution.Coordinator, interval time.Duration, log *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			advanced, err := coordinator.AdvanceLifecycle()
			if err != nil {
				log.WithError(err).Error("lifecycle tick failed")
				continue
			}
			if advanced > 0 {
				log.WithField("advanced", advanced).Info("lifecycle tick moved markets")
			}
		}
	}
}
