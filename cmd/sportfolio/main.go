package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sportfolio/internal/accrual"
	"sportfolio/internal/api"
	"sportfolio/internal/bots"
	"sportfolio/internal/config"
	"sportfolio/internal/contest"
	"sportfolio/internal/exchange"
	"sportfolio/internal/ingest"
	"sportfolio/internal/logger"
	"sportfolio/internal/scheduler"
	"sportfolio/internal/store"
)

func main() {
	seedBots := flag.Int("seed-bots", 0, "create this many market-maker bots if missing, then continue")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, OutputFile: cfg.LogFile})

	st, err := store.New(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database init failed")
	}

	hub := api.NewHub()
	ex := exchange.New(st, log, hub)
	ac := accrual.New(st, log)
	ce := contest.New(st, log)
	be := bots.New(st, ex, ac, ce, log)

	ingestClient := ingest.NewClient(*cfg, log)
	ingestSvc := ingest.NewService(st, ingestClient, log)
	ingestSvc.OnGameUpdate = func(g *store.Game) {
		hub.GameUpdated(g.ID)
	}

	if *seedBots > 0 {
		created, err := bots.SeedFleet(st, *seedBots, log)
		if err != nil {
			log.WithError(err).Fatal("bot seeding failed")
		}
		log.WithField("created", created).Info("bot fleet ready")
	}

	sched := scheduler.New(st, log)
	scheduler.RegisterJobs(sched, scheduler.Deps{
		Store:           st,
		Ingest:          ingestSvc,
		Contests:        ce,
		Bots:            be,
		BotTickInterval: cfg.BotTickInterval,
	})
	sched.Start()

	server, err := api.NewServer(cfg, st, ex, ac, ce, be, ingestSvc, sched, hub, log)
	if err != nil {
		log.WithError(err).Fatal("server init failed")
	}

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router(),
	}
	go func() {
		log.WithField("port", cfg.Port).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	sched.Stop()
	server.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http shutdown error")
	}
	if err := st.Close(); err != nil {
		log.WithError(err).Warn("database close error")
	}
	log.Info("shutdown complete")
}
