package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourname/beamnet/internal/api"
	"github.com/yourname/beamnet/internal/config"
	"github.com/yourname/beamnet/internal/match"
	"github.com/yourname/beamnet/internal/metrics"
	"github.com/yourname/beamnet/internal/queue"
	"github.com/yourname/beamnet/internal/rating"
	"github.com/yourname/beamnet/internal/store"
	"github.com/yourname/beamnet/internal/ws"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is required")
	}

	pools, err := config.LoadMapPools(cfg.MapPoolPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.MapPoolPath).Msg("load map pools")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("connect postgres")
		}
		defer pg.Close()
		repo = pg
	} else {
		log.Warn().Msg("DATABASE_URL unset, using in-memory repository")
		repo = store.NewMemory()
	}

	index := store.NewQueueIndex(cfg.RedisAddr, cfg.RedisPassword)
	defer index.Close()

	metrics.Init()

	hub := ws.NewHub(log)
	engine := rating.NewEngine(repo, log)
	lifecycle := match.NewLifecycle(repo, engine, hub, hub, pools, match.LifecycleOptions{
		SubmitGrace:   cfg.SubmitGrace,
		QueueCooldown: cfg.QueueCooldown,
	}, log)
	qm := queue.NewManager(repo, index, log)

	go match.NewMatchmaker(repo, index, lifecycle, cfg.MatchmakeInterval, log).Run(ctx)
	go match.NewSweeper(repo, lifecycle, cfg.SweepInterval, log).Run(ctx)
	go rating.NewPeriodScheduler(repo, engine, cfg.PeriodTickInterval, log).Run(ctx)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewRouter(repo, qm, lifecycle, hub, cfg.JWTSecret, log),
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutCtx, cancelShut := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShut()
	_ = srv.Shutdown(shutCtx)
}
