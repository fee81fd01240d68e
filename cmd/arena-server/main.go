package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	appcfg "github.com/kapu/chess-arena-server/internal/config"
	"github.com/kapu/chess-arena-server/internal/events"
	"github.com/kapu/chess-arena-server/internal/identity"
	"github.com/kapu/chess-arena-server/internal/metrics"
	"github.com/kapu/chess-arena-server/internal/obslog"
	"github.com/kapu/chess-arena-server/internal/queue"
	"github.com/kapu/chess-arena-server/internal/sched"
	"github.com/kapu/chess-arena-server/internal/session"
	"github.com/kapu/chess-arena-server/internal/store"
	"github.com/kapu/chess-arena-server/internal/transport"
	"github.com/kapu/chess-arena-server/internal/wager"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	timers := sched.New()
	defer timers.Stop()

	var repo *store.Repository
	if cfg.DatabaseURL != "" {
		repo, err = store.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("repository init error: %v", err)
		}
		defer repo.Close()
	} else {
		obslog.L().Warn("store_disabled", zap.String("reason", "no DATABASE_URL"))
	}

	var mirror *store.Mirror
	if cfg.RedisURL != "" {
		mirror, err = store.NewMirror(cfg.RedisURL)
		if err != nil {
			log.Fatalf("mirror init error: %v", err)
		}
		defer mirror.Close()
	}

	publisher := events.NewPublisher(cfg.KafkaBrokers)
	defer publisher.Close()

	idc := identity.NewClient(cfg.IdentityBaseURL)

	sessions := session.NewManager(session.Config{
		DisconnectGrace: cfg.DisconnectGrace,
		MaxGames:        cfg.MaxConcurrentGames,
	}, timers)
	defer sessions.Stop()

	wagers := wager.NewManager(wager.Config{
		ChallengeTTL:    cfg.ChallengeTTL,
		ControlDuration: cfg.ControlDuration,
	}, timers)

	pool := queue.New(queue.Config{
		PairInterval:    cfg.PairInterval,
		RatingThreshold: cfg.RatingThreshold,
		RequeueGrace:    cfg.RequeueGrace,
	}, timers, wagers)

	if repo != nil {
		sessions.AttachStore(repo)
		wagers.AttachStore(repo)
	}
	if mirror != nil {
		sessions.AttachMirror(mirror)
		wagers.AttachMirror(mirror)
	}
	sessions.AttachPublisher(publisher)
	wagers.AttachPublisher(publisher)
	sessions.SetWagerResolver(wagers)
	wagers.AttachSessions(sessions)
	wagers.AttachPool(pool)

	srv := transport.NewServer(sessions, pool, wagers, idc)
	sessions.SetNotifier(srv)
	wagers.SetNotifier(srv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsSrv := metrics.StartServer(cfg.MetricsPort, func(ctx context.Context) error {
		return repo.Ping(ctx)
	})
	defer func() { _ = metricsSrv.Shutdown(context.Background()) }()

	go pool.Run(ctx)

	obslog.L().Info("arena_start",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("metrics_port", cfg.MetricsPort),
	)
	if err := srv.Serve(ctx, cfg.ListenAddr); err != nil {
		obslog.L().Info("arena_stop", zap.Error(err))
	}
}
