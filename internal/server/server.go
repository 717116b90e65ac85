package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"skycrash/internal/audit"
	"skycrash/internal/cache"
	"skycrash/internal/config"
	"skycrash/internal/database"
	"skycrash/internal/game"
)

type FiberServer struct {
	*fiber.App

	cfg config.Config
	log *zap.Logger

	cache    *cache.Service
	db       *database.Service // nil when Postgres is unavailable
	auditPub *audit.Publisher  // nil when the audit stream is disabled

	ledger   *game.Ledger
	engine   *game.Engine
	sessions *game.SessionRegistry
	hub      *game.Hub
	history  *game.History
}

// New wires the full server: stores, ledger, engine, hub and transport.
// Redis is required; Postgres and Kafka degrade to in-memory operation with
// a warning so local runs do not need the full stack.
func New(cfg config.Config, log *zap.Logger) (*FiberServer, error) {
	redisService, err := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("redis is required: %w", err)
	}

	var (
		db         *database.Service
		betStore   game.BetStore
		roundStore game.HistoryStore
	)
	db, err = database.New(cfg.PostgresDSN, log)
	if err != nil {
		log.Warn("postgres unavailable, settlements will not be durably persisted", zap.Error(err))
		db = nil
	} else {
		betStore = database.NewBetStore(db.DB())
		roundStore = database.NewRoundStore(db.DB())
	}

	var sink game.AuditSink
	auditPub := audit.New(cfg.KafkaBrokers, cfg.KafkaTopicSettlement, cfg.KafkaTopicRounds, log)
	if auditPub != nil {
		sink = auditPub
	}

	hub := game.NewHub(log)
	sessions := game.NewSessionRegistry()
	ledger := game.NewLedger(cache.NewBalanceStore(redisService.Client()), betStore, sink, game.LedgerConfig{
		MinBet: cfg.MinBet,
		MaxBet: cfg.MaxBet,
	}, log)
	history := game.NewHistory(roundStore, sink, cfg.HistorySize, log)
	engine := game.NewEngine(ledger, sessions, hub, history, game.EngineConfig{
		TickInterval:  cfg.TickInterval,
		BettingWindow: cfg.BettingWindow,
		Cooldown:      cfg.Cooldown,
		GrowthRate:    cfg.GrowthRate,
		MaxCrash:      cfg.MaxCrash,
	}, log)

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "skycrash",
			AppName:       "skycrash",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		cfg:      cfg,
		log:      log,
		cache:    redisService,
		db:       db,
		auditPub: auditPub,
		ledger:   ledger,
		engine:   engine,
		sessions: sessions,
		hub:      hub,
		history:  history,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	engine.Start()
	log.Info("round engine started")

	return server, nil
}

// Healthz is the liveness probe used by the metrics sidecar.
func (s *FiberServer) Healthz(ctx context.Context) error {
	if _, err := s.cache.Client().Ping(ctx).Result(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if s.db != nil {
		if err := s.db.DB().PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}

// Cleanup stops the engine first so in-flight bets are refunded, then drains
// the ledger's persist queue and closes every connection.
func (s *FiberServer) Cleanup() error {
	s.log.Info("shutting down")

	s.engine.Stop()
	s.ledger.Close()

	if s.auditPub != nil {
		if err := s.auditPub.Close(); err != nil {
			s.log.Warn("audit publisher close failed", zap.Error(err))
		}
	}
	if err := s.cache.Close(); err != nil {
		s.log.Warn("redis close failed", zap.Error(err))
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("postgres close failed", zap.Error(err))
		}
	}
	return nil
}
