package server

import (
	"context"
	"log"
	"time"

	"backend-etaone/internal/archive"
	"backend-etaone/internal/auth"
	"backend-etaone/internal/config"
	"backend-etaone/internal/preference"
	"backend-etaone/internal/strategy"
	"backend-etaone/internal/stream"
	"backend-etaone/internal/telemetry"
	"backend-etaone/internal/track"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

type Server struct {
	App        *fiber.App
	Cfg        config.Config
	DB         *pgxpool.Pool
	Redis      *redis.Client
	Mongo      *mongo.Database
	Stream     *stream.Hub
	Telemetry  *telemetry.Service
	Archive    archive.Repository
	Recorder   *archive.Recorder
	Preference *preference.Store

	detach []func()
}

// NewServer assembles the session service and its collaborators. Any of pg,
// redisClient and mdb may be nil; the matching feature then falls back to an
// in-process variant or stays off.
func NewServer(cfg config.Config, tr *track.Track, pg *pgxpool.Pool, redisClient *redis.Client, mdb *mongo.Database) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	if tr == nil {
		tr = track.Default()
	}

	hub := stream.NewHub(redisClient)
	pref := preference.NewStore(redisClient)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	initial := pref.Load(ctx)
	cancel()

	engine := strategy.NewEngine(thresholds(cfg))
	svc := telemetry.NewService(tr, engine, hub, telemetry.Options{
		HistoryCapacity: cfg.HistoryCapacity,
		InitialStrategy: initial,
	})

	repo := selectArchive(cfg, pg, mdb)
	rec := archive.NewRecorder(repo, tr.Name, cfg.HistoryCapacity)

	s := &Server{
		App:        app,
		Cfg:        cfg,
		DB:         pg,
		Redis:      redisClient,
		Mongo:      mdb,
		Stream:     hub,
		Telemetry:  svc,
		Archive:    repo,
		Recorder:   rec,
		Preference: pref,
	}
	s.detach = append(s.detach, rec.Attach(hub), pref.Attach(hub))

	registerRoutes(s)
	return s
}

func thresholds(cfg config.Config) strategy.Thresholds {
	th := strategy.DefaultThresholds()
	if cfg.LightThreshold > 0 {
		th.Light = cfg.LightThreshold
	}
	if cfg.CriticalThreshold > 0 {
		th.Critical = cfg.CriticalThreshold
	}
	if cfg.UrgentThreshold > 0 {
		th.Urgent = cfg.UrgentThreshold
	}
	return th
}

func selectArchive(cfg config.Config, pg *pgxpool.Pool, mdb *mongo.Database) archive.Repository {
	limit := cfg.ArchiveLimit
	if limit <= 0 {
		limit = archive.DefaultLimit
	}
	switch cfg.ArchiveBackend {
	case config.ArchiveMemory:
		return archive.NewMemoryRepository(limit)
	case config.ArchiveMongo:
		if mdb != nil {
			return archive.NewMongoRepository(mdb, limit)
		}
		log.Printf("server: mongo archive requested without MONGO_URI, using memory")
		return archive.NewMemoryRepository(limit)
	case config.ArchivePostgres:
		if pg != nil {
			return archive.NewPostgresRepository(pg, limit)
		}
		log.Printf("server: postgres archive requested without a pool, using memory")
		return archive.NewMemoryRepository(limit)
	}
	if pg != nil {
		return archive.NewPostgresRepository(pg, limit)
	}
	if mdb != nil {
		return archive.NewMongoRepository(mdb, limit)
	}
	return archive.NewMemoryRepository(limit)
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "readers": s.Telemetry.Snapshot().State.ReaderCount})
	})

	producerMiddleware := fiber.Handler(auth.OpenMiddleware)
	var tokens telemetry.TokenValidator
	if s.Cfg.JWTSecret != "" {
		producerMiddleware = auth.JWTMiddleware(s.Cfg.JWTSecret)
		if s.DB != nil {
			svc := auth.NewService(s.Cfg.JWTSecret, s.DB)
			auth.RegisterRoutes(s.App.Group("/auth"), svc)
			tokens = svc
		} else {
			log.Printf("server: JWT_SECRET set without postgres, device registration disabled")
			tokens = auth.NewService(s.Cfg.JWTSecret, nil)
		}
	}

	api := s.App.Group("/api")
	telemetry.RegisterRoutes(api, s.Telemetry, producerMiddleware)
	archive.RegisterRoutes(api, s.Archive)
	telemetry.RegisterStreamRoutes(s.App.Group("/stream"), s.Telemetry, s.Stream, tokens)
}

// Close detaches background subscribers, archives the running session and
// stops the hub.
func (s *Server) Close(ctx context.Context) error {
	for _, fn := range s.detach {
		fn()
	}
	err := s.Recorder.Flush(ctx)
	s.Preference.Wait()
	s.Stream.Close()
	return err
}
