package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-etaone/internal/config"
	"backend-etaone/internal/db"
	"backend-etaone/internal/ingest"
	"backend-etaone/internal/server"
	"backend-etaone/internal/track"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain
var fatalf = log.Fatalf

func main() {
	mainRunner(mainDepsProvider())
}

// Resources are the external connections handed to Run. Every field is
// optional except Track.
type Resources struct {
	Track    *track.Track
	Postgres *pgxpool.Pool
	Redis    *redis.Client
	Mongo    *mongo.Database
	MQTT     mqtt.Client
}

type mainDeps struct {
	loadConfig      func() config.Config
	loadTrack       func(path string) (*track.Track, error)
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	connectMongo    func(config.Config) (*mongo.Database, error)
	connectMQTT     func(broker, clientID string) (mqtt.Client, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, Resources, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		loadTrack:       track.LoadFile,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		connectMongo:    db.ConnectMongo,
		connectMQTT:     ingest.Connect,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()

	tr, err := deps.loadTrack(cfg.TrackFile)
	if err != nil {
		var cfgErr *track.ConfigError
		if errors.As(err, &cfgErr) {
			fatalf("track configuration invalid: %v", err)
			return
		}
		fatalf("track load failed: %v", err)
		return
	}

	res := Resources{Track: tr}

	res.Postgres, err = deps.connectPostgres(cfg)
	if err != nil {
		log.Printf("postgres connection failed: %v", err)
	}

	res.Redis = deps.connectRedis(cfg)

	res.Mongo, err = deps.connectMongo(cfg)
	if err != nil {
		log.Printf("mongo connection failed: %v", err)
	}

	if cfg.MQTTBroker != "" {
		res.MQTT, err = deps.connectMQTT(cfg.MQTTBroker, cfg.MQTTClientID)
		if err != nil {
			log.Printf("mqtt connection failed: %v", err)
		}
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, res, signals, nil); err != nil {
		log.Printf("server exited with error: %v", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and the MQTT bridge and waits for termination
// signals. On shutdown the running session is archived before connections
// close.
func Run(ctx context.Context, cfg config.Config, res Resources, signals <-chan os.Signal, listen ListenFunc) error {
	srv := server.NewServer(cfg, res.Track, res.Postgres, res.Redis, res.Mongo)

	var bridge *ingest.Bridge
	if res.MQTT != nil {
		bridge = ingest.NewBridge(res.MQTT, cfg.MQTTTopicPrefix, srv.Telemetry)
		if err := bridge.Start(); err != nil {
			log.Printf("mqtt bridge disabled: %v", err)
			bridge = nil
		}
	}

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			_ = srv.Close(context.Background())
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if bridge != nil {
		bridge.Stop()
	} else if res.MQTT != nil {
		res.MQTT.Disconnect(250)
	}
	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	if err := srv.Close(shutdownCtx); err != nil {
		log.Printf("archive flush failed: %v", err)
	}
	if res.Postgres != nil {
		res.Postgres.Close()
	}
	if res.Redis != nil {
		_ = res.Redis.Close()
	}
	if res.Mongo != nil {
		_ = res.Mongo.Client().Disconnect(shutdownCtx)
	}
	return nil
}
