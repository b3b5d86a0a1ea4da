package main

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"backend-etaone/internal/config"
	"backend-etaone/internal/track"

	"github.com/alicebob/miniredis/v2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

var errListen = context.Canceled

func withTrack() Resources {
	return Resources{Track: track.Default()}
}

func TestRunHandlesSignal(t *testing.T) {
	cfg := config.Config{ServerPort: ":0"}
	signals := make(chan os.Signal, 1)

	listenCalled := make(chan struct{}, 1)
	listen := func(_ *fiber.App, _ string) error {
		listenCalled <- struct{}{}
		signals <- syscall.SIGINT
		return nil
	}

	if err := Run(context.Background(), cfg, withTrack(), signals, listen); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	select {
	case <-listenCalled:
	default:
		t.Fatalf("expected listen to be called")
	}
}

func TestRunContextCancel(t *testing.T) {
	cfg := config.Config{ServerPort: ":0"}
	signals := make(chan os.Signal, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	block := make(chan struct{})
	defer close(block)
	if err := Run(ctx, cfg, withTrack(), signals, func(_ *fiber.App, _ string) error { <-block; return nil }); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
}

func TestRunListenError(t *testing.T) {
	cfg := config.Config{ServerPort: ":0"}
	signals := make(chan os.Signal, 1)

	err := Run(context.Background(), cfg, withTrack(), signals, func(_ *fiber.App, _ string) error {
		return errListen
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunDefaultListen(t *testing.T) {
	cfg := config.Config{ServerPort: ":0"}
	signals := make(chan os.Signal, 1)

	oldListen := defaultListen
	defaultListen = func(_ *fiber.App, _ string) error { return nil }
	defer func() { defaultListen = oldListen }()

	go func() {
		signals <- syscall.SIGINT
	}()

	if err := Run(context.Background(), cfg, withTrack(), signals, nil); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
}

func TestRunShutdownError(t *testing.T) {
	cfg := config.Config{ServerPort: ":0"}
	signals := make(chan os.Signal, 1)

	oldShutdown := shutdownFn
	shutdownFn = func(_ *fiber.App, _ context.Context) error { return errListen }
	defer func() { shutdownFn = oldShutdown }()

	go func() {
		signals <- syscall.SIGINT
	}()

	if err := Run(context.Background(), cfg, withTrack(), signals, func(_ *fiber.App, _ string) error { return nil }); err == nil {
		t.Fatalf("expected shutdown error")
	}
}

func TestRunClosesResources(t *testing.T) {
	cfg := config.Config{ServerPort: ":0"}
	signals := make(chan os.Signal, 1)

	redisServer := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisServer.Addr()})

	listen := func(_ *fiber.App, _ string) error {
		signals <- syscall.SIGINT
		return nil
	}

	res := withTrack()
	res.Redis = client
	if err := Run(context.Background(), cfg, res, signals, listen); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if err := client.Ping(context.Background()).Err(); err == nil {
		t.Fatalf("expected redis client closed")
	}
}

type stubToken struct{ err error }

func (t *stubToken) Wait() bool { return true }
func (t *stubToken) WaitTimeout(time.Duration) bool { return true }
func (t *stubToken) Error() error { return t.err }
func (t *stubToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type stubMQTT struct {
	mu           sync.Mutex
	subscribeErr error
	subscribed   bool
	disconnected bool
}

func (c *stubMQTT) IsConnected() bool { return true }
func (c *stubMQTT) IsConnectionOpen() bool { return true }
func (c *stubMQTT) Connect() mqtt.Token { return &stubToken{} }
func (c *stubMQTT) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}
func (c *stubMQTT) Publish(string, byte, bool, interface{}) mqtt.Token { return &stubToken{} }
func (c *stubMQTT) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	return &stubToken{}
}
func (c *stubMQTT) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = c.subscribeErr == nil
	return &stubToken{err: c.subscribeErr}
}
func (c *stubMQTT) Unsubscribe(...string) mqtt.Token { return &stubToken{} }
func (c *stubMQTT) AddRoute(string, mqtt.MessageHandler) {}
func (c *stubMQTT) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func TestRunStartsAndStopsBridge(t *testing.T) {
	signals := make(chan os.Signal, 1)
	client := &stubMQTT{}

	res := withTrack()
	res.MQTT = client
	listen := func(_ *fiber.App, _ string) error {
		signals <- syscall.SIGINT
		return nil
	}
	if err := Run(context.Background(), config.Config{MQTTTopicPrefix: "etaone"}, res, signals, listen); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if !client.subscribed || !client.disconnected {
		t.Fatalf("expected bridge subscribe and disconnect, got %+v", client)
	}
}

func TestRunBridgeSubscribeError(t *testing.T) {
	signals := make(chan os.Signal, 1)
	client := &stubMQTT{subscribeErr: errors.New("not authorized")}

	res := withTrack()
	res.MQTT = client
	listen := func(_ *fiber.App, _ string) error {
		signals <- syscall.SIGINT
		return nil
	}
	if err := Run(context.Background(), config.Config{}, res, signals, listen); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if client.subscribed || !client.disconnected {
		t.Fatalf("expected client disconnected without a bridge, got %+v", client)
	}
}

func stubDeps(run func(context.Context, config.Config, Resources, <-chan os.Signal, ListenFunc) error) mainDeps {
	return mainDeps{
		loadConfig:      func() config.Config { return config.Config{ServerPort: ":0", MQTTBroker: "tcp://broker:1883"} },
		loadTrack:       func(string) (*track.Track, error) { return track.Default(), nil },
		connectPostgres: func(config.Config) (*pgxpool.Pool, error) { return nil, errListen },
		connectRedis:    func(config.Config) *redis.Client { return nil },
		connectMongo:    func(config.Config) (*mongo.Database, error) { return nil, errListen },
		connectMQTT:     func(string, string) (mqtt.Client, error) { return nil, errListen },
		notify: func(ch chan<- os.Signal, _ ...os.Signal) {
			close(ch)
		},
		run: run,
	}
}

func TestRealMainHandlesErrors(t *testing.T) {
	calledRun := false
	deps := stubDeps(func(_ context.Context, _ config.Config, res Resources, _ <-chan os.Signal, _ ListenFunc) error {
		calledRun = true
		if res.Track == nil || res.Postgres != nil || res.MQTT != nil {
			t.Fatalf("unexpected resources %+v", res)
		}
		return errListen
	})

	realMain(deps)
	if !calledRun {
		t.Fatalf("expected run to be called")
	}
}

func TestRealMainTrackErrorIsFatal(t *testing.T) {
	oldFatal := fatalf
	defer func() { fatalf = oldFatal }()
	fatalCalled := false
	fatalf = func(string, ...any) { fatalCalled = true }

	calledRun := false
	deps := stubDeps(func(context.Context, config.Config, Resources, <-chan os.Signal, ListenFunc) error {
		calledRun = true
		return nil
	})
	deps.loadTrack = func(string) (*track.Track, error) {
		return nil, &track.ConfigError{Reason: "no sectors"}
	}

	realMain(deps)
	if !fatalCalled || calledRun {
		t.Fatalf("expected fatal before run, fatal=%v run=%v", fatalCalled, calledRun)
	}
}

func TestDefaultDeps(t *testing.T) {
	deps := defaultDeps()
	if deps.loadConfig == nil || deps.loadTrack == nil || deps.connectPostgres == nil || deps.connectRedis == nil ||
		deps.connectMongo == nil || deps.connectMQTT == nil || deps.notify == nil || deps.run == nil {
		t.Fatalf("expected default deps to be set")
	}
}

func TestMainUsesOverrides(t *testing.T) {
	oldProvider := mainDepsProvider
	oldRunner := mainRunner
	defer func() {
		mainDepsProvider = oldProvider
		mainRunner = oldRunner
	}()

	called := false
	mainDepsProvider = func() mainDeps { return mainDeps{} }
	mainRunner = func(mainDeps) { called = true }

	main()
	if !called {
		t.Fatalf("expected main runner to be called")
	}
}
