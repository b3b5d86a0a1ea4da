package preference

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"backend-etaone/internal/strategy"
	"backend-etaone/internal/stream"
	"backend-etaone/internal/telemetry"

	"github.com/redis/go-redis/v9"
)

const key = "etaone:strategy:preference"

// Store persists the last chosen strategy mode in Redis. A nil client turns
// every call into a no-op.
type Store struct {
	redis *redis.Client
	wg    sync.WaitGroup

	// Saves from Attach run one at a time on a single drain goroutine, which
	// always writes the newest pending mode.
	mu       sync.Mutex
	latest   strategy.Mode
	dirty    bool
	draining bool
}

func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

// Load returns the persisted mode, or normal when nothing usable is stored.
func (s *Store) Load(ctx context.Context) strategy.Mode {
	if s.redis == nil {
		return strategy.Normal
	}
	name, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return strategy.Normal
	}
	if err != nil {
		log.Printf("preference: load error: %v", err)
		return strategy.Normal
	}
	mode, err := strategy.Parse(name)
	if err != nil {
		log.Printf("preference: ignoring stored value: %v", err)
		return strategy.Normal
	}
	return mode
}

func (s *Store) Save(ctx context.Context, mode strategy.Mode) error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Set(ctx, key, mode.String(), 0).Err()
}

// Attach persists every strategy-update seen on the hub. Saves run in the
// background in the order the updates were broadcast; Wait blocks until
// they finish.
func (s *Store) Attach(hub interface {
	Subscribe(kind stream.Kind, fn stream.Handler) func()
}) func() {
	return hub.Subscribe(stream.KindStrategyUpdate, func(env stream.Envelope) {
		evt, ok := env.Data.(telemetry.StrategyChange)
		if !ok {
			return
		}
		s.enqueue(evt.Mode)
	})
}

func (s *Store) enqueue(mode strategy.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = mode
	s.dirty = true
	if s.draining {
		return
	}
	s.draining = true
	s.wg.Add(1)
	go s.drain()
}

func (s *Store) drain() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if !s.dirty {
			s.draining = false
			s.mu.Unlock()
			return
		}
		mode := s.latest
		s.dirty = false
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.Save(ctx, mode); err != nil {
			log.Printf("preference: save error: %v", err)
		}
		cancel()
	}
}

func (s *Store) Wait() {
	s.wg.Wait()
}
