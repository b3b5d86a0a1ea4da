package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisChannel = "etaone:telemetry:broadcast"
	sendBuffer   = 64
	relayBuffer  = 256

	relayPublishTimeout = 2 * time.Second
)

// Kind names an outbound event type.
type Kind string

const (
	KindSessionSnapshot Kind = "session-snapshot"
	KindPositionUpdate  Kind = "position-update"
	KindSectorChange    Kind = "sector-change"
	KindStrategyUpdate  Kind = "strategy-update"
	KindSessionReset    Kind = "session-reset"
	KindError           Kind = "error"
)

// Envelope is the frame written to readers.
type Envelope struct {
	Type Kind `json:"type"`
	Data any  `json:"data,omitempty"`
}

// Handler receives locally broadcast envelopes of one kind. Handlers run on
// the broadcasting goroutine and must not block.
type Handler func(Envelope)

// ReaderDeliveryError reports a frame that could not be queued for a reader.
// It never affects other readers or the producer.
type ReaderDeliveryError struct {
	ClientID string
	Reason   string
}

func (e *ReaderDeliveryError) Error() string {
	return fmt.Sprintf("deliver to reader %s: %s", e.ClientID, e.Reason)
}

// Client is one connected reader.
type Client struct {
	ID   string
	Send chan []byte
}

type relay struct {
	Instance string          `json:"instance"`
	Payload  json.RawMessage `json:"payload"`
}

// Hub is the broadcast set of connected readers plus in-process
// subscriptions. When a Redis client is supplied, every local broadcast is
// relayed to other instances and their broadcasts reach local readers.
type Hub struct {
	redis    *redis.Client
	instance string
	cancel   context.CancelFunc
	outbound chan []byte

	mu      sync.RWMutex
	clients map[string]*Client
	subs    map[Kind]map[uint64]Handler
	nextSub uint64
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:    redisClient,
		instance: uuid.NewString(),
		clients:  map[string]*Client{},
		subs:     map[Kind]map[uint64]Handler{},
	}

	if redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		h.outbound = make(chan []byte, relayBuffer)
		pubsub := redisClient.Subscribe(ctx, redisChannel)
		waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
		if _, err := pubsub.Receive(waitCtx); err != nil {
			log.Printf("stream: redis subscribe error: %v", err)
		}
		waitCancel()
		go h.subscribeRedis(ctx, pubsub)
		go h.publishRedis(ctx)
	}
	return h
}

// Close stops the Redis relay. Frames still queued for publishing are
// dropped.
func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *Hub) Register() *Client {
	client := &Client{
		ID:   uuid.NewString(),
		Send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

// Count returns the number of connected readers on this instance.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribe registers fn for envelopes of kind and returns its unsubscribe
// handle.
func (h *Hub) Subscribe(kind Kind, fn Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSub++
	id := h.nextSub
	if h.subs[kind] == nil {
		h.subs[kind] = map[uint64]Handler{}
	}
	h.subs[kind][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[kind], id)
		})
	}
}

// Broadcast queues env for every reader except the one whose id is except
// (empty reaches everyone), dispatches it to subscribers and relays it to
// other instances. It never blocks on a reader and returns the number of
// readers the frame was queued for.
func (h *Hub) Broadcast(env Envelope, except string) int {
	payload, err := json.Marshal(env)
	if err != nil {
		log.Printf("stream: encode %s: %v", env.Type, err)
		return 0
	}

	delivered := h.fanOut(payload, except)
	h.dispatch(env)

	if h.outbound != nil {
		msg, _ := json.Marshal(relay{Instance: h.instance, Payload: payload})
		select {
		case h.outbound <- msg:
		default:
			log.Printf("stream: relay queue full, dropping %s", env.Type)
		}
	}
	return delivered
}

// SendTo queues env for a single reader.
func (h *Hub) SendTo(client *Client, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client.ID]; !ok {
		return &ReaderDeliveryError{ClientID: client.ID, Reason: "not connected"}
	}
	return deliver(client, payload)
}

func (h *Hub) fanOut(payload []byte, except string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for id, client := range h.clients {
		if id == except {
			continue
		}
		if err := deliver(client, payload); err != nil {
			log.Printf("stream: %v", err)
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) dispatch(env Envelope) {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.subs[env.Type]))
	for _, fn := range h.subs[env.Type] {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		safeCall(fn, env)
	}
}

func safeCall(fn Handler, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("stream: subscriber for %s panicked: %v", env.Type, r)
		}
	}()
	fn(env)
}

func deliver(client *Client, payload []byte) error {
	select {
	case client.Send <- payload:
		return nil
	default:
		return &ReaderDeliveryError{ClientID: client.ID, Reason: "send buffer full"}
	}
}

// publishRedis drains the relay queue so a slow or silent Redis never holds
// up Broadcast.
func (h *Hub) publishRedis(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.outbound:
			pubCtx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
			err := h.redis.Publish(pubCtx, redisChannel, msg).Err()
			cancel()
			if err != nil && ctx.Err() == nil {
				log.Printf("stream: redis publish error: %v", err)
			}
		}
	}
}

func (h *Hub) subscribeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var r relay
			if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
				log.Printf("stream: bad relay payload: %v", err)
				continue
			}
			if r.Instance == h.instance {
				continue
			}
			h.fanOut(r.Payload, "")
		}
	}
}
