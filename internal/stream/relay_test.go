package stream

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// silentRedis accepts connections and never answers.
func silentRedis(t *testing.T) *redis.Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	client := redis.NewClient(&redis.Options{Addr: ln.Addr().String(), MaxRetries: -1})
	t.Cleanup(func() {
		_ = client.Close()
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return client
}

func TestBroadcastDoesNotWaitForRedis(t *testing.T) {
	hub := NewHub(silentRedis(t))
	defer hub.Close()
	c := hub.Register()
	defer hub.Unregister(c)

	start := time.Now()
	for i := 0; i < relayBuffer+10; i++ {
		if n := hub.Broadcast(Envelope{Type: KindSessionReset}, ""); n != 1 && i < sendBuffer {
			t.Fatalf("broadcast %d reached %d readers", i, n)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("broadcast blocked on redis for %s", elapsed)
	}
}
