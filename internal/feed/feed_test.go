package feed_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/feed"
	"moonshot-engine/internal/feed/stub"
)

const token = "So11111111111111111111111111111111111111112"

func TestGuard(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	clock := func() time.Time { return now }

	tests := []struct {
		name      string
		setup     func(s *stub.Source)
		wantStale bool
	}{
		{"fresh quote", func(s *stub.Source) { s.Set(domain.ChainSolana, token, 1.5, 1_000_000-5_000) }, false},
		{"at threshold", func(s *stub.Source) { s.Set(domain.ChainSolana, token, 1.5, 1_000_000-60_000) }, false},
		{"too old", func(s *stub.Source) { s.Set(domain.ChainSolana, token, 1.5, 1_000_000-60_001) }, true},
		{"zero price", func(s *stub.Source) { s.Set(domain.ChainSolana, token, 0, 1_000_000) }, true},
		{"source error", func(s *stub.Source) { s.SetErr(domain.ChainSolana, token, errors.New("boom")) }, true},
		{"unknown token", func(*stub.Source) {}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := stub.NewSource()
			tt.setup(src)
			g := feed.NewGuard(src, time.Second, time.Minute).WithClock(clock)

			q, err := g.Latest(context.Background(), domain.ChainSolana, token)
			if tt.wantStale {
				if !errors.Is(err, feed.ErrStale) {
					t.Errorf("err = %v, want ErrStale", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if q.Price != 1.5 {
				t.Errorf("price = %v, want 1.5", q.Price)
			}
		})
	}
}

type slowSource struct{}

func (slowSource) Latest(ctx context.Context, _ domain.Chain, _ string) (feed.Quote, error) {
	<-ctx.Done()
	return feed.Quote{}, ctx.Err()
}

func TestGuard_TimeoutIsStale(t *testing.T) {
	g := feed.NewGuard(slowSource{}, 20*time.Millisecond, time.Minute)

	start := time.Now()
	_, err := g.Latest(context.Background(), domain.ChainSolana, token)
	if !errors.Is(err, feed.ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	if time.Since(start) > time.Second {
		t.Error("guard did not bound the call")
	}
}

func TestPoller(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.URL.Path != "/price" {
			t.Errorf("path = %s", r.URL.Path)
		}
		switch r.URL.Query().Get("token") {
		case "missing":
			w.WriteHeader(http.StatusNotFound)
		case "flaky":
			if n == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"price": 2.5, "ts": 42})
		default:
			json.NewEncoder(w).Encode(map[string]any{"price": 1.25, "ts": 7})
		}
	}))
	defer server.Close()

	p := feed.NewPoller(server.URL, feed.WithPollRetries(2, time.Millisecond))
	ctx := context.Background()

	q, err := p.Latest(ctx, domain.ChainSolana, token)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if q.Price != 1.25 || q.At != 7 || q.Token != token {
		t.Errorf("quote = %+v", q)
	}

	calls.Store(0)
	q, err = p.Latest(ctx, domain.ChainSolana, "flaky")
	if err != nil {
		t.Fatalf("flaky: %v", err)
	}
	if q.Price != 2.5 || calls.Load() != 2 {
		t.Errorf("flaky quote = %+v after %d calls", q, calls.Load())
	}

	calls.Store(0)
	if _, err := p.Latest(ctx, domain.ChainSolana, "missing"); !errors.Is(err, feed.ErrNoQuote) {
		t.Errorf("missing err = %v, want ErrNoQuote", err)
	}
	if calls.Load() != 1 {
		t.Errorf("404 retried %d times", calls.Load())
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWSStream_SubscribeAndCache(t *testing.T) {
	var mu sync.Mutex
	var ops []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var req struct {
				Op     string `json:"op"`
				Tokens []struct {
					Chain string `json:"chain"`
					Token string `json:"token"`
				} `json:"tokens"`
			}
			if err := json.Unmarshal(msg, &req); err != nil {
				t.Errorf("unmarshal: %v", err)
				return
			}
			mu.Lock()
			ops = append(ops, req.Op)
			mu.Unlock()

			if req.Op != "subscribe" {
				continue
			}
			for _, tk := range req.Tokens {
				c.WriteJSON(map[string]any{"type": "price", "chain": tk.Chain, "token": tk.Token, "price": 3.0, "ts": 200})
				// Older frame must not overwrite the newer one.
				c.WriteJSON(map[string]any{"type": "price", "chain": tk.Chain, "token": tk.Token, "price": 1.0, "ts": 100})
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ctx := context.Background()

	s, err := feed.NewWSStream(ctx, wsURL, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWSStream: %v", err)
	}
	defer s.Close()

	if _, err := s.Latest(ctx, domain.ChainSolana, token); !errors.Is(err, feed.ErrNoQuote) {
		t.Errorf("before subscribe err = %v, want ErrNoQuote", err)
	}

	if err := s.Subscribe(ctx, domain.ChainSolana, token); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	waitFor(t, "quote", func() bool {
		q, err := s.Latest(ctx, domain.ChainSolana, token)
		return err == nil && q.Price == 3.0
	})
	// Give the stale frame time to arrive and confirm it was ignored.
	time.Sleep(50 * time.Millisecond)
	if q, _ := s.Latest(ctx, domain.ChainSolana, token); q.At != 200 {
		t.Errorf("cache moved backwards: %+v", q)
	}

	s.Unsubscribe(domain.ChainSolana, token)
	if _, err := s.Latest(ctx, domain.ChainSolana, token); !errors.Is(err, feed.ErrNoQuote) {
		t.Errorf("after unsubscribe err = %v, want ErrNoQuote", err)
	}
	waitFor(t, "unsubscribe frame", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ops) == 2 && ops[1] == "unsubscribe"
	})
}

func TestWSStream_ResubscribesAfterReconnect(t *testing.T) {
	var conns atomic.Int32
	var resubscribed atomic.Bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := conns.Add(1)

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			if n == 1 {
				// Drop the first connection right after the subscription.
				return
			}
			if strings.Contains(string(msg), token) {
				resubscribed.Store(true)
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	cfg := feed.DefaultWSConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond

	ctx := context.Background()
	s, err := feed.NewWSStream(ctx, wsURL, &cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWSStream: %v", err)
	}
	defer s.Close()

	if err := s.Subscribe(ctx, domain.ChainSolana, token); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	waitFor(t, "resubscribe", resubscribed.Load)
	if conns.Load() < 2 {
		t.Errorf("connections = %d, want reconnect", conns.Load())
	}
}
