package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"moonshot-engine/internal/domain"
)

// WSConfig configures WebSocket stream behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// WSStream subscribes to a price stream over WebSocket and caches the
// latest quote per token.
type WSStream struct {
	endpoint string
	config   WSConfig
	log      zerolog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	quotes   map[string]Quote
	quotesMu sync.RWMutex

	// subs holds the tokens to resubscribe after reconnect
	subs   map[string]wsToken
	subsMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

type wsToken struct {
	Chain domain.Chain `json:"chain"`
	Token string       `json:"token"`
}

var (
	_ Source     = (*WSStream)(nil)
	_ Subscriber = (*WSStream)(nil)
)

// NewWSStream connects to endpoint and starts the read and ping loops.
func NewWSStream(ctx context.Context, endpoint string, config *WSConfig, log zerolog.Logger) (*WSStream, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	s := &WSStream{
		endpoint: endpoint,
		config:   cfg,
		log:      log,
		quotes:   make(map[string]Quote),
		subs:     make(map[string]wsToken),
		done:     make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()

	s.wg.Add(1)
	go s.pingLoop()

	return s, nil
}

func (s *WSStream) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.conn = conn
	return nil
}

// Subscribe starts following a token. It is remembered across reconnects.
func (s *WSStream) Subscribe(_ context.Context, chain domain.Chain, token string) error {
	if s.closed.Load() {
		return fmt.Errorf("stream closed")
	}

	t := wsToken{Chain: chain, Token: token}
	s.subsMu.Lock()
	s.subs[Key(chain, token)] = t
	s.subsMu.Unlock()

	return s.write(wsRequest{Op: "subscribe", Tokens: []wsToken{t}})
}

// Unsubscribe stops following a token and drops its cached quote.
func (s *WSStream) Unsubscribe(chain domain.Chain, token string) {
	key := Key(chain, token)

	s.subsMu.Lock()
	delete(s.subs, key)
	s.subsMu.Unlock()

	s.quotesMu.Lock()
	delete(s.quotes, key)
	s.quotesMu.Unlock()

	if err := s.write(wsRequest{Op: "unsubscribe", Tokens: []wsToken{{Chain: chain, Token: token}}}); err != nil {
		s.log.Debug().Err(err).Str("token", token).Msg("unsubscribe not sent")
	}
}

// Latest returns the cached quote for a token.
func (s *WSStream) Latest(_ context.Context, chain domain.Chain, token string) (Quote, error) {
	s.quotesMu.RLock()
	q, ok := s.quotes[Key(chain, token)]
	s.quotesMu.RUnlock()

	if !ok {
		return Quote{}, ErrNoQuote
	}
	return q, nil
}

func (s *WSStream) write(req wsRequest) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write %s: %w", req.Op, err)
	}
	return nil
}

// Close closes the WebSocket connection.
func (s *WSStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *WSStream) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.ReconnectDelay
	b.MaxInterval = s.config.MaxReconnectDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// readLoop reads messages and updates the quote cache.
func (s *WSStream) readLoop() {
	defer s.wg.Done()

	b := s.newBackOff()

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}

			if !s.reconnecting.Swap(true) {
				delay := b.NextBackOff()
				s.log.Warn().Err(err).Dur("delay", delay).Msg("price stream disconnected, reconnecting")
				go s.reconnect(delay)
			}

			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		b.Reset()
		s.handleMessage(message)
	}
}

// reconnect replaces the connection and resubscribes every followed token.
func (s *WSStream) reconnect(delay time.Duration) {
	defer s.reconnecting.Store(false)

	if s.closed.Load() {
		return
	}

	select {
	case <-s.done:
		return
	case <-time.After(delay):
	}

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		// Next read error schedules another attempt.
		return
	}

	s.subsMu.Lock()
	tokens := make([]wsToken, 0, len(s.subs))
	for _, t := range s.subs {
		tokens = append(tokens, t)
	}
	s.subsMu.Unlock()

	if len(tokens) == 0 {
		return
	}
	if err := s.write(wsRequest{Op: "subscribe", Tokens: tokens}); err != nil {
		s.log.Warn().Err(err).Int("tokens", len(tokens)).Msg("resubscribe failed")
	}
}

func (s *WSStream) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.log.Debug().Err(err).Msg("unparseable price message")
		return
	}

	switch msg.Type {
	case "price":
		if msg.Price <= 0 || msg.Token == "" {
			return
		}
		q := Quote{Chain: msg.Chain, Token: msg.Token, Price: msg.Price, At: msg.Timestamp}
		key := Key(msg.Chain, msg.Token)

		s.quotesMu.Lock()
		// Out-of-order frames never move the cache backwards.
		if prev, ok := s.quotes[key]; !ok || prev.At <= q.At {
			s.quotes[key] = q
		}
		s.quotesMu.Unlock()
	case "error":
		s.log.Warn().Str("error", msg.Error).Msg("price stream error")
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (s *WSStream) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				// A dead connection surfaces in the read loop.
				_ = s.conn.WriteMessage(websocket.PingMessage, nil)
			}
			s.connMu.Unlock()
		}
	}
}

type wsRequest struct {
	Op     string    `json:"op"`
	Tokens []wsToken `json:"tokens"`
}

type wsMessage struct {
	Type      string       `json:"type"`
	Chain     domain.Chain `json:"chain"`
	Token     string       `json:"token"`
	Price     float64      `json:"price"`
	Timestamp int64        `json:"ts"` // ms
	Error     string       `json:"error,omitempty"`
}
