package upbit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

const (
	publicStreamURL  = "wss://api.upbit.com/websocket/v1"
	privateStreamURL = "wss://api.upbit.com/websocket/v1/private"
)

// ReconnectConfig controls the stream's exponential backoff on disconnect.
type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultReconnectConfig returns sensible defaults for reconnection.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2.0}
}

func (c ReconnectConfig) backoff(attempt int) time.Duration {
	delay := float64(c.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= c.Multiplier
	}
	if time.Duration(delay) > c.MaxDelay {
		return c.MaxDelay
	}
	return time.Duration(delay)
}

func buildSubscribeFrame(ticket string, typ string, markets []string) ([]byte, error) {
	frame := []any{
		map[string]string{"ticket": ticket},
		map[string]any{"type": typ, "codes": markets},
		map[string]string{"format": "DEFAULT"},
	}
	return json.Marshal(frame)
}

// Stream dials Upbit's public and private websocket feeds and hands every
// raw frame to the caller-supplied sink, reconnecting with backoff on error.
// The stream does not parse frames: the router extracts the market key, and
// the parsers handed to the engine manager map frames to domain types.
type Stream struct {
	accessKey, secretKey string
	dialer               *websocket.Dialer
	reconnect            ReconnectConfig
}

// NewStream builds a Stream; accessKey/secretKey are required only for the private feed.
func NewStream(accessKey, secretKey string) *Stream {
	return &Stream{
		accessKey: accessKey,
		secretKey: secretKey,
		dialer:    websocket.DefaultDialer,
		reconnect: DefaultReconnectConfig(),
	}
}

func (s *Stream) privateToken() (string, error) {
	claims := jwt.MapClaims{
		"access_key": s.accessKey,
		"nonce":      fmt.Sprintf("%d", time.Now().UnixNano()),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(s.secretKey))
}

// RunMarketData subscribes to ticker updates for markets and calls sink with
// every raw text frame received, until ctx is cancelled.
func (s *Stream) RunMarketData(ctx context.Context, markets []string, sink func(raw string)) {
	s.run(ctx, publicStreamURL, nil, "ticker", markets, sink)
}

// RunMyOrders subscribes to the private myOrder/myTrade feed and calls sink
// with every raw text frame received, until ctx is cancelled.
func (s *Stream) RunMyOrders(ctx context.Context, markets []string, sink func(raw string)) {
	headers := func() (http.Header, error) {
		tok, err := s.privateToken()
		if err != nil {
			return nil, err
		}
		return http.Header{"Authorization": {"Bearer " + tok}}, nil
	}
	s.runAuthenticated(ctx, privateStreamURL, headers, "myOrder", markets, sink)
}

func (s *Stream) run(ctx context.Context, url string, headers map[string][]string, typ string, markets []string, sink func(raw string)) {
	s.runAuthenticated(ctx, url, func() (http.Header, error) { return http.Header(headers), nil }, typ, markets, sink)
}

func (s *Stream) runAuthenticated(ctx context.Context, url string, headerFn func() (http.Header, error), typ string, markets []string, sink func(raw string)) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		hdr, err := headerFn()
		if err != nil {
			log.Printf("upbit stream: failed to build auth header: %v", err)
			time.Sleep(s.reconnect.backoff(attempt))
			attempt++
			continue
		}

		conn, _, err := s.dialer.DialContext(ctx, url, hdr)
		if err != nil {
			log.Printf("upbit stream: dial failed: %v", err)
			time.Sleep(s.reconnect.backoff(attempt))
			attempt++
			continue
		}

		frame, err := buildSubscribeFrame(fmt.Sprintf("trading-core-%d", time.Now().UnixNano()), typ, markets)
		if err != nil {
			conn.Close()
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("upbit stream: subscribe write failed: %v", err)
			conn.Close()
			time.Sleep(s.reconnect.backoff(attempt))
			attempt++
			continue
		}

		attempt = 0
		s.readLoop(ctx, conn, sink)
		conn.Close()

		select {
		case <-ctx.Done():
			return
		default:
		}
		time.Sleep(s.reconnect.backoff(attempt))
		attempt++
	}
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn, sink func(raw string)) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			sink(string(data))
		}
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
}
