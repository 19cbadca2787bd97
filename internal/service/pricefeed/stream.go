// Package pricefeed streams quotes over a websocket into a quote book that
// the broker and the price monitor read from.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"ZepixTrader/internal/domain/models"
	"ZepixTrader/pkg/logger"
)

// WSStream implements repository.QuoteStream against a Finnhub-style trade
// feed: {"type":"trade","data":[{"s":..,"p":..,"t":..}]}.
type WSStream struct {
	url            string
	apiKey         string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	logger         *logger.Logger

	mu        sync.Mutex // guards conn writes and the symbol maps
	conn      *websocket.Conn
	connected atomic.Bool
	// provider symbol -> alert symbol
	aliases    map[string]string
	subscribed []string
}

// NewWSStream builds a stream. aliases maps alert symbols to provider
// symbols; missing entries subscribe the alert symbol itself.
func NewWSStream(url, apiKey string, aliases map[string]string, reconnectDelay, pingInterval time.Duration, lgr *logger.Logger) *WSStream {
	if lgr == nil {
		lgr = logger.Nop()
	}
	s := &WSStream{
		url:            url,
		apiKey:         apiKey,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		logger:         lgr,
		aliases:        make(map[string]string),
	}
	for alert, provider := range aliases {
		s.aliases[provider] = alert
	}
	return s
}

func (s *WSStream) Connect(ctx context.Context) error {
	u := s.url
	if s.apiKey != "" {
		u = fmt.Sprintf("%s?token=%s", s.url, s.apiKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("quote feed connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connected.Store(true)
	s.logger.Info("quote feed connected", logger.String("url", s.url))
	return nil
}

// Subscribe sends one subscribe frame per alert symbol and remembers the
// set for Reconnect.
func (s *WSStream) Subscribe(_ context.Context, symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || !s.connected.Load() {
		return fmt.Errorf("quote feed not connected")
	}
	for _, sym := range symbols {
		provider := s.providerLocked(sym)
		if err := s.conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": provider}); err != nil {
			return fmt.Errorf("subscribe %s: %w", provider, err)
		}
		s.logger.Debug("quote feed subscribed", logger.String("symbol", sym), logger.String("provider", provider))
	}
	s.subscribed = append([]string(nil), symbols...)
	return nil
}

func (s *WSStream) providerLocked(alert string) string {
	for provider, a := range s.aliases {
		if a == alert {
			return provider
		}
	}
	return alert
}

func (s *WSStream) alertSymbol(provider string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.aliases[provider]; ok {
		return a
	}
	return provider
}

type wsTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	T int64   `json:"t"` // ms
}

type wsMessage struct {
	Type string    `json:"type"`
	Data []wsTrade `json:"data"`
}

// Read streams quotes until ctx ends or the connection fails. The error
// channel receives at most one error and both channels close on return.
func (s *WSStream) Read(ctx context.Context) (<-chan models.Quote, <-chan error) {
	quotes := make(chan models.Quote, 1024)
	errc := make(chan error, 1)

	go func() {
		if s.pingInterval <= 0 {
			return
		}
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !s.connected.Load() {
					return
				}
				s.mu.Lock()
				if s.conn != nil {
					_ = s.conn.WriteMessage(websocket.PingMessage, nil)
				}
				s.mu.Unlock()
			}
		}
	}()

	go func() {
		defer close(quotes)
		defer close(errc)

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			errc <- fmt.Errorf("quote feed not connected")
			return
		}
		for {
			if ctx.Err() != nil {
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				s.connected.Store(false)
				if ctx.Err() == nil {
					errc <- fmt.Errorf("quote feed read: %w", err)
				}
				return
			}
			var m wsMessage
			if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
				continue
			}
			for _, d := range m.Data {
				q := models.Quote{Symbol: s.alertSymbol(d.S), Price: d.P, At: time.UnixMilli(d.T).UTC()}
				select {
				case quotes <- q:
				default:
					// drop on backpressure; the next quote supersedes it
				}
			}
		}
	}()

	return quotes, errc
}

// Reconnect waits the reconnect delay, redials and resubscribes.
func (s *WSStream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.reconnectDelay):
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	symbols := append([]string(nil), s.subscribed...)
	s.mu.Unlock()
	return s.Subscribe(ctx, symbols)
}

func (s *WSStream) Close() error {
	s.connected.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func (s *WSStream) IsConnected() bool { return s.connected.Load() }
