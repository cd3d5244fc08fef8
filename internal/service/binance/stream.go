package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"SqueezeWatch/internal/domain/models"
	drepo "SqueezeWatch/internal/domain/repository"
)

// Stream implements a PriceStream backed by the Binance combined WebSocket
// endpoint, subscribing each symbol's mini-ticker channel.
type Stream struct {
	websocketURL   string
	reconnectDelay time.Duration
	pingInterval   time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	symbols   []string
	subID     int
}

// NewStream creates a Binance mini-ticker PriceStream.
func NewStream(websocketURL string, reconnectDelay, pingInterval time.Duration) drepo.PriceStream {
	return &Stream{
		websocketURL:   websocketURL,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
	}
}

// Connect establishes the WebSocket connection.
func (s *Stream) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.websocketURL, nil)
	if err != nil {
		return fmt.Errorf("binance stream connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	log.Printf("binance stream: connected")
	return nil
}

// Subscribe adds mini-ticker channels for the given symbols. Symbols
// accumulate across calls so a reconnect can restore the full set.
func (s *Stream) Subscribe(ctx context.Context, symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeSubLocked("SUBSCRIBE", symbols); err != nil {
		return fmt.Errorf("subscribe %v: %w", symbols, err)
	}
	for _, sym := range symbols {
		if !lo.Contains(s.symbols, sym) {
			s.symbols = append(s.symbols, sym)
		}
	}
	log.Printf("binance stream: subscribed %d symbols (%d total)", len(symbols), len(s.symbols))
	return nil
}

// Unsubscribe drops the mini-ticker channels for the given symbols.
func (s *Stream) Unsubscribe(ctx context.Context, symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeSubLocked("UNSUBSCRIBE", symbols); err != nil {
		return fmt.Errorf("unsubscribe %v: %w", symbols, err)
	}
	s.symbols = lo.Filter(s.symbols, func(sym string, _ int) bool {
		return !lo.Contains(symbols, sym)
	})
	return nil
}

func (s *Stream) writeSubLocked(method string, symbols []string) error {
	if s.conn == nil || !s.connected {
		return fmt.Errorf("binance stream not connected")
	}
	params := lo.Map(symbols, func(sym string, _ int) string {
		return strings.ToLower(sym) + "@miniTicker"
	})
	s.subID++
	return s.conn.WriteJSON(map[string]interface{}{
		"method": method,
		"params": params,
		"id":     s.subID,
	})
}

type miniTicker struct {
	Event  string `json:"e"`
	TimeMs int64  `json:"E"`
	Symbol string `json:"s"`
	Close  string `json:"c"`
}

type streamFrame struct {
	Stream string     `json:"stream"`
	Data   miniTicker `json:"data"`
}

// Read streams price ticks and errors.
func (s *Stream) Read(ctx context.Context) (<-chan *models.PriceTick, <-chan error) {
	ticks := make(chan *models.PriceTick, 1024)
	errs := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				conn := s.conn
				s.mu.Unlock()
				if conn != nil {
					_ = conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(ticks)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				s.mu.Lock()
				conn := s.conn
				s.mu.Unlock()
				if conn == nil {
					errs <- fmt.Errorf("binance stream conn nil")
					return
				}
				_, b, err := conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("binance stream read: %w", err)
					return
				}
				var frame streamFrame
				if err := json.Unmarshal(b, &frame); err != nil {
					// ignore subscription acks and other non-data frames
					continue
				}
				if frame.Data.Event != "24hrMiniTicker" {
					continue
				}
				price, err := strconv.ParseFloat(frame.Data.Close, 64)
				if err != nil {
					continue
				}
				tick := &models.PriceTick{
					Symbol: frame.Data.Symbol,
					Price:  price,
					At:     time.UnixMilli(frame.Data.TimeMs),
				}
				select {
				case ticks <- tick:
				default:
					// drop on backpressure
				}
			}
		}
	}()

	return ticks, errs
}

// Reconnect closes and reconnects, restoring the last subscriptions.
func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	time.Sleep(s.reconnectDelay)
	if err := s.Connect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	symbols := s.symbols
	s.mu.Unlock()
	if len(symbols) == 0 {
		return nil
	}
	return s.Subscribe(ctx, symbols)
}

// Close closes the WS connection.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
