package binance

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"binance-spot-executor/internal/trading"
)

// TradeStream opens one <symbol>@trade websocket per subscription and
// reconnects until the subscription is closed.
type TradeStream struct {
	baseURL        string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	logger         zerolog.Logger
}

// NewTradeStream creates a stream factory for baseURL (e.g. wss://stream.binance.com:9443/ws)
func NewTradeStream(baseURL string, logger zerolog.Logger) *TradeStream {
	return &TradeStream{
		baseURL:        strings.TrimRight(baseURL, "/"),
		dialer:         websocket.DefaultDialer,
		reconnectDelay: 3 * time.Second,
		logger:         logger.With().Str("component", "TradeStream").Logger(),
	}
}

var _ trading.PriceStreamer = (*TradeStream)(nil)

// tradeEvent is the subset of the trade payload we use
type tradeEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
}

type tradeSubscription struct {
	stream *TradeStream
	symbol string
	url    string
	onTick func(float64)
	logger zerolog.Logger

	stop chan struct{}
	once sync.Once
	mu   sync.Mutex
	conn *websocket.Conn
}

// SubscribePriceTicks starts streaming trades for symbol. The returned
// function closes the stream and may be called any number of times.
func (ts *TradeStream) SubscribePriceTicks(symbol string, onTick func(price float64)) (func(), error) {
	sub := &tradeSubscription{
		stream: ts,
		symbol: symbol,
		url:    ts.baseURL + "/" + strings.ToLower(symbol) + "@trade",
		onTick: onTick,
		logger: ts.logger.With().Str("symbol", symbol).Logger(),
		stop:   make(chan struct{}),
	}
	go sub.connect()
	return sub.close, nil
}

func (s *tradeSubscription) close() {
	s.once.Do(func() {
		close(s.stop)
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
		s.logger.Debug().Msg("Trade stream closed")
	})
}

func (s *tradeSubscription) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *tradeSubscription) connect() {
	for !s.stopped() {
		conn, _, err := s.stream.dialer.Dial(s.url, nil)
		if err != nil {
			s.logger.Warn().Err(err).Dur("retry_in", s.stream.reconnectDelay).Msg("Trade stream connection failed")
			if !s.wait(s.stream.reconnectDelay) {
				return
			}
			continue
		}

		s.mu.Lock()
		if s.stopped() {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conn = conn
		s.mu.Unlock()

		s.logger.Info().Msg("Trade stream connected")
		s.readLoop(conn)

		if !s.wait(s.stream.reconnectDelay) {
			return
		}
		s.logger.Info().Msg("Trade stream lost, reconnecting")
	}
}

// wait sleeps for d and reports false when the subscription was closed
func (s *tradeSubscription) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.stop:
		return false
	case <-t.C:
		return true
	}
}

func (s *tradeSubscription) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.stopped() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Msg("Trade stream connection closed")
			} else {
				s.logger.Warn().Err(err).Msg("Trade stream read error")
			}
			return
		}
		if s.stopped() {
			return
		}

		var ev tradeEvent
		if err := json.Unmarshal(message, &ev); err != nil || ev.EventType != "trade" {
			continue
		}
		if price := parseFloat(ev.Price); price > 0 {
			s.onTick(price)
		}
	}
}

// PollingPriceStream emits ticks by polling the REST price endpoint. Used
// with the mock client, which has no websocket.
type PollingPriceStream struct {
	client   BinanceClient
	interval time.Duration
	logger   zerolog.Logger
}

// NewPollingPriceStream creates a polling price stream
func NewPollingPriceStream(client BinanceClient, interval time.Duration, logger zerolog.Logger) *PollingPriceStream {
	return &PollingPriceStream{
		client:   client,
		interval: interval,
		logger:   logger.With().Str("component", "PollingPriceStream").Logger(),
	}
}

var _ trading.PriceStreamer = (*PollingPriceStream)(nil)

func (p *PollingPriceStream) SubscribePriceTicks(symbol string, onTick func(price float64)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				price, err := p.client.GetCurrentPrice(ctx, symbol)
				if err != nil {
					if ctx.Err() == nil {
						p.logger.Warn().Err(err).Str("symbol", symbol).Msg("Price poll failed")
					}
					continue
				}
				onTick(price)
			}
		}
	}()
	return cancel, nil
}
