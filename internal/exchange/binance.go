package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"livetrader-go/internal/signal"
)

const (
	defaultBinanceURL = "wss://stream.binance.com:9443/stream"
	readDeadline      = 30 * time.Second
	pingInterval      = 15 * time.Second
)

// ErrNotConnected is returned when a read is attempted before Connect.
var ErrNotConnected = errors.New("source not connected")

type binanceEnvelope struct {
	Stream string       `json:"stream"`
	Data   binanceTrade `json:"data"`
}

type binanceTrade struct {
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	TradeID      uint64 `json:"t"`
	IsBuyerMaker bool   `json:"m"`
}

// BinanceSource streams live trades for one symbol from Binance public
// websockets.
type BinanceSource struct {
	symbol string
	url    string
	log    zerolog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	pingCancel context.CancelFunc
}

// NewBinanceSource builds a live source for the given symbol. An empty url
// selects the public production endpoint.
func NewBinanceSource(symbol, url string, log zerolog.Logger) *BinanceSource {
	if url == "" {
		url = defaultBinanceURL
	}
	return &BinanceSource{symbol: strings.ToUpper(symbol), url: url, log: log}
}

// Connect dials the combined-stream endpoint and starts the keepalive pinger.
func (s *BinanceSource) Connect(ctx context.Context) error {
	if s.symbol == "" {
		return fmt.Errorf("binance source requires a symbol")
	}
	url := fmt.Sprintf("%s?streams=%s@trade", s.url, strings.ToLower(s.symbol))

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial binance: %w", err)
	}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.log.Warn().Err(err).Msg("binance ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	s.mu.Lock()
	if s.pingCancel != nil {
		s.pingCancel()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = conn
	s.pingCancel = pingCancel
	s.mu.Unlock()

	s.log.Info().Str("symbol", s.symbol).Msg("connected binance trade stream")
	return nil
}

// NextRawMessage blocks on the websocket until a frame arrives.
func (s *BinanceSource) NextRawMessage() (RawMessage, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	_, message, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read binance frame: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	return RawMessage(message), nil
}

// Normalize decodes a combined-stream trade frame. Missing or unparseable
// price/timestamp fields produce a tick whose accessors report the absence;
// only an undecodable frame is an error.
func (s *BinanceSource) Normalize(raw RawMessage) (signal.Tick, error) {
	var env binanceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return signal.Tick{}, fmt.Errorf("decode binance message: %w", err)
	}

	tick := signal.Tick{Symbol: parseStreamSymbol(env.Stream), Seq: env.Data.TradeID}
	if px, err := strconv.ParseFloat(env.Data.Price, 64); err == nil {
		tick.Price = px
	}
	if qty, err := strconv.ParseFloat(env.Data.Quantity, 64); err == nil {
		tick.Size = qty
	}
	if env.Data.TradeTime > 0 {
		tick.Ts = time.UnixMilli(env.Data.TradeTime)
	}
	tick.Side = 1
	if env.Data.IsBuyerMaker {
		tick.Side = -1
	}
	return tick, nil
}

// Disconnect stops the pinger and closes the socket, unblocking any pending
// read.
func (s *BinanceSource) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pingCancel != nil {
		s.pingCancel()
		s.pingCancel = nil
	}
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func parseStreamSymbol(stream string) string {
	parts := strings.Split(stream, "@")
	if len(parts) == 0 || parts[0] == "" {
		return strings.ToUpper(stream)
	}
	return strings.ToUpper(parts[0])
}
