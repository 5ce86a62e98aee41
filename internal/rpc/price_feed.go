package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"solana-trading-bot/internal/logging"
)

// ErrPriceUnknown is returned when no quote has arrived for a mint yet.
var ErrPriceUnknown = errors.New("no price available for mint")

// PriceSource supplies the latest known price for a token mint along with
// the time it was observed, so callers can apply staleness rules.
type PriceSource interface {
	Price(mint string) (float64, time.Time, error)
	Subscribe(mint string)
	Unsubscribe(mint string)
}

type pricePoint struct {
	price float64
	at    time.Time
}

// PriceFeed is a websocket client that keeps a last-quote cache for the
// subscribed mints. The read loop reconnects with backoff; consumers only
// ever see the cache, so a dropped connection surfaces as staleness rather
// than an error mid-tick.
type PriceFeed struct {
	url    string
	logger *logging.Logger

	mu     sync.RWMutex
	prices map[string]pricePoint
	subs   map[string]bool

	conn   *websocket.Conn
	connMu sync.Mutex
}

// NewPriceFeed creates a feed for the given websocket URL.
func NewPriceFeed(url string, logger *logging.Logger) *PriceFeed {
	return &PriceFeed{
		url:    url,
		logger: logger.WithComponent("price_feed"),
		prices: make(map[string]pricePoint),
		subs:   make(map[string]bool),
	}
}

// Price returns the most recent quote for the mint.
func (f *PriceFeed) Price(mint string) (float64, time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[mint]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("%w: %s", ErrPriceUnknown, mint)
	}
	return p.price, p.at, nil
}

type subscribeMessage struct {
	Op    string   `json:"op"`
	Mints []string `json:"mints"`
}

// Subscribe registers interest in a mint. Safe to call repeatedly.
func (f *PriceFeed) Subscribe(mint string) {
	f.mu.Lock()
	already := f.subs[mint]
	f.subs[mint] = true
	f.mu.Unlock()
	if !already {
		f.sendSubscription("subscribe", mint)
	}
}

// Unsubscribe drops interest in a mint and clears its cached quote.
func (f *PriceFeed) Unsubscribe(mint string) {
	f.mu.Lock()
	delete(f.subs, mint)
	delete(f.prices, mint)
	f.mu.Unlock()
	f.sendSubscription("unsubscribe", mint)
}

func (f *PriceFeed) sendSubscription(op, mint string) {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return // resubscribe on next connect covers it
	}
	msg := subscribeMessage{Op: op, Mints: []string{mint}}
	if err := f.conn.WriteJSON(msg); err != nil {
		f.logger.Warn("Failed to send subscription", "op", op, "mint", mint, "error", err)
	}
}

type priceUpdate struct {
	Mint  string  `json:"mint"`
	Price float64 `json:"price"`
}

// Run connects and consumes price updates until the context is cancelled,
// reconnecting with capped backoff on failure.
func (f *PriceFeed) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.connectAndRead(ctx); err != nil {
			f.logger.Warn("Price feed disconnected", "error", err, "retry_in", backoff.String())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (f *PriceFeed) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		f.conn = nil
		f.connMu.Unlock()
	}()

	// Replay subscriptions after (re)connect.
	f.mu.RLock()
	mints := make([]string, 0, len(f.subs))
	for m := range f.subs {
		mints = append(mints, m)
	}
	f.mu.RUnlock()
	if len(mints) > 0 {
		if err := conn.WriteJSON(subscribeMessage{Op: "subscribe", Mints: mints}); err != nil {
			return fmt.Errorf("resubscribe: %w", err)
		}
	}

	f.logger.Info("Price feed connected", "url", f.url, "subscriptions", len(mints))

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		var update priceUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			f.logger.Debug("Ignoring malformed price message", "error", err)
			continue
		}
		if update.Mint == "" || update.Price <= 0 {
			continue
		}
		f.mu.Lock()
		if f.subs[update.Mint] {
			f.prices[update.Mint] = pricePoint{price: update.Price, at: time.Now()}
		}
		f.mu.Unlock()
	}
}
