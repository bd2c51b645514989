// Package market provides read-only access to exchange market data for the
// /market command family.
package market

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the board or ticker is unknown upstream.
var ErrNotFound = errors.New("market: instrument not found")

// Instrument is one tradable security on a board.
type Instrument struct {
	Ticker    string
	ShortName string
	LotSize   int
	Currency  string
}

// Quote is the latest market snapshot for one ticker.
type Quote struct {
	Ticker    string
	ShortName string
	Last      float64
	Open      float64
	High      float64
	Low       float64
	PrevPrice float64
	Value     float64
	UpdatedAt string
}

// Change returns the percentage change of Last against PrevPrice.
func (q Quote) Change() float64 {
	if q.PrevPrice == 0 {
		return 0
	}
	return (q.Last - q.PrevPrice) / q.PrevPrice * 100
}

// Candle is one OHLCV bar.
type Candle struct {
	Begin  string
	End    string
	Open   float64
	Close  float64
	High   float64
	Low    float64
	Volume float64
}

// Level is one price level of an order book.
type Level struct {
	Price    float64
	Quantity float64
}

// OrderBook holds the visible depth for one ticker, best prices first.
type OrderBook struct {
	Bids []Level
	Asks []Level
}

// Trade is one executed trade.
type Trade struct {
	ID       int64
	Time     string
	Price    float64
	Quantity float64
	Side     string
}

// Provider is the market data collaborator consumed by the router.
type Provider interface {
	Instruments(ctx context.Context, board string, limit, offset int) ([]Instrument, error)
	Quote(ctx context.Context, board, ticker string) (Quote, error)
	Candles(ctx context.Context, board, ticker, interval string, limit int) ([]Candle, error)
	OrderBook(ctx context.Context, board, ticker string, depth int) (OrderBook, error)
	Trades(ctx context.Context, board, ticker string, limit int) ([]Trade, error)
}

// Intervals maps user-facing candle intervals to ISS interval codes.
var Intervals = map[string]int{
	"1m":  1,
	"10m": 10,
	"1h":  60,
	"1d":  24,
	"1w":  7,
	"1M":  31,
}

// DefaultInterval is used when a candle request names no interval.
const DefaultInterval = "1h"
