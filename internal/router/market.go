package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/775kkk/logic-signal-protector-sub000/internal/market"
	"github.com/775kkk/logic-signal-protector-sub000/internal/paging"
	"github.com/775kkk/logic-signal-protector-sub000/internal/session"
)

// Blob keys of the cached instrument listing.
const (
	mkKeyLimit  = "limit"
	mkKeyOffset = "offset"
	mkKeyBoard  = "board"
	mkKeySID    = "sid"
)

const (
	candleLimit    = 10
	orderBookDepth = 10
	tradesLimit    = 10
)

func (r *Router) handleMarket(ctx context.Context, req *request) []Block {
	if r.market == nil {
		return []Block{ErrorBlock(CodeUpstreamFailure, "Market data is not configured.", "")}
	}
	sub := strings.ToLower(req.input.Arg(0))
	ticker := strings.ToUpper(req.input.Arg(1))
	switch sub {
	case "":
		return r.marketMenu()
	case "instruments", "list":
		board := strings.ToUpper(req.input.Arg(1))
		if board == "" {
			board = r.defaultBoard
		}
		blob := paging.NewBlob().
			SetInt(mkKeyLimit, r.pageSize).
			SetInt(mkKeyOffset, 0).
			Set(mkKeyBoard, board)
		return r.listInstruments(ctx, req, blob)
	case "quote", "candles", "orderbook", "trades":
		if ticker == "" {
			return []Block{ErrorBlock(CodeValidation, "Missing ticker.",
				fmt.Sprintf("Usage: /market %s <ticker>", sub))}
		}
	default:
		return []Block{ErrorBlock(CodeValidation, fmt.Sprintf("Unknown market command %q.", req.input.Arg(0)),
			"Usage: /market <instruments|quote|candles|orderbook|trades> [args]")}
	}

	cctx, cancel := r.call(ctx)
	defer cancel()
	var (
		blocks []Block
		err    error
	)
	switch sub {
	case "quote":
		blocks, err = r.quote(cctx, ticker)
	case "candles":
		blocks, err = r.candles(cctx, ticker, req.input.Arg(2))
	case "orderbook":
		blocks, err = r.orderBook(cctx, ticker)
	case "trades":
		blocks, err = r.trades(cctx, ticker)
	}
	if err != nil {
		return []Block{r.marketError(err, ticker)}
	}
	return blocks
}

func (r *Router) marketMenu() []Block {
	return []Block{
		TextBlock("Market data. Send /market quote <ticker>, /market candles <ticker> [interval], " +
			"/market orderbook <ticker> or /market trades <ticker>."),
		ActionsBlock(Action{ID: "instruments", Title: "Instruments", Payload: "cmd:market:instruments"}),
	}
}

// pageInstruments serves an "mi" token. The page is a row offset; limit and
// board are restored from the cached listing.
func (r *Router) pageInstruments(ctx context.Context, req *request, tok paging.Token) []Block {
	if r.market == nil {
		return []Block{ErrorBlock(CodeUpstreamFailure, "Market data is not configured.", "")}
	}
	blob, ok := r.loadState(req, session.SuffixMarket, session.StateLastQueryMarket, tok.SessionID)
	if !ok {
		return []Block{sessionExpired("/market instruments")}
	}
	blob.SetInt(mkKeyOffset, tok.Page)
	return r.listInstruments(ctx, req, blob)
}

// listInstruments fetches one window of instruments and caches the listing
// parameters before returning.
func (r *Router) listInstruments(ctx context.Context, req *request, blob *paging.Blob) []Block {
	limit := blob.Int(mkKeyLimit, r.pageSize)
	offset := blob.Int(mkKeyOffset, 0)
	board := blob.String(mkKeyBoard)
	if board == "" {
		board = r.defaultBoard
	}

	cctx, cancel := r.call(ctx)
	defer cancel()
	items, err := r.market.Instruments(cctx, board, limit, offset)
	if err != nil {
		return []Block{r.marketError(err, board)}
	}

	blob.Set(mkKeySID, req.sessionID)
	r.sessions.Set(req.key.WithSuffix(session.SuffixMarket), session.StateLastQueryMarket, blob.Encode())

	if len(items) == 0 {
		return []Block{NoticeBlock(fmt.Sprintf("No instruments on %s at offset %d.", board, offset))}
	}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{it.Ticker, it.ShortName, strconv.Itoa(it.LotSize), it.Currency})
	}
	blocks := []Block{
		TextBlock(fmt.Sprintf("%s instruments %d-%d", board, offset+1, offset+len(items))),
		TableBlock([]string{"Ticker", "Name", "Lot", "Currency"}, rows),
	}
	var nav []Action
	if offset > 0 {
		nav = append(nav, Action{ID: "prev", Title: "« Prev",
			Payload: paging.Encode(paging.KindInstruments, req.sessionID, max(offset-limit, 0))})
	}
	if len(items) == limit {
		nav = append(nav, Action{ID: "next", Title: "Next »",
			Payload: paging.Encode(paging.KindInstruments, req.sessionID, offset+limit)})
	}
	if len(nav) > 0 {
		blocks = append(blocks, ActionsBlock(nav...))
	}
	return blocks
}

func (r *Router) quote(ctx context.Context, ticker string) ([]Block, error) {
	q, err := r.market.Quote(ctx, r.defaultBoard, ticker)
	if err != nil {
		return nil, err
	}
	return []Block{SectionsBlock(Section{
		Title:       q.Ticker + " " + q.ShortName,
		Description: "Updated " + q.UpdatedAt,
		Items: []string{
			"Last: " + price(q.Last) + fmt.Sprintf(" (%+.2f%%)", q.Change()),
			"Open: " + price(q.Open),
			"High: " + price(q.High),
			"Low: " + price(q.Low),
			"Prev close: " + price(q.PrevPrice),
			"Turnover: " + price(q.Value),
		},
	})}, nil
}

func (r *Router) candles(ctx context.Context, ticker, interval string) ([]Block, error) {
	if interval == "" {
		interval = market.DefaultInterval
	}
	if _, ok := market.Intervals[interval]; !ok {
		return []Block{ErrorBlock(CodeValidation, fmt.Sprintf("Unknown interval %q.", interval),
			"Intervals: 1m, 10m, 1h, 1d, 1w, 1M")}, nil
	}
	cs, err := r.market.Candles(ctx, r.defaultBoard, ticker, interval, candleLimit)
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(cs))
	for _, c := range cs {
		rows = append(rows, []string{c.Begin, price(c.Open), price(c.High), price(c.Low), price(c.Close), price(c.Volume)})
	}
	return []Block{
		TextBlock(fmt.Sprintf("%s candles (%s)", ticker, interval)),
		TableBlock([]string{"Begin", "Open", "High", "Low", "Close", "Volume"}, rows),
	}, nil
}

func (r *Router) orderBook(ctx context.Context, ticker string) ([]Block, error) {
	ob, err := r.market.OrderBook(ctx, r.defaultBoard, ticker, orderBookDepth)
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(ob.Asks)+len(ob.Bids))
	for i := len(ob.Asks) - 1; i >= 0; i-- {
		rows = append(rows, []string{"ask", price(ob.Asks[i].Price), price(ob.Asks[i].Quantity)})
	}
	for _, l := range ob.Bids {
		rows = append(rows, []string{"bid", price(l.Price), price(l.Quantity)})
	}
	return []Block{
		TextBlock(ticker + " order book"),
		TableBlock([]string{"Side", "Price", "Quantity"}, rows),
	}, nil
}

func (r *Router) trades(ctx context.Context, ticker string) ([]Block, error) {
	ts, err := r.market.Trades(ctx, r.defaultBoard, ticker, tradesLimit)
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(ts))
	for _, t := range ts {
		rows = append(rows, []string{t.Time, t.Side, price(t.Price), price(t.Quantity)})
	}
	return []Block{
		TextBlock(ticker + " recent trades"),
		TableBlock([]string{"Time", "Side", "Price", "Quantity"}, rows),
	}, nil
}

func (r *Router) marketError(err error, subject string) Block {
	if errors.Is(err, market.ErrNotFound) {
		return ErrorBlock(CodeValidation, fmt.Sprintf("%s was not found.", subject), "Check the ticker or board.")
	}
	return r.upstreamError("market", err)
}

func price(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
