package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the public MOEX ISS endpoint.
const DefaultBaseURL = "https://iss.moex.com/iss"

const maxBody = 8 << 20

// ISS is a Provider backed by the MOEX Informational & Statistical Server.
type ISS struct {
	baseURL string
	engine  string
	market  string
	client  *http.Client
}

// ISSOpts holds parameters for creating an ISS provider.
type ISSOpts struct {
	BaseURL    string // defaults to DefaultBaseURL
	Engine     string // defaults to "stock"
	Market     string // defaults to "shares"
	HTTPClient *http.Client
}

// NewISS creates an ISS provider.
func NewISS(opts ISSOpts) *ISS {
	p := &ISS{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		engine:  opts.Engine,
		market:  opts.Market,
		client:  opts.HTTPClient,
	}
	if p.baseURL == "" {
		p.baseURL = DefaultBaseURL
	}
	if p.engine == "" {
		p.engine = "stock"
	}
	if p.market == "" {
		p.market = "shares"
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: 15 * time.Second}
	}
	return p
}

func (p *ISS) boardPath(board string) string {
	return fmt.Sprintf("/engines/%s/markets/%s/boards/%s", p.engine, p.market, url.PathEscape(strings.ToUpper(board)))
}

func (p *ISS) securityPath(board, ticker string) string {
	return p.boardPath(board) + "/securities/" + url.PathEscape(strings.ToUpper(ticker))
}

// Instruments implements Provider.
func (p *ISS) Instruments(ctx context.Context, board string, limit, offset int) ([]Instrument, error) {
	q := url.Values{
		"iss.only":           {"securities"},
		"securities.columns": {"SECID,SHORTNAME,LOTSIZE,CURRENCYID"},
		"start":              {strconv.Itoa(offset)},
	}
	body, err := p.get(ctx, p.boardPath(board)+"/securities.json", q)
	if err != nil {
		return nil, err
	}
	rows := table(body, "securities")
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]Instrument, 0, len(rows))
	for _, r := range rows {
		out = append(out, Instrument{
			Ticker:    r.str("SECID"),
			ShortName: r.str("SHORTNAME"),
			LotSize:   int(r.num("LOTSIZE")),
			Currency:  r.str("CURRENCYID"),
		})
	}
	return out, nil
}

// Quote implements Provider.
func (p *ISS) Quote(ctx context.Context, board, ticker string) (Quote, error) {
	q := url.Values{"iss.only": {"securities,marketdata"}}
	body, err := p.get(ctx, p.securityPath(board, ticker)+".json", q)
	if err != nil {
		return Quote{}, err
	}
	sec := table(body, "securities")
	md := table(body, "marketdata")
	if len(sec) == 0 || len(md) == 0 {
		return Quote{}, fmt.Errorf("%w: %s on %s", ErrNotFound, ticker, board)
	}
	s, m := sec[0], md[0]
	return Quote{
		Ticker:    s.str("SECID"),
		ShortName: s.str("SHORTNAME"),
		Last:      m.num("LAST"),
		Open:      m.num("OPEN"),
		High:      m.num("HIGH"),
		Low:       m.num("LOW"),
		PrevPrice: s.num("PREVPRICE"),
		Value:     m.num("VALTODAY"),
		UpdatedAt: m.str("UPDATETIME"),
	}, nil
}

// Candles implements Provider. The most recent limit candles are returned
// in chronological order.
func (p *ISS) Candles(ctx context.Context, board, ticker, interval string, limit int) ([]Candle, error) {
	if interval == "" {
		interval = DefaultInterval
	}
	code, ok := Intervals[interval]
	if !ok {
		return nil, fmt.Errorf("market: unknown interval %q", interval)
	}
	q := url.Values{
		"interval":    {strconv.Itoa(code)},
		"iss.reverse": {"true"},
	}
	body, err := p.get(ctx, p.securityPath(board, ticker)+"/candles.json", q)
	if err != nil {
		return nil, err
	}
	rows := table(body, "candles")
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]Candle, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = Candle{
			Begin:  r.str("begin"),
			End:    r.str("end"),
			Open:   r.num("open"),
			Close:  r.num("close"),
			High:   r.num("high"),
			Low:    r.num("low"),
			Volume: r.num("volume"),
		}
	}
	return out, nil
}

// OrderBook implements Provider.
func (p *ISS) OrderBook(ctx context.Context, board, ticker string, depth int) (OrderBook, error) {
	body, err := p.get(ctx, p.securityPath(board, ticker)+"/orderbook.json", url.Values{"iss.only": {"orderbook"}})
	if err != nil {
		return OrderBook{}, err
	}
	var ob OrderBook
	for _, r := range table(body, "orderbook") {
		lvl := Level{Price: r.num("PRICE"), Quantity: r.num("QUANTITY")}
		switch r.str("BUYSELL") {
		case "B":
			ob.Bids = append(ob.Bids, lvl)
		case "S":
			ob.Asks = append(ob.Asks, lvl)
		}
	}
	// ISS lists asks from the highest price down to the spread.
	for i, j := 0, len(ob.Asks)-1; i < j; i, j = i+1, j-1 {
		ob.Asks[i], ob.Asks[j] = ob.Asks[j], ob.Asks[i]
	}
	if depth > 0 {
		if len(ob.Bids) > depth {
			ob.Bids = ob.Bids[:depth]
		}
		if len(ob.Asks) > depth {
			ob.Asks = ob.Asks[:depth]
		}
	}
	return ob, nil
}

// Trades implements Provider. The newest trades come first.
func (p *ISS) Trades(ctx context.Context, board, ticker string, limit int) ([]Trade, error) {
	q := url.Values{"iss.only": {"trades"}, "reversed": {"1"}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	body, err := p.get(ctx, p.securityPath(board, ticker)+"/trades.json", q)
	if err != nil {
		return nil, err
	}
	rows := table(body, "trades")
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, Trade{
			ID:       int64(r.num("TRADENO")),
			Time:     r.str("TRADETIME"),
			Price:    r.num("PRICE"),
			Quantity: r.num("QUANTITY"),
			Side:     r.str("BUYSELL"),
		})
	}
	return out, nil
}

func (p *ISS) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	q.Set("iss.meta", "off")
	u := p.baseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("market: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("market: GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("market: GET %s: status %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("market: read %s: %w", path, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("market: GET %s: invalid json", path)
	}
	return body, nil
}

// row is one record of an ISS columnar block.
type row map[string]gjson.Result

func (r row) str(col string) string  { return r[col].String() }
func (r row) num(col string) float64 { return r[col].Float() }

// table unpacks an ISS block of the form {"columns": [...], "data": [[...]]}.
func table(body []byte, block string) []row {
	res := gjson.GetManyBytes(body, block+".columns", block+".data")
	cols := res[0].Array()
	var out []row
	res[1].ForEach(func(_, rec gjson.Result) bool {
		vals := rec.Array()
		r := make(row, len(cols))
		for i, c := range cols {
			if i < len(vals) {
				r[c.String()] = vals[i]
			}
		}
		out = append(out, r)
		return true
	})
	return out
}
