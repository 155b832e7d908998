package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"go.uber.org/zap"

	"volguard-go/market"
)

// UpstoxClient talks to the Upstox v2/v3 REST API. HTTPClient is injectable
// so tests can point it at httptest servers.
type UpstoxClient struct {
	BaseV2      string
	BaseV3      string
	AccessToken string
	IndexKey    string // e.g. "NSE_INDEX|Nifty 50"
	LotSize     int
	HTTPClient  *http.Client
	Log         *zap.Logger
}

// NewUpstoxClient builds a client with sane HTTP timeouts.
func NewUpstoxClient(baseV2, baseV3, token, indexKey string, lotSize int, log *zap.Logger) *UpstoxClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &UpstoxClient{
		BaseV2:      baseV2,
		BaseV3:      baseV3,
		AccessToken: token,
		IndexKey:    indexKey,
		LotSize:     lotSize,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
		Log:         log,
	}
}

func (c *UpstoxClient) do(ctx context.Context, method, endpoint string, body []byte, out interface{}) error {
	var rdr *bytes.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("upstox %s %s: status %d", method, endpoint, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Spot returns the last traded price for the instrument, or 0 on any venue
// failure (logged, never propagated into analytics).
func (c *UpstoxClient) Spot(ctx context.Context, instrumentKey string) float64 {
	var payload struct {
		Data map[string]struct {
			LastPrice float64 `json:"last_price"`
		} `json:"data"`
	}
	endpoint := c.BaseV3 + "/market-quote/ltp?instrument_key=" + url.QueryEscape(instrumentKey)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		c.Log.Warn("spot fetch failed", zap.String("key", instrumentKey), zap.Error(err))
		return 0
	}
	if q, ok := payload.Data[instrumentKey]; ok {
		return q.LastPrice
	}
	// The quote API keys responses with ':' instead of '|' on some paths.
	for _, q := range payload.Data {
		return q.LastPrice
	}
	return 0
}

// History fetches daily candles covering the trailing days. Venue failures
// return an empty series.
func (c *UpstoxClient) History(ctx context.Context, instrumentKey string, days int) market.Series {
	to := time.Now().Format("2006-01-02")
	from := time.Now().AddDate(0, 0, -days).Format("2006-01-02")
	endpoint := fmt.Sprintf("%s/historical-candle/%s/day/%s/%s",
		c.BaseV2, url.PathEscape(instrumentKey), to, from)

	var payload struct {
		Data struct {
			Candles [][]interface{} `json:"candles"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		c.Log.Warn("history fetch failed", zap.String("key", instrumentKey), zap.Error(err))
		return market.Series{}
	}
	return parseCandles(payload.Data.Candles)
}

// parseCandles converts the venue's [ts, open, high, low, close, vol, oi]
// rows into an ascending daily series.
func parseCandles(rows [][]interface{}) market.Series {
	out := make(market.Series, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		ts, _ := row[0].(string)
		date, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			continue
		}
		high, ok1 := asFloat(row[2])
		low, ok2 := asFloat(row[3])
		closeP, ok3 := asFloat(row[4])
		if !ok1 || !ok2 || !ok3 {
			continue
		}
		out = append(out, market.Bar{Date: date, High: high, Low: low, Close: closeP})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func asFloat(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

type chainResp struct {
	Data []struct {
		StrikePrice float64   `json:"strike_price"`
		CallOptions chainSide `json:"call_options"`
		PutOptions  chainSide `json:"put_options"`
	} `json:"data"`
}

type chainSide struct {
	InstrumentKey string `json:"instrument_key"`
	MarketData    struct {
		OI  float64 `json:"oi"`
		LTP float64 `json:"ltp"`
	} `json:"market_data"`
	OptionGreeks struct {
		IV    float64 `json:"iv"`
		Delta float64 `json:"delta"`
		Gamma float64 `json:"gamma"`
	} `json:"option_greeks"`
}

// Chain fetches the option chain for the index at the given expiry. Venue
// failures return an empty chain.
func (c *UpstoxClient) Chain(ctx context.Context, expiry time.Time) market.Chain {
	endpoint := c.BaseV2 + "/option/chain?instrument_key=" + url.QueryEscape(c.IndexKey) +
		"&expiry_date=" + expiry.Format("2006-01-02")

	var payload chainResp
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		c.Log.Warn("chain fetch failed", zap.Time("expiry", expiry), zap.Error(err))
		return market.Chain{}
	}
	out := make(market.Chain, 0, len(payload.Data))
	for _, row := range payload.Data {
		out = append(out, market.ChainRow{
			Strike:    row.StrikePrice,
			CallIV:    row.CallOptions.OptionGreeks.IV,
			PutIV:     row.PutOptions.OptionGreeks.IV,
			CallDelta: row.CallOptions.OptionGreeks.Delta,
			PutDelta:  row.PutOptions.OptionGreeks.Delta,
			CallGamma: row.CallOptions.OptionGreeks.Gamma,
			PutGamma:  row.PutOptions.OptionGreeks.Gamma,
			CallOI:    row.CallOptions.MarketData.OI,
			PutOI:     row.PutOptions.MarketData.OI,
			CallLTP:   row.CallOptions.MarketData.LTP,
			PutLTP:    row.PutOptions.MarketData.LTP,
			CallKey:   row.CallOptions.InstrumentKey,
			PutKey:    row.PutOptions.InstrumentKey,
		})
	}
	return out
}

// Expiries derives the weekly (next Thursday), approximate monthly and
// next-weekly expiry dates.
func (c *UpstoxClient) Expiries(ctx context.Context) (Expiries, error) {
	today := time.Now()
	weekly := market.NextWeekday(today, time.Thursday)
	return Expiries{
		Weekly:     weekly,
		Monthly:    weekly.AddDate(0, 0, 21),
		NextWeekly: weekly.AddDate(0, 0, 7),
		LotSize:    c.LotSize,
	}, nil
}

// AvailableCapital reads the funds-and-margin endpoint.
func (c *UpstoxClient) AvailableCapital(ctx context.Context) (float64, error) {
	var payload struct {
		Data struct {
			Equity struct {
				AvailableMargin float64 `json:"available_margin"`
			} `json:"equity"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, c.BaseV2+"/user/get-funds-and-margin", nil, &payload); err != nil {
		return 0, err
	}
	return payload.Data.Equity.AvailableMargin, nil
}

// OpenPositions lists short-term positions with per-position P&L.
func (c *UpstoxClient) OpenPositions(ctx context.Context) ([]Position, error) {
	var payload struct {
		Data []struct {
			InstrumentToken string  `json:"instrument_token"`
			Quantity        int     `json:"quantity"`
			PnL             float64 `json:"pnl"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, c.BaseV2+"/portfolio/short-term-positions", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(payload.Data))
	for _, p := range payload.Data {
		if p.Quantity == 0 {
			continue
		}
		out = append(out, Position{InstrumentKey: p.InstrumentToken, Quantity: p.Quantity, PnL: p.PnL})
	}
	return out, nil
}

// RequiredMargin asks the venue for the margin the basket needs.
func (c *UpstoxClient) RequiredMargin(ctx context.Context, legs []Leg) (float64, error) {
	type instrument struct {
		InstrumentKey   string `json:"instrument_key"`
		Quantity        int    `json:"quantity"`
		TransactionType string `json:"transaction_type"`
		Product         string `json:"product"`
	}
	reqBody := struct {
		Instruments []instrument `json:"instruments"`
	}{}
	for _, l := range legs {
		reqBody.Instruments = append(reqBody.Instruments, instrument{
			InstrumentKey:   l.InstrumentKey,
			Quantity:        l.Quantity,
			TransactionType: l.Side,
			Product:         "D",
		})
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return 0, err
	}
	var payload struct {
		Data struct {
			RequiredMargin float64 `json:"required_margin"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, c.BaseV2+"/charges/margin", body, &payload); err != nil {
		return 0, err
	}
	return payload.Data.RequiredMargin, nil
}

// PlaceOrder submits a single limit order leg and returns the venue order id.
func (c *UpstoxClient) PlaceOrder(ctx context.Context, leg Leg) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"instrument_token": leg.InstrumentKey,
		"quantity":         leg.Quantity,
		"product":          "M",
		"transaction_type": leg.Side,
		"order_type":       "LIMIT",
		"price":            leg.LimitPrice,
	})
	if err != nil {
		return "", err
	}
	var payload struct {
		Data struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, c.BaseV3+"/order/place", body, &payload); err != nil {
		return "", err
	}
	if payload.Data.OrderID == "" {
		return "", fmt.Errorf("order rejected: empty order id")
	}
	return payload.Data.OrderID, nil
}

// OrderStatus reads an order's fill state.
func (c *UpstoxClient) OrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	var payload struct {
		Data struct {
			OrderStatus    string  `json:"order_status"`
			AveragePrice   float64 `json:"average_price"`
			FilledQuantity int     `json:"filled_quantity"`
		} `json:"data"`
	}
	endpoint := c.BaseV2 + "/order/details?order_id=" + url.QueryEscape(orderID)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		return OrderStatus{}, err
	}
	return OrderStatus{
		Status:    payload.Data.OrderStatus,
		AvgPrice:  payload.Data.AveragePrice,
		FilledQty: payload.Data.FilledQuantity,
	}, nil
}

// CancelAllPositions squares off every open position at market.
func (c *UpstoxClient) CancelAllPositions(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, c.BaseV2+"/order/positions/exit", []byte(`{}`), nil)
}

var _ MarketData = (*UpstoxClient)(nil)
var _ Execution = (*UpstoxClient)(nil)
