package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) *UpstoxClient {
	c := NewUpstoxClient(srv.URL, srv.URL, "test-token", "NSE_INDEX|Nifty 50", 50, nil)
	c.HTTPClient = srv.Client()
	return c
}

func TestUpstoxSpot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"data":{"NSE_INDEX|Nifty 50":{"last_price":24312.5}}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	assert.Equal(t, 24312.5, c.Spot(context.Background(), "NSE_INDEX|Nifty 50"))
}

func TestUpstoxSpotAltKeyFormat(t *testing.T) {
	// Some quote paths key the response with ':' instead of '|'.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"NSE_INDEX:Nifty 50":{"last_price":24100}}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	assert.Equal(t, 24100.0, c.Spot(context.Background(), "NSE_INDEX|Nifty 50"))
}

func TestUpstoxSpotVenueFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	assert.Equal(t, 0.0, c.Spot(context.Background(), "NSE_INDEX|Nifty 50"))
}

func TestUpstoxHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Venue returns candles newest first; the client must sort ascending.
		fmt.Fprint(w, `{"data":{"candles":[
			["2025-08-22T00:00:00+05:30",24200,24350,24150,24300,0,0],
			["2025-08-21T00:00:00+05:30",24100,24250,24050,24200,0,0]
		]}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	series := c.History(context.Background(), "NSE_INDEX|Nifty 50", 10)
	require.Len(t, series, 2)
	assert.True(t, series[0].Date.Before(series[1].Date))
	assert.Equal(t, 24200.0, series[0].Close)
	assert.Equal(t, 24300.0, series[1].Close)
	assert.Equal(t, 24350.0, series[1].High)
	assert.Equal(t, 24150.0, series[1].Low)
}

func TestUpstoxHistoryVenueFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	assert.Empty(t, c.History(context.Background(), "NSE_INDEX|Nifty 50", 10))
}

func TestParseCandlesSkipsMalformedRows(t *testing.T) {
	rows := [][]interface{}{
		{"not-a-timestamp", 1.0, 2.0, 3.0, 4.0},
		{"2025-08-21T00:00:00+05:30", 24100.0, 24250.0, 24050.0, "oops"},
		{"2025-08-22T00:00:00+05:30", 24200.0, 24350.0, 24150.0, 24300.0},
		{"2025-08-23T00:00:00+05:30"},
	}
	series := parseCandles(rows)
	require.Len(t, series, 1)
	assert.Equal(t, 24300.0, series[0].Close)
}

func TestUpstoxChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2025-08-28", r.URL.Query().Get("expiry_date"))
		fmt.Fprint(w, `{"data":[{
			"strike_price":24000,
			"call_options":{"instrument_key":"NSE_FO|C24000","market_data":{"oi":120000,"ltp":145.5},"option_greeks":{"iv":13.2,"delta":0.52,"gamma":0.0009}},
			"put_options":{"instrument_key":"NSE_FO|P24000","market_data":{"oi":140000,"ltp":130.0},"option_greeks":{"iv":14.1,"delta":-0.48,"gamma":0.0008}}
		}]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	chain := c.Chain(context.Background(), time.Date(2025, 8, 28, 0, 0, 0, 0, time.UTC))
	require.Len(t, chain, 1)
	row := chain[0]
	assert.Equal(t, 24000.0, row.Strike)
	assert.Equal(t, 13.2, row.CallIV)
	assert.Equal(t, 14.1, row.PutIV)
	assert.Equal(t, 120000.0, row.CallOI)
	assert.Equal(t, "NSE_FO|C24000", row.CallKey)
	assert.Equal(t, "NSE_FO|P24000", row.PutKey)
	assert.Equal(t, 130.0, row.PutLTP)
}

func TestUpstoxExpiries(t *testing.T) {
	c := NewUpstoxClient("", "", "", "NSE_INDEX|Nifty 50", 75, nil)
	exp, err := c.Expiries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Thursday, exp.Weekly.Weekday())
	assert.True(t, exp.Weekly.After(time.Now()))
	assert.Equal(t, exp.Weekly.AddDate(0, 0, 7), exp.NextWeekly)
	assert.Equal(t, exp.Weekly.AddDate(0, 0, 21), exp.Monthly)
	assert.Equal(t, 75, exp.LotSize)
}

func TestUpstoxAvailableCapital(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"equity":{"available_margin":812345.5}}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	capital, err := c.AvailableCapital(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 812345.5, capital)
}

func TestUpstoxOpenPositionsSkipsFlat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[
			{"instrument_token":"NSE_FO|C24000","quantity":-50,"pnl":1200},
			{"instrument_token":"NSE_FO|P24000","quantity":0,"pnl":0},
			{"instrument_token":"NSE_FO|P23500","quantity":-50,"pnl":-300}
		]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	positions, err := c.OpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "NSE_FO|C24000", positions[0].InstrumentKey)
	assert.Equal(t, -50, positions[0].Quantity)
	assert.Equal(t, 1200.0, positions[0].PnL)
}

func TestUpstoxRequiredMargin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Instruments []struct {
				InstrumentKey   string `json:"instrument_key"`
				Quantity        int    `json:"quantity"`
				TransactionType string `json:"transaction_type"`
				Product         string `json:"product"`
			} `json:"instruments"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Instruments, 2)
		assert.Equal(t, "SELL", req.Instruments[0].TransactionType)
		assert.Equal(t, "D", req.Instruments[0].Product)
		fmt.Fprint(w, `{"data":{"required_margin":187500}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	legs := []Leg{
		{InstrumentKey: "NSE_FO|C24000", Quantity: 50, Side: "SELL"},
		{InstrumentKey: "NSE_FO|C25000", Quantity: 50, Side: "BUY"},
	}
	margin, err := c.RequiredMargin(context.Background(), legs)
	require.NoError(t, err)
	assert.Equal(t, 187500.0, margin)
}

func TestUpstoxPlaceOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "NSE_FO|C24000", req["instrument_token"])
		assert.Equal(t, "LIMIT", req["order_type"])
		fmt.Fprint(w, `{"data":{"order_id":"250825001"}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	id, err := c.PlaceOrder(context.Background(), Leg{
		InstrumentKey: "NSE_FO|C24000", Quantity: 50, Side: "SELL", LimitPrice: 145.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "250825001", id)
}

func TestUpstoxPlaceOrderEmptyID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"order_id":""}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.PlaceOrder(context.Background(), Leg{InstrumentKey: "NSE_FO|C24000", Quantity: 50, Side: "SELL"})
	assert.Error(t, err)
}

func TestUpstoxOrderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "250825001", r.URL.Query().Get("order_id"))
		fmt.Fprint(w, `{"data":{"order_status":"complete","average_price":144.2,"filled_quantity":50}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	st, err := c.OrderStatus(context.Background(), "250825001")
	require.NoError(t, err)
	assert.Equal(t, "complete", st.Status)
	assert.Equal(t, 144.2, st.AvgPrice)
	assert.Equal(t, 50, st.FilledQty)
}
