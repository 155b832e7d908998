package gateway

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// QuoteHandler receives live last-traded-price ticks.
type QuoteHandler func(instrumentKey string, ltp float64)

// QuoteStream is a minimal websocket LTP feed: connect and read; the handler
// owns interpretation. The evaluation loop treats it as a freshness hint for
// spot/vix levels and falls back to REST when the stream is quiet.
type QuoteStream struct {
	Endpoint string
	Token    string
	Dialer   *websocket.Dialer

	keys         []string
	onConnect    func()
	onDisconnect func(error)
}

// NewQuoteStream builds a stream against the given websocket endpoint.
func NewQuoteStream(endpoint, token string) *QuoteStream {
	return &QuoteStream{
		Endpoint: endpoint,
		Token:    token,
		Dialer:   websocket.DefaultDialer,
	}
}

// Subscribe adds an instrument to the tick subscription.
func (s *QuoteStream) Subscribe(instrumentKey string) error {
	if instrumentKey == "" {
		return fmt.Errorf("instrument key required")
	}
	s.keys = append(s.keys, instrumentKey)
	return nil
}

// OnConnect registers a connect hook.
func (s *QuoteStream) OnConnect(fn func()) { s.onConnect = fn }

// OnDisconnect registers a disconnect hook.
func (s *QuoteStream) OnDisconnect(fn func(error)) { s.onDisconnect = fn }

type tickMessage struct {
	InstrumentKey string  `json:"instrument_key"`
	LTP           float64 `json:"ltp"`
}

// Run connects and pumps ticks into the handler until the connection drops.
// The caller decides whether to reconnect.
func (s *QuoteStream) Run(handler QuoteHandler) error {
	if len(s.keys) == 0 {
		return fmt.Errorf("no instruments subscribed")
	}
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("instrument_key", strings.Join(s.keys, ","))
	u.RawQuery = q.Encode()

	headers := map[string][]string{}
	if s.Token != "" {
		headers["Authorization"] = []string{"Bearer " + s.Token}
	}
	conn, _, err := s.Dialer.Dial(u.String(), headers)
	if err != nil {
		if s.onDisconnect != nil {
			s.onDisconnect(err)
		}
		return err
	}
	defer conn.Close()
	if s.onConnect != nil {
		s.onConnect()
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.onDisconnect != nil {
				s.onDisconnect(err)
			}
			return err
		}
		var tick tickMessage
		if err := json.Unmarshal(message, &tick); err != nil {
			continue
		}
		if handler != nil && tick.InstrumentKey != "" && tick.LTP > 0 {
			handler(tick.InstrumentKey, tick.LTP)
		}
	}
}
