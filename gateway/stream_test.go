package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteStreamRequiresSubscription(t *testing.T) {
	s := NewQuoteStream("ws://localhost:0", "")
	assert.Error(t, s.Run(nil))
}

func TestQuoteStreamSubscribeEmptyKey(t *testing.T) {
	s := NewQuoteStream("ws://localhost:0", "")
	assert.Error(t, s.Subscribe(""))
}

func TestQuoteStreamDeliversTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Contains(t, r.URL.Query().Get("instrument_key"), "NSE_INDEX|Nifty 50")

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		msgs := []string{
			`{"instrument_key":"NSE_INDEX|Nifty 50","ltp":24310.5}`,
			`not json`,
			`{"instrument_key":"NSE_INDEX|India VIX","ltp":15.1}`,
			`{"instrument_key":"NSE_INDEX|Nifty 50","ltp":0}`,
		}
		for _, m := range msgs {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(m)))
		}
		// Closing ends the client's Run loop.
	}))
	defer srv.Close()

	s := NewQuoteStream("ws"+strings.TrimPrefix(srv.URL, "http"), "tok")
	require.NoError(t, s.Subscribe("NSE_INDEX|Nifty 50"))
	require.NoError(t, s.Subscribe("NSE_INDEX|India VIX"))

	connected := false
	s.OnConnect(func() { connected = true })
	var disconnectErr error
	s.OnDisconnect(func(err error) { disconnectErr = err })

	type tick struct {
		key string
		ltp float64
	}
	var got []tick

	done := make(chan error, 1)
	go func() {
		done <- s.Run(func(key string, ltp float64) {
			got = append(got, tick{key, ltp})
		})
	}()

	select {
	case err := <-done:
		assert.Error(t, err, "run ends when the server closes")
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not terminate")
	}

	assert.True(t, connected)
	assert.Error(t, disconnectErr)
	require.Len(t, got, 2)
	assert.Equal(t, tick{"NSE_INDEX|Nifty 50", 24310.5}, got[0])
	assert.Equal(t, tick{"NSE_INDEX|India VIX", 15.1}, got[1])
}

func TestQuoteStreamDialFailure(t *testing.T) {
	s := NewQuoteStream("ws://127.0.0.1:1", "")
	require.NoError(t, s.Subscribe("k"))
	var disconnectErr error
	s.OnDisconnect(func(err error) { disconnectErr = err })
	assert.Error(t, s.Run(nil))
	assert.Error(t, disconnectErr)
}
