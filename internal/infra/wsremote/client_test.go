package wsremote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/osa030/guildplay/internal/app/remote"
)

// echoHandler replies with the type of every message it receives.
type echoHandler struct{}

func (echoHandler) Handle(ctx context.Context, data []byte, out remote.Sender) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	return out.Send(ctx, map[string]any{"type": "ack", "for": m["type"]})
}

// drain reads until the peer goes away.
func drain(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_RoundTrip(t *testing.T) {
	var auth atomic.Value
	got := make(chan map[string]any, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		if err := wsjson.Write(ctx, conn, map[string]any{"type": "initialize", "guildId": "1"}); err != nil {
			return
		}
		var reply map[string]any
		if err := wsjson.Read(ctx, conn, &reply); err != nil {
			return
		}
		got <- reply
		drain(ctx, conn)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(Config{URL: wsURL(srv), Token: "secret", ReconnectDelay: 10 * time.Millisecond}, echoHandler{})
	go c.Run(ctx)

	select {
	case reply := <-got:
		assert.Equal(t, "ack", reply["type"])
		assert.Equal(t, "initialize", reply["for"])
	case <-time.After(3 * time.Second):
		t.Fatal("no reply from client")
	}
	assert.Equal(t, "secret", auth.Load())
	assert.True(t, c.Connected())
}

func TestClient_Reconnects(t *testing.T) {
	var accepts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		if accepts.Add(1) == 1 {
			conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		drain(r.Context(), conn)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(Config{URL: wsURL(srv), ReconnectDelay: 10 * time.Millisecond}, echoHandler{})
	go c.Run(ctx)

	require.Eventually(t, func() bool { return accepts.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestClient_SendWithoutConnection(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:0"}, echoHandler{})
	err := c.Send(context.Background(), map[string]string{"type": "queue"})
	assert.ErrorIs(t, err, ErrNotConnected)
}
