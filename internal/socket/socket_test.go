package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tttclient/internal/protocol"
)

// newWSServer runs an accept loop with a per-connection handler. A nil
// handler just holds the socket open.
func newWSServer(t *testing.T, handle func(ctx context.Context, ws *websocket.Conn)) (string, chan string) {
	t.Helper()
	tokens := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens <- r.URL.Query().Get("token")
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		if handle != nil {
			handle(r.Context(), ws)
			return
		}
		holdOpen(r.Context(), ws)
	}))
	t.Cleanup(srv.Close)
	return strings.Replace(srv.URL, "http", "ws", 1), tokens
}

func newTestConn(t *testing.T, wsURL string) (*Conn, chan protocol.Envelope, chan error) {
	t.Helper()
	delivered := make(chan protocol.Envelope, 16)
	down := make(chan error, 4)
	c := NewConn(wsURL,
		func(env protocol.Envelope) { delivered <- env },
		func(err error) { down <- err },
		zap.NewNop())
	t.Cleanup(c.Close)
	return c, delivered, down
}

// holdOpen keeps the peer alive until the client hangs up.
func holdOpen(ctx context.Context, ws *websocket.Conn) {
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			return
		}
	}
}

// answerTicket replies to every call with a canned matchmaker ticket,
// echoing the cid so the client can correlate.
func answerTicket(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		resp := protocol.Envelope{
			CID:              env.CID,
			MatchmakerTicket: &protocol.MatchmakerTicket{Ticket: "t1"},
		}
		out, _ := json.Marshal(resp)
		if err := ws.Write(ctx, websocket.MessageText, out); err != nil {
			return
		}
	}
}

func TestDial_CarriesSessionToken(t *testing.T) {
	url, tokens := newWSServer(t, nil)
	c, _, _ := newTestConn(t, url)

	require.NoError(t, c.Dial(context.Background(), "tok-123"))
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, "tok-123", <-tokens)

	// A second dial on a live channel is refused.
	assert.ErrorIs(t, c.Dial(context.Background(), "tok-123"), ErrConnection)
}

func TestDial_FailureLeavesDisconnected(t *testing.T) {
	c, _, _ := newTestConn(t, "ws://127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, c.Dial(ctx, "tok"), ErrConnection)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestSendAndCall_RequireConnection(t *testing.T) {
	c, _, _ := newTestConn(t, "ws://127.0.0.1:1")
	assert.ErrorIs(t, c.Send(context.Background(), protocol.Envelope{}), ErrNotConnected)
	_, err := c.Call(context.Background(), protocol.Envelope{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCall_CorrelatedResponse(t *testing.T) {
	url, _ := newWSServer(t, answerTicket)
	c, delivered, _ := newTestConn(t, url)
	require.NoError(t, c.Dial(context.Background(), "tok"))

	resp, err := c.Call(context.Background(), protocol.Envelope{
		MatchmakerAdd: &protocol.MatchmakerAdd{MinCount: 2, MaxCount: 2, Query: "*"},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.MatchmakerTicket)
	assert.Equal(t, "t1", resp.MatchmakerTicket.Ticket)

	// The correlated response is consumed by the call, never delivered as
	// an async event.
	select {
	case env := <-delivered:
		t.Fatalf("call response leaked to deliver: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCall_ServerErrorBecomesError(t *testing.T) {
	url, _ := newWSServer(t, func(ctx context.Context, ws *websocket.Conn) {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		var env protocol.Envelope
		_ = json.Unmarshal(data, &env)
		out, _ := json.Marshal(protocol.Envelope{
			CID:   env.CID,
			Error: &protocol.Error{Code: 4, Message: "match full"},
		})
		_ = ws.Write(ctx, websocket.MessageText, out)
		holdOpen(ctx, ws)
	})
	c, _, _ := newTestConn(t, url)
	require.NoError(t, c.Dial(context.Background(), "tok"))

	_, err := c.Call(context.Background(), protocol.Envelope{
		MatchJoin: &protocol.MatchJoin{MatchID: "m1"},
	})
	var remote *protocol.Error
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, 4, remote.Code)
}

func TestReadPump_DeliversAsyncAndSurvivesGarbage(t *testing.T) {
	url, _ := newWSServer(t, func(ctx context.Context, ws *websocket.Conn) {
		_ = ws.Write(ctx, websocket.MessageText, []byte("{not json"))
		out, _ := json.Marshal(protocol.Envelope{
			MatchmakerMatched: &protocol.MatchmakerMatched{MatchID: "m1", Ticket: "t1"},
		})
		_ = ws.Write(ctx, websocket.MessageText, out)
		holdOpen(ctx, ws)
	})
	c, delivered, _ := newTestConn(t, url)
	require.NoError(t, c.Dial(context.Background(), "tok"))

	select {
	case env := <-delivered:
		require.NotNil(t, env.MatchmakerMatched)
		assert.Equal(t, "m1", env.MatchmakerMatched.MatchID)
	case <-time.After(2 * time.Second):
		t.Fatal("envelope after garbage frame never delivered")
	}
}

func TestPeerDrop_FailsPendingAndNotifiesOnce(t *testing.T) {
	url, _ := newWSServer(t, func(ctx context.Context, ws *websocket.Conn) {
		_, _, _ = ws.Read(ctx) // swallow the call, then drop the peer
		_ = ws.Close(websocket.StatusInternalError, "boom")
	})
	c, _, down := newTestConn(t, url)
	require.NoError(t, c.Dial(context.Background(), "tok"))

	_, err := c.Call(context.Background(), protocol.Envelope{
		MatchJoin: &protocol.MatchJoin{MatchID: "m1"},
	})
	assert.ErrorIs(t, err, ErrNotConnected)

	select {
	case err := <-down:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect observer never fired")
	}
	assert.Equal(t, StateDisconnected, c.State())

	select {
	case <-down:
		t.Fatal("disconnect observer fired twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPeerGoingAway_NotifiesWithoutError(t *testing.T) {
	url, _ := newWSServer(t, func(ctx context.Context, ws *websocket.Conn) {
		_ = ws.Close(websocket.StatusGoingAway, "restarting")
	})
	c, _, down := newTestConn(t, url)
	require.NoError(t, c.Dial(context.Background(), "tok"))

	select {
	case err := <-down:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect observer never fired")
	}
}

func TestClose_SuppressesObserver(t *testing.T) {
	url, _ := newWSServer(t, nil)
	c, _, down := newTestConn(t, url)
	require.NoError(t, c.Dial(context.Background(), "tok"))

	c.Close()
	assert.Equal(t, StateDisconnected, c.State())
	select {
	case err := <-down:
		t.Fatalf("observer fired on explicit close: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestErrorIsUnwrappable(t *testing.T) {
	err := error(&protocol.Error{Code: 2, Message: "nope"})
	var remote *protocol.Error
	assert.True(t, errors.As(err, &remote))
	assert.Contains(t, err.Error(), "nope")
}
