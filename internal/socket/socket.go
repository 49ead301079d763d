// Package socket owns the duplex realtime channel. One Conn binds to one
// session token at a time; a disconnected Conn is never used to send.
// Reconnection is not attempted here: the authoritative match is already
// abandoned server-side after a presence timeout, so recovery is a fresh
// user-initiated authentication.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"tttclient/internal/protocol"
)

var ErrNotConnected = errors.New("socket not connected")
var ErrConnection = errors.New("connection failed")

const writeTimeout = 3 * time.Second

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// Conn is the channel manager. Inbound envelopes carrying a cid resolve
// pending calls; everything else goes to the deliver callback. The
// disconnect observer fires at most once per dial, and not on an explicit
// Close.
type Conn struct {
	wsURL        string
	deliver      func(protocol.Envelope)
	onDisconnect func(error)
	log          *zap.Logger

	mu      sync.Mutex
	ws      *websocket.Conn
	state   State
	closing bool
	nextCID uint64
	pending map[string]chan *protocol.Envelope
}

func NewConn(wsURL string, deliver func(protocol.Envelope), onDisconnect func(error), log *zap.Logger) *Conn {
	return &Conn{
		wsURL:        wsURL,
		deliver:      deliver,
		onDisconnect: onDisconnect,
		log:          log.Named("socket"),
		pending:      make(map[string]chan *protocol.Envelope),
	}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dial opens the channel bound to the session token, blocking until the
// handshake completes. On failure the Conn stays disconnected.
func (c *Conn) Dial(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("%w: already connected", ErrConnection)
	}
	c.state = StateConnecting
	c.closing = false
	c.mu.Unlock()

	ws, _, err := websocket.Dial(ctx, c.wsURL+"?token="+url.QueryEscape(token), nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.state = StateConnected
	c.mu.Unlock()
	go c.readPump(ws)
	return nil
}

// Close tears the channel down without firing the disconnect observer;
// the caller is already unwinding its own state.
func (c *Conn) Close() {
	c.mu.Lock()
	ws := c.ws
	c.closing = true
	c.ws = nil
	c.state = StateDisconnected
	c.failPendingLocked()
	c.mu.Unlock()
	if ws != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "bye")
	}
}

// Send transmits a fire-and-forget envelope with a bounded write timeout.
func (c *Conn) Send(ctx context.Context, env protocol.Envelope) error {
	c.mu.Lock()
	ws := c.ws
	ok := c.state == StateConnected
	c.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, payload)
}

// Call transmits an envelope tagged with a fresh cid and blocks until the
// correlated response arrives. A server error envelope is returned as the
// *protocol.Error it carries.
func (c *Conn) Call(ctx context.Context, env protocol.Envelope) (*protocol.Envelope, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.nextCID++
	cid := strconv.FormatUint(c.nextCID, 10)
	reply := make(chan *protocol.Envelope, 1)
	c.pending[cid] = reply
	c.mu.Unlock()

	env.CID = cid
	if err := c.Send(ctx, env); err != nil {
		c.mu.Lock()
		delete(c.pending, cid)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, cid)
		c.mu.Unlock()
		return nil, ctx.Err()
	case resp, ok := <-reply:
		if !ok || resp == nil {
			return nil, ErrNotConnected
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp, nil
	}
}

func (c *Conn) readPump(ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(context.Background())
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				err = nil
			}
			c.handleDisconnect(err)
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// One malformed frame must not halt the pump.
			c.log.Warn("dropping malformed envelope", zap.Error(err))
			continue
		}

		if env.CID != "" {
			c.resolve(env)
			continue
		}
		c.deliver(env)
	}
}

func (c *Conn) resolve(env protocol.Envelope) {
	c.mu.Lock()
	reply, ok := c.pending[env.CID]
	delete(c.pending, env.CID)
	c.mu.Unlock()
	if !ok {
		c.log.Warn("response for unknown cid", zap.String("cid", env.CID))
		return
	}
	reply <- &env
}

func (c *Conn) handleDisconnect(err error) {
	c.mu.Lock()
	if c.closing || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.state = StateDisconnected
	c.failPendingLocked()
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("socket error", zap.Error(err))
	} else {
		c.log.Info("socket closed")
	}
	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

func (c *Conn) failPendingLocked() {
	for cid, reply := range c.pending {
		close(reply)
		delete(c.pending, cid)
	}
}
