// Package client is the root controller: it owns the matchmaking state
// machine and the canonical local mirror of the authoritative game state.
// All mutation happens on a single event loop consuming discrete messages
// (inbound envelopes, presence changes, user actions), so no two handlers
// ever race over the same match. Blocking network calls run off the loop
// and post their results back as messages.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tttclient/internal/game"
	"tttclient/internal/protocol"
	"tttclient/internal/session"
	"tttclient/internal/socket"
	"tttclient/internal/state"
)

var ErrNoMatch = errors.New("no active match")

const callTimeout = 10 * time.Second

// Transport is the slice of the socket the controller uses. Tests swap in
// a recording fake to assert that invalid moves transmit nothing.
type Transport interface {
	State() socket.State
	Dial(ctx context.Context, token string) error
	Close()
	Send(ctx context.Context, env protocol.Envelope) error
	Call(ctx context.Context, env protocol.Envelope) (*protocol.Envelope, error)
}

type msg interface{ isClientMsg() }

type findMatch struct{ reply chan error }
type submitMove struct {
	pos   int
	reply chan error
}
type leaveMatch struct{ reply chan error }
type reset struct{}
type inboundEnv struct{ env protocol.Envelope }
type socketDown struct{ err error }
type ticketResult struct {
	seq    uint64
	ticket string
	err    error
}
type joinResult struct {
	seq     uint64
	matchID string
	err     error
}
type getView struct{ reply chan View }

func (findMatch) isClientMsg()    {}
func (submitMove) isClientMsg()   {}
func (leaveMatch) isClientMsg()   {}
func (reset) isClientMsg()        {}
func (inboundEnv) isClientMsg()   {}
func (socketDown) isClientMsg()   {}
func (ticketResult) isClientMsg() {}
func (joinResult) isClientMsg()   {}
func (getView) isClientMsg()      {}

// View reflects loop-owned state without data races. Test-only.
type View struct {
	Searching bool
	Ticket    string
	MatchID   string
	Game      *game.State
}

type Client struct {
	sessions *session.Manager
	conn     Transport
	surface  *state.Surface
	log      *zap.Logger

	inbox  chan msg
	ctx    context.Context
	cancel context.CancelFunc

	// Loop-owned; never touched outside loop().
	searching bool
	ticket    string
	matchID   string
	gameState *game.State
	seq       uint64
}

// New wires a controller to a live websocket transport.
func New(parent context.Context, wsURL string, sessions *session.Manager, surface *state.Surface, log *zap.Logger) *Client {
	c := newWith(parent, nil, sessions, surface, log)
	c.conn = socket.NewConn(wsURL, c.deliver, c.onSocketDown, log)
	return c
}

func newWith(parent context.Context, conn Transport, sessions *session.Manager, surface *state.Surface, log *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(parent)
	c := &Client{
		sessions: sessions,
		conn:     conn,
		surface:  surface,
		log:      log.Named("client"),
		inbox:    make(chan msg, 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	go c.loop()
	return c
}

func (c *Client) Surface() *state.Surface { return c.surface }

// Authenticate validates the nickname and exchanges it for a persisted
// session. Validation failures surface synchronously.
func (c *Client) Authenticate(ctx context.Context, nickname string) (session.Session, error) {
	return c.sessions.Authenticate(ctx, nickname)
}

// Restore reconstructs a persisted session without re-authenticating.
func (c *Client) Restore() (session.Session, error) {
	return c.sessions.Restore()
}

// Connect opens the realtime channel bound to the current session,
// blocking until the handshake completes.
func (c *Client) Connect(ctx context.Context) error {
	sess, ok := c.sessions.Current()
	if !ok {
		return fmt.Errorf("%w: no session", socket.ErrNotConnected)
	}
	return c.conn.Dial(ctx, sess.Token)
}

// Disconnect closes the channel and clears the session, in memory and on
// disk, regardless of channel state.
func (c *Client) Disconnect() {
	c.conn.Close()
	c.sessions.Disconnect()
	c.post(reset{})
}

// Close stops the event loop. The client is unusable afterwards.
func (c *Client) Close() {
	c.cancel()
	if c.conn != nil {
		c.conn.Close()
	}
}

// FindMatch starts a search for any available opponent. A search already
// in flight is cancelled and replaced. Preconditions (live channel and
// session) fail synchronously; matchmaker rejections arrive asynchronously
// and return the coordinator to idle.
func (c *Client) FindMatch() error {
	reply := make(chan error, 1)
	if !c.post(findMatch{reply: reply}) {
		return socket.ErrNotConnected
	}
	return <-reply
}

// SubmitMove optimistically validates a move for the local player and
// transmits it only if every check passes. The board is never mutated
// here; it changes only when an authoritative snapshot arrives.
func (c *Client) SubmitMove(pos int) error {
	reply := make(chan error, 1)
	if !c.post(submitMove{pos: pos, reply: reply}) {
		return socket.ErrNotConnected
	}
	return <-reply
}

// LeaveMatch cancels a pending search and/or leaves the bound match. The
// local teardown is unconditional: the intent to exit is authoritative
// for the surface even if the remote call fails (which is logged, not
// surfaced).
func (c *Client) LeaveMatch() error {
	reply := make(chan error, 1)
	if !c.post(leaveMatch{reply: reply}) {
		return socket.ErrNotConnected
	}
	return <-reply
}

func (c *Client) post(m msg) bool {
	select {
	case c.inbox <- m:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// deliver is the socket's inbound callback; it runs on the read pump.
func (c *Client) deliver(env protocol.Envelope) {
	c.post(inboundEnv{env: env})
}

func (c *Client) onSocketDown(err error) {
	c.post(socketDown{err: err})
}

func (c *Client) loop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case m := <-c.inbox:
			switch msg := m.(type) {
			case findMatch:
				msg.reply <- c.handleFindMatch()
			case submitMove:
				msg.reply <- c.handleSubmitMove(msg.pos)
			case leaveMatch:
				c.handleLeaveMatch()
				msg.reply <- nil
			case reset:
				c.seq++
				c.searching = false
				c.ticket = ""
				c.matchID = ""
				c.gameState = nil
				c.publish()
			case inboundEnv:
				c.handleEnvelope(msg.env)
			case socketDown:
				c.handleSocketDown()
			case ticketResult:
				c.handleTicketResult(msg)
			case joinResult:
				c.handleJoinResult(msg)
			case getView:
				v := View{Searching: c.searching, Ticket: c.ticket, MatchID: c.matchID}
				if c.gameState != nil {
					g := c.gameState.Clone()
					v.Game = &g
				}
				msg.reply <- v
			}
		}
	}
}

func (c *Client) publish() {
	c.surface.Publish(c.gameState, c.searching)
}

func (c *Client) handleFindMatch() error {
	if c.conn.State() != socket.StateConnected {
		return socket.ErrNotConnected
	}
	if _, ok := c.sessions.Current(); !ok {
		return fmt.Errorf("%w: no session", socket.ErrNotConnected)
	}

	// Cancel-and-replace: a fresh search supersedes a pending ticket.
	if c.ticket != "" {
		c.removeTicket(c.ticket)
	}

	c.seq++
	seq := c.seq
	c.searching = true
	c.ticket = ""
	c.matchID = ""
	c.gameState = nil // a fresh search invalidates stale game data
	c.publish()

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, callTimeout)
		defer cancel()
		resp, err := c.conn.Call(ctx, protocol.Envelope{
			MatchmakerAdd: &protocol.MatchmakerAdd{MinCount: 2, MaxCount: 2, Query: "*"},
		})
		res := ticketResult{seq: seq, err: err}
		if err == nil {
			if resp.MatchmakerTicket == nil {
				res.err = fmt.Errorf("%w: matchmaker add returned no ticket", protocol.ErrMalformedPayload)
			} else {
				res.ticket = resp.MatchmakerTicket.Ticket
			}
		}
		c.post(res)
	}()
	return nil
}

func (c *Client) handleTicketResult(res ticketResult) {
	if res.seq != c.seq || !c.searching {
		return // superseded search
	}
	if res.err != nil {
		c.log.Warn("matchmaker add failed", zap.Error(res.err))
		c.searching = false
		c.publish()
		return
	}
	c.ticket = res.ticket
	c.log.Info("matchmaking ticket issued", zap.String("ticket", res.ticket))
}

func (c *Client) handleSubmitMove(pos int) error {
	if c.matchID == "" || c.gameState == nil {
		return ErrNoMatch
	}
	sess, ok := c.sessions.Current()
	if !ok {
		return fmt.Errorf("%w: no session", socket.ErrNotConnected)
	}
	me, seated := c.gameState.PlayerByID(sess.UserID)
	if !seated {
		return game.ErrWrongTurn
	}
	if err := game.CheckMove(*c.gameState, me.Symbol, pos); err != nil {
		return err
	}

	md, err := protocol.EncodeMove(c.matchID, pos)
	if err != nil {
		return err
	}
	if err := c.conn.Send(c.ctx, protocol.Envelope{MatchData: md}); err != nil {
		return err
	}
	c.log.Debug("move sent", zap.Int("position", pos))
	return nil
}

func (c *Client) handleLeaveMatch() {
	c.seq++
	if c.ticket != "" {
		c.removeTicket(c.ticket)
	}
	if c.matchID != "" {
		matchID := c.matchID
		go func() {
			ctx, cancel := context.WithTimeout(c.ctx, callTimeout)
			defer cancel()
			if _, err := c.conn.Call(ctx, protocol.Envelope{
				MatchLeave: &protocol.MatchLeave{MatchID: matchID},
			}); err != nil {
				c.log.Warn("match leave failed", zap.Error(err))
			}
		}()
	}
	c.searching = false
	c.ticket = ""
	c.matchID = ""
	c.gameState = nil
	c.publish()
}

func (c *Client) removeTicket(ticket string) {
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, callTimeout)
		defer cancel()
		if _, err := c.conn.Call(ctx, protocol.Envelope{
			MatchmakerRemove: &protocol.MatchmakerRemove{Ticket: ticket},
		}); err != nil {
			c.log.Warn("ticket cancel failed", zap.Error(err))
		}
	}()
}

func (c *Client) handleSocketDown() {
	// Without an explicit end-of-game message a disconnect is
	// indistinguishable from the opponent leaving.
	c.seq++
	c.searching = false
	c.ticket = ""
	c.matchID = ""
	if c.gameState != nil {
		next := game.MarkOpponentLeft(*c.gameState)
		c.gameState = &next
	}
	c.publish()
}

func (c *Client) handleEnvelope(env protocol.Envelope) {
	switch {
	case env.MatchmakerMatched != nil:
		c.handleMatched(*env.MatchmakerMatched)
	case env.MatchData != nil:
		c.handleMatchData(*env.MatchData)
	case env.MatchPresenceEvent != nil:
		c.handlePresence(*env.MatchPresenceEvent)
	default:
		c.log.Debug("unhandled envelope")
	}
}

func (c *Client) handleMatched(m protocol.MatchmakerMatched) {
	if !c.searching {
		return // one-shot: search concluded or cancelled
	}
	if c.ticket != "" && m.Ticket != "" && m.Ticket != c.ticket {
		c.log.Warn("matched notification for stale ticket", zap.String("ticket", m.Ticket))
		return
	}
	c.ticket = ""
	seq := c.seq
	matchID := m.MatchID
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, callTimeout)
		defer cancel()
		_, err := c.conn.Call(ctx, protocol.Envelope{
			MatchJoin: &protocol.MatchJoin{MatchID: matchID},
		})
		c.post(joinResult{seq: seq, matchID: matchID, err: err})
	}()
}

func (c *Client) handleJoinResult(res joinResult) {
	if res.seq != c.seq {
		return // user left or restarted the search while joining
	}
	c.searching = false
	if res.err != nil {
		c.log.Warn("match join failed", zap.Error(res.err))
		c.publish()
		return
	}
	c.matchID = res.matchID
	seeded := game.NewState()
	c.gameState = &seeded
	c.log.Info("joined match", zap.String("match_id", res.matchID))
	c.publish()
}

func (c *Client) handleMatchData(md protocol.MatchData) {
	if md.MatchID != c.matchID || c.matchID == "" {
		return // late arrival for an unbound match
	}
	ev, err := protocol.DecodeMatchData(md)
	if err != nil {
		// Contained: one bad message never halts the stream.
		if errors.Is(err, protocol.ErrUnknownOpCode) {
			c.log.Warn("unrecognized op code", zap.Int("op_code", int(md.OpCode)))
		} else {
			c.log.Warn("dropping malformed match data", zap.Error(err))
		}
		return
	}

	switch ev := ev.(type) {
	case protocol.GameStateEvent:
		// Full authoritative overwrite; also concludes matchmaking.
		s := ev.State
		c.gameState = &s
		c.searching = false
		c.publish()
	case protocol.GameOverEvent:
		if c.gameState == nil {
			return
		}
		next := game.ApplyGameOver(*c.gameState, ev.Winner, ev.Reason)
		c.gameState = &next
		c.publish()
	case protocol.PlayerJoinedEvent:
		if c.gameState == nil {
			return
		}
		next := game.AddPlayer(*c.gameState, ev.Player)
		if len(next.Players) == len(c.gameState.Players) {
			return // duplicate delivery
		}
		c.gameState = &next
		c.publish()
	case protocol.PlayerLeftEvent:
		c.markOpponentLeft()
	}
}

func (c *Client) handlePresence(pe protocol.MatchPresenceEvent) {
	if pe.MatchID != c.matchID || c.matchID == "" {
		return
	}
	// Redundant with PLAYER_LEFT on purpose: delivery of either one is
	// enough to end the match locally.
	if len(pe.Leaves) > 0 {
		c.markOpponentLeft()
	}
}

func (c *Client) markOpponentLeft() {
	if c.gameState == nil || c.gameState.GameOver {
		return
	}
	next := game.MarkOpponentLeft(*c.gameState)
	c.gameState = &next
	c.publish()
}
