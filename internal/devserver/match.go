package devserver

import (
	"context"

	"go.uber.org/zap"

	"tttclient/internal/game"
	"tttclient/internal/protocol"
)

type MatchMsg interface{ isMatchMsg() }

type JoinInfo struct {
	Match *protocol.Match
	Err   *protocol.Error
}

type Join struct {
	P      protocol.Presence
	Outbox chan protocol.Envelope
	Reply  chan JoinInfo
}

type Leave struct{ UserID string }

type Data struct {
	From protocol.Presence
	MD   protocol.MatchData
}

// GetMatchState reflects authority state without data races. Test-only.
type GetMatchState struct{ Reply chan game.State }

type ShutdownMatch struct{}

func (Join) isMatchMsg()          {}
func (Leave) isMatchMsg()         {}
func (Data) isMatchMsg()          {}
func (GetMatchState) isMatchMsg() {}
func (ShutdownMatch) isMatchMsg() {}

// Match is the authoritative game: it seats up to two players, enforces
// the rules the client only mirrors, and broadcasts every accepted
// transition.
type Match struct {
	id        string
	inbox     chan MatchMsg
	state     game.State
	presences map[string]protocol.Presence
	clients   map[string]chan protocol.Envelope
	onEmpty   func()
	ctx       context.Context
	cancel    context.CancelFunc
	log       *zap.Logger
}

func NewMatch(parent context.Context, id string, log *zap.Logger, onEmpty func()) *Match {
	ctx, cancel := context.WithCancel(parent)
	m := &Match{
		id:        id,
		inbox:     make(chan MatchMsg, 64),
		state:     game.NewState(),
		presences: make(map[string]protocol.Presence),
		clients:   make(map[string]chan protocol.Envelope),
		onEmpty:   onEmpty,
		ctx:       ctx,
		cancel:    cancel,
		log:       log.Named("match").With(zap.String("match_id", id)),
	}
	go m.loop()
	return m
}

func (m *Match) Inbox() chan<- MatchMsg { return m.inbox }

func (m *Match) loop() {
	for {
		select {
		case <-m.ctx.Done():
			m.shutdown()
			return

		case raw := <-m.inbox:
			switch msg := raw.(type) {
			case Join:
				msg.Reply <- m.join(msg)
			case Leave:
				m.leave(msg.UserID)
			case Data:
				m.data(msg)
			case GetMatchState:
				msg.Reply <- m.state.Clone()
			case ShutdownMatch:
				m.shutdown()
				return
			}
		}
	}
}

func (m *Match) join(msg Join) JoinInfo {
	if _, seated := m.state.PlayerByID(msg.P.UserID); seated {
		// Rejoin: re-attach the outbox and replay the current state.
		m.clients[msg.P.UserID] = msg.Outbox
		m.presences[msg.P.UserID] = msg.P
		m.sendState(msg.Outbox)
		return JoinInfo{Match: m.matchInfo()}
	}
	if len(m.state.Players) >= 2 {
		return JoinInfo{Err: &protocol.Error{Code: 4, Message: "match full"}}
	}

	symbol := game.MarkX
	if len(m.state.Players) == 1 {
		symbol = game.MarkO
	}
	player := game.Player{
		UserID:    msg.P.UserID,
		Username:  msg.P.Username,
		Symbol:    symbol,
		SessionID: msg.P.SessionID,
	}
	m.state = game.AddPlayer(m.state, player)
	m.clients[msg.P.UserID] = msg.Outbox
	m.presences[msg.P.UserID] = msg.P
	m.log.Info("player joined", zap.String("user", msg.P.Username), zap.Int("symbol", int(symbol)))

	if md, err := protocol.EncodePlayerJoined(m.id, player, len(m.state.Players)); err == nil {
		m.broadcast(protocol.Envelope{MatchData: md})
	}
	m.broadcast(protocol.Envelope{MatchPresenceEvent: &protocol.MatchPresenceEvent{
		MatchID: m.id,
		Joins:   []protocol.Presence{msg.P},
	}})

	// Both seats taken: the game is on, push the opening snapshot.
	if len(m.state.Players) == 2 {
		m.broadcastState()
	}
	return JoinInfo{Match: m.matchInfo()}
}

func (m *Match) leave(userID string) {
	p, attached := m.presences[userID]
	if !attached {
		return
	}
	delete(m.clients, userID)
	delete(m.presences, userID)

	if !m.state.GameOver {
		m.state = game.MarkOpponentLeft(m.state)
		if md, err := protocol.EncodePlayerLeft(m.id, userID); err == nil {
			m.broadcast(protocol.Envelope{MatchData: md})
		}
	}
	m.broadcast(protocol.Envelope{MatchPresenceEvent: &protocol.MatchPresenceEvent{
		MatchID: m.id,
		Leaves:  []protocol.Presence{p},
	}})

	if len(m.clients) == 0 && m.onEmpty != nil {
		m.onEmpty()
	}
}

func (m *Match) data(msg Data) {
	if msg.MD.OpCode != protocol.OpMakeMove {
		m.log.Warn("unexpected op code from client", zap.Int("op_code", int(msg.MD.OpCode)))
		return
	}
	move, err := protocol.DecodeMove(msg.MD.Data)
	if err != nil {
		m.log.Warn("dropping malformed move", zap.Error(err))
		return
	}
	player, seated := m.state.PlayerByID(msg.From.UserID)
	if !seated || len(m.state.Players) < 2 {
		return
	}

	next, err := game.ApplyMove(m.state, player.Symbol, move.BoardIndex())
	if err != nil {
		// The authority silently rejects; the client pre-validates.
		m.log.Debug("illegal move rejected", zap.Error(err), zap.Int("position", move.Position))
		return
	}
	m.state = next
	m.broadcastState()

	if m.state.GameOver {
		if md, err := protocol.EncodeGameOver(m.id, m.state.Winner, m.state.Reason); err == nil {
			m.broadcast(protocol.Envelope{MatchData: md})
		}
	}
}

func (m *Match) matchInfo() *protocol.Match {
	info := &protocol.Match{MatchID: m.id}
	for _, p := range m.presences {
		info.Presences = append(info.Presences, p)
	}
	return info
}

func (m *Match) sendState(out chan protocol.Envelope) {
	md, err := protocol.EncodeGameState(m.id, m.state)
	if err != nil {
		return
	}
	select {
	case out <- protocol.Envelope{MatchData: md}:
	default:
	}
}

func (m *Match) broadcastState() {
	md, err := protocol.EncodeGameState(m.id, m.state)
	if err != nil {
		return
	}
	m.broadcast(protocol.Envelope{MatchData: md})
}

func (m *Match) broadcast(env protocol.Envelope) {
	for id, ch := range m.clients {
		select {
		case ch <- env:
			// ok
		default:
			// Slow client: drop it rather than stall the match.
			delete(m.clients, id)
		}
	}
}

func (m *Match) shutdown() {
	// Outboxes belong to the socket connections, so they are dropped,
	// not closed.
	clear(m.clients)
	clear(m.presences)
	m.cancel()
}
