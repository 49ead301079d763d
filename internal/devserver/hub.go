package devserver

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tttclient/internal/protocol"
)

type HubMsg interface{ isHubMsg() }

// AddTicket pools a presence for pairing. If a compatible opponent is
// already waiting, a match is created and both sides get a
// matchmaker_matched notification.
type AddTicket struct {
	P      protocol.Presence
	Outbox chan protocol.Envelope
	Reply  chan string
}

type RemoveTicket struct{ Ticket string }

type GetMatch struct {
	MatchID string
	Reply   chan *Match
}

type RemoveMatch struct{ MatchID string }

type ShutdownHub struct{}

func (AddTicket) isHubMsg()    {}
func (RemoveTicket) isHubMsg() {}
func (GetMatch) isHubMsg()     {}
func (RemoveMatch) isHubMsg()  {}
func (ShutdownHub) isHubMsg()  {}

type pooled struct {
	ticket string
	p      protocol.Presence
	outbox chan protocol.Envelope
}

// Hub pairs matchmaking tickets and tracks live matches.
type Hub struct {
	inbox   chan HubMsg
	pool    []pooled
	matches map[string]*Match
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.Logger
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		matches: make(map[string]*Match),
		ctx:     ctx,
		cancel:  cancel,
		log:     log.Named("hub"),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case AddTicket:
				msg.Reply <- h.addTicket(msg)

			case RemoveTicket:
				h.dropTicket(msg.Ticket)

			case GetMatch:
				msg.Reply <- h.matches[msg.MatchID] // may be nil

			case RemoveMatch:
				if mt := h.matches[msg.MatchID]; mt != nil {
					mt.Inbox() <- ShutdownMatch{}
					delete(h.matches, msg.MatchID)
				}

			case ShutdownHub:
				for id, mt := range h.matches {
					mt.Inbox() <- ShutdownMatch{}
					delete(h.matches, id)
				}
				h.pool = nil
				h.cancel()
			}
		}
	}
}

func (h *Hub) addTicket(msg AddTicket) string {
	// One ticket per user: a second add supersedes the first.
	h.dropUser(msg.P.UserID)

	ticket := uuid.NewString()
	if len(h.pool) == 0 {
		h.pool = append(h.pool, pooled{ticket: ticket, p: msg.P, outbox: msg.Outbox})
		return ticket
	}

	other := h.pool[0]
	h.pool = h.pool[1:]

	matchID := uuid.NewString()
	mt := NewMatch(h.ctx, matchID, h.log, func() {
		select {
		case h.inbox <- RemoveMatch{MatchID: matchID}:
		case <-h.ctx.Done():
		}
	})
	h.matches[matchID] = mt
	h.log.Info("matched", zap.String("match_id", matchID),
		zap.String("a", other.p.Username), zap.String("b", msg.P.Username))

	notify := func(out chan protocol.Envelope, ticket string) {
		select {
		case out <- protocol.Envelope{MatchmakerMatched: &protocol.MatchmakerMatched{MatchID: matchID, Ticket: ticket}}:
		default:
			h.log.Warn("dropping matched notification, outbox full")
		}
	}
	notify(other.outbox, other.ticket)
	notify(msg.Outbox, ticket)
	return ticket
}

func (h *Hub) dropTicket(ticket string) {
	for i, p := range h.pool {
		if p.ticket == ticket {
			h.pool = append(h.pool[:i], h.pool[i+1:]...)
			return
		}
	}
}

func (h *Hub) dropUser(userID string) {
	for i, p := range h.pool {
		if p.p.UserID == userID {
			h.pool = append(h.pool[:i], h.pool[i+1:]...)
			return
		}
	}
}
