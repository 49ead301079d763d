// Package devserver is a local stand-in for the remote game authority:
// device authentication issuing signed session tokens, a matchmaker pool,
// and authoritative tic-tac-toe matches, all speaking the same wire
// protocol the client syncs against.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tttclient/internal/protocol"
)

const (
	sessionTTL   = time.Hour
	refreshTTL   = 24 * time.Hour
	writeTimeout = 3 * time.Second
)

type Server struct {
	hub       *Hub
	serverKey string
	jwtSecret []byte
	log       *zap.Logger
}

func New(parent context.Context, serverKey string, jwtSecret []byte, log *zap.Logger) *Server {
	return &Server{
		hub:       NewHub(parent, log),
		serverKey: serverKey,
		jwtSecret: jwtSecret,
		log:       log.Named("devserver"),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/v2/account/authenticate/device", s.authenticateDevice)
	r.Get("/ws", s.serveSocket)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

type tokenClaims struct {
	jwt.RegisteredClaims
	UserID   string `json:"uid"`
	Username string `json:"usn"`
}

func (s *Server) signToken(userID, username string, ttl time.Duration) (string, error) {
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID:   userID,
		Username: username,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func (s *Server) authenticateDevice(w http.ResponseWriter, r *http.Request) {
	key, _, ok := r.BasicAuth()
	if !ok || key != s.serverKey {
		http.Error(w, "invalid server key", http.StatusUnauthorized)
		return
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		http.Error(w, "missing device id", http.StatusBadRequest)
		return
	}
	username := r.URL.Query().Get("username")

	// Same device id, same account.
	userID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(body.ID)).String()
	token, err := s.signToken(userID, username, sessionTTL)
	if err != nil {
		http.Error(w, "token signing failed", http.StatusInternalServerError)
		return
	}
	refresh, err := s.signToken(userID, username, refreshTTL)
	if err != nil {
		http.Error(w, "token signing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refresh_token"`
	}{Token: token, RefreshToken: refresh})
}

func (s *Server) verifyToken(raw string) (*tokenClaims, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	return &claims, nil
}

func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.verifyToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	presence := protocol.Presence{
		UserID:    claims.UserID,
		SessionID: uuid.NewString(),
		Username:  claims.Username,
	}
	outbox := make(chan protocol.Envelope, 16)
	log := s.log.With(zap.String("user", presence.Username))
	log.Info("socket connected")

	writeCtx, writeCancel := context.WithCancel(r.Context())
	defer writeCancel()
	go func() {
		for {
			select {
			case <-writeCtx.Done():
				return
			case env := <-outbox:
				payload, err := json.Marshal(env)
				if err != nil {
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}
	}()

	// Connection-local bindings, torn down on exit.
	var ticket, matchID string
	defer func() {
		if ticket != "" {
			s.hub.Inbox() <- RemoveTicket{Ticket: ticket}
		}
		if matchID != "" {
			if mt := s.getMatch(matchID); mt != nil {
				mt.Inbox() <- Leave{UserID: presence.UserID}
			}
		}
		log.Info("socket closed")
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		switch {
		case env.MatchmakerAdd != nil:
			reply := make(chan string, 1)
			s.hub.Inbox() <- AddTicket{P: presence, Outbox: outbox, Reply: reply}
			ticket = <-reply
			outbox <- protocol.Envelope{CID: env.CID, MatchmakerTicket: &protocol.MatchmakerTicket{Ticket: ticket}}

		case env.MatchmakerRemove != nil:
			s.hub.Inbox() <- RemoveTicket{Ticket: env.MatchmakerRemove.Ticket}
			if env.MatchmakerRemove.Ticket == ticket {
				ticket = ""
			}
			outbox <- protocol.Envelope{CID: env.CID}

		case env.MatchJoin != nil:
			mt := s.getMatch(env.MatchJoin.MatchID)
			if mt == nil {
				outbox <- protocol.Envelope{CID: env.CID, Error: &protocol.Error{Code: 3, Message: "match not found"}}
				continue
			}
			reply := make(chan JoinInfo, 1)
			mt.Inbox() <- Join{P: presence, Outbox: outbox, Reply: reply}
			info := <-reply
			if info.Err != nil {
				outbox <- protocol.Envelope{CID: env.CID, Error: info.Err}
				continue
			}
			ticket = ""
			matchID = env.MatchJoin.MatchID
			outbox <- protocol.Envelope{CID: env.CID, Match: info.Match}

		case env.MatchLeave != nil:
			if mt := s.getMatch(env.MatchLeave.MatchID); mt != nil {
				mt.Inbox() <- Leave{UserID: presence.UserID}
			}
			if env.MatchLeave.MatchID == matchID {
				matchID = ""
			}
			outbox <- protocol.Envelope{CID: env.CID}

		case env.MatchData != nil:
			if mt := s.getMatch(env.MatchData.MatchID); mt != nil {
				mt.Inbox() <- Data{From: presence, MD: *env.MatchData}
			}

		default:
			log.Warn("unhandled frame")
		}
	}
}

func (s *Server) getMatch(id string) *Match {
	reply := make(chan *Match, 1)
	s.hub.Inbox() <- GetMatch{MatchID: id, Reply: reply}
	return <-reply
}
