// Package protocol defines the wire envelope and op-code payloads spoken
// over the realtime channel. The envelope is a one-of: exactly one message
// field is set per frame, with an optional cid correlating a request to
// its response.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedPayload = errors.New("malformed payload")
var ErrUnknownOpCode = errors.New("unknown op code")

type OpCode int

const (
	OpMakeMove     OpCode = 1
	OpGameState    OpCode = 2
	OpGameOver     OpCode = 3
	OpPlayerJoined OpCode = 4
	OpPlayerLeft   OpCode = 5
)

type Envelope struct {
	CID                string              `json:"cid,omitempty"`
	Error              *Error              `json:"error,omitempty"`
	MatchmakerAdd      *MatchmakerAdd      `json:"matchmaker_add,omitempty"`
	MatchmakerTicket   *MatchmakerTicket   `json:"matchmaker_ticket,omitempty"`
	MatchmakerRemove   *MatchmakerRemove   `json:"matchmaker_remove,omitempty"`
	MatchmakerMatched  *MatchmakerMatched  `json:"matchmaker_matched,omitempty"`
	MatchJoin          *MatchJoin          `json:"match_join,omitempty"`
	Match              *Match              `json:"match,omitempty"`
	MatchLeave         *MatchLeave         `json:"match_leave,omitempty"`
	MatchData          *MatchData          `json:"match_data,omitempty"`
	MatchPresenceEvent *MatchPresenceEvent `json:"match_presence_event,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote operation failed (code %d): %s", e.Code, e.Message)
}

type MatchmakerAdd struct {
	MinCount int    `json:"min_count"`
	MaxCount int    `json:"max_count"`
	Query    string `json:"query"`
}

type MatchmakerTicket struct {
	Ticket string `json:"ticket"`
}

type MatchmakerRemove struct {
	Ticket string `json:"ticket"`
}

type MatchmakerMatched struct {
	MatchID string `json:"match_id"`
	Ticket  string `json:"ticket"`
}

type MatchJoin struct {
	MatchID string `json:"match_id"`
}

type Match struct {
	MatchID   string     `json:"match_id"`
	Presences []Presence `json:"presences,omitempty"`
	Self      *Presence  `json:"self,omitempty"`
}

type MatchLeave struct {
	MatchID string `json:"match_id"`
}

type Presence struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
}

// MatchData frames an op-code payload for a bound match. Data holds the
// JSON body for the payload structs in payloads.go.
type MatchData struct {
	MatchID string          `json:"match_id"`
	OpCode  OpCode          `json:"op_code"`
	Data    json.RawMessage `json:"data"`
}

type MatchPresenceEvent struct {
	MatchID string     `json:"match_id"`
	Joins   []Presence `json:"joins,omitempty"`
	Leaves  []Presence `json:"leaves,omitempty"`
}
