package game

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrBadPosition = errors.New("position out of range")
var ErrCellOccupied = errors.New("cell already occupied")
var ErrWrongTurn = errors.New("not this player's turn")
var ErrGameOver = errors.New("game already over")

// Mark is a cell value: 0 empty, 1 for X, 2 for O. The numeric values are
// part of the wire contract with the authority and must not change.
type Mark int

const (
	Empty Mark = 0
	MarkX Mark = 1
	MarkO Mark = 2
)

// Outcome is the terminal result of a match. On the wire the authority
// encodes it as a number (the winning mark), a string ("draw",
// "opponent_left"), or null, so it carries custom JSON codecs.
type Outcome string

const (
	OutcomeNone         Outcome = ""
	OutcomeX            Outcome = "x"
	OutcomeO            Outcome = "o"
	OutcomeDraw         Outcome = "draw"
	OutcomeOpponentLeft Outcome = "opponent_left"
)

func (o *Outcome) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*o = OutcomeNone
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		switch Mark(n) {
		case MarkX:
			*o = OutcomeX
		case MarkO:
			*o = OutcomeO
		default:
			return fmt.Errorf("unknown numeric winner %d", n)
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("winner is neither number nor string: %w", err)
	}
	switch Outcome(s) {
	case OutcomeX, OutcomeO, OutcomeDraw, OutcomeOpponentLeft, OutcomeNone:
		*o = Outcome(s)
		return nil
	default:
		return fmt.Errorf("unknown winner %q", s)
	}
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	switch o {
	case OutcomeNone:
		return []byte("null"), nil
	case OutcomeX:
		return json.Marshal(int(MarkX))
	case OutcomeO:
		return json.Marshal(int(MarkO))
	default:
		return json.Marshal(string(o))
	}
}

// WinnerOutcome reports the outcome for a winning mark.
func WinnerOutcome(m Mark) Outcome {
	if m == MarkO {
		return OutcomeO
	}
	return OutcomeX
}

type Player struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Symbol    Mark   `json:"symbol"`
	SessionID string `json:"session_id,omitempty"`
}

// State is the local mirror of the authority's game state. It is a value
// type: handlers derive new states with the Apply* functions and replace
// the whole aggregate, never merge in place.
type State struct {
	Board         [9]Mark
	CurrentTurn   Mark
	GameOver      bool
	Winner        Outcome
	MoveCount     int
	Players       []Player
	TurnStartTime int64
	TurnDuration  int
	TimerEnabled  bool
	Reason        string
}

// NewState seeds the state used on match join: empty board, X to move,
// players arrive later via join notifications.
func NewState() State {
	return State{
		CurrentTurn:  MarkX,
		TurnDuration: 30,
	}
}

// Clone returns a deep copy; the players slice is the only reference field.
func (s State) Clone() State {
	out := s
	out.Players = append([]Player(nil), s.Players...)
	return out
}

// PlayerByID finds a seated player by user identity.
func (s State) PlayerByID(userID string) (Player, bool) {
	for _, p := range s.Players {
		if p.UserID == userID {
			return p, true
		}
	}
	return Player{}, false
}

// AddPlayer appends a player unless one with the same identity is already
// seated. Duplicate join notifications are expected on this channel.
func AddPlayer(s State, p Player) State {
	if _, ok := s.PlayerByID(p.UserID); ok {
		return s
	}
	next := s.Clone()
	next.Players = append(next.Players, p)
	return next
}

// ApplyGameOver patches the terminal fields and leaves board and players
// untouched.
func ApplyGameOver(s State, winner Outcome, reason string) State {
	next := s.Clone()
	next.GameOver = true
	next.Winner = winner
	next.Reason = reason
	return next
}

// MarkOpponentLeft ends the game in the local player's favor. It is a
// no-op once the game is over, so the explicit PLAYER_LEFT message and the
// transport-level presence signal can both fire without a double
// transition.
func MarkOpponentLeft(s State) State {
	if s.GameOver {
		return s
	}
	return ApplyGameOver(s, OutcomeOpponentLeft, "")
}

// CheckMove is the optimistic pre-validation run before a move is
// transmitted. It never mutates state; the board only changes when an
// authoritative snapshot arrives.
func CheckMove(s State, mark Mark, pos int) error {
	if s.GameOver {
		return ErrGameOver
	}
	if pos < 0 || pos >= len(s.Board) {
		return ErrBadPosition
	}
	if s.CurrentTurn != mark {
		return ErrWrongTurn
	}
	if s.Board[pos] != Empty {
		return ErrCellOccupied
	}
	return nil
}
