package protocol

import (
	"encoding/json"
	"fmt"

	"tttclient/internal/game"
)

// MovePayload is the outbound MAKE_MOVE body. Position is 1-based on the
// wire; the local board is 0-based.
type MovePayload struct {
	OpCode   OpCode `json:"op_code"`
	Position int    `json:"position"`
}

// BoardIndex converts the wire position back to a 0-based cell index.
func (p MovePayload) BoardIndex() int { return p.Position - 1 }

// EncodeMove frames a move for transmission, converting the local 0-based
// cell index to the authority's 1-based convention.
func EncodeMove(matchID string, pos int) (*MatchData, error) {
	data, err := json.Marshal(MovePayload{OpCode: OpMakeMove, Position: pos + 1})
	if err != nil {
		return nil, err
	}
	return &MatchData{MatchID: matchID, OpCode: OpMakeMove, Data: data}, nil
}

func DecodeMove(data []byte) (MovePayload, error) {
	var p MovePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return MovePayload{}, fmt.Errorf("%w: move: %v", ErrMalformedPayload, err)
	}
	return p, nil
}

type GameStatePayload struct {
	OpCode        OpCode        `json:"op_code"`
	Board         []game.Mark   `json:"board"`
	CurrentTurn   game.Mark     `json:"current_turn"`
	GameOver      bool          `json:"game_over"`
	Winner        game.Outcome  `json:"winner"`
	MoveCount     int           `json:"move_count"`
	Players       []game.Player `json:"players"`
	TurnStartTime int64         `json:"turn_start_time,omitempty"`
	TurnDuration  int           `json:"turn_duration,omitempty"`
	TimerEnabled  bool          `json:"timer_enabled,omitempty"`
}

type GameOverPayload struct {
	OpCode OpCode       `json:"op_code"`
	Winner game.Outcome `json:"winner"`
	Reason string       `json:"reason,omitempty"`
}

type PlayerJoinedPayload struct {
	OpCode      OpCode      `json:"op_code"`
	Player      game.Player `json:"player"`
	PlayerCount int         `json:"player_count"`
}

type PlayerLeftPayload struct {
	OpCode OpCode `json:"op_code"`
	UserID string `json:"user_id"`
}

// Event is a decoded inbound match message, one variant per op code.
type Event interface{ isEvent() }

type GameStateEvent struct{ State game.State }

type GameOverEvent struct {
	Winner game.Outcome
	Reason string
}

type PlayerJoinedEvent struct {
	Player game.Player
	Count  int
}

type PlayerLeftEvent struct{ UserID string }

func (GameStateEvent) isEvent()    {}
func (GameOverEvent) isEvent()     {}
func (PlayerJoinedEvent) isEvent() {}
func (PlayerLeftEvent) isEvent()   {}

// DecodeMatchData dispatches an inbound frame on its op code. Unknown
// codes return ErrUnknownOpCode so the caller can log and move on;
// malformed bodies return ErrMalformedPayload and never corrupt state.
func DecodeMatchData(md MatchData) (Event, error) {
	switch md.OpCode {
	case OpGameState:
		s, err := decodeGameState(md.Data)
		if err != nil {
			return nil, err
		}
		return GameStateEvent{State: s}, nil
	case OpGameOver:
		var p GameOverPayload
		if err := json.Unmarshal(md.Data, &p); err != nil {
			return nil, fmt.Errorf("%w: game over: %v", ErrMalformedPayload, err)
		}
		return GameOverEvent{Winner: p.Winner, Reason: p.Reason}, nil
	case OpPlayerJoined:
		var p PlayerJoinedPayload
		if err := json.Unmarshal(md.Data, &p); err != nil {
			return nil, fmt.Errorf("%w: player joined: %v", ErrMalformedPayload, err)
		}
		return PlayerJoinedEvent{Player: p.Player, Count: p.PlayerCount}, nil
	case OpPlayerLeft:
		var p PlayerLeftPayload
		if err := json.Unmarshal(md.Data, &p); err != nil {
			return nil, fmt.Errorf("%w: player left: %v", ErrMalformedPayload, err)
		}
		return PlayerLeftEvent{UserID: p.UserID}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOpCode, md.OpCode)
	}
}

// decodeGameState validates and converts a full snapshot into a State.
// The whole aggregate is replaced by the caller, never merged.
func decodeGameState(data []byte) (game.State, error) {
	var p GameStatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return game.State{}, fmt.Errorf("%w: game state: %v", ErrMalformedPayload, err)
	}
	if len(p.Board) != 9 {
		return game.State{}, fmt.Errorf("%w: board has %d cells", ErrMalformedPayload, len(p.Board))
	}
	s := game.State{
		CurrentTurn:   p.CurrentTurn,
		GameOver:      p.GameOver,
		Winner:        p.Winner,
		MoveCount:     p.MoveCount,
		Players:       p.Players,
		TurnStartTime: p.TurnStartTime,
		TurnDuration:  p.TurnDuration,
		TimerEnabled:  p.TimerEnabled,
	}
	for i, cell := range p.Board {
		if cell != game.Empty && cell != game.MarkX && cell != game.MarkO {
			return game.State{}, fmt.Errorf("%w: cell %d holds %d", ErrMalformedPayload, i, cell)
		}
		s.Board[i] = cell
	}
	if s.CurrentTurn != game.MarkX && s.CurrentTurn != game.MarkO {
		return game.State{}, fmt.Errorf("%w: current_turn %d", ErrMalformedPayload, int(s.CurrentTurn))
	}
	return s, nil
}

// EncodeGameState frames a full snapshot broadcast. Used by the authority
// side; the client only decodes.
func EncodeGameState(matchID string, s game.State) (*MatchData, error) {
	p := GameStatePayload{
		OpCode:        OpGameState,
		Board:         s.Board[:],
		CurrentTurn:   s.CurrentTurn,
		GameOver:      s.GameOver,
		Winner:        s.Winner,
		MoveCount:     s.MoveCount,
		Players:       s.Players,
		TurnStartTime: s.TurnStartTime,
		TurnDuration:  s.TurnDuration,
		TimerEnabled:  s.TimerEnabled,
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return &MatchData{MatchID: matchID, OpCode: OpGameState, Data: data}, nil
}

func EncodeGameOver(matchID string, winner game.Outcome, reason string) (*MatchData, error) {
	data, err := json.Marshal(GameOverPayload{OpCode: OpGameOver, Winner: winner, Reason: reason})
	if err != nil {
		return nil, err
	}
	return &MatchData{MatchID: matchID, OpCode: OpGameOver, Data: data}, nil
}

func EncodePlayerJoined(matchID string, p game.Player, count int) (*MatchData, error) {
	data, err := json.Marshal(PlayerJoinedPayload{OpCode: OpPlayerJoined, Player: p, PlayerCount: count})
	if err != nil {
		return nil, err
	}
	return &MatchData{MatchID: matchID, OpCode: OpPlayerJoined, Data: data}, nil
}

func EncodePlayerLeft(matchID, userID string) (*MatchData, error) {
	data, err := json.Marshal(PlayerLeftPayload{OpCode: OpPlayerLeft, UserID: userID})
	if err != nil {
		return nil, err
	}
	return &MatchData{MatchID: matchID, OpCode: OpPlayerLeft, Data: data}, nil
}
