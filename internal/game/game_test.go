package game

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckMove(t *testing.T) {
	base := NewState()
	base.Players = []Player{
		{UserID: "a", Username: "alice", Symbol: MarkX},
		{UserID: "b", Username: "bob", Symbol: MarkO},
	}

	cases := []struct {
		name  string
		setup func(State) State
		mark  Mark
		pos   int
		want  error
	}{
		{
			name:  "legal opening move",
			setup: func(s State) State { return s },
			mark:  MarkX,
			pos:   4,
			want:  nil,
		},
		{
			name:  "not this player's turn",
			setup: func(s State) State { return s },
			mark:  MarkO,
			pos:   4,
			want:  ErrWrongTurn,
		},
		{
			name: "occupied cell",
			setup: func(s State) State {
				s.Board[4] = MarkO
				return s
			},
			mark: MarkX,
			pos:  4,
			want: ErrCellOccupied,
		},
		{
			name: "game already over",
			setup: func(s State) State {
				s.GameOver = true
				s.Winner = OutcomeO
				return s
			},
			mark: MarkX,
			pos:  0,
			want: ErrGameOver,
		},
		{
			name:  "negative position",
			setup: func(s State) State { return s },
			mark:  MarkX,
			pos:   -1,
			want:  ErrBadPosition,
		},
		{
			name:  "position past the board",
			setup: func(s State) State { return s },
			mark:  MarkX,
			pos:   9,
			want:  ErrBadPosition,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckMove(tc.setup(base.Clone()), tc.mark, tc.pos)
			if tc.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestApplyMove_WinOnTopRow(t *testing.T) {
	s := NewState()
	// X: 0, 1, 2 with O wedged between at 3, 4.
	moves := []struct {
		mark Mark
		pos  int
	}{
		{MarkX, 0}, {MarkO, 3}, {MarkX, 1}, {MarkO, 4}, {MarkX, 2},
	}
	var err error
	for _, mv := range moves {
		s, err = ApplyMove(s, mv.mark, mv.pos)
		require.NoError(t, err)
	}

	assert.True(t, s.GameOver)
	assert.Equal(t, OutcomeX, s.Winner)
	assert.Equal(t, 5, s.MoveCount)

	// Terminal state accepts no further moves.
	_, err = ApplyMove(s, MarkO, 5)
	assert.ErrorIs(t, err, ErrGameOver)
}

func TestApplyMove_Draw(t *testing.T) {
	s := NewState()
	// A full board with no line: X O X / X O O / O X X.
	moves := []struct {
		mark Mark
		pos  int
	}{
		{MarkX, 0}, {MarkO, 1}, {MarkX, 2},
		{MarkO, 4}, {MarkX, 3}, {MarkO, 5},
		{MarkX, 7}, {MarkO, 6}, {MarkX, 8},
	}
	var err error
	for _, mv := range moves {
		s, err = ApplyMove(s, mv.mark, mv.pos)
		require.NoError(t, err)
	}

	assert.True(t, s.GameOver)
	assert.Equal(t, OutcomeDraw, s.Winner)
	assert.Equal(t, 9, s.MoveCount)
}

func TestApplyMove_TogglesTurn(t *testing.T) {
	s := NewState()
	s, err := ApplyMove(s, MarkX, 0)
	require.NoError(t, err)
	assert.Equal(t, MarkO, s.CurrentTurn)

	s, err = ApplyMove(s, MarkO, 4)
	require.NoError(t, err)
	assert.Equal(t, MarkX, s.CurrentTurn)
}

func TestAddPlayer_IdempotentOnIdentity(t *testing.T) {
	s := NewState()
	p := Player{UserID: "a", Username: "alice", Symbol: MarkX}

	s = AddPlayer(s, p)
	s = AddPlayer(s, p)
	require.Len(t, s.Players, 1)

	s = AddPlayer(s, Player{UserID: "b", Username: "bob", Symbol: MarkO})
	assert.Len(t, s.Players, 2)
}

func TestMarkOpponentLeft_NoDoubleTransition(t *testing.T) {
	s := NewState()
	s = MarkOpponentLeft(s)
	require.True(t, s.GameOver)
	require.Equal(t, OutcomeOpponentLeft, s.Winner)

	// A second terminating signal must not change anything.
	again := MarkOpponentLeft(s)
	assert.Equal(t, s.Winner, again.Winner)
	assert.Equal(t, s.Reason, again.Reason)

	// And it never overrides a real result.
	won := NewState()
	won.GameOver = true
	won.Winner = OutcomeO
	assert.Equal(t, OutcomeO, MarkOpponentLeft(won).Winner)
}

func TestOutcomeJSON(t *testing.T) {
	cases := []struct {
		name string
		wire string
		want Outcome
	}{
		{"numeric x", `1`, OutcomeX},
		{"numeric o", `2`, OutcomeO},
		{"draw string", `"draw"`, OutcomeDraw},
		{"opponent left string", `"opponent_left"`, OutcomeOpponentLeft},
		{"null", `null`, OutcomeNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var o Outcome
			require.NoError(t, json.Unmarshal([]byte(tc.wire), &o))
			assert.Equal(t, tc.want, o)
		})
	}

	var o Outcome
	assert.Error(t, json.Unmarshal([]byte(`3`), &o))
	assert.Error(t, json.Unmarshal([]byte(`"banana"`), &o))

	// The authority encodes winning marks back as numbers.
	data, err := json.Marshal(OutcomeO)
	require.NoError(t, err)
	assert.Equal(t, `2`, string(data))
	data, err = json.Marshal(OutcomeNone)
	require.NoError(t, err)
	assert.Equal(t, `null`, string(data))
}

func TestClone_Isolated(t *testing.T) {
	s := NewState()
	s.Players = []Player{{UserID: "a", Symbol: MarkX}}

	cp := s.Clone()
	cp.Board[0] = MarkO
	cp.Players[0].Username = "mutated"

	assert.Equal(t, Empty, s.Board[0])
	assert.Empty(t, s.Players[0].Username)
}
