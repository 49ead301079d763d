package game

import "time"

// winLines are the eight three-in-a-row combinations: rows, columns,
// diagonals.
var winLines = [8][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

// winnerAt returns the mark holding a complete line, or Empty.
func winnerAt(board [9]Mark) Mark {
	for _, line := range winLines {
		a, b, c := line[0], line[1], line[2]
		if board[a] != Empty && board[a] == board[b] && board[a] == board[c] {
			return board[a]
		}
	}
	return Empty
}

// ApplyMove is the authoritative rule step: validate, place the mark,
// adjudicate win or draw, advance the turn. The client never calls this —
// it only mirrors the resulting snapshots. The dev authority does.
func ApplyMove(s State, mark Mark, pos int) (State, error) {
	if err := CheckMove(s, mark, pos); err != nil {
		return s, err
	}
	next := s.Clone()
	next.Board[pos] = mark
	next.MoveCount++
	if w := winnerAt(next.Board); w != Empty {
		next.GameOver = true
		next.Winner = WinnerOutcome(w)
	} else if next.MoveCount == len(next.Board) {
		next.GameOver = true
		next.Winner = OutcomeDraw
	} else {
		if mark == MarkX {
			next.CurrentTurn = MarkO
		} else {
			next.CurrentTurn = MarkX
		}
		if next.TimerEnabled {
			next.TurnStartTime = time.Now().Unix()
		}
	}
	return next, nil
}
