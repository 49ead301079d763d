// Package state is the read-only surface the rendering layer consumes: an
// immutable snapshot plus synchronous change notifications. Subscribers
// always observe a fully-formed snapshot and cannot reach the underlying
// state through it.
package state

import (
	"sync"

	"tttclient/internal/game"
)

type Snapshot struct {
	Game        *game.State
	Matchmaking bool
}

type Surface struct {
	mu      sync.Mutex
	game    *game.State
	mmaking bool
	subs    map[int]func(Snapshot)
	nextID  int
}

func NewSurface() *Surface {
	return &Surface{subs: make(map[int]func(Snapshot))}
}

func (s *Surface) snapshotLocked() Snapshot {
	snap := Snapshot{Matchmaking: s.mmaking}
	if s.game != nil {
		g := s.game.Clone()
		snap.Game = &g
	}
	return snap
}

// Current returns a fresh copy; mutating it has no effect on the surface.
func (s *Surface) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn and invokes it immediately with the current
// snapshot, so a late subscriber never renders from nothing. The returned
// cancel removes the subscription.
func (s *Surface) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	snap := s.snapshotLocked()
	s.mu.Unlock()

	fn(snap)
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Publish replaces the snapshot and notifies every subscriber
// synchronously. Each subscriber gets its own copy.
func (s *Surface) Publish(g *game.State, matchmaking bool) {
	s.mu.Lock()
	if g != nil {
		cp := g.Clone()
		s.game = &cp
	} else {
		s.game = nil
	}
	s.mmaking = matchmaking
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		snap := Snapshot{Matchmaking: matchmaking}
		if g != nil {
			cp := g.Clone()
			snap.Game = &cp
		}
		fn(snap)
	}
}
