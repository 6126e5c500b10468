package engine

import "fmt"

// Store is the append-only, gap-free record of turn snapshots.
// It is not safe for concurrent use; a single owner appends and reads.
type Store struct {
	turns []TurnSnapshot
}

func NewStore() *Store {
	return &Store{turns: make([]TurnSnapshot, 0, 256)}
}

func (s *Store) Append(snap TurnSnapshot) error {
	want := s.LastTurnNumber() + 1
	if snap.TurnNumber != want {
		return fmt.Errorf("%w: got turn %d, want %d", ErrOutOfOrder, snap.TurnNumber, want)
	}
	s.turns = append(s.turns, snap)
	return nil
}

func (s *Store) Get(turn int) (TurnSnapshot, error) {
	if turn < 0 || turn >= len(s.turns) {
		return TurnSnapshot{}, fmt.Errorf("%w: %d not in [0, %d]", ErrOutOfRange, turn, s.LastTurnNumber())
	}
	return s.turns[turn], nil
}

// LastTurnNumber returns -1 when the store is empty.
func (s *Store) LastTurnNumber() int { return len(s.turns) - 1 }

func (s *Store) Len() int { return len(s.turns) }

// Snapshots returns the stored turns in order. Callers must not modify them.
func (s *Store) Snapshots() []TurnSnapshot {
	return s.turns[:len(s.turns):len(s.turns)]
}
