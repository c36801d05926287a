package domain

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// rawSnapshot distinguishes a missing boards field from an empty one.
type rawSnapshot struct {
	Boards        *[]Board `json:"boards"`
	ActiveBoardID *string  `json:"activeBoardId"`
}

// EncodeState serialises the whole State.
func EncodeState(s State) ([]byte, error) {
	return sonic.Marshal(s)
}

// DecodeState parses and normalises a serialised snapshot. Payloads that are
// not an object with a boards array, or whose boards, lists or cards lack an
// id, are rejected with ErrMalformed.
func DecodeState(data []byte) (State, error) {
	var raw rawSnapshot
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Boards == nil {
		return State{}, fmt.Errorf("%w: missing boards", ErrMalformed)
	}
	s := State{Boards: *raw.Boards}
	if raw.ActiveBoardID != nil {
		s.ActiveBoardID = *raw.ActiveBoardID
	}
	if err := Normalize(&s); err != nil {
		return State{}, err
	}
	return s, nil
}

// Normalize validates ids, fills defaults (empty slices, p2 priority,
// normalised tags) and repairs the active board reference: a missing or
// dangling ActiveBoardID falls back to the first board.
func Normalize(s *State) error {
	if s.Boards == nil {
		s.Boards = []Board{}
	}
	for bi := range s.Boards {
		b := &s.Boards[bi]
		if b.ID == "" {
			return fmt.Errorf("%w: board %d has no id", ErrMalformed, bi)
		}
		if b.Lists == nil {
			b.Lists = []List{}
		}
		for li := range b.Lists {
			l := &b.Lists[li]
			if l.ID == "" {
				return fmt.Errorf("%w: list %d of board %s has no id", ErrMalformed, li, b.ID)
			}
			if l.Cards == nil {
				l.Cards = []Card{}
			}
			for ci := range l.Cards {
				c := &l.Cards[ci]
				if c.ID == "" {
					return fmt.Errorf("%w: card %d of list %s has no id", ErrMalformed, ci, l.ID)
				}
				if p, ok := ParsePriority(string(c.Priority)); ok {
					c.Priority = p
				} else {
					c.Priority = DefaultPriority
				}
				c.Tags = NormalizeTags(c.Tags)
			}
		}
	}
	s.repairActive()
	return nil
}

func (s *State) repairActive() {
	if s.ActiveBoardID != "" && s.boardIndex(s.ActiveBoardID) >= 0 {
		return
	}
	s.ActiveBoardID = ""
	if len(s.Boards) > 0 {
		s.ActiveBoardID = s.Boards[0].ID
	}
}

// Clone returns a deep copy of the State.
func (s State) Clone() State {
	out := State{ActiveBoardID: s.ActiveBoardID, Boards: make([]Board, len(s.Boards))}
	for i, b := range s.Boards {
		out.Boards[i] = cloneBoard(b)
	}
	return out
}

func cloneBoard(b Board) Board {
	out := Board{ID: b.ID, Name: b.Name, Lists: make([]List, len(b.Lists))}
	for i, l := range b.Lists {
		nl := List{ID: l.ID, Title: l.Title, Cards: make([]Card, len(l.Cards))}
		for j, c := range l.Cards {
			c.Tags = append([]string{}, c.Tags...)
			nl.Cards[j] = c
		}
		out.Lists[i] = nl
	}
	return out
}

// Equal reports whether two States hold the same value. Nil and empty
// slices compare equal; order of boards, lists, cards and tags matters.
func Equal(a, b State) bool {
	if a.ActiveBoardID != b.ActiveBoardID || len(a.Boards) != len(b.Boards) {
		return false
	}
	for i := range a.Boards {
		if !boardsEqual(a.Boards[i], b.Boards[i]) {
			return false
		}
	}
	return true
}

func boardsEqual(a, b Board) bool {
	if a.ID != b.ID || a.Name != b.Name || len(a.Lists) != len(b.Lists) {
		return false
	}
	for i := range a.Lists {
		la, lb := a.Lists[i], b.Lists[i]
		if la.ID != lb.ID || la.Title != lb.Title || len(la.Cards) != len(lb.Cards) {
			return false
		}
		for j := range la.Cards {
			if !cardsEqual(la.Cards[j], lb.Cards[j]) {
				return false
			}
		}
	}
	return true
}

func cardsEqual(a, b Card) bool {
	if a.ID != b.ID || a.Title != b.Title || a.Description != b.Description ||
		a.Priority != b.Priority || len(a.Tags) != len(b.Tags) {
		return false
	}
	for i := range a.Tags {
		if a.Tags[i] != b.Tags[i] {
			return false
		}
	}
	return true
}
