package domain

import (
	"fmt"
	"strings"
)

// CardInput carries the editable fields of a card.
type CardInput struct {
	Title       string
	Description string
	Priority    string
	Tags        []string
}

func (in CardInput) normalize() (Card, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Card{}, fmt.Errorf("%w: card title is required", ErrInvalidInput)
	}
	p, ok := ParsePriority(in.Priority)
	if !ok {
		return Card{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, in.Priority)
	}
	return Card{
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Priority:    p,
		Tags:        NormalizeTags(in.Tags),
	}, nil
}

func requireName(kind, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidInput, kind)
	}
	return name, nil
}

func (s *State) boardIndex(id string) int {
	for i := range s.Boards {
		if s.Boards[i].ID == id {
			return i
		}
	}
	return -1
}

// Board returns the board with the given id.
func (s *State) Board(id string) (*Board, error) {
	i := s.boardIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("board %s: %w", id, ErrNotFound)
	}
	return &s.Boards[i], nil
}

// ActiveBoard returns the active board, or nil when none is active.
func (s *State) ActiveBoard() *Board {
	if i := s.boardIndex(s.ActiveBoardID); i >= 0 {
		return &s.Boards[i]
	}
	return nil
}

func (b *Board) listIndex(id string) int {
	for i := range b.Lists {
		if b.Lists[i].ID == id {
			return i
		}
	}
	return -1
}

// List returns the list with the given id.
func (b *Board) List(id string) (*List, error) {
	i := b.listIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("list %s: %w", id, ErrNotFound)
	}
	return &b.Lists[i], nil
}

// findCard locates a card anywhere on the board.
func (b *Board) findCard(id string) (list, card int) {
	for li := range b.Lists {
		for ci := range b.Lists[li].Cards {
			if b.Lists[li].Cards[ci].ID == id {
				return li, ci
			}
		}
	}
	return -1, -1
}

// AddBoard appends a new board and makes it active.
func (s *State) AddBoard(id, name string) (Board, error) {
	name, err := requireName("board name", name)
	if err != nil {
		return Board{}, err
	}
	b := Board{ID: id, Name: name, Lists: []List{}}
	s.Boards = append(s.Boards, b)
	s.ActiveBoardID = id
	return b, nil
}

// RenameBoard changes a board's name.
func (s *State) RenameBoard(id, name string) error {
	name, err := requireName("board name", name)
	if err != nil {
		return err
	}
	b, err := s.Board(id)
	if err != nil {
		return err
	}
	b.Name = name
	return nil
}

// RemoveBoard deletes a board. When it was active, the board that takes its
// position (or the previous one) becomes active; with no boards left the
// active reference is cleared.
func (s *State) RemoveBoard(id string) error {
	i := s.boardIndex(id)
	if i < 0 {
		return fmt.Errorf("board %s: %w", id, ErrNotFound)
	}
	s.Boards = append(s.Boards[:i], s.Boards[i+1:]...)
	if s.ActiveBoardID != id {
		return nil
	}
	switch {
	case len(s.Boards) == 0:
		s.ActiveBoardID = ""
	case i < len(s.Boards):
		s.ActiveBoardID = s.Boards[i].ID
	default:
		s.ActiveBoardID = s.Boards[len(s.Boards)-1].ID
	}
	return nil
}

// SetActive selects the active board. An empty id clears the selection.
func (s *State) SetActive(id string) error {
	if id != "" && s.boardIndex(id) < 0 {
		return fmt.Errorf("board %s: %w", id, ErrNotFound)
	}
	s.ActiveBoardID = id
	return nil
}

// AddList appends a list to a board.
func (s *State) AddList(boardID, id, title string) (List, error) {
	title, err := requireName("list title", title)
	if err != nil {
		return List{}, err
	}
	b, err := s.Board(boardID)
	if err != nil {
		return List{}, err
	}
	l := List{ID: id, Title: title, Cards: []Card{}}
	b.Lists = append(b.Lists, l)
	return l, nil
}

// RenameList changes a list's title.
func (s *State) RenameList(boardID, listID, title string) error {
	title, err := requireName("list title", title)
	if err != nil {
		return err
	}
	b, err := s.Board(boardID)
	if err != nil {
		return err
	}
	l, err := b.List(listID)
	if err != nil {
		return err
	}
	l.Title = title
	return nil
}

// RemoveList deletes a list together with its cards.
func (s *State) RemoveList(boardID, listID string) error {
	b, err := s.Board(boardID)
	if err != nil {
		return err
	}
	i := b.listIndex(listID)
	if i < 0 {
		return fmt.Errorf("list %s: %w", listID, ErrNotFound)
	}
	b.Lists = append(b.Lists[:i], b.Lists[i+1:]...)
	return nil
}

// AddCard appends a card to a list.
func (s *State) AddCard(boardID, listID, id string, in CardInput) (Card, error) {
	c, err := in.normalize()
	if err != nil {
		return Card{}, err
	}
	b, err := s.Board(boardID)
	if err != nil {
		return Card{}, err
	}
	l, err := b.List(listID)
	if err != nil {
		return Card{}, err
	}
	c.ID = id
	l.Cards = append(l.Cards, c)
	return c, nil
}

// UpdateCard replaces a card's editable fields.
func (s *State) UpdateCard(boardID, cardID string, in CardInput) (Card, error) {
	c, err := in.normalize()
	if err != nil {
		return Card{}, err
	}
	b, err := s.Board(boardID)
	if err != nil {
		return Card{}, err
	}
	li, ci := b.findCard(cardID)
	if li < 0 {
		return Card{}, fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}
	c.ID = cardID
	b.Lists[li].Cards[ci] = c
	return c, nil
}

// RemoveCard deletes a card.
func (s *State) RemoveCard(boardID, cardID string) error {
	b, err := s.Board(boardID)
	if err != nil {
		return err
	}
	li, ci := b.findCard(cardID)
	if li < 0 {
		return fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}
	cards := b.Lists[li].Cards
	b.Lists[li].Cards = append(cards[:ci], cards[ci+1:]...)
	return nil
}

// MoveCard removes a card from its list and inserts it into the target list
// at index. An index outside the target list appends. Source and target may
// be the same list, in which case index refers to the list without the card.
func (s *State) MoveCard(boardID, cardID, targetListID string, index int) error {
	b, err := s.Board(boardID)
	if err != nil {
		return err
	}
	ti := b.listIndex(targetListID)
	if ti < 0 {
		return fmt.Errorf("list %s: %w", targetListID, ErrNotFound)
	}
	li, ci := b.findCard(cardID)
	if li < 0 {
		return fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}

	src := &b.Lists[li]
	card := src.Cards[ci]
	src.Cards = append(src.Cards[:ci], src.Cards[ci+1:]...)

	dst := &b.Lists[ti]
	if index < 0 || index >= len(dst.Cards) {
		dst.Cards = append(dst.Cards, card)
		return nil
	}
	dst.Cards = append(dst.Cards, Card{})
	copy(dst.Cards[index+1:], dst.Cards[index:])
	dst.Cards[index] = card
	return nil
}
