package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jmossahebi/jello2/domain"
	"github.com/jmossahebi/jello2/syncer"
)

// Syncer is the part of the sync controller the mutation API drives.
type Syncer interface {
	Persister
	Start(ctx context.Context, mode syncer.Mode, userID string) error
	Stop()
	Mutate(fn func(*domain.State) error) (domain.State, uint64, error)
	Snapshot() domain.State
	Session() (syncer.Mode, string, syncer.Status)
	Render()
}

const (
	defaultBoardName = "My first board"
	defaultQueueSize = 64
	defaultTimeout   = 30 * time.Second
)

var defaultLists = []string{"To do", "In progress", "Done"}

// Options tunes a Service.
type Options struct {
	QueueSize      int
	PersistTimeout time.Duration
	Now            func() time.Time
	Logger         *log.Logger
}

// Service is the mutation API. Every call mutates the in-memory tree,
// queues one full-snapshot persist and renders.
type Service struct {
	ctrl   Syncer
	ids    *domain.IDGenerator
	queue  *persistQueue
	now    func() time.Time
	logger *log.Logger

	// serialises mutate+enqueue so the queue sees snapshots in order
	mu sync.Mutex
}

func NewService(s Syncer, ids *domain.IDGenerator, opts Options) *Service {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if ids == nil {
		ids = domain.NewIDGenerator(nil, nil)
	}
	return &Service{
		ctrl:   s,
		ids:    ids,
		queue:  newPersistQueue(s, opts.QueueSize, opts.PersistTimeout, opts.Logger),
		now:    opts.Now,
		logger: opts.Logger,
	}
}

// Close waits for queued persists to finish.
func (s *Service) Close() {
	s.queue.Close()
}

func (s *Service) apply(fn func(*domain.State) error) (domain.State, error) {
	s.mu.Lock()
	snap, gen, err := s.ctrl.Mutate(fn)
	if err == nil && !s.queue.enqueue(persistJob{snap: snap, gen: gen}) {
		s.logger.Warn("persist queue closed, change kept in memory only")
	}
	s.mu.Unlock()
	if err != nil {
		return domain.State{}, err
	}
	s.ctrl.Render()
	return snap, nil
}

// Start opens a session and seeds the default board when the account has
// no boards yet.
func (s *Service) Start(ctx context.Context, mode syncer.Mode, userID string) error {
	if err := s.ctrl.Start(ctx, mode, userID); err != nil {
		return err
	}
	if len(s.ctrl.Snapshot().Boards) > 0 {
		return nil
	}
	_, err := s.apply(func(st *domain.State) error {
		if len(st.Boards) > 0 {
			return nil
		}
		return s.seedDefault(st)
	})
	return err
}

func (s *Service) seedDefault(st *domain.State) error {
	b, err := st.AddBoard(s.ids.NewID(), defaultBoardName)
	if err != nil {
		return err
	}
	for _, title := range defaultLists {
		if _, err := st.AddList(b.ID, s.ids.NewID(), title); err != nil {
			return err
		}
	}
	return nil
}

// Stop ends the session.
func (s *Service) Stop() {
	s.ctrl.Stop()
}

// Session reports the mode, user and status of the current session.
func (s *Service) Session() (syncer.Mode, string, syncer.Status) {
	return s.ctrl.Session()
}

// State returns the current tree.
func (s *Service) State() domain.State {
	return s.ctrl.Snapshot()
}

func (s *Service) CreateBoard(name string) (domain.Board, error) {
	var b domain.Board
	_, err := s.apply(func(st *domain.State) error {
		var err error
		b, err = st.AddBoard(s.ids.NewID(), name)
		return err
	})
	return b, err
}

func (s *Service) RenameBoard(boardID, name string) error {
	_, err := s.apply(func(st *domain.State) error { return st.RenameBoard(boardID, name) })
	return err
}

// DeleteBoard removes a board; if it was active its neighbour becomes
// active.
func (s *Service) DeleteBoard(boardID string) error {
	_, err := s.apply(func(st *domain.State) error { return st.RemoveBoard(boardID) })
	return err
}

func (s *Service) SetActiveBoard(boardID string) error {
	_, err := s.apply(func(st *domain.State) error { return st.SetActive(boardID) })
	return err
}

func (s *Service) CreateList(boardID, title string) (domain.List, error) {
	var l domain.List
	_, err := s.apply(func(st *domain.State) error {
		var err error
		l, err = st.AddList(boardID, s.ids.NewID(), title)
		return err
	})
	return l, err
}

func (s *Service) RenameList(boardID, listID, title string) error {
	_, err := s.apply(func(st *domain.State) error { return st.RenameList(boardID, listID, title) })
	return err
}

func (s *Service) DeleteList(boardID, listID string) error {
	_, err := s.apply(func(st *domain.State) error { return st.RemoveList(boardID, listID) })
	return err
}

func (s *Service) CreateCard(boardID, listID string, in domain.CardInput) (domain.Card, error) {
	var c domain.Card
	_, err := s.apply(func(st *domain.State) error {
		var err error
		c, err = st.AddCard(boardID, listID, s.ids.NewID(), in)
		return err
	})
	return c, err
}

func (s *Service) EditCard(boardID, cardID string, in domain.CardInput) (domain.Card, error) {
	var c domain.Card
	_, err := s.apply(func(st *domain.State) error {
		var err error
		c, err = st.UpdateCard(boardID, cardID, in)
		return err
	})
	return c, err
}

func (s *Service) DeleteCard(boardID, cardID string) error {
	_, err := s.apply(func(st *domain.State) error { return st.RemoveCard(boardID, cardID) })
	return err
}

// MoveCard moves a card to index within toListID. Out of range indexes
// append.
func (s *Service) MoveCard(boardID, cardID, toListID string, index int) error {
	_, err := s.apply(func(st *domain.State) error { return st.MoveCard(boardID, cardID, toListID, index) })
	return err
}

// Export renders the current tree as an export document and names it.
func (s *Service) Export() ([]byte, string, error) {
	now := s.now()
	data, err := domain.EncodeExport(domain.NewExport(s.ctrl.Snapshot(), now))
	if err != nil {
		return nil, "", fmt.Errorf("encode export: %w", err)
	}
	return data, domain.ExportFilename(now), nil
}

// Import applies an export document and returns the number of boards it
// carried.
func (s *Service) Import(data []byte, mode domain.ImportMode) (int, error) {
	imported, err := domain.DecodeImport(data)
	if err != nil {
		return 0, err
	}
	if _, err := s.apply(func(st *domain.State) error {
		st.ApplyImport(imported, mode, s.ids.NewID)
		return nil
	}); err != nil {
		return 0, err
	}
	return len(imported.Boards), nil
}

// AddTranscriptCards parses a task extraction response and adds one card
// per task to the first list of the active board.
func (s *Service) AddTranscriptCards(text string) ([]domain.Card, error) {
	tasks, err := domain.ParseTranscriptTasks(text)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return []domain.Card{}, nil
	}
	var cards []domain.Card
	_, err = s.apply(func(st *domain.State) error {
		var err error
		cards, err = st.AddTranscriptCards(tasks, s.ids.NewID)
		return err
	})
	return cards, err
}

// BoardTags lists the tags used on a board.
func (s *Service) BoardTags(boardID string) ([]string, error) {
	st := s.ctrl.Snapshot()
	b, err := st.Board(boardID)
	if err != nil {
		return nil, err
	}
	return domain.BoardTags(*b), nil
}

// FilteredBoard returns the board showing only cards that carry any of
// tags.
func (s *Service) FilteredBoard(boardID string, tags []string) (domain.Board, error) {
	st := s.ctrl.Snapshot()
	b, err := st.Board(boardID)
	if err != nil {
		return domain.Board{}, err
	}
	return domain.FilterBoard(*b, tags), nil
}
