package board

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/jmossahebi/jello2/domain"
	"github.com/jmossahebi/jello2/syncer"
)

type memLocal struct {
	mu     sync.Mutex
	stored *domain.State
	saves  []domain.State
}

func (m *memLocal) Load(ctx context.Context) (*domain.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stored == nil {
		return nil, false
	}
	s := m.stored.Clone()
	return &s, true
}

func (m *memLocal) Save(ctx context.Context, s domain.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, s)
	cp := s.Clone()
	m.stored = &cp
	return nil
}

func (m *memLocal) saved() []domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.State(nil), m.saves...)
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func newTestService(t *testing.T, local *memLocal) (*Service, *counter) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	renders := &counter{}
	ctrl := syncer.New(syncer.Options{Local: local, Render: renders.inc, Logger: logger})
	ids := domain.NewIDGenerator(nil, nil)
	svc := NewService(ctrl, ids, Options{
		Logger: logger,
		Now:    func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) },
	})
	t.Cleanup(svc.Close)
	return svc, renders
}

func TestStartSeedsDefaultBoard(t *testing.T) {
	local := &memLocal{}
	svc, _ := newTestService(t, local)
	if err := svc.Start(context.Background(), syncer.ModeLocal, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := svc.State()
	if len(st.Boards) != 1 || st.Boards[0].Name != defaultBoardName {
		t.Fatalf("expected default board, got %#v", st.Boards)
	}
	if st.ActiveBoardID != st.Boards[0].ID {
		t.Fatalf("expected default board active")
	}
	var titles []string
	for _, l := range st.Boards[0].Lists {
		titles = append(titles, l.Title)
	}
	if len(titles) != 3 || titles[0] != "To do" || titles[1] != "In progress" || titles[2] != "Done" {
		t.Fatalf("unexpected default lists %v", titles)
	}
	svc.Close()
	if len(local.saved()) != 1 {
		t.Fatalf("expected default board persisted once, got %d", len(local.saved()))
	}
}

func TestStartKeepsExistingBoards(t *testing.T) {
	stored := domain.State{ActiveBoardID: "B", Boards: []domain.Board{{ID: "B", Name: "Mine", Lists: []domain.List{}}}}
	local := &memLocal{stored: &stored}
	svc, _ := newTestService(t, local)
	if err := svc.Start(context.Background(), syncer.ModeLocal, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if st := svc.State(); len(st.Boards) != 1 || st.Boards[0].Name != "Mine" {
		t.Fatalf("unexpected state %#v", st)
	}
	svc.Close()
	if len(local.saved()) != 0 {
		t.Fatalf("loading must not persist")
	}
}

func TestMutationsPersistEverySnapshotInOrder(t *testing.T) {
	local := &memLocal{}
	svc, renders := newTestService(t, local)
	if err := svc.Start(context.Background(), syncer.ModeLocal, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	b, err := svc.CreateBoard("Work")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	todo, err := svc.CreateList(b.ID, "To do")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	done, err := svc.CreateList(b.ID, "Done")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	c1, err := svc.CreateCard(b.ID, todo.ID, domain.CardInput{Title: "One", Tags: []string{"ui"}})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	if _, err := svc.CreateCard(b.ID, todo.ID, domain.CardInput{Title: "Two"}); err != nil {
		t.Fatalf("create card: %v", err)
	}
	if err := svc.MoveCard(b.ID, c1.ID, done.ID, 0); err != nil {
		t.Fatalf("move: %v", err)
	}
	svc.Close()

	saves := local.saved()
	// default board seed plus six mutations
	if len(saves) != 7 {
		t.Fatalf("expected 7 persisted snapshots, got %d", len(saves))
	}
	last := saves[len(saves)-1]
	if !domain.Equal(last, svc.State()) {
		t.Fatalf("last persisted snapshot differs from memory")
	}
	work, _ := last.Board(b.ID)
	if len(work.Lists[0].Cards) != 1 || work.Lists[1].Cards[0].ID != c1.ID {
		t.Fatalf("unexpected lists after move %#v", work.Lists)
	}
	for i := 1; i < len(saves); i++ {
		if countCards(saves[i]) < countCards(saves[i-1]) {
			t.Fatalf("snapshots persisted out of order at %d", i)
		}
	}
	if renders.get() < 7 {
		t.Fatalf("expected a render per mutation, got %d", renders.get())
	}
}

func countCards(s domain.State) int {
	n := 0
	for _, b := range s.Boards {
		for _, l := range b.Lists {
			n += len(l.Cards)
		}
	}
	return n
}

// checkTree fails when an id repeats anywhere in the tree or the active
// board does not exist.
func checkTree(t *testing.T, step string, st domain.State) {
	t.Helper()
	parent := map[string]string{}
	claim := func(id, owner string) {
		if id == "" {
			t.Fatalf("%s: empty id under %q", step, owner)
		}
		if prev, ok := parent[id]; ok {
			t.Fatalf("%s: id %s appears under %q and %q", step, id, prev, owner)
		}
		parent[id] = owner
	}
	for _, b := range st.Boards {
		claim(b.ID, "")
		for _, l := range b.Lists {
			claim(l.ID, b.ID)
			for _, c := range l.Cards {
				claim(c.ID, l.ID)
			}
		}
	}
	if st.ActiveBoardID != "" {
		if _, err := st.Board(st.ActiveBoardID); err != nil {
			t.Fatalf("%s: active board %s does not exist", step, st.ActiveBoardID)
		}
	} else if len(st.Boards) > 0 {
		t.Fatalf("%s: boards exist but none is active", step)
	}
}

func TestMutationSequencesKeepIDsUnique(t *testing.T) {
	svc, _ := newTestService(t, &memLocal{})
	if err := svc.Start(context.Background(), syncer.ModeLocal, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	checkTree(t, "seed", svc.State())

	r := rand.New(rand.NewSource(7))
	pick := func(n int) int { return r.Intn(n) }

	for i := 0; i < 300; i++ {
		st := svc.State()
		var (
			step string
			err  error
		)
		if len(st.Boards) == 0 {
			step = "create board"
			_, err = svc.CreateBoard(fmt.Sprintf("Board %d", i))
			if err != nil {
				t.Fatalf("%d %s: %v", i, step, err)
			}
			checkTree(t, step, svc.State())
			continue
		}
		b := st.Boards[pick(len(st.Boards))]
		var cards []domain.Card
		for _, l := range b.Lists {
			cards = append(cards, l.Cards...)
		}

		switch op := pick(10); {
		case op == 0:
			step = "create board"
			_, err = svc.CreateBoard(fmt.Sprintf("Board %d", i))
		case op == 1 && len(st.Boards) > 1:
			step = "delete board"
			err = svc.DeleteBoard(b.ID)
		case op == 2 || len(b.Lists) == 0:
			step = "create list"
			_, err = svc.CreateList(b.ID, fmt.Sprintf("List %d", i))
		case op == 3 && len(b.Lists) > 1:
			step = "delete list"
			err = svc.DeleteList(b.ID, b.Lists[pick(len(b.Lists))].ID)
		case op == 4 && len(cards) > 0:
			step = "delete card"
			err = svc.DeleteCard(b.ID, cards[pick(len(cards))].ID)
		case (op == 5 || op == 6) && len(cards) > 0:
			step = "move card"
			to := b.Lists[pick(len(b.Lists))]
			err = svc.MoveCard(b.ID, cards[pick(len(cards))].ID, to.ID, pick(len(to.Cards)+2)-1)
		case op == 7 && len(st.Boards) < 8:
			step = "merge import"
			var data []byte
			if data, _, err = svc.Export(); err == nil {
				_, err = svc.Import(data, domain.ImportMerge)
			}
		case op == 8:
			step = "set active"
			err = svc.SetActiveBoard(b.ID)
		default:
			step = "create card"
			l := b.Lists[pick(len(b.Lists))]
			_, err = svc.CreateCard(b.ID, l.ID, domain.CardInput{Title: fmt.Sprintf("Card %d", i)})
		}
		if err != nil {
			t.Fatalf("%d %s: %v", i, step, err)
		}
		checkTree(t, fmt.Sprintf("%d %s", i, step), svc.State())
	}
}

func TestSameListMoveKeepsCardsOnce(t *testing.T) {
	svc, _ := newTestService(t, &memLocal{})
	if err := svc.Start(context.Background(), syncer.ModeLocal, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	b, _ := svc.CreateBoard("Work")
	l, _ := svc.CreateList(b.ID, "To do")
	var ids []string
	for _, title := range []string{"A", "B", "C"} {
		c, err := svc.CreateCard(b.ID, l.ID, domain.CardInput{Title: title})
		if err != nil {
			t.Fatalf("create card: %v", err)
		}
		ids = append(ids, c.ID)
	}
	moves := []struct {
		card  string
		index int
		want  []string
	}{
		{ids[2], 0, []string{ids[2], ids[0], ids[1]}},
		{ids[2], -1, []string{ids[0], ids[1], ids[2]}},
		{ids[0], 1, []string{ids[1], ids[0], ids[2]}},
		{ids[1], 99, []string{ids[0], ids[2], ids[1]}},
	}
	for _, m := range moves {
		if err := svc.MoveCard(b.ID, m.card, l.ID, m.index); err != nil {
			t.Fatalf("move: %v", err)
		}
		got, _ := svc.FilteredBoard(b.ID, nil)
		var order []string
		for _, c := range got.Lists[0].Cards {
			order = append(order, c.ID)
		}
		if !reflect.DeepEqual(order, m.want) {
			t.Fatalf("move %s to %d: got %v, want %v", m.card, m.index, order, m.want)
		}
		checkTree(t, "same-list move", svc.State())
	}
}

func TestInvalidMutationDoesNotPersist(t *testing.T) {
	local := &memLocal{}
	svc, _ := newTestService(t, local)
	if err := svc.Start(context.Background(), syncer.ModeLocal, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.CreateBoard("   "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := svc.DeleteCard("missing", "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	svc.Close()
	if len(local.saved()) != 1 {
		t.Fatalf("expected only the seed persisted, got %d", len(local.saved()))
	}
}

func TestDeleteActiveBoardSelectsNeighbour(t *testing.T) {
	svc, _ := newTestService(t, &memLocal{})
	if err := svc.Start(context.Background(), syncer.ModeLocal, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := svc.State().Boards[0]
	second, err := svc.CreateBoard("Second")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.DeleteBoard(second.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := svc.State().ActiveBoardID; got != first.ID {
		t.Fatalf("expected %s active, got %s", first.ID, got)
	}
	if err := svc.DeleteBoard(first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := svc.State().ActiveBoardID; got != "" {
		t.Fatalf("expected no active board, got %s", got)
	}
}

func TestExportImportMerge(t *testing.T) {
	svc, _ := newTestService(t, &memLocal{})
	if err := svc.Start(context.Background(), syncer.ModeLocal, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	data, name, err := svc.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if name != "jello-boards-export-2024-06-01.json" {
		t.Fatalf("unexpected filename %s", name)
	}
	n, err := svc.Import(data, domain.ImportMerge)
	if err != nil || n != 1 {
		t.Fatalf("import: %d %v", n, err)
	}
	st := svc.State()
	if len(st.Boards) != 2 || st.Boards[0].ID == st.Boards[1].ID {
		t.Fatalf("expected merged copy with a fresh id, got %#v", st.Boards)
	}
	if _, err := svc.Import([]byte(`{"nope":true}`), domain.ImportReplace); !errors.Is(err, domain.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestAddTranscriptCards(t *testing.T) {
	svc, _ := newTestService(t, &memLocal{})
	if err := svc.Start(context.Background(), syncer.ModeLocal, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	cards, err := svc.AddTranscriptCards("```json\n[{\"title\":\"Follow up\",\"description\":\"with legal\"}]\n```")
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if len(cards) != 1 || cards[0].Priority != domain.P2 {
		t.Fatalf("unexpected cards %#v", cards)
	}
	first := svc.State().Boards[0].Lists[0]
	if len(first.Cards) != 1 || first.Cards[0].Title != "Follow up" {
		t.Fatalf("expected card in first list, got %#v", first)
	}
}

func TestBoardTagsAndFilter(t *testing.T) {
	svc, _ := newTestService(t, &memLocal{})
	if err := svc.Start(context.Background(), syncer.ModeLocal, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	b := svc.State().Boards[0]
	list := b.Lists[0].ID
	if _, err := svc.CreateCard(b.ID, list, domain.CardInput{Title: "A", Tags: []string{"ui"}}); err != nil {
		t.Fatalf("card: %v", err)
	}
	if _, err := svc.CreateCard(b.ID, list, domain.CardInput{Title: "B", Tags: []string{"api"}}); err != nil {
		t.Fatalf("card: %v", err)
	}
	tags, err := svc.BoardTags(b.ID)
	if err != nil || len(tags) != 2 || tags[0] != "api" {
		t.Fatalf("unexpected tags %v %v", tags, err)
	}
	filtered, err := svc.FilteredBoard(b.ID, []string{"ui"})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(filtered.Lists[0].Cards) != 1 || filtered.Lists[0].Cards[0].Title != "A" {
		t.Fatalf("unexpected filtered board %#v", filtered.Lists[0])
	}
}

func TestMutationWithoutSession(t *testing.T) {
	svc, _ := newTestService(t, &memLocal{})
	if _, err := svc.CreateBoard("x"); !errors.Is(err, syncer.ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}
