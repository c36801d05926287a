package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmossahebi/jello2/domain"
)

type fakeLocal struct {
	mu     sync.Mutex
	stored *domain.State
	saves  []domain.State
}

func (f *fakeLocal) Load(ctx context.Context) (*domain.State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stored == nil {
		return nil, false
	}
	s := f.stored.Clone()
	return &s, true
}

func (f *fakeLocal) Save(ctx context.Context, s domain.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, s)
	return nil
}

func (f *fakeLocal) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

type fakeSub struct {
	mu       sync.Mutex
	closes   int
	onChange func(domain.State)
	onError  func(error)
}

func (s *fakeSub) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
}

func (s *fakeSub) closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeRemote struct {
	mu         sync.Mutex
	fetches    []fetchResult
	fetchCalls int
	fetchGate  chan struct{}
	subErr     error
	subs       []*fakeSub
	subscribed chan *fakeSub
	writeErr   error
	writes     []domain.State
	refreshes  int
}

type fetchResult struct {
	state *domain.State
	err   error
}

func newFakeRemote(results ...fetchResult) *fakeRemote {
	return &fakeRemote{fetches: results, subscribed: make(chan *fakeSub, 8)}
}

func (f *fakeRemote) Fetch(ctx context.Context, userID string) (*domain.State, error) {
	if f.fetchGate != nil {
		<-f.fetchGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if len(f.fetches) == 0 {
		return nil, nil
	}
	r := f.fetches[0]
	f.fetches = f.fetches[1:]
	return r.state, r.err
}

func (f *fakeRemote) Write(ctx context.Context, userID string, s domain.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, s)
	return nil
}

func (f *fakeRemote) Subscribe(ctx context.Context, userID string, onChange func(domain.State), onError func(error)) (domain.Subscription, error) {
	f.mu.Lock()
	if f.subErr != nil {
		err := f.subErr
		f.mu.Unlock()
		return nil, err
	}
	sub := &fakeSub{onChange: onChange, onError: onError}
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	f.subscribed <- sub
	return sub, nil
}

func (f *fakeRemote) RefreshCredential(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return nil
}

func (f *fakeRemote) subCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// recorder collects renders, alerts and sleeps.
type recorder struct {
	mu      sync.Mutex
	renders int
	alerts  []Alert
	sleeps  []time.Duration
}

func (r *recorder) render() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders++
}

func (r *recorder) alert(a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recorder) renderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renders
}

func (r *recorder) alertList() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}

func (r *recorder) sleepList() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.sleeps...)
}

func newController(local *fakeLocal, remote *fakeRemote, rec *recorder) *Controller {
	opts := Options{
		Local:  local,
		Render: rec.render,
		Alert:  rec.alert,
		Sleep:  rec.sleep,
		Delays: DefaultDelays(),
	}
	if remote != nil {
		opts.Remote = remote
	}
	return New(opts)
}

func waitSub(t *testing.T, remote *fakeRemote) *fakeSub {
	t.Helper()
	select {
	case sub := <-remote.subscribed:
		return sub
	case <-time.After(2 * time.Second):
		t.Fatalf("no subscription opened")
		return nil
	}
}

func waitStatus(t *testing.T, c *Controller, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.Status() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected status %s, got %s", want, c.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func boardState(name string) domain.State {
	return domain.State{
		ActiveBoardID: "B1",
		Boards:        []domain.Board{{ID: "B1", Name: name, Lists: []domain.List{}}},
	}
}

func ptr(s domain.State) *domain.State { return &s }
