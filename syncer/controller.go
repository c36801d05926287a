package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jmossahebi/jello2/domain"
)

// Options configures a Controller. Local is required; Remote may be nil,
// in which case remote sessions cannot start.
type Options struct {
	Local  domain.LocalStore
	Remote domain.RemoteStore

	// Render is called after every replacement of the in-memory State.
	Render func()
	// Alert receives user-facing failure notices.
	Alert func(Alert)
	// AfterPersist runs after every successful persist.
	AfterPersist func(ctx context.Context, s domain.State)
	// Sleep waits for d or until ctx ends. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	Delays Delays
	Logger *log.Logger
}

// Controller owns the in-memory board tree of one account session and
// keeps it in sync with the selected store.
//
// Every session is tagged with a generation. Stop and Start bump it, and
// any callback, retry or persist carrying an older generation is
// discarded. Subscriptions carry their own sequence number so a callback
// from a replaced push channel is ignored as well.
type Controller struct {
	local        domain.LocalStore
	remote       domain.RemoteStore
	render       func()
	alert        func(Alert)
	afterPersist func(ctx context.Context, s domain.State)
	sleep        func(ctx context.Context, d time.Duration) error
	delays       Delays
	logger       *log.Logger

	mu              sync.Mutex
	state           domain.State
	status          Status
	loaded          bool
	mode            Mode
	userID          string
	gen             uint64
	sessionCtx      context.Context
	cancel          context.CancelFunc
	sub             domain.Subscription
	subSeq          uint64
	listenerRetries int
	channelReported bool
}

func New(opts Options) *Controller {
	c := &Controller{
		local:        opts.Local,
		remote:       opts.Remote,
		render:       opts.Render,
		alert:        opts.Alert,
		afterPersist: opts.AfterPersist,
		sleep:        opts.Sleep,
		delays:       opts.Delays,
		logger:       opts.Logger,
		state:        domain.State{Boards: []domain.Board{}},
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.delays.LoadAttempts <= 0 {
		c.delays = DefaultDelays()
	}
	if c.logger == nil {
		c.logger = log.StandardLogger()
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Status reports the current state machine position.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Session reports the mode and user of the current session.
func (c *Controller) Session() (Mode, string, Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode, c.userID, c.status
}

// Snapshot returns a deep copy of the in-memory State.
func (c *Controller) Snapshot() domain.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Start opens a session. In local mode it loads the stored snapshot and
// becomes Ready. In remote mode it fetches with bounded retries on
// permission errors and then subscribes to changes. Start returns once the
// load phase is over; push channel retries continue in the background.
func (c *Controller) Start(ctx context.Context, mode Mode, userID string) error {
	if mode == ModeRemote && c.remote == nil {
		return ErrRemoteDisabled
	}
	c.Stop()

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mode = mode
	c.userID = userID
	c.sessionCtx = sessionCtx
	c.cancel = cancel
	c.status = StatusLoading
	c.loaded = false
	c.mu.Unlock()

	entry := c.logger.WithFields(log.Fields{"mode": mode.String(), "user_id": userID, "generation": gen})
	entry.Info("session starting")

	if mode == ModeLocal {
		return c.startLocal(ctx, gen)
	}
	return c.startRemote(sessionCtx, gen, userID, entry)
}

func (c *Controller) startLocal(ctx context.Context, gen uint64) error {
	s, ok := c.local.Load(ctx)
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return ErrSuperseded
	}
	if ok {
		c.state = s.Clone()
	}
	c.loaded = true
	c.status = StatusReady
	c.mu.Unlock()
	c.doRender()
	return nil
}

func (c *Controller) startRemote(ctx context.Context, gen uint64, userID string, entry *log.Entry) error {
	if err := c.remote.RefreshCredential(ctx); err != nil {
		entry.WithError(err).Warn("credential warm-up failed")
	}
	if err := c.sleep(ctx, c.delays.Warmup); err != nil {
		return ErrSuperseded
	}

	var (
		s   *domain.State
		err error
	)
	for attempt := 1; ; attempt++ {
		if !c.current(gen) {
			return ErrSuperseded
		}
		s, err = c.remote.Fetch(ctx, userID)
		if !c.current(gen) {
			return ErrSuperseded
		}
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrPermissionDenied) || attempt >= c.delays.LoadAttempts {
			entry.WithError(err).WithField("attempt", attempt).Error("remote load failed")
			c.fail(gen, err)
			return fmt.Errorf("%w: %w", ErrLoadFailed, err)
		}
		entry.WithError(err).WithField("attempt", attempt).Warn("remote load denied, retrying")
		c.setStatus(gen, StatusRetrying)
		if c.sleep(ctx, c.delays.loadBackoff(attempt)) != nil {
			return ErrSuperseded
		}
		if rerr := c.remote.RefreshCredential(ctx); rerr != nil {
			entry.WithError(rerr).Warn("credential refresh failed")
		}
		c.setStatus(gen, StatusLoading)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return ErrSuperseded
	}
	if s != nil {
		c.state = s.Clone()
	}
	c.loaded = true
	c.mu.Unlock()
	c.doRender()

	return c.subscribe(ctx, gen)
}

// subscribe opens a push channel for the session. Permission errors go
// through the listener retry policy; other failures end the session.
func (c *Controller) subscribe(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return ErrSuperseded
	}
	c.subSeq++
	seq := c.subSeq
	userID := c.userID
	c.mu.Unlock()

	sub, err := c.remote.Subscribe(ctx, userID,
		func(s domain.State) { c.onChange(gen, seq, s) },
		func(err error) { c.onChannelError(gen, seq, err) },
	)
	if err != nil {
		if errors.Is(err, domain.ErrPermissionDenied) {
			c.onChannelError(gen, seq, err)
			return nil
		}
		c.logger.WithError(err).WithField("user_id", userID).Error("subscribe failed")
		c.fail(gen, err)
		return fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	c.mu.Lock()
	if gen != c.gen || seq != c.subSeq {
		c.mu.Unlock()
		sub.Close()
		return nil
	}
	c.sub = sub
	if c.status != StatusFailed {
		c.status = StatusSubscribed
	}
	c.mu.Unlock()
	return nil
}

func (c *Controller) onChange(gen, seq uint64, s domain.State) {
	c.mu.Lock()
	if gen != c.gen || seq != c.subSeq {
		c.mu.Unlock()
		return
	}
	c.listenerRetries = 0
	if domain.Equal(c.state, s) {
		c.mu.Unlock()
		return
	}
	c.state = s.Clone()
	c.mu.Unlock()
	c.doRender()
}

func (c *Controller) onChannelError(gen, seq uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || seq != c.subSeq {
		c.mu.Unlock()
		return
	}
	entry := c.logger.WithError(err).WithFields(log.Fields{"user_id": c.userID, "generation": gen})

	if !errors.Is(err, domain.ErrPermissionDenied) {
		report := !c.channelReported
		c.channelReported = true
		c.mu.Unlock()
		entry.Warn("push channel error")
		if report {
			c.emit(Alert{Kind: AlertLoadFailed, Message: FriendlyLoadError(err)})
		}
		return
	}

	stale := c.sub
	c.sub = nil
	c.subSeq++
	if c.listenerRetries >= c.delays.ResubscribeAttempts {
		c.status = StatusFailed
		c.mu.Unlock()
		if stale != nil {
			stale.Close()
		}
		entry.Error("push channel denied, giving up")
		c.emit(Alert{Kind: AlertLoadFailed, Message: FriendlyLoadError(err)})
		return
	}
	c.listenerRetries++
	attempt := c.listenerRetries
	c.status = StatusRetrying
	c.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
	entry.WithField("attempt", attempt).Warn("push channel denied, resubscribing")
	go c.resubscribe(gen)
}

func (c *Controller) resubscribe(gen uint64) {
	ctx, ok := c.sessionContext(gen)
	if !ok {
		return
	}
	if c.sleep(ctx, c.delays.ResubscribeBefore) != nil {
		return
	}
	if err := c.remote.RefreshCredential(ctx); err != nil {
		c.logger.WithError(err).Warn("credential refresh failed")
	}
	if c.sleep(ctx, c.delays.ResubscribeAfter) != nil {
		return
	}
	_ = c.subscribe(ctx, gen)
}

// Mutate applies fn to a copy of the State and installs the result. It
// returns the new snapshot and the session generation for Persist.
// Mutations are refused until the session has installed its loaded
// snapshot.
func (c *Controller) Mutate(fn func(*domain.State) error) (domain.State, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.status == StatusDisconnected:
		return domain.State{}, 0, ErrNoSession
	case c.status == StatusFailed:
		return domain.State{}, 0, ErrSessionFailed
	case !c.loaded:
		return domain.State{}, 0, ErrSessionLoading
	}
	next := c.state.Clone()
	if err := fn(&next); err != nil {
		return domain.State{}, 0, err
	}
	c.state = next
	return next.Clone(), c.gen, nil
}

// Render invokes the render collaborator.
func (c *Controller) Render() {
	c.doRender()
}

// Persist writes snap to the session's store. Snapshots from an older
// generation are dropped. Failures are logged; a permission error on a
// remote write raises a permission banner alert.
func (c *Controller) Persist(ctx context.Context, snap domain.State, gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.status == StatusDisconnected {
		c.mu.Unlock()
		c.logger.WithField("generation", gen).Debug("dropping persist from superseded session")
		return
	}
	if !c.loaded {
		c.mu.Unlock()
		c.logger.WithField("generation", gen).Warn("dropping persist before session load")
		return
	}
	mode, userID := c.mode, c.userID
	c.mu.Unlock()

	var err error
	if mode == ModeLocal {
		err = c.local.Save(ctx, snap)
	} else {
		err = c.remote.Write(ctx, userID, snap)
	}
	if err != nil {
		entry := c.logger.WithError(err).WithFields(log.Fields{"mode": mode.String(), "user_id": userID})
		if mode == ModeRemote && errors.Is(err, domain.ErrPermissionDenied) {
			entry.Warn("save denied")
			if c.current(gen) {
				c.emit(Alert{Kind: AlertPermissionBanner, Message: msgRefresh})
			}
			return
		}
		entry.Error("save failed")
		return
	}
	if c.afterPersist != nil {
		c.afterPersist(ctx, snap)
	}
}

// Stop ends the session: it closes the push channel, clears the State and
// returns to Disconnected. Calling Stop without a session does nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.status == StatusDisconnected && c.sub == nil && c.cancel == nil {
		c.mu.Unlock()
		return
	}
	c.gen++
	sub := c.sub
	cancel := c.cancel
	c.sub = nil
	c.sessionCtx = nil
	c.cancel = nil
	c.subSeq++
	c.state = domain.State{Boards: []domain.Board{}}
	c.status = StatusDisconnected
	c.loaded = false
	c.userID = ""
	c.listenerRetries = 0
	c.channelReported = false
	c.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if cancel != nil {
		cancel()
	}
	c.logger.Info("session stopped")
	c.doRender()
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Controller) sessionContext(gen uint64) (context.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.sessionCtx == nil {
		return nil, false
	}
	return c.sessionCtx, true
}

func (c *Controller) setStatus(gen uint64, s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen {
		c.status = s
	}
}

func (c *Controller) fail(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.status = StatusFailed
	c.mu.Unlock()
	c.emit(Alert{Kind: AlertLoadFailed, Message: FriendlyLoadError(err)})
}

func (c *Controller) emit(a Alert) {
	if c.alert != nil {
		c.alert(a)
	}
}

func (c *Controller) doRender() {
	if c.render != nil {
		c.render()
	}
}
