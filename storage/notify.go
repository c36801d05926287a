package storage

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/jmossahebi/jello2/domain"
)

const defaultReconnectDelay = time.Second

// notification is published after every snapshot write.
type notification struct {
	UserID    string `json:"userId"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Notifier carries change notifications over Redis pub/sub, one channel per
// user.
type Notifier struct {
	redis          *redis.Client
	logger         *log.Logger
	reconnectDelay time.Duration
}

func NewNotifier(client *redis.Client, logger *log.Logger) *Notifier {
	return &Notifier{redis: client, logger: logger, reconnectDelay: defaultReconnectDelay}
}

func stateChannel(userID string) string {
	return "jello:state:" + userID
}

// Publish announces that the user's snapshot changed.
func (n *Notifier) Publish(ctx context.Context, userID string) error {
	payload, err := sonic.Marshal(notification{UserID: userID, UpdatedAt: time.Now().UnixMilli()})
	if err != nil {
		return classify("encode notification", err)
	}
	if err := n.redis.Publish(ctx, stateChannel(userID), payload).Err(); err != nil {
		return classify("publish notification", err)
	}
	return nil
}

// FetchFunc loads the current snapshot; nil means no document exists.
type FetchFunc func(ctx context.Context) (*domain.State, error)

// Subscription is a live change feed for one user. It delivers the
// current snapshot on start and re-fetches on every notification.
type Subscription struct {
	id       string
	userID   string
	n        *Notifier
	fetch    FetchFunc
	onChange func(domain.State)
	onError  func(error)

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// Subscribe confirms the pub/sub subscription before returning, so a
// notification published after Subscribe returns is never missed.
func (n *Notifier) Subscribe(ctx context.Context, userID string, fetch FetchFunc, onChange func(domain.State), onError func(error)) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ps := n.redis.Subscribe(subCtx, stateChannel(userID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		cancel()
		return nil, classify("subscribe", err)
	}
	s := &Subscription{
		id:       uuid.NewString(),
		userID:   userID,
		n:        n,
		fetch:    fetch,
		onChange: onChange,
		onError:  onError,
		ctx:      subCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run(ps)
	return s, nil
}

// Close stops deliveries. It is safe to call more than once and returns
// without waiting for the delivery loop.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

func (s *Subscription) run(ps *redis.PubSub) {
	defer close(s.done)
	s.deliver()
	for {
		ch := ps.Channel()
		open := true
		for open {
			select {
			case <-s.ctx.Done():
				_ = ps.Close()
				return
			case _, ok := <-ch:
				if !ok {
					open = false
					break
				}
				s.deliver()
			}
		}
		_ = ps.Close()
		s.logf("pubsub channel closed, reconnecting")
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(s.n.reconnectDelay):
			}
			ps = s.n.redis.Subscribe(s.ctx, stateChannel(s.userID))
			if _, err := ps.Receive(s.ctx); err != nil {
				_ = ps.Close()
				s.logf("resubscribe failed: %v", err)
				continue
			}
			break
		}
		// changes published while disconnected were missed
		s.deliver()
	}
}

func (s *Subscription) deliver() {
	st, err := s.fetch(s.ctx)
	if s.ctx.Err() != nil {
		return
	}
	if err != nil {
		s.onError(err)
		return
	}
	if st != nil {
		s.onChange(*st)
	}
}

func (s *Subscription) logf(format string, args ...any) {
	if s.n.logger == nil {
		return
	}
	s.n.logger.WithFields(log.Fields{
		"subscription_id": s.id,
		"user_id":         s.userID,
	}).Warnf(format, args...)
}
