package domain

import "context"

// LocalStore persists the snapshot on this machine.
type LocalStore interface {
	// Load returns the stored snapshot. ok is false when nothing usable is
	// stored; read failures are never reported to the caller.
	Load(ctx context.Context) (s *State, ok bool)
	Save(ctx context.Context, s State) error
}

// RemoteStore persists one snapshot document per user and pushes changes.
type RemoteStore interface {
	// Fetch returns nil when the user has no document yet.
	Fetch(ctx context.Context, userID string) (*State, error)
	Write(ctx context.Context, userID string, s State) error
	// Subscribe delivers the current snapshot and every later change to
	// onChange, including echoes of this process's own writes. Channel
	// failures go to onError.
	Subscribe(ctx context.Context, userID string, onChange func(State), onError func(error)) (Subscription, error)
	RefreshCredential(ctx context.Context) error
}

// Subscription is a live push channel. Close is idempotent and does not
// wait for in-flight deliveries.
type Subscription interface {
	Close()
}
