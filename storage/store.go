package storage

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/jmossahebi/jello2/domain"
)

// Refresher forces a credential to obtain a new token.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RemoteStore combines a snapshot backend with the change notifier and the
// credential that authorises them.
type RemoteStore struct {
	docs     SnapshotBackend
	notifier *Notifier
	cred     Refresher
	logger   *log.Logger
}

// NewRemoteStore wires the remote store. cred may be nil when the backend
// authenticates with a shared key.
func NewRemoteStore(docs SnapshotBackend, notifier *Notifier, cred Refresher, logger *log.Logger) *RemoteStore {
	return &RemoteStore{docs: docs, notifier: notifier, cred: cred, logger: logger}
}

var _ domain.RemoteStore = (*RemoteStore)(nil)

func (r *RemoteStore) Fetch(ctx context.Context, userID string) (*domain.State, error) {
	return r.docs.Fetch(ctx, userID)
}

// Write stores the snapshot and then notifies every subscriber. A failed
// notification is logged; the snapshot itself was written.
func (r *RemoteStore) Write(ctx context.Context, userID string, s domain.State) error {
	if err := r.docs.Write(ctx, userID, s); err != nil {
		return err
	}
	if err := r.notifier.Publish(ctx, userID); err != nil && r.logger != nil {
		r.logger.WithError(err).WithField("user_id", userID).Warn("publish snapshot notification")
	}
	return nil
}

func (r *RemoteStore) Subscribe(ctx context.Context, userID string, onChange func(domain.State), onError func(error)) (domain.Subscription, error) {
	fetch := func(ctx context.Context) (*domain.State, error) {
		return r.docs.Fetch(ctx, userID)
	}
	sub, err := r.notifier.Subscribe(ctx, userID, fetch, onChange, onError)
	if err != nil {
		return nil, err
	}
	if r.logger != nil {
		r.logger.WithFields(log.Fields{"user_id": userID, "subscription_id": sub.id}).Debug("push channel opened")
	}
	return sub, nil
}

func (r *RemoteStore) RefreshCredential(ctx context.Context) error {
	if r.cred == nil {
		return nil
	}
	if err := r.cred.Refresh(ctx); err != nil {
		return classify("refresh credential", err)
	}
	return nil
}
