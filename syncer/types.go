package syncer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmossahebi/jello2/domain"
)

var (
	// ErrLoadFailed is returned by Start when the initial load gave up.
	ErrLoadFailed = errors.New("load failed")
	// ErrNoSession is returned by Mutate before Start or after Stop.
	ErrNoSession = errors.New("no active session")
	// ErrSessionFailed is returned by Mutate after the session failed to
	// load, so an empty tree can never overwrite the stored one.
	ErrSessionFailed = errors.New("session failed to load")
	// ErrSessionLoading is returned by Mutate while the session is still
	// fetching its snapshot.
	ErrSessionLoading = errors.New("session is still loading")
	// ErrRemoteDisabled is returned by Start in remote mode when no remote
	// store is configured.
	ErrRemoteDisabled = errors.New("remote storage is not configured")
	// ErrSuperseded is returned by Start when Stop or another Start ran
	// before it finished.
	ErrSuperseded = errors.New("session superseded")
)

// Mode selects where a session keeps its snapshot.
type Mode int

const (
	ModeLocal Mode = iota
	ModeRemote
)

func (m Mode) String() string {
	if m == ModeRemote {
		return "remote"
	}
	return "local"
}

// ParseMode accepts "local" and "remote".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "demo":
		return ModeLocal, nil
	case "remote", "cloud":
		return ModeRemote, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidInput, s)
	}
}

// Status is the controller's position in its state machine.
type Status int

const (
	StatusDisconnected Status = iota
	StatusLoading
	StatusRetrying
	StatusSubscribed
	StatusReady
	StatusFailed
)

var statusNames = [...]string{"disconnected", "loading", "retrying", "subscribed", "ready", "failed"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// AlertKind distinguishes the user-facing failure notices.
type AlertKind string

const (
	// AlertLoadFailed means the board could not be loaded or kept in sync.
	AlertLoadFailed AlertKind = "load_failed"
	// AlertPermissionBanner means a save was rejected for lack of
	// permission. The session keeps running.
	AlertPermissionBanner AlertKind = "permission_banner"
)

// Alert is delivered to the UI error collaborator.
type Alert struct {
	Kind    AlertKind `json:"kind"`
	Message string    `json:"message"`
}

const (
	msgRefresh     = "We couldn't load your board. Please refresh the page or try again."
	msgUnreachable = "We couldn't reach the server. Check your internet connection and try again."
	msgGeneric     = "We couldn't load your board. Please refresh the page or try again. If it keeps happening, check your connection."
)

// FriendlyLoadError turns a load failure into a message for the user.
func FriendlyLoadError(err error) string {
	switch {
	case err == nil, errors.Is(err, domain.ErrPermissionDenied):
		return msgRefresh
	case errors.Is(err, domain.ErrUnavailable):
		return msgUnreachable
	default:
		return msgGeneric
	}
}

// Delays holds the retry timings of the state machine.
type Delays struct {
	// Warmup is waited after the first credential refresh of a remote
	// session, before the first fetch.
	Warmup time.Duration
	// LoadBackoff[i] is waited before fetch attempt i+2. The last entry
	// repeats.
	LoadBackoff  []time.Duration
	LoadAttempts int
	// ResubscribeBefore and ResubscribeAfter surround the credential
	// refresh when the push channel reports a permission error.
	ResubscribeBefore   time.Duration
	ResubscribeAfter    time.Duration
	ResubscribeAttempts int
}

// DefaultDelays returns the production timings.
func DefaultDelays() Delays {
	return Delays{
		Warmup:              600 * time.Millisecond,
		LoadBackoff:         []time.Duration{800 * time.Millisecond, 1200 * time.Millisecond},
		LoadAttempts:        3,
		ResubscribeBefore:   1000 * time.Millisecond,
		ResubscribeAfter:    500 * time.Millisecond,
		ResubscribeAttempts: 2,
	}
}

func (d Delays) loadBackoff(attempt int) time.Duration {
	if len(d.LoadBackoff) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(d.LoadBackoff) {
		attempt = len(d.LoadBackoff)
	}
	return d.LoadBackoff[attempt-1]
}
