package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultExpiration bounds the lifetime of a session that is never deleted
// explicitly. It is also the default absolute timeout of the SSE loop.
const DefaultExpiration = 3 * time.Minute

// Status is the lifecycle state of a session.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	// StatusClosed is terminal: setting it removes the session.
	StatusClosed Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusInitializing, StatusActive, StatusClosed:
		return true
	}
	return false
}

var (
	// ErrSessionNotFound is returned when the session does not exist or has
	// expired.
	ErrSessionNotFound = errors.New("sessionstore: session not found")
	// ErrInvalidStatus is returned by SetStatus for unknown statuses.
	ErrInvalidStatus = errors.New("sessionstore: invalid status")
	// ErrEmptySessionID is returned when an operation receives an empty id.
	ErrEmptySessionID = errors.New("sessionstore: empty session id")
)

// Session is a point-in-time snapshot of a session's metadata.
type Session struct {
	ID            string    `json:"id"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
	QueueLen      int       `json:"queue_len"`
}

// Store is the keyed session state shared by the POST ingress path (the
// single writer) and the streaming loop (the single reader) of a session.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create initializes the session with status initializing, an empty
	// queue and both timestamps set to now. Creating an existing id
	// overwrites it.
	Create(ctx context.Context, sessionID string) error

	// SetStatus updates the status of an existing session. Setting
	// StatusClosed deletes the session.
	SetStatus(ctx context.Context, sessionID string, status Status) error

	// Enqueue appends msg to the session queue, refreshes the last message
	// timestamp and wakes watchers. It is a no-op when the session does not
	// exist.
	Enqueue(ctx context.Context, sessionID string, msg []byte) error

	// DequeueFirst pops the oldest queued message. It never blocks and
	// reports ok=false when the queue is empty or the session is absent.
	DequeueFirst(ctx context.Context, sessionID string) (msg []byte, ok bool, err error)

	// TimeSinceLastMessage reports the time elapsed since the last enqueue,
	// or since creation when nothing was enqueued. It returns
	// ErrSessionNotFound when the session is absent.
	TimeSinceLastMessage(ctx context.Context, sessionID string) (time.Duration, error)

	// Get returns a snapshot of the session or ErrSessionNotFound.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// Delete removes all state for the session and wakes watchers. Deleting
	// an absent session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Watch returns a channel signalled after every Enqueue or Delete for
	// the session, and a stop function releasing the subscription. The
	// channel is never closed.
	Watch(ctx context.Context, sessionID string) (<-chan struct{}, func(), error)

	// Expiration is the lifetime applied to sessions by this store.
	Expiration() time.Duration
}

// CheckID validates a session id argument.
func CheckID(sessionID string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	return nil
}

// CheckStatus validates a status argument.
func CheckStatus(status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return nil
}
