package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/ggoodman/mcp-sse-server/sessionstore"
	"github.com/jonboulle/clockwork"
)

// Store is an in-memory sessionstore.Store.
type Store struct {
	clock      clockwork.Clock
	expiration time.Duration
	sweepEvery time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionData
	// watchers outlive re-creation of a session id.
	watchers map[string]map[*watcher]struct{}

	stopOnce sync.Once
	stop     chan struct{}
}

type sessionData struct {
	status        sessionstore.Status
	createdAt     time.Time
	lastMessageAt time.Time
	queue         [][]byte
}

type watcher struct {
	ch chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for timestamps and expiry.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithExpiration overrides sessionstore.DefaultExpiration.
func WithExpiration(d time.Duration) Option {
	return func(s *Store) { s.expiration = d }
}

// WithSweepInterval sets how often expired sessions are purged. Zero
// disables the sweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) { s.sweepEvery = d }
}

// New returns a Store. Call Close to stop the sweeper.
func New(opts ...Option) *Store {
	s := &Store{
		clock:      clockwork.NewRealClock(),
		expiration: sessionstore.DefaultExpiration,
		sweepEvery: time.Minute,
		sessions:   make(map[string]*sessionData),
		watchers:   make(map[string]map[*watcher]struct{}),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sweepEvery > 0 {
		go s.sweep()
	}
	return s
}

var _ sessionstore.Store = (*Store)(nil)

// Close stops the background sweeper.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *Store) Expiration() time.Duration { return s.expiration }

func (s *Store) Create(ctx context.Context, sessionID string) error {
	if err := sessionstore.CheckID(sessionID); err != nil {
		return err
	}
	now := s.clock.Now()
	s.mu.Lock()
	s.sessions[sessionID] = &sessionData{
		status:        sessionstore.StatusInitializing,
		createdAt:     now,
		lastMessageAt: now,
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) SetStatus(ctx context.Context, sessionID string, status sessionstore.Status) error {
	if err := sessionstore.CheckID(sessionID); err != nil {
		return err
	}
	if err := sessionstore.CheckStatus(status); err != nil {
		return err
	}
	if status == sessionstore.StatusClosed {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.lookupLocked(sessionID) == nil {
			return sessionstore.ErrSessionNotFound
		}
		s.deleteLocked(sessionID)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sd := s.lookupLocked(sessionID)
	if sd == nil {
		return sessionstore.ErrSessionNotFound
	}
	sd.status = status
	return nil
}

func (s *Store) Enqueue(ctx context.Context, sessionID string, msg []byte) error {
	if err := sessionstore.CheckID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sd := s.lookupLocked(sessionID)
	if sd == nil {
		return nil
	}
	sd.queue = append(sd.queue, append([]byte(nil), msg...))
	sd.lastMessageAt = s.clock.Now()
	s.notifyLocked(sessionID)
	return nil
}

func (s *Store) DequeueFirst(ctx context.Context, sessionID string) ([]byte, bool, error) {
	if err := sessionstore.CheckID(sessionID); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sd := s.lookupLocked(sessionID)
	if sd == nil || len(sd.queue) == 0 {
		return nil, false, nil
	}
	msg := sd.queue[0]
	sd.queue[0] = nil
	sd.queue = sd.queue[1:]
	return msg, true, nil
}

func (s *Store) TimeSinceLastMessage(ctx context.Context, sessionID string) (time.Duration, error) {
	if err := sessionstore.CheckID(sessionID); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sd := s.lookupLocked(sessionID)
	if sd == nil {
		return 0, sessionstore.ErrSessionNotFound
	}
	return s.clock.Since(sd.lastMessageAt), nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*sessionstore.Session, error) {
	if err := sessionstore.CheckID(sessionID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sd := s.lookupLocked(sessionID)
	if sd == nil {
		return nil, sessionstore.ErrSessionNotFound
	}
	return &sessionstore.Session{
		ID:            sessionID,
		Status:        sd.status,
		CreatedAt:     sd.createdAt,
		LastMessageAt: sd.lastMessageAt,
		QueueLen:      len(sd.queue),
	}, nil
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := sessionstore.CheckID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	s.deleteLocked(sessionID)
	s.mu.Unlock()
	return nil
}

func (s *Store) Watch(ctx context.Context, sessionID string) (<-chan struct{}, func(), error) {
	if err := sessionstore.CheckID(sessionID); err != nil {
		return nil, nil, err
	}
	w := &watcher{ch: make(chan struct{}, 1)}

	s.mu.Lock()
	set, ok := s.watchers[sessionID]
	if !ok {
		set = make(map[*watcher]struct{})
		s.watchers[sessionID] = set
	}
	set[w] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if set, ok := s.watchers[sessionID]; ok {
				delete(set, w)
				if len(set) == 0 {
					delete(s.watchers, sessionID)
				}
			}
		})
	}
	return w.ch, stop, nil
}

// lookupLocked returns the live session or nil, dropping it if expired.
func (s *Store) lookupLocked(sessionID string) *sessionData {
	sd, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	if s.expiration > 0 && s.clock.Since(sd.createdAt) >= s.expiration {
		delete(s.sessions, sessionID)
		return nil
	}
	return sd
}

func (s *Store) deleteLocked(sessionID string) {
	delete(s.sessions, sessionID)
	s.notifyLocked(sessionID)
}

func (s *Store) notifyLocked(sessionID string) {
	for w := range s.watchers[sessionID] {
		select {
		case w.ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) sweep() {
	t := s.clock.NewTicker(s.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.Chan():
			s.mu.Lock()
			for id := range s.sessions {
				s.lookupLocked(id)
			}
			s.mu.Unlock()
		}
	}
}
