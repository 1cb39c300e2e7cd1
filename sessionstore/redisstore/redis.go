package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ggoodman/mcp-sse-server/sessionstore"
	"github.com/joeshaw/envdecode"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis-backed Store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// RedisPassword is optional. ENV: REDIS_PASSWORD
	RedisPassword string `env:"REDIS_PASSWORD"`
	// RedisDB selects the logical database. ENV: REDIS_DB
	RedisDB int `env:"REDIS_DB,default=0"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=mcp:sse:"`
	// Expiration of every session. ENV: SESSIONS_EXPIRATION
	Expiration time.Duration `env:"SESSIONS_EXPIRATION,default=3m"`
}

// Store is a sessionstore.Store backed by Redis.
type Store struct {
	client     *redis.Client
	ownsClient bool
	keyPrefix  string
	expiration time.Duration
	clock      clockwork.Clock
}

// Option configures a Store built with NewWithClient.
type Option func(*Store)

// WithKeyPrefix overrides the default "mcp:sse:" key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// WithExpiration overrides sessionstore.DefaultExpiration.
func WithExpiration(d time.Duration) Option {
	return func(s *Store) { s.expiration = d }
}

// WithClock overrides the clock used for message timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New dials Redis using cfg and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	opts := []Option{}
	if cfg.KeyPrefix != "" {
		opts = append(opts, WithKeyPrefix(cfg.KeyPrefix))
	}
	if cfg.Expiration > 0 {
		opts = append(opts, WithExpiration(cfg.Expiration))
	}
	s := NewWithClient(cl, opts...)
	s.ownsClient = true
	return s, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return New(ctx, cfg)
}

// NewWithClient wraps an existing client. The caller keeps ownership of
// the client; Close will not close it.
func NewWithClient(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client:     client,
		keyPrefix:  "mcp:sse:",
		expiration: sessionstore.DefaultExpiration,
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ sessionstore.Store = (*Store)(nil)

// Close closes the Redis client when the Store created it.
func (s *Store) Close() error {
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}

func (s *Store) Expiration() time.Duration { return s.expiration }

// --- Key helpers ---

func (s *Store) sessionKey(id string) string { return s.keyPrefix + "session:" + id }
func (s *Store) queueKey(id string) string   { return s.keyPrefix + "queue:" + id }
func (s *Store) notifyKey(id string) string  { return s.keyPrefix + "notify:" + id }

const (
	fieldStatus        = "status"
	fieldCreatedAt     = "created_at"
	fieldLastMessageAt = "last_message_at"
)

// setStatusScript updates the status only when the session exists.
var setStatusScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1])
return 1
`)

// enqueueScript appends to the queue of an existing session, bumps its
// last message timestamp and aligns the queue TTL with the session hash.
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('RPUSH', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'last_message_at', ARGV[2])
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[2], ttl)
end
return 1
`)

func (s *Store) Create(ctx context.Context, sessionID string) error {
	if err := sessionstore.CheckID(sessionID); err != nil {
		return err
	}
	now := strconv.FormatInt(s.clock.Now().UnixNano(), 10)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.sessionKey(sessionID), s.queueKey(sessionID))
		p.HSet(ctx, s.sessionKey(sessionID),
			fieldStatus, string(sessionstore.StatusInitializing),
			fieldCreatedAt, now,
			fieldLastMessageAt, now,
		)
		if s.expiration > 0 {
			p.PExpire(ctx, s.sessionKey(sessionID), s.expiration)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
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
		n, err := s.client.Exists(ctx, s.sessionKey(sessionID)).Result()
		if err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		if n == 0 {
			return sessionstore.ErrSessionNotFound
		}
		return s.Delete(ctx, sessionID)
	}

	ok, err := setStatusScript.Run(ctx, s.client, []string{s.sessionKey(sessionID)}, string(status)).Int()
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if ok == 0 {
		return sessionstore.ErrSessionNotFound
	}
	return nil
}

func (s *Store) Enqueue(ctx context.Context, sessionID string, msg []byte) error {
	if err := sessionstore.CheckID(sessionID); err != nil {
		return err
	}
	now := strconv.FormatInt(s.clock.Now().UnixNano(), 10)
	ok, err := enqueueScript.Run(ctx, s.client,
		[]string{s.sessionKey(sessionID), s.queueKey(sessionID)},
		msg, now,
	).Int()
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	if ok == 0 {
		return nil
	}
	if err := s.client.Publish(ctx, s.notifyKey(sessionID), "enqueue").Err(); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

func (s *Store) DequeueFirst(ctx context.Context, sessionID string) ([]byte, bool, error) {
	if err := sessionstore.CheckID(sessionID); err != nil {
		return nil, false, err
	}
	msg, err := s.client.LPop(ctx, s.queueKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("dequeue: %w", err)
	}
	return msg, true, nil
}

func (s *Store) TimeSinceLastMessage(ctx context.Context, sessionID string) (time.Duration, error) {
	if err := sessionstore.CheckID(sessionID); err != nil {
		return 0, err
	}
	raw, err := s.client.HGet(ctx, s.sessionKey(sessionID), fieldLastMessageAt).Result()
	if err == redis.Nil {
		return 0, sessionstore.ErrSessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("time since last message: %w", err)
	}
	last, err := parseNanos(raw)
	if err != nil {
		return 0, err
	}
	return s.clock.Since(last), nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*sessionstore.Session, error) {
	if err := sessionstore.CheckID(sessionID); err != nil {
		return nil, err
	}
	var (
		fields *redis.MapStringStringCmd
		qlen   *redis.IntCmd
	)
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		fields = p.HGetAll(ctx, s.sessionKey(sessionID))
		qlen = p.LLen(ctx, s.queueKey(sessionID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	m := fields.Val()
	if len(m) == 0 {
		return nil, sessionstore.ErrSessionNotFound
	}
	createdAt, err := parseNanos(m[fieldCreatedAt])
	if err != nil {
		return nil, err
	}
	lastAt, err := parseNanos(m[fieldLastMessageAt])
	if err != nil {
		return nil, err
	}
	return &sessionstore.Session{
		ID:            sessionID,
		Status:        sessionstore.Status(m[fieldStatus]),
		CreatedAt:     createdAt,
		LastMessageAt: lastAt,
		QueueLen:      int(qlen.Val()),
	}, nil
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := sessionstore.CheckID(sessionID); err != nil {
		return err
	}
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.sessionKey(sessionID), s.queueKey(sessionID))
		p.Publish(ctx, s.notifyKey(sessionID), "delete")
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) Watch(ctx context.Context, sessionID string) (<-chan struct{}, func(), error) {
	if err := sessionstore.CheckID(sessionID); err != nil {
		return nil, nil, err
	}
	sub := s.client.Subscribe(ctx, s.notifyKey(sessionID))
	// Wait for the subscription to be confirmed so that no publish issued
	// after Watch returns can be missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan struct{}, 1)
	done := make(chan struct{})
	msgs := sub.Channel()
	go func() {
		for {
			select {
			case <-done:
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, stop, nil
}

func parseNanos(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redisstore: corrupt timestamp %q: %w", raw, err)
	}
	return time.Unix(0, n), nil
}
