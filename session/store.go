package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tbxark/visaflow/types"
)

// Store is the only component that creates or removes sessions.
// Update runs fn on a private copy while holding the session's lock; the copy
// replaces the stored session only when fn succeeds and the record is persisted.
type Store interface {
	Create(ctx context.Context, id string, handoff HandoffData) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error)
	Remove(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
}

type entry struct {
	session    *Session
	lastAccess time.Time
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// MemoryStore keeps live sessions in memory and hands every committed
// mutation to a RecordStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	locks   map[string]*keyLock

	records RecordStore
	ttl     time.Duration
	now     func() time.Time
	retry   func() backoff.BackOff
	logger  *slog.Logger
}

type StoreOption func(*MemoryStore)

func WithRecordStore(records RecordStore) StoreOption {
	return func(m *MemoryStore) {
		m.records = records
	}
}

// WithTTL evicts sessions idle for longer than ttl. Zero disables eviction.
func WithTTL(ttl time.Duration) StoreOption {
	return func(m *MemoryStore) {
		m.ttl = ttl
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

func WithRetry(policy func() backoff.BackOff) StoreOption {
	return func(m *MemoryStore) {
		m.retry = policy
	}
}

func WithLogger(logger *slog.Logger) StoreOption {
	return func(m *MemoryStore) {
		m.logger = logger
	}
}

func defaultRetry() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 5 * time.Second
	return backoff.WithMaxRetries(b, 4)
}

func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	m := &MemoryStore{
		entries: make(map[string]*entry),
		locks:   make(map[string]*keyLock),
		now:     time.Now,
		retry:   defaultRetry,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lock acquires the per-session lock. Waiters are served in arrival order.
func (m *MemoryStore) lock(ctx context.Context, id string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			m.release(id, l)
		}, nil
	case <-ctx.Done():
		m.release(id, l)
		return nil, ctx.Err()
	}
}

func (m *MemoryStore) release(id string, l *keyLock) {
	m.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, id)
	}
	m.mu.Unlock()
}

func (m *MemoryStore) Create(ctx context.Context, id string, handoff HandoffData) (*Session, error) {
	unlock, err := m.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrSessionAlreadyExists, id)
	}

	s := New(id, handoff, m.now())
	s.Revision = 1
	if err = m.persist(ctx, s); err != nil {
		return nil, err
	}
	m.put(s)
	m.logger.Debug("Created session", "session", id, "visa_type", handoff.VisaType)
	return s.Clone(), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrSessionNotFound, id)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Exists(ctx context.Context, id string) (bool, error) {
	s, err := m.load(ctx, id)
	if err != nil {
		return false, err
	}
	return s != nil, nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	unlock, err := m.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrSessionNotFound, id)
	}

	next := current.Clone()
	if err = fn(next); err != nil {
		return current.Clone(), err
	}
	next.Normalize()
	next.Revision = current.Revision + 1
	next.UpdatedAt = m.now()
	if err = m.persist(ctx, next); err != nil {
		return current.Clone(), err
	}
	m.put(next)
	return next.Clone(), nil
}

func (m *MemoryStore) Remove(ctx context.Context, id string) error {
	unlock, err := m.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	if m.records != nil {
		if err = m.records.Delete(ctx, id); err != nil {
			return fmt.Errorf("%w: %v", types.ErrPersistence, err)
		}
	}
	return nil
}

// Sweep evicts idle sessions and returns how many were dropped. Sessions that
// are locked are kept. Evicted sessions rehydrate from the record store on next access.
func (m *MemoryStore) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for id, e := range m.entries {
		if _, busy := m.locks[id]; busy {
			continue
		}
		if e.lastAccess.Before(cutoff) {
			delete(m.entries, id)
			evicted++
		}
	}
	if evicted > 0 {
		m.logger.Debug("Evicted idle sessions", "count", evicted)
	}
	return evicted
}

// Run sweeps every interval until ctx is done.
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Len reports the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryStore) put(s *Session) {
	m.mu.Lock()
	m.entries[s.ID] = &entry{session: s, lastAccess: m.now()}
	m.mu.Unlock()
}

// load returns the stored session without copying it, rehydrating on a miss.
func (m *MemoryStore) load(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	if e, ok := m.entries[id]; ok {
		e.lastAccess = m.now()
		m.mu.Unlock()
		return e.session, nil
	}
	m.mu.Unlock()

	if m.records == nil {
		return nil, nil
	}
	rec, ok, err := m.records.Latest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	if !ok {
		return nil, nil
	}
	s, err := rec.Session()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		return e.session, nil
	}
	m.entries[id] = &entry{session: s, lastAccess: m.now()}
	m.logger.Debug("Rehydrated session", "session", id, "revision", s.Revision)
	return s, nil
}

func (m *MemoryStore) persist(ctx context.Context, s *Session) error {
	if m.records == nil {
		return nil
	}
	rec, err := NewRecord(s)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		return m.records.Save(ctx, rec)
	}, backoff.WithContext(m.retry(), ctx))
	if err != nil {
		m.logger.Error("Failed to persist session", "session", s.ID, "stage", rec.StageID, "revision", rec.Revision, "attempts", attempt, "error", err)
		return fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	return nil
}
