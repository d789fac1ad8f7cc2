package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/tbxark/visaflow/types"
)

// Record is the persisted snapshot of a session, keyed by (SessionID, StageID).
type Record struct {
	SessionID string
	StageID   string
	Revision  int64
	Status    types.Status
	Snapshot  []byte
	SavedAt   time.Time
}

func NewRecord(s *Session) (Record, error) {
	snapshot, err := sonic.Marshal(s)
	if err != nil {
		return Record{}, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	stageID := s.StageID
	if stageID == "" {
		stageID = StageStart
	}
	return Record{
		SessionID: s.ID,
		StageID:   stageID,
		Revision:  s.Revision,
		Status:    s.Status,
		Snapshot:  snapshot,
		SavedAt:   s.UpdatedAt,
	}, nil
}

func (r Record) Session() (*Session, error) {
	var s Session
	if err := sonic.Unmarshal(r.Snapshot, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", r.SessionID, err)
	}
	s.Normalize()
	return &s, nil
}

// RecordStore is the external application-record store. Save must be idempotent:
// replaying a record whose revision is not newer than the stored one is a no-op.
type RecordStore interface {
	Save(ctx context.Context, rec Record) error
	Latest(ctx context.Context, sessionID string) (Record, bool, error)
	Delete(ctx context.Context, sessionID string) error
}

// MemoryRecordStore keeps records in process memory under a namespace.
type MemoryRecordStore struct {
	mu        sync.RWMutex
	namespace string
	records   map[string]Record
	latest    map[string]string
}

func NewMemoryRecordStore(namespace string) *MemoryRecordStore {
	return &MemoryRecordStore{
		namespace: namespace,
		records:   make(map[string]Record),
		latest:    make(map[string]string),
	}
}

func (m *MemoryRecordStore) key(sessionID, stageID string) string {
	return m.namespace + ":" + sessionID + ":" + stageID
}

func (m *MemoryRecordStore) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := m.key(rec.SessionID, rec.StageID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.records[key]; ok && prev.Revision >= rec.Revision {
		return nil
	}
	m.records[key] = rec
	if latestKey, ok := m.latest[rec.SessionID]; !ok || m.records[latestKey].Revision < rec.Revision {
		m.latest[rec.SessionID] = key
	}
	return nil
}

func (m *MemoryRecordStore) Latest(ctx context.Context, sessionID string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.latest[sessionID]
	if !ok {
		return Record{}, false, nil
	}
	return m.records[key], true, nil
}

// Records lists every stage record of a session.
func (m *MemoryRecordStore) Records(sessionID string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := m.key(sessionID, "")
	var out []Record
	for key, rec := range m.records {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, rec)
		}
	}
	return out
}

func (m *MemoryRecordStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, rec := range m.records {
		if rec.SessionID == sessionID {
			delete(m.records, key)
		}
	}
	delete(m.latest, sessionID)
	return nil
}
