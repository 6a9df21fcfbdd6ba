package state

import (
	"encoding/json"
	"fmt"
	"time"
)

// KindLock is the resource kind for persisted lock snapshots.
const KindLock = "lock"

// LockRecord is what survives a restart for one lock.
type LockRecord struct {
	Entity     string    `json:"entity"`
	LastStable string    `json:"last_stable,omitempty"`
	Visual     string    `json:"visual,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LockStore persists LockRecords keyed by lock id.
type LockStore struct {
	store *Store
}

// NewLockStore creates the lock snapshot store.
func NewLockStore(store *Store) *LockStore {
	return &LockStore{store: store}
}

// Get returns the record for a lock. ok is false if none is stored.
func (s *LockStore) Get(id string) (rec LockRecord, ok bool, err error) {
	payload, _, err := s.store.Get(KindLock, id)
	if err != nil || payload == nil {
		return rec, false, err
	}
	if err := json.Unmarshal(payload, &rec); err != nil {
		return rec, false, fmt.Errorf("lock %s: failed to unmarshal record: %w", id, err)
	}
	return rec, true, nil
}

// Save stores the record for a lock.
func (s *LockStore) Save(id string, rec LockRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("lock %s: failed to marshal record: %w", id, err)
	}
	return s.store.Set(KindLock, id, payload)
}

// Update applies modify to the stored record, or to the zero record if none exists.
func (s *LockStore) Update(id string, modify func(rec LockRecord) LockRecord) error {
	rec, _, err := s.Get(id)
	if err != nil {
		return err
	}
	return s.Save(id, modify(rec))
}

// All returns every stored record. Undecodable records are skipped.
func (s *LockStore) All() (map[string]LockRecord, error) {
	payloads, _, err := s.store.GetAll(KindLock)
	if err != nil {
		return nil, err
	}

	records := make(map[string]LockRecord, len(payloads))
	for id, payload := range payloads {
		var rec LockRecord
		if json.Unmarshal(payload, &rec) != nil {
			continue
		}
		records[id] = rec
	}
	return records, nil
}

// Clear removes every lock record.
func (s *LockStore) Clear() (int64, error) {
	return s.store.Clear(KindLock)
}
