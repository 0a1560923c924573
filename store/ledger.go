package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/tonbridge/relay/relay"
)

var (
	bucketEvents     = []byte("events")
	bucketStateIndex = []byte("state_index")
	bucketWatermarks = []byte("watermarks")

	ErrEventNotFound     = errors.New("event not found")
	ErrInvalidTransition = errors.New("invalid event state transition")
	ErrIdentityMutated   = errors.New("event identity fields are immutable")
	ErrNotRetryable      = errors.New("event is not retryable")
)

// IOError marks a ledger failure caused by the underlying storage. The
// ledger is the correctness backbone, so callers must treat it as fatal to
// the process rather than retry over a possibly inconsistent store. The
// type lives in the relay package so pipeline stages can classify ledger
// errors without importing store.
type IOError = relay.IOError

func IsIOFailure(err error) bool {
	return relay.IsIOFailure(err)
}

// asLedgerError classifies a transaction error. Domain sentinels pass through
// untouched; anything else came from the storage layer itself (a closed or
// broken database, a failed commit) and is fatal to the process.
func asLedgerError(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrEventNotFound, ErrInvalidTransition, ErrIdentityMutated, ErrNotRetryable} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	if IsIOFailure(err) {
		return err
	}
	return &IOError{Err: err}
}

// Ledger is the crash-durable event store backing the whole relay pipeline.
// Every entry is a JSON-encoded BridgeEvent keyed by its event ID, with a
// secondary state index maintained in the same transaction so that
// ScanByState never observes an entry under a stale state.
type Ledger struct {
	db *bolt.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLedger(path string) (*Ledger, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, &IOError{Err: err}
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketEvents, bucketStateIndex, bucketWatermarks} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, &IOError{Err: err}
	}
	return &Ledger{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) keyLock(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

func (l *Ledger) Get(id string) (*relay.BridgeEvent, error) {
	var ev relay.BridgeEvent
	err := l.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketEvents).Get([]byte(id))
		if raw == nil {
			return ErrEventNotFound
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			return &IOError{Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, asLedgerError(err)
	}
	return &ev, nil
}

// InsertIfAbsent writes a newly detected event unless an entry with the same
// ID already exists. Re-delivered raw events therefore collapse into a
// single ledger entry no matter how often the transport repeats them.
func (l *Ledger) InsertIfAbsent(ev *relay.BridgeEvent) (bool, error) {
	lock := l.keyLock(ev.EventID)
	lock.Lock()
	defer lock.Unlock()

	inserted := false
	err := l.db.Update(func(tx *bolt.Tx) error {
		events := tx.Bucket(bucketEvents)
		if events.Get([]byte(ev.EventID)) != nil {
			return nil
		}
		raw, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := events.Put([]byte(ev.EventID), raw); err != nil {
			return err
		}
		if err := tx.Bucket(bucketStateIndex).Put(stateKey(ev.State, ev.EventID), nil); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, &IOError{Err: err}
	}
	return inserted, nil
}

// Update performs an atomic read-modify-write of a single event. The
// mutation callback receives the current entry and may change state and the
// fields that state transitions legitimately add; identity fields must stay
// untouched and state may only move forward. Mutations for the same event
// are serialized, different events proceed independently.
func (l *Ledger) Update(id string, fn func(ev *relay.BridgeEvent) error) error {
	lock := l.keyLock(id)
	lock.Lock()
	defer lock.Unlock()

	var fnErr error
	err := l.db.Update(func(tx *bolt.Tx) error {
		events := tx.Bucket(bucketEvents)
		raw := events.Get([]byte(id))
		if raw == nil {
			return ErrEventNotFound
		}
		var ev relay.BridgeEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return &IOError{Err: err}
		}

		prev := ev
		if err := fn(&ev); err != nil {
			fnErr = err
			return err
		}

		if ev.EventID != prev.EventID ||
			ev.SourceChain != prev.SourceChain ||
			ev.DestinationChain != prev.DestinationChain ||
			ev.WatchAddress != prev.WatchAddress ||
			!bytes.Equal(ev.SourceTxHash, prev.SourceTxHash) ||
			ev.LogIndex != prev.LogIndex ||
			ev.SourceHeight != prev.SourceHeight {
			return ErrIdentityMutated
		}
		if ev.State != prev.State && !relay.CanTransition(prev.State, ev.State) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.State, ev.State)
		}

		return l.put(tx, &ev, prev.State)
	})
	if fnErr != nil {
		return fnErr
	}
	return asLedgerError(err)
}

// RetryFailed is the operator-triggered recovery path. It moves a Failed
// event that still carries its attestation back to Signed and refreshes the
// retry budget. Any other state is rejected.
func (l *Ledger) RetryFailed(id string) error {
	lock := l.keyLock(id)
	lock.Lock()
	defer lock.Unlock()

	return asLedgerError(l.db.Update(func(tx *bolt.Tx) error {
		events := tx.Bucket(bucketEvents)
		raw := events.Get([]byte(id))
		if raw == nil {
			return ErrEventNotFound
		}
		var ev relay.BridgeEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return &IOError{Err: err}
		}
		if ev.State != relay.StateFailed || ev.Attestation == nil {
			return ErrNotRetryable
		}

		prevState := ev.State
		ev.State = relay.StateSigned
		ev.FailureReason = ""
		ev.AttemptCount = 0
		return l.put(tx, &ev, prevState)
	}))
}

// Delete removes an event entirely. Used only by the retention sweep on
// Finalized entries; in-flight events are never deleted.
func (l *Ledger) Delete(id string) error {
	lock := l.keyLock(id)
	lock.Lock()
	defer lock.Unlock()

	err := l.db.Update(func(tx *bolt.Tx) error {
		events := tx.Bucket(bucketEvents)
		raw := events.Get([]byte(id))
		if raw == nil {
			return nil
		}
		var ev relay.BridgeEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		if err := tx.Bucket(bucketStateIndex).Delete(stateKey(ev.State, id)); err != nil {
			return err
		}
		return events.Delete([]byte(id))
	})
	if err != nil {
		return &IOError{Err: err}
	}

	l.mu.Lock()
	delete(l.locks, id)
	l.mu.Unlock()
	return nil
}

// ScanByState returns every event currently in the given state. Pipeline
// stages use it to resume work from cold storage after a restart.
func (l *Ledger) ScanByState(state relay.EventState) ([]*relay.BridgeEvent, error) {
	events := make([]*relay.BridgeEvent, 0)
	err := l.db.View(func(tx *bolt.Tx) error {
		index := tx.Bucket(bucketStateIndex).Cursor()
		entries := tx.Bucket(bucketEvents)
		prefix := statePrefix(state)
		for k, _ := index.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = index.Next() {
			id := k[len(prefix):]
			raw := entries.Get(id)
			if raw == nil {
				continue
			}
			var ev relay.BridgeEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				return err
			}
			events = append(events, &ev)
		}
		return nil
	})
	if err != nil {
		return nil, &IOError{Err: err}
	}
	return events, nil
}

func (l *Ledger) put(tx *bolt.Tx, ev *relay.BridgeEvent, prevState relay.EventState) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return &IOError{Err: err}
	}
	if err := tx.Bucket(bucketEvents).Put([]byte(ev.EventID), raw); err != nil {
		return &IOError{Err: err}
	}
	index := tx.Bucket(bucketStateIndex)
	if prevState != ev.State {
		if err := index.Delete(stateKey(prevState, ev.EventID)); err != nil {
			return &IOError{Err: err}
		}
	}
	if err := index.Put(stateKey(ev.State, ev.EventID), nil); err != nil {
		return &IOError{Err: err}
	}
	return nil
}

func statePrefix(state relay.EventState) []byte {
	return append([]byte(state), 0x00)
}

func stateKey(state relay.EventState, id string) []byte {
	return append(statePrefix(state), []byte(id)...)
}
