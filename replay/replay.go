// Package replay tracks transaction hashes whose on-chain verification has
// already succeeded, making re-verification idempotent and ensuring at most
// one chain read per hash under concurrent requests.
//
// The store is in-memory only and retains records for the life of the
// process; it is a placeholder for a durable ledger.
package replay

import (
	"context"
	"sync"
	"time"
)

// Record is the outcome of the first successful verification of a hash.
// Records are written once and never updated.
type Record struct {
	Timestamp time.Time
	Amount    string
	From      string
}

// Status is the result of claiming a hash for verification.
type Status int

const (
	// StatusClaimed means the caller owns verification of this hash and
	// must finish with Commit or Release.
	StatusClaimed Status = iota
	// StatusHit means the hash was verified earlier; the record is returned.
	StatusHit
	// StatusInFlight means another caller is verifying this hash; wait on
	// the returned channel.
	StatusInFlight
)

// Store is the replay cache. The verifier is its single writer; any number
// of concurrent callers may read. Claiming is an atomic check-and-set so
// two concurrent verifications of one hash cannot both reach the chain.
type Store struct {
	mu       sync.Mutex
	records  map[string]Record
	inFlight map[string]chan struct{}
}

// NewStore creates an empty replay cache.
func NewStore() *Store {
	return &Store{
		records:  make(map[string]Record),
		inFlight: make(map[string]chan struct{}),
	}
}

// Begin atomically claims a hash for verification. On StatusHit the record
// is returned; on StatusInFlight the channel closes when the owning caller
// finishes; on StatusClaimed the caller must Commit or Release.
func (s *Store) Begin(hash string) (Status, Record, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[hash]; ok {
		return StatusHit, rec, nil
	}
	if done, ok := s.inFlight[hash]; ok {
		return StatusInFlight, Record{}, done
	}

	done := make(chan struct{})
	s.inFlight[hash] = done
	return StatusClaimed, Record{}, done
}

// Commit records a successful verification and releases the claim, waking
// any waiters. The record is complete before it becomes visible; readers
// never observe partial state.
func (s *Store) Commit(hash string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[hash] = rec
	if done, ok := s.inFlight[hash]; ok {
		delete(s.inFlight, hash)
		close(done)
	}
}

// Release abandons a claim without recording anything, so a failed
// verification can be retried. Waiters are woken and will re-claim.
func (s *Store) Release(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if done, ok := s.inFlight[hash]; ok {
		delete(s.inFlight, hash)
		close(done)
	}
}

// Wait blocks until an in-flight verification finishes or ctx expires.
func (s *Store) Wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryInsert records a verification outcome if the hash is absent, bypassing
// the claim protocol. Settlement uses it after confirming its own
// transaction. Reports whether the record was inserted.
func (s *Store) TryInsert(hash string, rec Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[hash]; ok {
		return false
	}
	s.records[hash] = rec
	return true
}

// Get returns the record for a hash, if present.
func (s *Store) Get(hash string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[hash]
	return rec, ok
}

// Has reports whether a hash has been verified.
func (s *Store) Has(hash string) bool {
	_, ok := s.Get(hash)
	return ok
}

// Len returns the number of recorded hashes.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
