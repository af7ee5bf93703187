// Package memory provides an in-process progression store. It is the default
// driver for the CLI and the store used by handler tests.
package memory

import (
	"context"
	"sync"

	"github.com/redmansion/progression-engine/internal/domain/progression"
	"github.com/redmansion/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

type guardID struct {
	source   progression.Source
	sourceID string
}

// userState is everything the store holds for one user.
type userState struct {
	profile *progression.Profile
	guards  map[guardID]progression.GuardRecord
}

func (u *userState) clone() *userState {
	out := &userState{
		profile: u.profile.Clone(),
		guards:  make(map[guardID]progression.GuardRecord, len(u.guards)),
	}
	for k, v := range u.guards {
		out.guards[k] = v
	}
	return out
}

func (u *userState) empty() bool {
	return u.profile == nil && len(u.guards) == 0
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store keeps state in maps guarded by one mutex. A transaction works on
// copies of the users it touches and swaps them in only when fn succeeds.
type Store struct {
	mu    sync.RWMutex
	users map[string]*userState
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{users: make(map[string]*userState)}
}

var _ progression.Store = (*Store)(nil)

// RunInTransaction implements progression.Store. Transactions are serialized
// store-wide.
func (s *Store) RunInTransaction(ctx context.Context, userID string, fn func(tx progression.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return shared.PersistenceError("RunInTransaction", "context done before start", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{store: s, touched: make(map[string]*userState)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return shared.PersistenceError("RunInTransaction", "context done before commit", err)
	}

	for id, st := range tx.touched {
		if st.empty() {
			delete(s.users, id)
			continue
		}
		s.users[id] = st
	}
	return nil
}

// GetProfile implements progression.Store.
func (s *Store) GetProfile(ctx context.Context, userID string) (*progression.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.PersistenceError("GetProfile", "context done", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.users[userID]
	if !ok || st.profile == nil {
		return nil, shared.ErrProfileNotFound
	}
	return st.profile.Clone(), nil
}

// GuardCount returns the committed guard count of a user.
func (s *Store) GuardCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.users[userID]; ok {
		return len(st.guards)
	}
	return 0
}

// UserCount returns how many users have any committed state.
func (s *Store) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION
// ══════════════════════════════════════════════════════════════════════════════

type transaction struct {
	store   *Store
	touched map[string]*userState
}

// user returns the transaction's private copy of a user's state.
func (tx *transaction) user(userID string) *userState {
	if st, ok := tx.touched[userID]; ok {
		return st
	}
	var st *userState
	if committed, ok := tx.store.users[userID]; ok {
		st = committed.clone()
	} else {
		st = &userState{guards: make(map[guardID]progression.GuardRecord)}
	}
	tx.touched[userID] = st
	return st
}

func (tx *transaction) GetProfile(_ context.Context, userID string) (*progression.Profile, error) {
	st := tx.user(userID)
	if st.profile == nil {
		return nil, shared.ErrProfileNotFound
	}
	return st.profile.Clone(), nil
}

func (tx *transaction) SaveProfile(_ context.Context, profile *progression.Profile) error {
	if profile == nil || profile.UserID == "" {
		return shared.ErrInvalidUserID
	}
	tx.user(profile.UserID).profile = profile.Clone()
	return nil
}

func (tx *transaction) DeleteProfile(_ context.Context, userID string) (bool, error) {
	st := tx.user(userID)
	existed := st.profile != nil
	st.profile = nil
	return existed, nil
}

func (tx *transaction) ClaimGuard(_ context.Context, record progression.GuardRecord) (bool, error) {
	if record.Key.UserID == "" || record.Key.Source == "" {
		return false, shared.ErrGuardKeyRequired
	}
	st := tx.user(record.Key.UserID)
	id := guardID{source: record.Key.Source, sourceID: record.Key.SourceID}
	if _, exists := st.guards[id]; exists {
		return false, nil
	}
	st.guards[id] = record
	return true, nil
}

func (tx *transaction) ReleaseGuards(_ context.Context, userID string) (int, error) {
	st := tx.user(userID)
	n := len(st.guards)
	st.guards = make(map[guardID]progression.GuardRecord)
	return n, nil
}

func (tx *transaction) CountGuards(_ context.Context, userID string) (int, error) {
	return len(tx.user(userID).guards), nil
}
