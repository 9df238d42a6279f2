// Package session owns the console's single session: who is signed in and
// whether that is still being determined.
//
// The Store is an explicit object handed to the token manager, the graph and
// the bootstrapper; nothing here is global. Observers Subscribe and are told
// synchronously about every change.
package session

import (
	"sync"
)

// State is an immutable snapshot of the Store
type State struct {
	User      *User
	IsLoading bool
}

// Authenticated reports whether a user is present
func (s State) Authenticated() bool {
	return s.User != nil
}

// IsAdmin derives from the user's role names
func (s State) IsAdmin() bool {
	return s.User.IsAdmin()
}

// IsSuperAdmin derives from the user's role names
func (s State) IsSuperAdmin() bool {
	return s.User.IsSuperAdmin()
}

// Listener receives the state after each change
type Listener func(State)

// Store holds {user, isLoading}
type Store struct {
	mu        sync.Mutex
	user      *User
	loading   bool
	nextID    uint64
	listeners []subscription
}

type subscription struct {
	id uint64
	fn Listener
}

// NewStore returns an empty store
func NewStore() *Store {
	return &Store{}
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	return State{User: s.user.clone(), IsLoading: s.loading}
}

// User returns a copy of the signed-in user, or nil
func (s *Store) User() *User {
	return s.Snapshot().User
}

// IsLoading reports whether the session is being determined
func (s *Store) IsLoading() bool {
	return s.Snapshot().IsLoading
}

// IsAdmin reports the current user's admin flag
func (s *Store) IsAdmin() bool {
	return s.Snapshot().IsAdmin()
}

// IsSuperAdmin reports the current user's super admin flag
func (s *Store) IsSuperAdmin() bool {
	return s.Snapshot().IsSuperAdmin()
}

// SetUser replaces the user; nil clears it
func (s *Store) SetUser(u *User) {
	s.update(func() {
		s.user = u.clone()
	})
}

// SetLoading flips the loading flag
func (s *Store) SetLoading(loading bool) {
	s.update(func() {
		s.loading = loading
	})
}

// Clear removes the user and the loading flag
func (s *Store) Clear() {
	s.update(func() {
		s.user = nil
		s.loading = false
	})
}

// Subscribe registers fn and returns a function that removes it
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, subscription{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.listeners {
				if sub.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// update applies change and notifies listeners outside the lock, in
// subscription order
func (s *Store) update(change func()) {
	s.mu.Lock()
	change()
	state := s.snapshotLocked()
	listeners := make([]Listener, len(s.listeners))
	for i, sub := range s.listeners {
		listeners[i] = sub.fn
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}
