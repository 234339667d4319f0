package session

import (
	"sync"

	"github.com/google/uuid"
)

// Credential is the opaque bearer token issued after OTP verification,
// together with the privilege flag attached at issuance and the epoch of the
// session that produced it. The epoch changes whenever the session is reset,
// which lets late responses from a superseded session be recognized and
// dropped.
type Credential struct {
	Token   string
	IsAdmin bool
	Epoch   uuid.UUID
}

// Store holds the current credential for the life of a client session.
// It carries no business logic; the Machine performs every mutation, so a
// non-empty store implies the machine is in StateAuthorized.
type Store struct {
	mu   sync.RWMutex
	cred Credential
}

func NewStore() *Store {
	return &Store{}
}

// Get returns the current credential and whether one is held.
func (s *Store) Get() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.cred.Token != ""
}

// set and clear are unexported on purpose: only the Machine (same package)
// may mutate the store. The gateway's rejection path goes through
// Machine.Invalidate.
func (s *Store) set(c Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = c
}

func (s *Store) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = Credential{}
}
