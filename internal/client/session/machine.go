package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cryptexdrive/cryptexdrive/internal/client/api"
	"github.com/cryptexdrive/cryptexdrive/internal/client/repositories/metadata"
	"github.com/cryptexdrive/cryptexdrive/internal/logging"
)

// Metadata keys under which the session survives restarts. Cleared on
// logout and on any authorization rejection.
const (
	metaKeyUsername   = "username"
	metaKeyCredential = "credential"
	metaKeyIsAdmin    = "is_admin"
)

// Machine drives the authentication flow:
//
//	unauthenticated --SubmitPassword--> password-verified
//	password-verified --RequestOTP----> otp-pending
//	otp-pending --RequestOTP----------> otp-pending        (re-issue)
//	otp-pending --VerifyOTP(ok)-------> authorized         (credential written)
//	otp-pending --VerifyOTP(fail)-----> otp-pending
//	authorized --Logout / rejection---> unauthenticated    (credential cleared)
//
// Transitions are serialized by an internal mutex; network-bound operations
// additionally hold a single in-flight slot so a double-clicked "verify"
// cannot race itself. Logout bypasses the slot: it must work even while a
// transfer is running.
type Machine struct {
	mu       sync.Mutex
	state    State
	username string
	epoch    uuid.UUID

	inFlight atomic.Bool

	api   api.Client
	store *Store
	meta  metadata.Repository
	log   logging.Logger
}

// NewMachine builds a machine starting in StateUnauthenticated. meta may be
// nil, in which case sessions do not survive restarts.
func NewMachine(client api.Client, store *Store, meta metadata.Repository, log logging.Logger) *Machine {
	return &Machine{
		state: StateUnauthenticated,
		epoch: uuid.New(),
		api:   client,
		store: store,
		meta:  meta,
		log:   log,
	}
}

// State returns the current machine state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Username returns the username the current flow is bound to. Empty when
// unauthenticated.
func (m *Machine) Username() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.username
}

// Store exposes the credential store for read-only consumers (the gateway).
func (m *Machine) Store() *Store {
	return m.store
}

// begin claims the single in-flight slot for an authentication operation.
func (m *Machine) begin() error {
	if !m.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (m *Machine) end() {
	m.inFlight.Store(false)
}

// Register forwards a registration request. It never changes session state:
// a freshly registered user still has to log in.
func (m *Machine) Register(ctx context.Context, username, password, email string) error {
	if strings.TrimSpace(username) == "" || password == "" || strings.TrimSpace(email) == "" {
		return fmt.Errorf("%w: username, password and email are required", api.ErrValidation)
	}
	return m.api.Register(ctx, username, password, email)
}

// SubmitPassword performs the first authentication factor. Valid only from
// StateUnauthenticated. The server's acceptance moves the machine to
// StatePasswordVerified; any error leaves it where it was.
func (m *Machine) SubmitPassword(ctx context.Context, username, password string) error {
	if err := m.begin(); err != nil {
		return err
	}
	defer m.end()

	m.mu.Lock()
	if m.state != StateUnauthenticated {
		m.mu.Unlock()
		return fmt.Errorf("%w: password submission requires %s state, currently %s",
			ErrInvalidState, StateUnauthenticated, m.state)
	}
	epoch := m.epoch
	m.mu.Unlock()

	if err := m.api.Login(ctx, username, password); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		// The session was reset while the call was in flight; the stale
		// acceptance must not resurrect it.
		return api.ErrSessionExpired
	}
	m.state = StatePasswordVerified
	m.username = username
	m.log.Debug(ctx, "password accepted", "user", username)
	return nil
}

// RequestOTP asks the backend to deliver a one-time code out-of-band. Valid
// after the password has been verified; repeat calls re-issue the code. A
// throttling response is recoverable: a code is already outstanding, so the
// machine still moves to (or stays in) StateOtpPending.
func (m *Machine) RequestOTP(ctx context.Context, email string) error {
	if err := m.begin(); err != nil {
		return err
	}
	defer m.end()

	m.mu.Lock()
	if m.state != StatePasswordVerified && m.state != StateOtpPending {
		m.mu.Unlock()
		return fmt.Errorf("%w: OTP can only be requested after password verification", ErrInvalidState)
	}
	epoch := m.epoch
	m.mu.Unlock()

	err := m.api.SendOTP(ctx, email)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return api.ErrSessionExpired
	}

	if err != nil {
		if errors.Is(err, api.ErrThrottled) {
			m.state = StateOtpPending
			m.log.Warn(ctx, "otp request throttled", "user", m.username)
		}
		return err
	}

	m.state = StateOtpPending
	m.log.Debug(ctx, "otp requested", "user", m.username)
	return nil
}

// VerifyOTP performs the second factor. Valid only in StateOtpPending. On
// success the credential and privilege flag are written to the store exactly
// once and the machine becomes StateAuthorized; a wrong or expired code
// leaves the machine in StateOtpPending so the user can retry.
func (m *Machine) VerifyOTP(ctx context.Context, otp string) error {
	if err := m.begin(); err != nil {
		return err
	}
	defer m.end()

	m.mu.Lock()
	if m.state != StateOtpPending {
		m.mu.Unlock()
		return fmt.Errorf("%w: no OTP is pending verification", ErrInvalidState)
	}
	username := m.username
	epoch := m.epoch
	m.mu.Unlock()

	grant, err := m.api.VerifyOTP(ctx, username, otp)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return api.ErrSessionExpired
	}

	newEpoch := uuid.New()
	m.epoch = newEpoch
	m.state = StateAuthorized
	m.store.set(Credential{Token: grant.DynamicID, IsAdmin: grant.IsAdmin, Epoch: newEpoch})
	m.persist(ctx, username, grant.DynamicID, grant.IsAdmin)
	m.log.Info(ctx, "session authorized", "user", username, "admin", grant.IsAdmin)
	return nil
}

// Logout always succeeds locally: the credential is cleared and the machine
// returns to StateUnauthenticated no matter what the server says. The
// server-side revoke is best effort.
func (m *Machine) Logout(ctx context.Context) {
	m.mu.Lock()
	cred, held := m.store.Get()
	m.reset(ctx)
	m.mu.Unlock()

	if held {
		if err := m.api.Logout(ctx, cred.Token); err != nil {
			m.log.Warn(ctx, "server-side revoke failed", "err", err)
		}
	}
	m.log.Info(ctx, "logged out")
}

// Invalidate is the gateway's rejection path: a secured call came back
// unauthorized, so the session identified by epoch is dead. A mismatched
// epoch means the rejection belongs to an already-superseded session and is
// ignored.
func (m *Machine) Invalidate(ctx context.Context, epoch uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return
	}
	m.reset(ctx)
	m.log.Warn(ctx, "session invalidated by server rejection")
}

// reset clears every trace of the session. Callers hold m.mu.
func (m *Machine) reset(ctx context.Context) {
	m.state = StateUnauthenticated
	m.username = ""
	m.epoch = uuid.New()
	m.store.clear()
	if m.meta != nil {
		if err := m.meta.Clear(ctx); err != nil {
			m.log.Warn(ctx, "clearing persisted session failed", "err", err)
		}
	}
}

// RestoreSession is invoked at startup. A persisted credential is never
// trusted blindly: the machine probes a protected endpoint first and
// re-derives the privilege flag from the probe response. A rejection cleans
// up like a logout; a transport failure leaves the persisted session in
// place for the next start and reports the error.
func (m *Machine) RestoreSession(ctx context.Context) (State, error) {
	if err := m.begin(); err != nil {
		return StateUnauthenticated, err
	}
	defer m.end()

	m.mu.Lock()
	if m.state != StateUnauthenticated {
		m.mu.Unlock()
		return m.state, fmt.Errorf("%w: restore is only valid at startup", ErrInvalidState)
	}
	m.mu.Unlock()

	if m.meta == nil {
		return StateUnauthenticated, nil
	}

	token, err := m.meta.Get(ctx, metaKeyCredential)
	if err != nil {
		return StateUnauthenticated, fmt.Errorf("loading persisted session: %w", err)
	}
	if len(token) == 0 {
		return StateUnauthenticated, nil
	}

	who, err := m.api.Probe(ctx, string(token))
	if err != nil {
		if errors.Is(err, api.ErrUnavailable) {
			return StateUnauthenticated, fmt.Errorf("session probe: %w", err)
		}
		// The stored credential is dead; clean up like a logout.
		m.mu.Lock()
		m.reset(ctx)
		m.mu.Unlock()
		return StateUnauthenticated, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	newEpoch := uuid.New()
	m.epoch = newEpoch
	m.state = StateAuthorized
	m.username = who.User
	m.store.set(Credential{Token: string(token), IsAdmin: who.IsAdmin, Epoch: newEpoch})
	m.persist(ctx, who.User, string(token), who.IsAdmin)
	m.log.Info(ctx, "session restored", "user", who.User, "admin", who.IsAdmin)
	return StateAuthorized, nil
}

// persist writes the session to the metadata store, best effort. Callers
// hold m.mu.
func (m *Machine) persist(ctx context.Context, username, token string, isAdmin bool) {
	if m.meta == nil {
		return
	}
	flag := []byte("0")
	if isAdmin {
		flag = []byte("1")
	}
	for key, value := range map[string][]byte{
		metaKeyUsername:   []byte(username),
		metaKeyCredential: []byte(token),
		metaKeyIsAdmin:    flag,
	} {
		if err := m.meta.Set(ctx, key, value); err != nil {
			m.log.Warn(ctx, "persisting session failed", "key", key, "err", err)
			return
		}
	}
}
