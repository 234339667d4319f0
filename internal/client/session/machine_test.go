package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptexdrive/cryptexdrive/internal/client/api"
	"github.com/cryptexdrive/cryptexdrive/internal/logging"
)

// ---- fakes ----

// fakeAPI implements api.Client for machine tests.
type fakeAPI struct {
	RegisterErr error

	LoginErr   error
	LoginCalls int

	SendOTPErr error

	VerifyGrant *fakeGrant
	VerifyErr   error
	// when set, VerifyOTP blocks until released (for concurrency tests)
	VerifyStarted chan struct{}
	VerifyRelease chan struct{}

	ProbeWho *api.WhoAmI
	ProbeErr error

	LogoutErr    error
	LogoutTokens []string
}

type fakeGrant struct {
	Token   string
	IsAdmin bool
}

func (f *fakeAPI) Register(ctx context.Context, username, password, email string) error {
	return f.RegisterErr
}

func (f *fakeAPI) Login(ctx context.Context, username, password string) error {
	f.LoginCalls++
	return f.LoginErr
}

func (f *fakeAPI) SendOTP(ctx context.Context, email string) error { return f.SendOTPErr }

func (f *fakeAPI) VerifyOTP(ctx context.Context, username, otp string) (*api.Grant, error) {
	if f.VerifyStarted != nil {
		close(f.VerifyStarted)
		f.VerifyStarted = nil
		<-f.VerifyRelease
	}
	if f.VerifyErr != nil {
		return nil, f.VerifyErr
	}
	return &api.Grant{DynamicID: f.VerifyGrant.Token, IsAdmin: f.VerifyGrant.IsAdmin}, nil
}

func (f *fakeAPI) Probe(ctx context.Context, token string) (*api.WhoAmI, error) {
	if f.ProbeErr != nil {
		return nil, f.ProbeErr
	}
	return f.ProbeWho, nil
}

func (f *fakeAPI) ListFiles(ctx context.Context, token string) ([]string, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAPI) Upload(ctx context.Context, token, name string, payload []byte) (*api.UploadResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAPI) Download(ctx context.Context, token, name string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAPI) Logout(ctx context.Context, token string) error {
	f.LogoutTokens = append(f.LogoutTokens, token)
	return f.LogoutErr
}

// fakeMeta is an in-memory metadata repository.
type fakeMeta struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{data: map[string][]byte{}}
}

func (f *fakeMeta) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[key], nil
}

func (f *fakeMeta) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = append([]byte(nil), value...)
	return nil
}

func (f *fakeMeta) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeMeta) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = map[string][]byte{}
	return nil
}

// ---- helpers ----

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newMachine(fc *fakeAPI, meta *fakeMeta) *Machine {
	if meta == nil {
		return NewMachine(fc, NewStore(), nil, testLogger())
	}
	return NewMachine(fc, NewStore(), meta, testLogger())
}

// requireInvariant checks that a credential is held iff the machine is
// authorized.
func requireInvariant(t *testing.T, m *Machine) {
	t.Helper()
	_, held := m.Store().Get()
	require.Equal(t, m.State() == StateAuthorized, held,
		"credential held (%v) must match state==authorized (state=%s)", held, m.State())
}

// authorize drives the machine through the full happy path.
func authorize(t *testing.T, m *Machine, fc *fakeAPI) {
	t.Helper()
	ctx := context.Background()
	fc.VerifyGrant = &fakeGrant{Token: "tok-1"}
	require.NoError(t, m.SubmitPassword(ctx, "alice", "pw1"))
	require.NoError(t, m.RequestOTP(ctx, "a@x.com"))
	require.NoError(t, m.VerifyOTP(ctx, "123456"))
}

// ---- tests ----

func TestFullFlow_HappyPath(t *testing.T) {
	fc := &fakeAPI{VerifyGrant: &fakeGrant{Token: "tok-1", IsAdmin: false}}
	meta := newFakeMeta()
	m := newMachine(fc, meta)
	ctx := context.Background()

	require.Equal(t, StateUnauthenticated, m.State())
	requireInvariant(t, m)

	require.NoError(t, m.Register(ctx, "alice", "pw1", "a@x.com"))
	assert.Equal(t, StateUnauthenticated, m.State(), "registration must not change state")

	require.NoError(t, m.SubmitPassword(ctx, "alice", "pw1"))
	assert.Equal(t, StatePasswordVerified, m.State())
	requireInvariant(t, m)

	require.NoError(t, m.RequestOTP(ctx, "a@x.com"))
	assert.Equal(t, StateOtpPending, m.State())
	requireInvariant(t, m)

	// wrong code: stays pending, nothing written
	fc.VerifyErr = &api.ServerError{StatusCode: http.StatusUnauthorized, Message: "invalid otp"}
	err := m.VerifyOTP(ctx, "000000")
	var serr *api.ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StateOtpPending, m.State())
	requireInvariant(t, m)

	// correct code
	fc.VerifyErr = nil
	require.NoError(t, m.VerifyOTP(ctx, "123456"))
	assert.Equal(t, StateAuthorized, m.State())
	requireInvariant(t, m)

	cred, held := m.Store().Get()
	require.True(t, held)
	assert.Equal(t, "tok-1", cred.Token)

	// session persisted
	v, _ := meta.Get(ctx, metaKeyCredential)
	assert.Equal(t, []byte("tok-1"), v)
	v, _ = meta.Get(ctx, metaKeyUsername)
	assert.Equal(t, []byte("alice"), v)
}

func TestRegister_ValidatesInput(t *testing.T) {
	m := newMachine(&fakeAPI{}, nil)
	ctx := context.Background()

	require.ErrorIs(t, m.Register(ctx, "", "pw", "a@x.com"), api.ErrValidation)
	require.ErrorIs(t, m.Register(ctx, "alice", "", "a@x.com"), api.ErrValidation)
	require.ErrorIs(t, m.Register(ctx, "alice", "pw", " "), api.ErrValidation)
}

func TestSubmitPassword_Guards(t *testing.T) {
	fc := &fakeAPI{}
	m := newMachine(fc, nil)
	ctx := context.Background()

	require.NoError(t, m.SubmitPassword(ctx, "alice", "pw1"))

	// not valid a second time
	err := m.SubmitPassword(ctx, "alice", "pw1")
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StatePasswordVerified, m.State())
}

func TestSubmitPassword_RejectionKeepsState(t *testing.T) {
	fc := &fakeAPI{LoginErr: &api.ServerError{StatusCode: http.StatusUnauthorized, Message: "invalid credentials"}}
	m := newMachine(fc, nil)
	ctx := context.Background()

	err := m.SubmitPassword(ctx, "alice", "wrong")
	require.Error(t, err)
	assert.Equal(t, StateUnauthenticated, m.State())
	requireInvariant(t, m)
}

func TestRequestOTP_Guards(t *testing.T) {
	m := newMachine(&fakeAPI{}, nil)
	ctx := context.Background()

	err := m.RequestOTP(ctx, "a@x.com")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestRequestOTP_ReissueAllowed(t *testing.T) {
	fc := &fakeAPI{}
	m := newMachine(fc, nil)
	ctx := context.Background()

	require.NoError(t, m.SubmitPassword(ctx, "alice", "pw1"))
	require.NoError(t, m.RequestOTP(ctx, "a@x.com"))
	require.NoError(t, m.RequestOTP(ctx, "a@x.com"))
	assert.Equal(t, StateOtpPending, m.State())
}

func TestRequestOTP_ThrottlingIsNotFatal(t *testing.T) {
	fc := &fakeAPI{}
	m := newMachine(fc, nil)
	ctx := context.Background()

	require.NoError(t, m.SubmitPassword(ctx, "alice", "pw1"))
	require.NoError(t, m.RequestOTP(ctx, "a@x.com"))

	fc.SendOTPErr = &api.ServerError{StatusCode: http.StatusTooManyRequests, Message: "wait before requesting otp"}
	err := m.RequestOTP(ctx, "a@x.com")
	require.ErrorIs(t, err, api.ErrThrottled)
	assert.Equal(t, StateOtpPending, m.State(), "throttling must keep the machine pending")
	requireInvariant(t, m)
}

func TestVerifyOTP_RequiresPending(t *testing.T) {
	m := newMachine(&fakeAPI{}, nil)
	err := m.VerifyOTP(context.Background(), "123456")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestLogout_AlwaysClearsLocally(t *testing.T) {
	fc := &fakeAPI{}
	meta := newFakeMeta()
	m := newMachine(fc, meta)
	ctx := context.Background()

	authorize(t, m, fc)

	// even when the server-side revoke fails
	fc.LogoutErr = errors.New("network down")
	m.Logout(ctx)

	assert.Equal(t, StateUnauthenticated, m.State())
	requireInvariant(t, m)
	assert.Equal(t, []string{"tok-1"}, fc.LogoutTokens, "revoke attempted with the held token")

	v, _ := meta.Get(ctx, metaKeyCredential)
	assert.Empty(t, v, "persisted session cleared")
}

func TestLogout_WithoutCredentialSkipsRevoke(t *testing.T) {
	fc := &fakeAPI{}
	m := newMachine(fc, nil)

	m.Logout(context.Background())
	assert.Empty(t, fc.LogoutTokens)
	assert.Equal(t, StateUnauthenticated, m.State())
}

func TestInvalidate_CurrentEpochClearsSession(t *testing.T) {
	fc := &fakeAPI{}
	meta := newFakeMeta()
	m := newMachine(fc, meta)
	ctx := context.Background()

	authorize(t, m, fc)
	cred, _ := m.Store().Get()

	m.Invalidate(ctx, cred.Epoch)

	assert.Equal(t, StateUnauthenticated, m.State())
	requireInvariant(t, m)
	v, _ := meta.Get(ctx, metaKeyCredential)
	assert.Empty(t, v)
}

func TestInvalidate_StaleEpochIsIgnored(t *testing.T) {
	fc := &fakeAPI{}
	m := newMachine(fc, nil)
	ctx := context.Background()

	authorize(t, m, fc)

	// a rejection belonging to a session that no longer exists
	m.Invalidate(ctx, uuid.New())

	assert.Equal(t, StateAuthorized, m.State(), "stale rejection must not kill the live session")
	_, held := m.Store().Get()
	assert.True(t, held)
}

func TestVerifyOTP_ConcurrentSecondCallGetsBusy(t *testing.T) {
	fc := &fakeAPI{
		VerifyGrant:   &fakeGrant{Token: "tok-1"},
		VerifyStarted: make(chan struct{}),
		VerifyRelease: make(chan struct{}),
	}
	started := fc.VerifyStarted
	m := newMachine(fc, nil)
	ctx := context.Background()

	require.NoError(t, m.SubmitPassword(ctx, "alice", "pw1"))
	require.NoError(t, m.RequestOTP(ctx, "a@x.com"))

	done := make(chan error, 1)
	go func() { done <- m.VerifyOTP(ctx, "123456") }()

	<-started // first call is in flight

	err := m.VerifyOTP(ctx, "123456")
	require.ErrorIs(t, err, ErrBusy)

	close(fc.VerifyRelease)
	require.NoError(t, <-done)

	assert.Equal(t, StateAuthorized, m.State())
	requireInvariant(t, m)
}

func TestRestoreSession_NothingPersisted(t *testing.T) {
	m := newMachine(&fakeAPI{}, newFakeMeta())

	state, err := m.RestoreSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateUnauthenticated, state)
}

func TestRestoreSession_ProbeAuthoritative(t *testing.T) {
	fc := &fakeAPI{ProbeWho: &api.WhoAmI{User: "alice", IsAdmin: false}}
	meta := newFakeMeta()
	ctx := context.Background()

	// stale persisted privilege claims admin; the probe says otherwise
	require.NoError(t, meta.Set(ctx, metaKeyUsername, []byte("alice")))
	require.NoError(t, meta.Set(ctx, metaKeyCredential, []byte("tok-old")))
	require.NoError(t, meta.Set(ctx, metaKeyIsAdmin, []byte("1")))

	m := newMachine(fc, meta)
	state, err := m.RestoreSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateAuthorized, state)

	cred, held := m.Store().Get()
	require.True(t, held)
	assert.Equal(t, "tok-old", cred.Token)
	assert.False(t, cred.IsAdmin, "privilege must be re-derived from the probe, not trusted from disk")
	assert.Equal(t, "alice", m.Username())
}

func TestRestoreSession_RejectedCredentialCleansUp(t *testing.T) {
	fc := &fakeAPI{ProbeErr: api.ErrUnauthorized}
	meta := newFakeMeta()
	ctx := context.Background()

	require.NoError(t, meta.Set(ctx, metaKeyCredential, []byte("tok-dead")))

	m := newMachine(fc, meta)
	state, err := m.RestoreSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateUnauthenticated, state)
	requireInvariant(t, m)

	v, _ := meta.Get(ctx, metaKeyCredential)
	assert.Empty(t, v, "dead credential removed from disk")
}

func TestRestoreSession_UnavailableKeepsPersistedSession(t *testing.T) {
	fc := &fakeAPI{ProbeErr: api.ErrUnavailable}
	meta := newFakeMeta()
	ctx := context.Background()

	require.NoError(t, meta.Set(ctx, metaKeyCredential, []byte("tok-1")))

	m := newMachine(fc, meta)
	state, err := m.RestoreSession(ctx)
	require.ErrorIs(t, err, api.ErrUnavailable)
	assert.Equal(t, StateUnauthenticated, state)

	// a transport failure is not a rejection: the credential stays on disk
	// for the next start
	v, _ := meta.Get(ctx, metaKeyCredential)
	assert.Equal(t, []byte("tok-1"), v)
}

func TestStaleLoginResponseIgnoredAfterReset(t *testing.T) {
	// A logout while a password submission is in flight supersedes the
	// session; the late acceptance must not move the machine forward.
	fc := &fakeAPI{}
	m := newMachine(fc, nil)
	ctx := context.Background()

	// Simulate the race by resetting the machine between guard check and
	// response application: Logout regenerates the epoch, so we drive the
	// flow to otp-pending, log out mid-way and replay.
	require.NoError(t, m.SubmitPassword(ctx, "alice", "pw1"))
	m.Logout(ctx)
	assert.Equal(t, StateUnauthenticated, m.State())

	// the machine accepts a fresh attempt afterwards
	require.NoError(t, m.SubmitPassword(ctx, "alice", "pw1"))
	assert.Equal(t, StatePasswordVerified, m.State())
}
