// Package gateway wraps outbound calls that require authorization. It is
// the only component besides the session machine allowed to end a session:
// an explicit rejection from the server forces the machine back to the
// unauthenticated state before the error reaches the caller.
package gateway

import (
	"context"
	"errors"

	"github.com/cryptexdrive/cryptexdrive/internal/client/api"
	"github.com/cryptexdrive/cryptexdrive/internal/client/session"
	"github.com/cryptexdrive/cryptexdrive/internal/logging"
)

// Call is an outbound operation that needs the current credential attached.
type Call func(ctx context.Context, token string) error

type Gateway struct {
	machine *session.Machine
	log     logging.Logger
}

func New(machine *session.Machine, log logging.Logger) *Gateway {
	return &Gateway{machine: machine, log: log}
}

// Invoke runs call with the current credential.
//
// With no credential held it fails fast with api.ErrUnauthorized and makes
// no network call. An explicit rejection from the server clears the
// credential and resets the machine synchronously, then surfaces
// api.ErrSessionExpired so the caller can prompt for re-authentication.
// Transport failures and application errors pass through untouched; they
// never cost the session.
func (g *Gateway) Invoke(ctx context.Context, call Call) error {
	cred, held := g.machine.Store().Get()
	if !held {
		return api.ErrUnauthorized
	}

	err := call(ctx, cred.Token)
	if err == nil {
		return nil
	}

	if errors.Is(err, api.ErrUnauthorized) {
		// Epoch-checked: if the session already changed underneath us, this
		// rejection belongs to a superseded call and must not kill the new
		// session.
		g.machine.Invalidate(ctx, cred.Epoch)
		g.log.Warn(ctx, "secured call rejected, session cleared")
		return api.ErrSessionExpired
	}

	return err
}
