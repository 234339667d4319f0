package cli

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/cryptexdrive/cryptexdrive/internal/client/api"
	"github.com/cryptexdrive/cryptexdrive/internal/client/session"
	"github.com/cryptexdrive/cryptexdrive/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// errText renders an error for the user, translating the taxonomy into
// actionable wording where it helps.
func errText(err error) string {
	switch {
	case errors.Is(err, api.ErrSessionExpired):
		return "session expired, please log in again"
	case errors.Is(err, api.ErrUnavailable):
		return "server unavailable, try again later"
	case errors.Is(err, session.ErrBusy):
		return "operation in progress, please wait"
	default:
		return err.Error()
	}
}

// Register prompts for username, password and email and creates an account.
// Registration never logs the user in; a fresh login is still required.
func (a *App) Register(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter username", os.Stdout)
	if err != nil {
		return err
	}
	email, err := getSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		return err
	}
	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.machine.Register(ctx, userName, string(password), email); err != nil {
		printlnFn("Registration failed:", errText(err))
		return err
	}

	printlnFn("Registered! You can now log in.")
	return nil
}

// Login performs the first factor and, on acceptance, immediately asks for
// the OTP delivery address and requests a code. The user completes the
// flow with the verify command.
func (a *App) Login(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter username", os.Stdout)
	if err != nil {
		return err
	}
	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.machine.SubmitPassword(ctx, userName, string(password)); err != nil {
		printlnFn("Login failed:", errText(err))
		return err
	}
	printlnFn("Password accepted.")

	email, err := getSimpleText(a.reader, "Enter email for the one-time code", os.Stdout)
	if err != nil {
		return err
	}
	a.otpEmail = email

	if err := a.machine.RequestOTP(ctx, email); err != nil {
		printlnFn("Could not send code:", errText(err))
		return err
	}

	printlnFn("One-time code sent. Use 'verify' to enter it.")
	return nil
}

// RequestOTP re-requests a one-time code, reusing the address entered
// during login unless none is known yet.
func (a *App) RequestOTP(ctx context.Context) error {
	email := a.otpEmail
	if email == "" {
		var err error
		email, err = getSimpleText(a.reader, "Enter email for the one-time code", os.Stdout)
		if err != nil {
			return err
		}
		a.otpEmail = email
	}

	if err := a.machine.RequestOTP(ctx, email); err != nil {
		if errors.Is(err, api.ErrThrottled) {
			printlnFn("The server is rate-limiting code requests; wait a minute and retry.")
		} else {
			printlnFn("Could not send code:", errText(err))
		}
		return err
	}

	printlnFn("One-time code sent. Use 'verify' to enter it.")
	return nil
}

// Verify completes the second factor. A wrong code keeps the pending state
// so the user can retry or re-request a code.
func (a *App) Verify(ctx context.Context) error {
	otp, err := getSimpleText(a.reader, "Enter one-time code", os.Stdout)
	if err != nil {
		return err
	}

	if err := a.machine.VerifyOTP(ctx, otp); err != nil {
		printlnFn("Verification failed:", errText(err))
		return err
	}

	printlnFn("Verified! You now have access to your vault.")
	return nil
}

// Whoami probes the protected endpoint through the gateway and shows who
// the server thinks we are, plus the token expiry when one is readable.
func (a *App) Whoami(ctx context.Context) error {
	var who *api.WhoAmI
	err := a.gw.Invoke(ctx, func(ctx context.Context, token string) error {
		var err error
		who, err = a.apiClient.Probe(ctx, token)
		return err
	})
	if err != nil {
		printlnFn("Error:", errText(err))
		return err
	}

	line := "Logged in as " + who.User
	if who.IsAdmin {
		line += " (administrator)"
	}
	printlnFn(line)

	if cred, ok := a.machine.Store().Get(); ok {
		if exp, ok := session.TokenExpiry(cred.Token); ok {
			printlnFn("Session valid until", exp.Local().Format(time.RFC1123))
		}
	}
	return nil
}

// Logout clears the session locally and revokes it server-side on a best
// effort basis. It never fails.
func (a *App) Logout(ctx context.Context) error {
	a.machine.Logout(ctx)
	a.otpEmail = ""
	printlnFn("Logged out.")
	return nil
}
