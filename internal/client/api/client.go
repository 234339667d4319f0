// Package api implements the HTTP boundary between the CryptexDrive client
// and its backend: registration, two-step authentication, the protected
// probe, and the file vault endpoints.
package api

import "context"

// Grant is the result of a successful OTP verification: the opaque bearer
// token (dynamic id) plus the privilege flag attached at issuance.
type Grant struct {
	DynamicID string
	IsAdmin   bool
}

// WhoAmI is the response of the protected probe endpoint.
type WhoAmI struct {
	User    string
	IsAdmin bool
}

// UploadResult carries the server's answer to an upload. RiskScore is the
// opaque score produced by the server-side analyzer, when present; the
// client surfaces it without interpreting it.
type UploadResult struct {
	Status    string
	FileName  string
	RiskScore *float64
}

// Client is the backend boundary. Token-bearing methods receive the
// credential explicitly; attaching it is the gateway's job, not the
// transport's.
//
// Error contract: transport failures map to ErrUnavailable; explicit
// authorization rejections on token-bearing calls map to ErrUnauthorized;
// any other non-2xx response with an {"error"} body surfaces as
// *ServerError.
type Client interface {
	Register(ctx context.Context, username, password, email string) error
	Login(ctx context.Context, username, password string) error
	SendOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, username, otp string) (*Grant, error)

	Probe(ctx context.Context, token string) (*WhoAmI, error)
	ListFiles(ctx context.Context, token string) ([]string, error)
	Upload(ctx context.Context, token, name string, payload []byte) (*UploadResult, error)
	Download(ctx context.Context, token, name string) ([]byte, error)
	Logout(ctx context.Context, token string) error
}
