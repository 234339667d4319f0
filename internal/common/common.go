// Package common holds the few constants and helpers shared across
// CryptexDrive client layers.
package common

// AuthorizationHeaderName is the HTTP header carrying the dynamic id on
// secured requests. The backend expects the raw token, without a "Bearer"
// scheme prefix.
const AuthorizationHeaderName = "Authorization"

// WipeByteArray overwrites the contents of the provided byte slice with
// zeros. Used to remove passwords from memory once they have been sent.
//
// If the slice is nil, the function does nothing.
func WipeByteArray(b []byte) {
	if b == nil {
		return
	}
	for i := range b {
		b[i] = 0
	}
}
