// Package cli provides the interactive CryptexDrive command-line client.
//
// It wires configuration, the local session database, the API client, the
// authentication state machine and the secure gateway into an interactive
// REPL. Typical flow: restore a previous session if one is persisted, then
// execute user commands.
//
// Key features:
//   - Register / two-step login (password, then emailed one-time code)
//   - List / upload / download vault files
//   - Session status with privilege flag and token expiry
//   - Logout with best-effort server-side revoke
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See App and runREPL for details.
package cli
