package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = func(args ...any) { fmt.Println(args...) }

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	RequestOTP(ctx context.Context) error
	Verify(ctx context.Context) error
	Whoami(ctx context.Context) error
	List(ctx context.Context) error
	Upload(ctx context.Context, path string) error
	Download(ctx context.Context, name string) error
	Logout(ctx context.Context) error
}

// runREPL starts a simple read–eval–print loop for the CryptexDrive CLI.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are reported
// back to the user. The loop exits on scanner EOF or when the user types
// "exit" or "quit".
//
// Prompt & Commands
//
// The prompt shows the current status (from statusFn) and accepts commands:
//
//	Not yet authorized:
//	  - help            — show available commands
//	  - register        — create an account
//	  - login           — submit password, then request a one-time code
//	  - otp             — re-request the one-time code
//	  - verify          — enter the one-time code
//	  - exit | quit     — leave the program
//
//	Authorized:
//	  - help            — show available commands
//	  - list            — list vault files
//	  - upload [path]   — upload a local file
//	  - download [name] — download a vault file
//	  - whoami          — show session identity and expiry
//	  - logout          — end the session
//	  - exit | quit     — leave the program
//
// Any errors returned by command handlers are ignored here; handlers print
// their own messages. This keeps the REPL loop resilient and focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("cryptex %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		arg := ""
		if len(parts) > 1 {
			arg = parts[1]
		}

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: list, upload [path], download [name], whoami, logout, exit")
			} else {
				printlnFn("Available commands: register, login, otp, verify, exit")
			}

		case "register":
			_ = a.Register(ctx)

		case "login":
			_ = a.Login(ctx)

		case "otp":
			_ = a.RequestOTP(ctx)

		case "verify":
			_ = a.Verify(ctx)

		case "whoami":
			_ = a.Whoami(ctx)

		case "l", "list":
			_ = a.List(ctx)

		case "upload":
			_ = a.Upload(ctx, arg)

		case "download":
			_ = a.Download(ctx, arg)

		case "logout":
			_ = a.Logout(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
