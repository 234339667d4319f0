package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cryptexdrive/cryptexdrive/internal/client/api"
	"github.com/cryptexdrive/cryptexdrive/internal/client/config"
	"github.com/cryptexdrive/cryptexdrive/internal/client/gateway"
	"github.com/cryptexdrive/cryptexdrive/internal/client/repositories/metadata"
	"github.com/cryptexdrive/cryptexdrive/internal/client/services"
	"github.com/cryptexdrive/cryptexdrive/internal/client/session"
	"github.com/cryptexdrive/cryptexdrive/internal/client/storage"
	"github.com/cryptexdrive/cryptexdrive/internal/logging"
)

// App ties the CLI together: the API client, the session machine, the
// secure gateway and the vault service, plus interactive input.
type App struct {
	config    *config.Config
	apiClient api.Client
	machine   *session.Machine
	gw        *gateway.Gateway
	vault     services.VaultService
	log       logging.Logger
	reader    *bufio.Reader

	// email the last OTP was sent to, for quick re-requests
	otpEmail string
}

func NewApp(c *config.Config) (*App, error) {
	ctx := context.Background()

	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	db, err := storage.InitDatabase(ctx, c.SessionDBPath)
	if err != nil {
		return nil, fmt.Errorf("init session db: %w", err)
	}

	apiClient, err := api.NewHTTPClient(c.ServerEndpointAddr, c.RequestTimeout, log)
	if err != nil {
		return nil, err
	}

	store := session.NewStore()
	meta := metadata.NewSQLiteRepository(db)
	machine := session.NewMachine(apiClient, store, meta, log)
	gw := gateway.New(machine, log)
	vault := services.NewVaultService(apiClient, gw, c.DownloadDir)

	return &App{
		config:    c,
		apiClient: apiClient,
		machine:   machine,
		gw:        gw,
		vault:     vault,
		log:       log,
		reader:    bufio.NewReader(os.Stdin),
	}, nil
}

func (a *App) isLoggedIn() bool {
	return a.machine.State() == session.StateAuthorized
}

// getStatus renders the prompt decoration: username, machine state and the
// admin marker when the credential is privileged.
func (a *App) getStatus() string {
	s := ""
	if name := a.machine.Username(); name != "" {
		s = name + " "
	}
	s += a.machine.State().String()
	if cred, ok := a.machine.Store().Get(); ok && cred.IsAdmin {
		s += " [admin]"
	}
	return fmt.Sprintf("(%s)", s)
}

// Run restores any persisted session and enters the REPL.
func (a *App) Run(ctx context.Context) {
	if state, err := a.machine.RestoreSession(ctx); err != nil {
		printlnFn("Could not restore previous session:", errText(err))
	} else if state == session.StateAuthorized {
		printlnFn("Welcome back,", a.machine.Username())
	}

	printlnFn("CryptexDrive CLI (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, bufio.NewScanner(os.Stdin))
}
