package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/roasbeef/deckview/internal/app"
	"github.com/roasbeef/deckview/internal/build"
	"github.com/roasbeef/deckview/internal/config"
	"github.com/roasbeef/deckview/internal/deck"
	"github.com/roasbeef/deckview/internal/playback"
	"golang.org/x/term"
)

// runtime is everything a command needs: the loaded configuration, the log
// manager and the app built from them.
type runtime struct {
	cfg  *config.Config
	logs *build.LogManager
	app  *app.App
}

// newRuntime loads the configuration, sets up logging and builds the app.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.LoadFlags(rootCmd.PersistentFlags())
	if err != nil {
		return nil, err
	}

	logs, err := build.NewLogManager(build.LogConfig{
		Level:   cfg.DebugLevel,
		Console: os.Stderr,
		Rotator: build.DefaultLogRotatorConfig(cfg.LogDir()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	app.SetupLoggers(logs)

	a, err := app.New(ctx, cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	return &runtime{cfg: cfg, logs: logs, app: a}, nil
}

// Close releases the app and flushes the logs.
func (r *runtime) Close() {
	if err := r.app.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close store: %v\n", err)
	}
	_ = r.logs.Close()
}

// commandContext returns a context cancelled on SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
}

// Describe turns an error into the message shown to the user.
func Describe(err error) string {
	switch {
	case errors.Is(err, app.ErrNotLoggedIn):
		return "Not logged in. Run `deckctl login` first."

	case deck.IsAuth(err):
		return fmt.Sprintf("Authentication failed: %v\nRun `deckctl "+
			"login` to sign in again.", err)

	case deck.IsNotFound(err):
		return fmt.Sprintf("Not found: %v", err)

	case errors.Is(err, deck.ErrNetwork):
		return fmt.Sprintf("The service is unavailable: %v", err)

	case errors.Is(err, playback.ErrBridgeInjection):
		return fmt.Sprintf("The slide engine could not be reached: %v",
			err)
	}

	return fmt.Sprintf("Error: %v", err)
}

// outputJSON writes v as indented JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

var (
	stdinOnce   sync.Once
	stdinReader *bufio.Reader
)

// stdin returns the shared buffered reader over os.Stdin.
func stdin() *bufio.Reader {
	stdinOnce.Do(func() {
		stdinReader = bufio.NewReader(os.Stdin)
	})

	return stdinReader
}

// readLine reads one line from r without its line ending.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}

	return strings.TrimRight(line, "\r\n"), nil
}

// prompt asks for a value on stderr and reads it from stdin.
func prompt(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)

	return readLine(stdin())
}

// promptPassword reads a password without echo when stdin is a terminal,
// and as a plain line otherwise.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return readLine(stdin())
	}

	fmt.Fprintf(os.Stderr, "%s: ", label)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	return string(pw), nil
}
