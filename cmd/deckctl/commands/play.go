package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/browser"
	"github.com/roasbeef/deckview/internal/playback"
	"github.com/roasbeef/deckview/internal/viewer"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var playNoBrowser bool

var playCmd = &cobra.Command{
	Use:   "play <id>",
	Short: "Present a deck in the browser, driven from the keyboard",
	Long: `Serve the presentation on a local viewer, open it in the browser and
forward keys from this terminal to the slides:

  next:      Right, PageDown, Space, l, j, n
  previous:  Left, PageUp, h, k, p
  quit:      Esc, q, Ctrl-C`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	playCmd.Flags().BoolVar(&playNoBrowser, "no-browser", false,
		"Print the viewer URL instead of opening a browser")
}

// keyboard is terminal input in raw mode.
type keyboard struct {
	keys    chan string
	quit    chan struct{}
	restore func()
}

// close stops forwarding keys and restores the terminal. The read of stdin
// in flight is abandoned.
func (k *keyboard) close() {
	close(k.quit)
	k.restore()
}

// openKeyboard switches stdin to raw mode, when it is a terminal, and
// starts decoding keys from it.
func openKeyboard() (*keyboard, error) {
	kb := &keyboard{
		keys:    make(chan string, 16),
		quit:    make(chan struct{}),
		restore: func() {},
	}

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return nil, fmt.Errorf("unable to read keys: %w", err)
		}
		kb.restore = func() {
			_ = term.Restore(fd, state)
		}
	}

	go readKeys(os.Stdin, kb.keys, kb.quit)

	return kb, nil
}

// say prints a line that stays readable while the terminal is raw.
func say(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format+"\r\n", args...)
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := viewer.NewServer(&viewer.Config{Addr: rt.cfg.ViewerAddr})
	if err := srv.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}()

	bridge, url, err := rt.app.Play(ctx, srv, args[0])
	if err != nil {
		return err
	}
	defer bridge.Close()

	fmt.Fprintf(os.Stderr, "Presenting at %s\n", url)
	if !playNoBrowser {
		if err := browser.OpenURL(url); err != nil {
			fmt.Fprintf(os.Stderr, "Unable to open a browser (%v), "+
				"open the URL above instead.\n", err)
		}
	}

	kb, err := openKeyboard()
	if err != nil {
		return err
	}
	defer kb.close()

	return drive(ctx, bridge, kb.keys, os.Stderr)
}

// drive forwards keys to bridge until the bridge closes, the keys run out,
// an interrupt key arrives or ctx is done.
func drive(ctx context.Context, bridge *playback.Bridge,
	keys <-chan string, w io.Writer) error {

	attached := bridge.Attached()
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-bridge.Done():
			return nil

		case <-attached:
			attached = nil

			if bridge.Degraded() {
				say(w, "The slide engine did not attach, "+
					"navigation keys are disabled. Press q "+
					"to quit.")
				continue
			}
			say(w, "Slides ready. Arrows to navigate, q to quit.")

		case key, ok := <-keys:
			if !ok {
				// Stdin closed: keep presenting until the
				// bridge or ctx ends.
				keys = nil
				continue
			}

			if key == KeyInterrupt {
				bridge.Close()
				return nil
			}

			bridge.HandleKey(key)
		}
	}
}
