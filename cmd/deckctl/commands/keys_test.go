package commands

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/roasbeef/deckview/internal/playback"
	"github.com/stretchr/testify/require"
)

func TestDecodeKeys(t *testing.T) {
	tests := []struct {
		name  string
		input string
		keys  []string
		rest  string
	}{{
		name:  "lone escape",
		input: "\x1b",
		keys:  []string{"Escape"},
	}, {
		name:  "arrows",
		input: "\x1b[C\x1b[D\x1b[A\x1b[B",
		keys:  []string{"ArrowRight", "ArrowLeft", "ArrowUp", "ArrowDown"},
	}, {
		name:  "application mode arrows",
		input: "\x1bOC\x1bOD",
		keys:  []string{"ArrowRight", "ArrowLeft"},
	}, {
		name:  "page keys",
		input: "\x1b[5~\x1b[6~",
		keys:  []string{"PageUp", "PageDown"},
	}, {
		name:  "printable",
		input: " nq",
		keys:  []string{" ", "n", "q"},
	}, {
		name:  "interrupt",
		input: "\x03\x04",
		keys:  []string{KeyInterrupt, KeyInterrupt},
	}, {
		name:  "unknown sequence dropped",
		input: "\x1b[15~l",
		keys:  []string{"l"},
	}, {
		name:  "escape then key",
		input: "\x1bq",
		keys:  []string{"Escape", "q"},
	}, {
		name:  "truncated sequence",
		input: "n\x1b[",
		keys:  []string{"n"},
		rest:  "\x1b[",
	}, {
		name:  "truncated parameters",
		input: "\x1b[6",
		rest:  "\x1b[6",
	}, {
		name:  "truncated application mode",
		input: "\x1bO",
		rest:  "\x1bO",
	}, {
		name:  "broken sequence",
		input: "\x1b[1\x03",
		keys:  []string{KeyInterrupt},
	}, {
		name:  "multibyte rune",
		input: "é",
		keys:  []string{"é"},
	}, {
		name:  "control bytes skipped",
		input: "\x01\x02j",
		keys:  []string{"j"},
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			keys, rest := decodeKeys([]byte(tc.input))
			require.Equal(t, tc.keys, keys)
			require.Equal(t, tc.rest, string(rest))
		})
	}
}

// TestDecodedKeysDrivePlayback checks the decoded names line up with the
// playback keymap.
func TestDecodedKeysDrivePlayback(t *testing.T) {
	actions := func(input string) []playback.Action {
		var out []playback.Action
		keys, _ := decodeKeys([]byte(input))
		for _, key := range keys {
			out = append(out, playback.ActionForKey(key))
		}

		return out
	}

	require.Equal(t, []playback.Action{
		playback.ActionNext, playback.ActionNext,
		playback.ActionPrevious, playback.ActionPrevious,
		playback.ActionClose,
	}, actions("\x1b[C\x1b[6~\x1b[D\x1b[5~\x1b"))
}

// chunkReader returns one chunk per Read.
type chunkReader struct {
	chunks []string
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}

	n := copy(p, c.chunks[0])
	c.chunks = c.chunks[1:]

	return n, nil
}

func collectKeys(out <-chan string) []string {
	var keys []string
	for key := range out {
		keys = append(keys, key)
	}

	return keys
}

func TestReadKeys(t *testing.T) {
	out := make(chan string, 8)
	readKeys(bytes.NewReader([]byte("n\x1b[Dq")), out, nil)

	require.Equal(t, []string{"n", "ArrowLeft", "q"}, collectKeys(out))
}

func TestReadKeysSequenceAcrossReads(t *testing.T) {
	out := make(chan string, 8)
	readKeys(&chunkReader{
		chunks: []string{
			"n", "\x1b[", "C", "\x1b[", "6~", "\x1bO", "D", "\x1b",
		},
	}, out, nil)

	// A short read holding only ESC is a lone Escape press.
	require.Equal(t, []string{
		"n", "ArrowRight", "PageDown", "ArrowLeft", "Escape",
	}, collectKeys(out))
}

func TestReadKeysFullReadHoldsEscape(t *testing.T) {
	full := string(bytes.Repeat([]byte("j"), 63)) + "\x1b"

	out := make(chan string, 128)
	readKeys(&chunkReader{chunks: []string{full, "[D"}}, out, nil)

	keys := collectKeys(out)
	require.Len(t, keys, 64)
	require.Equal(t, "ArrowLeft", keys[63])
}

func TestReadKeysStopsOnQuit(t *testing.T) {
	out := make(chan string)
	quit := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		readKeys(bytes.NewReader([]byte("nnn")), out, quit)
		close(finished)
	}()

	// Nobody reads out any more.
	close(quit)

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("readKeys blocked after quit")
	}

	_, ok := <-out
	require.False(t, ok)
}
