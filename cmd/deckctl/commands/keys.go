package commands

import (
	"io"
	"unicode/utf8"
)

const (
	keyEsc   = 0x1b
	keyCtrlC = 0x03
	keyCtrlD = 0x04

	// KeyInterrupt is reported for Ctrl-C and Ctrl-D, which raw mode
	// delivers as plain bytes instead of signals.
	KeyInterrupt = "Interrupt"
)

// csiKeys names the CSI sequences a terminal sends for navigation keys,
// keyed by everything after "ESC [".
var csiKeys = map[string]string{
	"A":  "ArrowUp",
	"B":  "ArrowDown",
	"C":  "ArrowRight",
	"D":  "ArrowLeft",
	"H":  "Home",
	"F":  "End",
	"1~": "Home",
	"4~": "End",
	"5~": "PageUp",
	"6~": "PageDown",
}

// ss3Keys names the "ESC O" sequences of application cursor mode.
var ss3Keys = map[byte]string{
	'A': "ArrowUp",
	'B': "ArrowDown",
	'C': "ArrowRight",
	'D': "ArrowLeft",
	'H': "Home",
	'F': "End",
}

// decodeKeys splits raw terminal input into key names. A lone ESC byte is
// the Escape key; unknown escape sequences are dropped. An escape sequence
// cut off at the end of buf is returned as rest, to be prefixed to the next
// read.
func decodeKeys(buf []byte) ([]string, []byte) {
	var keys []string

	for i := 0; i < len(buf); {
		b := buf[i]

		switch {
		case b == keyEsc:
			key, n := decodeEscape(buf[i:])
			if n == 0 {
				return keys, buf[i:]
			}
			if key != "" {
				keys = append(keys, key)
			}
			i += n

		case b == keyCtrlC || b == keyCtrlD:
			keys = append(keys, KeyInterrupt)
			i++

		case b == '\r' || b == '\n':
			keys = append(keys, "Enter")
			i++

		case b == 0x7f:
			keys = append(keys, "Backspace")
			i++

		case b < 0x20:
			i++

		default:
			r, n := utf8.DecodeRune(buf[i:])
			if r != utf8.RuneError {
				keys = append(keys, string(r))
			}
			i += n
		}
	}

	return keys, nil
}

// decodeEscape decodes the escape sequence at the start of buf. It returns
// the key name, empty for unknown sequences, and the bytes consumed. Zero
// bytes consumed means the sequence is not complete yet.
func decodeEscape(buf []byte) (string, int) {
	if len(buf) == 1 {
		return "Escape", 1
	}

	switch buf[1] {
	case '[':
		// Parameters in 0x20-0x3f run until a final byte in
		// 0x40-0x7e.
		for j := 2; j < len(buf); j++ {
			switch c := buf[j]; {
			case c >= 0x40 && c <= 0x7e:
				return csiKeys[string(buf[2:j+1])], j + 1

			case c < 0x20 || c > 0x7e:
				// Broken sequence, resume at c.
				return "", j
			}
		}

		return "", 0

	case 'O':
		if len(buf) < 3 {
			return "", 0
		}

		return ss3Keys[buf[2]], 3

	case keyEsc:
		return "Escape", 1
	}

	// ESC followed by an ordinary key is Escape then that key.
	return "Escape", 1
}

// maxPending bounds an unfinished escape sequence carried between reads.
const maxPending = 16

// readKeys decodes keys from r onto out until r fails or quit is closed,
// then closes out.
func readKeys(r io.Reader, out chan<- string, quit <-chan struct{}) {
	defer close(out)

	var (
		buf     = make([]byte, 64)
		pending []byte
	)
	for {
		n, err := r.Read(buf)
		data := append(pending, buf[:n]...)

		// A read that filled buf may have cut a sequence right after
		// its ESC.
		held := 0
		if err == nil && n == len(buf) && data[len(data)-1] == keyEsc {
			held = 1
		}

		keys, rest := decodeKeys(data[:len(data)-held])
		pending = append([]byte(nil), rest...)
		if held == 1 {
			pending = append(pending, keyEsc)
		}
		if len(pending) > maxPending {
			pending = nil
		}

		for _, key := range keys {
			select {
			case out <- key:
			case <-quit:
				return
			}
		}
		if err != nil {
			return
		}
	}
}
