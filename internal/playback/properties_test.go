package playback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestBridgeProperties drives a mounted bridge with random navigation,
// settle and close actions. The debounce timer never fires on its own so the
// test controls when a window ends.
func TestBridgeProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		b := NewBridge(Config{Debounce: time.Hour})
		s := newFakeSurface()
		defer b.Close()

		require.NoError(rt, b.Mount(context.Background(), s, "<html/>"))
		s.finishLoad()

		select {
		case <-b.Attached():
		case <-time.After(5 * time.Second):
			rt.Fatal("bridge never attached")
		}

		var (
			inFlight bool
			closed   bool
			accepted int
		)

		rt.Repeat(map[string]func(*rapid.T){
			"navigate": func(rt *rapid.T) {
				dir := rapid.SampledFrom([]Direction{
					DirectionPrevious, DirectionNext,
				}).Draw(rt, "dir")

				ok := b.SendCommand(dir)
				if closed || inFlight {
					require.False(rt, ok, "command in window")
					return
				}

				require.True(rt, ok)
				inFlight = true
				accepted++
			},
			"key": func(rt *rapid.T) {
				key := rapid.SampledFrom([]string{
					"ArrowLeft", "ArrowRight", " ", "x",
				}).Draw(rt, "key")

				ok := b.HandleKey(key)
				if closed || inFlight || key == "x" {
					require.False(rt, ok)
					return
				}

				require.True(rt, ok)
				inFlight = true
				accepted++
			},
			"settle": func(rt *rapid.T) {
				seq := b.Session().NavSeq
				ok, _ := b.dispatch(SettleEvent{Seq: seq})
				require.Equal(rt, inFlight && !closed, ok)

				inFlight = false
			},
			"close": func(rt *rapid.T) {
				b.Close()
				closed = true
			},
			"": func(rt *rapid.T) {
				require.Len(rt, s.channel.commands(), accepted)
				require.Equal(rt, uint64(accepted), b.Session().NavSeq)

				switch {
				case closed:
					require.Equal(rt, "closed", b.State())
					require.LessOrEqual(rt, s.releaseCount(), 1)
					require.LessOrEqual(rt, s.channel.closeCount(), 1)
				case inFlight:
					require.Equal(rt, "navigating", b.State())
				default:
					require.Equal(rt, "ready", b.State())
				}
			},
		})

		b.Close()
		require.Equal(rt, 1, s.releaseCount())
		require.Equal(rt, 1, s.channel.closeCount())
	})
}
