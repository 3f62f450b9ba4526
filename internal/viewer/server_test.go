package viewer

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roasbeef/deckview/internal/playback"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) *Server {
	t.Helper()

	srv := NewServer(nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()

		_ = srv.Shutdown(ctx)
	})

	return srv
}

func controlURL(srv *Server, surface *Surface, token string) string {
	q := url.Values{}
	q.Set("token", token)

	return "ws://" + strings.TrimPrefix(srv.BaseURL(), "http://") +
		"/ws/" + surface.ID() + "?" + q.Encode()
}

// dialControl opens a control connection the way the control script does.
func dialControl(t *testing.T, srv *Server, surface *Surface,
	origin string) *websocket.Conn {

	t.Helper()

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}

	conn, _, err := websocket.DefaultDialer.Dial(
		controlURL(srv, surface, surface.token), header,
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func fetch(t *testing.T, rawURL string) (*http.Response, string) {
	t.Helper()

	resp, err := http.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, string(body)
}

func TestSurfaceDocumentServedSandboxed(t *testing.T) {
	srv := startServer(t)
	surface := srv.NewSurface()

	markup := "<html><body><div class=\"reveal\"></div></BODY></html>"
	require.NoError(t, surface.Load(context.Background(), markup))

	select {
	case <-surface.Loaded():
		t.Fatal("loaded before the document was served")
	default:
	}

	resp, body := fetch(t, srv.URL(surface))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "sandbox allow-scripts",
		resp.Header.Get("Content-Security-Policy"))
	require.Equal(t, "nosniff",
		resp.Header.Get("X-Content-Type-Options"))
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	require.Equal(t, "no-referrer", resp.Header.Get("Referrer-Policy"))

	// The control script lands right before the closing body tag.
	require.True(t, strings.HasPrefix(body,
		"<html><body><div class=\"reveal\"></div><script "+
			"src=\"/control.js?"))
	require.True(t, strings.HasSuffix(body, "</script></BODY></html>"))
	require.Contains(t, body, "surface="+surface.ID())

	select {
	case <-surface.Loaded():
	case <-time.After(time.Second):
		t.Fatal("serving the document did not signal load")
	}
}

func TestSurfaceAccessControl(t *testing.T) {
	srv := startServer(t)
	surface := srv.NewSurface()
	require.NoError(t, surface.Load(context.Background(), "<p>x</p>"))

	bad := srv.BaseURL() + "/surface/" + surface.ID() + "?token=nope"
	resp, _ := fetch(t, bad)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = fetch(t, srv.BaseURL()+"/surface/missing?token=x")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// A wrong token never reaches the upgrade.
	_, resp, err := websocket.DefaultDialer.Dial(
		controlURL(srv, surface, "nope"), nil,
	)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// A foreign origin is refused even with the right token.
	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err = websocket.DefaultDialer.Dial(
		controlURL(srv, surface, surface.token), header,
	)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSurfaceNotLoadedYet(t *testing.T) {
	srv := startServer(t)
	surface := srv.NewSurface()

	resp, _ := fetch(t, srv.URL(surface))
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestControlScriptServed(t *testing.T) {
	srv := startServer(t)

	resp, body := fetch(t, srv.BaseURL()+"/control.js")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "javascript")
	require.Contains(t, body, "Reveal")
	require.Contains(t, body, `kind: "hello"`)
}

func TestControlRequiresHello(t *testing.T) {
	srv := startServer(t)
	surface := srv.NewSurface()

	conn := dialControl(t, srv, surface, "null")
	require.NoError(t, conn.WriteMessage(
		websocket.TextMessage, []byte(`{"kind":"navigate"}`),
	))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(
		err, websocket.ClosePolicyViolation,
	), "unexpected error: %v", err)

	ctx, cancel := context.WithTimeout(
		context.Background(), 50*time.Millisecond,
	)
	defer cancel()

	_, err = surface.Attach(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestBridgeOverViewer drives a bridge through a real surface: the document
// is fetched, the control connection says hello, and navigation commands
// arrive on the socket as JSON.
func TestBridgeOverViewer(t *testing.T) {
	srv := startServer(t)
	surface := srv.NewSurface()

	bridge := playback.NewBridge(playback.Config{
		Debounce: 10 * time.Millisecond,
	})
	defer bridge.Close()

	require.NoError(t, bridge.Mount(
		context.Background(), surface, "<html><body></body></html>",
	))

	resp, _ := fetch(t, srv.URL(surface))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn := dialControl(t, srv, surface, "null")
	require.NoError(t, conn.WriteMessage(
		websocket.TextMessage, []byte(`{"kind":"hello"}`),
	))

	select {
	case <-bridge.Attached():
	case <-time.After(5 * time.Second):
		t.Fatal("bridge never attached")
	}
	require.False(t, bridge.Degraded())

	require.True(t, bridge.SendCommand(playback.DirectionNext))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	cmd, err := playback.DecodeCommand(data)
	require.NoError(t, err)
	require.Equal(t, playback.Navigate(playback.DirectionNext), cmd)

	// Closing the bridge releases the surface and drops the socket.
	bridge.Close()

	_, _, err = conn.ReadMessage()
	require.Error(t, err)

	resp, _ = fetch(t, srv.URL(surface))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBridgeDegradedWithoutEngine(t *testing.T) {
	srv := startServer(t)
	surface := srv.NewSurface()

	doc, err := DraftDocument("Plan", "# Plan\n\n- one")
	require.NoError(t, err)

	bridge := playback.NewBridge(playback.Config{
		AttachTimeout: 50 * time.Millisecond,
	})
	defer bridge.Close()

	require.NoError(t, bridge.Mount(context.Background(), surface, doc))

	resp, _ := fetch(t, srv.URL(surface))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case <-bridge.Attached():
	case <-time.After(5 * time.Second):
		t.Fatal("bridge never gave up attaching")
	}

	require.True(t, bridge.Degraded())
	require.ErrorIs(t, bridge.Session().Injection,
		playback.ErrBridgeInjection)
	require.False(t, bridge.SendCommand(playback.DirectionNext))
}

// TestBridgeSurvivesReload reloads the document: the old control connection
// drops, the bridge degrades at once, and the reloaded page's hello takes
// over the surface.
func TestBridgeSurvivesReload(t *testing.T) {
	srv := startServer(t)
	surface := srv.NewSurface()

	bridge := playback.NewBridge(playback.Config{
		Debounce: 10 * time.Millisecond,
	})
	defer bridge.Close()

	require.NoError(t, bridge.Mount(
		context.Background(), surface, "<html><body></body></html>",
	))

	hello := func() *websocket.Conn {
		resp, _ := fetch(t, srv.URL(surface))
		require.Equal(t, http.StatusOK, resp.StatusCode)

		conn := dialControl(t, srv, surface, "null")
		require.NoError(t, conn.WriteMessage(
			websocket.TextMessage, []byte(`{"kind":"hello"}`),
		))

		return conn
	}

	attached := func() bool {
		return bridge.Session().Attached
	}

	first := hello()
	require.Eventually(t, attached, 5*time.Second, 10*time.Millisecond)

	// The page unloads.
	require.NoError(t, first.Close())
	require.Eventually(t, bridge.Degraded, 5*time.Second,
		10*time.Millisecond)
	require.ErrorIs(t, bridge.Session().Injection, playback.ErrChannelLost)
	require.False(t, bridge.SendCommand(playback.DirectionNext))

	// The reloaded page fetches the document again and says hello.
	second := hello()
	require.Eventually(t, attached, 5*time.Second, 10*time.Millisecond)
	require.False(t, bridge.Degraded())
	require.Equal(t, "ready", bridge.State())

	require.True(t, bridge.SendCommand(playback.DirectionPrevious))

	_ = second.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := second.ReadMessage()
	require.NoError(t, err)

	cmd, err := playback.DecodeCommand(data)
	require.NoError(t, err)
	require.Equal(t, playback.Navigate(playback.DirectionPrevious), cmd)
}

func TestSecondControlConnectionRefused(t *testing.T) {
	srv := startServer(t)
	surface := srv.NewSurface()
	require.NoError(t, surface.Load(context.Background(), "<p/>"))

	first := dialControl(t, srv, surface, "")
	require.NoError(t, first.WriteMessage(
		websocket.TextMessage, []byte(`{"kind":"hello"}`),
	))

	ch, err := surface.Attach(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ch)

	second := dialControl(t, srv, surface, "")
	require.NoError(t, second.WriteMessage(
		websocket.TextMessage, []byte(`{"kind":"hello"}`),
	))

	_ = second.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = second.ReadMessage()
	require.Error(t, err)

	require.NoError(t, surface.Release())
	require.ErrorIs(t, ch.Send(playback.Navigate(playback.DirectionNext)),
		ErrChannelClosed)
}

func TestDraftDocumentEscapes(t *testing.T) {
	doc, err := DraftDocument("<b>T</b>", "# Hi\n\n<script>x()</script>")
	require.NoError(t, err)

	require.Contains(t, doc, "&lt;b&gt;T&lt;/b&gt; (draft)")
	require.Contains(t, doc, "<h1>Hi</h1>")
	require.NotContains(t, doc, "<script>x()</script>")

	doc, err = DraftDocument("", "text")
	require.NoError(t, err)
	require.Contains(t, doc, "<title>Untitled (draft)</title>")
}

func TestInjectControlWithoutBody(t *testing.T) {
	doc := injectControl("<div>slides</div>", "abc", "tok")
	require.Equal(t, "<div>slides</div><script src=\"/control.js?"+
		"surface=abc&amp;token=tok\"></script>", doc)
}
