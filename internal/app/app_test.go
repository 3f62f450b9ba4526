package app

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/deckview/internal/config"
	"github.com/roasbeef/deckview/internal/deck"
	"github.com/roasbeef/deckview/internal/deckapi/deckapitest"
	"github.com/roasbeef/deckview/internal/playback"
	"github.com/roasbeef/deckview/internal/session"
	"github.com/roasbeef/deckview/internal/viewer"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, apiURL string) *config.Config {
	t.Helper()

	return &config.Config{
		APIURL:         apiURL,
		DataDir:        t.TempDir(),
		ViewerAddr:     config.DefaultViewerAddr,
		Debounce:       10 * time.Millisecond,
		AttachTimeout:  time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

func newTestApp(t *testing.T, backend *deckapitest.Backend,
	opts ...Option) *App {

	t.Helper()

	a, err := New(context.Background(), testConfig(t, backend.URL()),
		opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	return a
}

func TestLoginLogout(t *testing.T) {
	ctx := context.Background()
	backend := deckapitest.NewBackend(t)
	backend.AddUser("ada@example.com", "pw123456", "")

	a := newTestApp(t, backend, WithSessionStore(session.NewMemoryStore()))

	_, err := a.WhoAmI()
	require.ErrorIs(t, err, ErrNotLoggedIn)
	require.ErrorIs(t, err, deck.ErrAuth)

	_, err = a.Login(ctx, "ada@example.com", "wrong")
	require.ErrorIs(t, err, deck.ErrAuth)

	ident, err := a.Login(ctx, "ada@example.com", "pw123456")
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", ident.Email)
	require.Equal(t, "ada", ident.DisplayName())

	who, err := a.WhoAmI()
	require.NoError(t, err)
	require.Equal(t, ident, who)

	verified, err := a.Verify(ctx)
	require.NoError(t, err)
	require.Equal(t, ident.ID, verified.ID)

	require.NoError(t, a.Logout(ctx))
	_, err = a.WhoAmI()
	require.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestRegisterSignsIn(t *testing.T) {
	ctx := context.Background()
	backend := deckapitest.NewBackend(t)

	a := newTestApp(t, backend, WithSessionStore(session.NewMemoryStore()))

	ident, err := a.Register(ctx, "Grace", "grace@example.com", "pw123456")
	require.NoError(t, err)
	require.Equal(t, "grace@example.com", ident.Email)
	require.True(t, a.Session().Authenticated())

	_, err = a.Register(ctx, "Grace", "grace@example.com", "pw123456")
	require.ErrorIs(t, err, deck.ErrInvalidRequest)
}

// TestSessionSurvivesRestart uses the sqlite store: a second App over the
// same data directory comes up signed in.
func TestSessionSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	backend := deckapitest.NewBackend(t)
	backend.AddUser("ada@example.com", "pw123456", "Ada")

	cfg := testConfig(t, backend.URL())

	first, err := New(ctx, cfg)
	require.NoError(t, err)

	ident, err := first.Login(ctx, "ada@example.com", "pw123456")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(ctx, cfg)
	require.NoError(t, err)
	defer second.Close()

	who, err := second.WhoAmI()
	require.NoError(t, err)
	require.Equal(t, ident.ID, who.ID)

	recs, err := second.Presentations().List(ctx)
	require.NoError(t, err)
	require.Empty(t, recs)

	require.NoError(t, second.Logout(ctx))

	third, err := New(ctx, cfg)
	require.NoError(t, err)
	defer third.Close()

	_, err = third.WhoAmI()
	require.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestRevokedCredentialClearsSession(t *testing.T) {
	ctx := context.Background()
	backend := deckapitest.NewBackend(t)
	backend.AddUser("ada@example.com", "pw123456", "")

	a := newTestApp(t, backend, WithSessionStore(session.NewMemoryStore()))

	_, err := a.Login(ctx, "ada@example.com", "pw123456")
	require.NoError(t, err)

	backend.Revoke(a.Session().Token().UnwrapOr(""))

	_, err = a.Presentations().List(ctx)
	require.ErrorIs(t, err, deck.ErrAuth)
	require.False(t, a.Session().Authenticated())

	_, err = a.Verify(ctx)
	require.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestPlayDrivesSurface(t *testing.T) {
	ctx := context.Background()
	backend := deckapitest.NewBackend(t)
	backend.AddUser("ada@example.com", "pw123456", "")

	a := newTestApp(t, backend, WithSessionStore(session.NewMemoryStore()))
	_, err := a.Login(ctx, "ada@example.com", "pw123456")
	require.NoError(t, err)

	rec, err := a.Presentations().Generate(ctx, deck.GenerateRequest{
		Title:    "Intro",
		Markdown: "# One\n---\n# Two",
	})
	require.NoError(t, err)

	srv := viewer.NewServer(nil)
	require.NoError(t, srv.Start())
	defer srv.Shutdown(ctx)

	bridge, surfaceURL, err := a.Play(ctx, srv, rec.ID)
	require.NoError(t, err)
	defer bridge.Close()

	resp, err := http.Get(surfaceURL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	u := strings.Replace(surfaceURL, "http://", "ws://", 1)
	u = strings.Replace(u, "/surface/", "/ws/", 1)

	header := http.Header{}
	header.Set("Origin", "null")
	conn, _, err := websocket.DefaultDialer.Dial(u, header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(
		websocket.TextMessage, []byte(`{"kind":"hello"}`),
	))

	select {
	case <-bridge.Attached():
	case <-time.After(5 * time.Second):
		t.Fatal("bridge never attached")
	}

	require.True(t, bridge.HandleKey("ArrowRight"))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"kind":"navigate","direction":"next"}`,
		string(data))

	_, _, err = a.Play(ctx, srv, "missing")
	require.ErrorIs(t, err, deck.ErrNotFound)
}

func TestDocumentFallsBackToDraft(t *testing.T) {
	doc, err := Document(&deck.Record{
		Title:    "Notes",
		Markdown: "# Notes",
		Markup:   fn.Some("<html>deck</html>"),
	})
	require.NoError(t, err)
	require.Equal(t, "<html>deck</html>", doc)

	doc, err = Document(&deck.Record{
		Title:    "Notes",
		Markdown: "# Notes",
		Markup:   fn.None[string](),
	})
	require.NoError(t, err)
	require.Contains(t, doc, "Draft")
	require.Contains(t, doc, "<h1>Notes</h1>")
}

func TestNewBridgeUsesConfig(t *testing.T) {
	backend := deckapitest.NewBackend(t)
	a := newTestApp(t, backend, WithSessionStore(session.NewMemoryStore()))

	b := a.NewBridge()
	defer b.Close()

	require.Equal(t, "unmounted", b.State())
	require.False(t, b.SendCommand(playback.DirectionNext))
}
