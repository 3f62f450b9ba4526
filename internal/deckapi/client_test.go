package deckapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/deckview/internal/deck"
	"github.com/roasbeef/deckview/internal/deckapi/deckapitest"
	"github.com/stretchr/testify/require"
)

// staticAuth attaches a fixed bearer credential.
type staticAuth struct {
	token string
}

func (s *staticAuth) Attach(req *http.Request) *http.Request {
	authed := req.Clone(req.Context())
	authed.Header.Set("Authorization", "Bearer "+s.token)

	return authed
}

// newTestClient returns a client authenticated as a fresh user of backend.
func newTestClient(t *testing.T,
	backend *deckapitest.Backend) (*Client, *staticAuth) {

	t.Helper()

	backend.AddUser("ada@example.com", "hunter22", "Ada")
	auth := &staticAuth{token: backend.IssueToken("ada@example.com")}

	client, err := NewClient(Config{BaseURL: backend.URL()}, auth)
	require.NoError(t, err)

	return client, auth
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "ftp://example.com"}, nil)
	require.Error(t, err)

	_, err = NewClient(Config{BaseURL: "://bad"}, nil)
	require.Error(t, err)
}

// TestPresentationLifecycle runs every presentation route against the fake
// backend.
func TestPresentationLifecycle(t *testing.T) {
	ctx := context.Background()
	backend := deckapitest.NewBackend(t)
	client, _ := newTestClient(t, backend)

	rec, err := client.GeneratePresentation(ctx, deck.GenerateRequest{
		Markdown: "# Title\n---\n## Slide 2",
		Title:    "Demo",
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	require.Equal(t, "Demo", rec.Title)
	require.Equal(t, deck.DefaultTheme, rec.Theme)
	require.True(t, rec.HasMarkup())
	require.False(t, rec.CreatedAt.IsZero())
	require.True(t, rec.UpdatedAt.IsZero())

	list, err := client.ListPresentations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, rec.ID, list[0].ID)

	got, err := client.GetPresentation(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.Markup, got.Markup)

	updated, err := client.UpdatePresentation(ctx, rec.ID, deck.Patch{
		Title: fn.Some("Renamed"),
	})
	require.NoError(t, err)
	require.Equal(t, "Renamed", updated.Title)
	require.Equal(t, rec.Markdown, updated.Markdown)
	require.False(t, updated.UpdatedAt.IsZero())

	require.NoError(t, client.DeletePresentation(ctx, rec.ID))

	err = client.DeletePresentation(ctx, rec.ID)
	require.ErrorIs(t, err, deck.ErrNotFound)

	_, err = client.GetPresentation(ctx, rec.ID)
	require.ErrorIs(t, err, deck.ErrNotFound)
}

// TestStatusMapping checks the classification of backend failures.
func TestStatusMapping(t *testing.T) {
	ctx := context.Background()
	backend := deckapitest.NewBackend(t)
	client, auth := newTestClient(t, backend)

	tests := []struct {
		status int
		kind   error
	}{
		{http.StatusUnauthorized, deck.ErrAuth},
		{http.StatusForbidden, deck.ErrAuth},
		{http.StatusNotFound, deck.ErrNotFound},
		{http.StatusUnprocessableEntity, deck.ErrInvalidRequest},
		{http.StatusInternalServerError, deck.ErrNetwork},
		{http.StatusBadGateway, deck.ErrNetwork},
	}
	for _, tc := range tests {
		backend.FailNext(tc.status)

		_, err := client.ListPresentations(ctx)
		require.ErrorIs(t, err, tc.kind, "status %d", tc.status)

		var statusErr *deck.StatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, tc.status, statusErr.StatusCode)
		require.Equal(t, http.StatusText(tc.status), statusErr.Detail)
	}

	// A revoked credential is an auth failure.
	backend.Revoke(auth.token)
	_, err := client.ListPresentations(ctx)
	require.ErrorIs(t, err, deck.ErrAuth)
	require.True(t, deck.IsAuth(err))
}

// TestTransportFailure maps an unreachable backend onto ErrNetwork.
func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(Config{
		BaseURL: url + "/api", Timeout: time.Second,
	}, nil)
	require.NoError(t, err)

	_, err = client.ListPresentations(context.Background())
	require.ErrorIs(t, err, deck.ErrNetwork)
	require.True(t, IsRetryable(err))
}

// TestCancelledContext is reported as cancellation, not an outage.
func TestCancelledContext(t *testing.T) {
	backend := deckapitest.NewBackend(t)
	client, _ := newTestClient(t, backend)

	release := backend.Hold()
	defer release()

	ctx, cancel := context.WithTimeout(
		context.Background(), 50*time.Millisecond,
	)
	defer cancel()

	_, err := client.ListPresentations(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotErrorIs(t, err, deck.ErrNetwork)
}

func TestValidationBeforeSend(t *testing.T) {
	ctx := context.Background()
	backend := deckapitest.NewBackend(t)
	client, _ := newTestClient(t, backend)

	_, err := client.GeneratePresentation(ctx, deck.GenerateRequest{})
	require.ErrorIs(t, err, deck.ErrInvalidRequest)

	_, err = client.UpdatePresentation(ctx, "x", deck.Patch{})
	require.ErrorIs(t, err, deck.ErrInvalidRequest)

	_, err = client.GetPresentation(ctx, "")
	require.ErrorIs(t, err, deck.ErrInvalidRequest)

	require.Zero(t, backend.Calls("POST /presentations/generate"))
	require.Zero(t, backend.Calls("PUT /presentations/{id}"))
}

// TestAuthRoutes exercises login, register and me.
func TestAuthRoutes(t *testing.T) {
	ctx := context.Background()
	backend := deckapitest.NewBackend(t)

	client, err := NewClient(Config{BaseURL: backend.URL()}, nil)
	require.NoError(t, err)

	reg, err := client.Register(ctx, "Grace", "grace@example.com", "pw123456")
	require.NoError(t, err)
	require.NotEmpty(t, reg.ID)
	require.Equal(t, "Grace", reg.Name)
	require.NotEmpty(t, reg.AccessToken)

	_, err = client.Register(ctx, "Grace", "grace@example.com", "pw123456")
	require.ErrorIs(t, err, deck.ErrInvalidRequest)
	require.Contains(t, err.Error(), "Email already registered")

	_, err = client.Login(ctx, "grace@example.com", "wrong")
	require.ErrorIs(t, err, deck.ErrAuth)

	tok, err := client.Login(ctx, "grace@example.com", "pw123456")
	require.NoError(t, err)
	require.Equal(t, "bearer", tok.TokenType)
	require.NotEmpty(t, tok.AccessToken)

	// The development backend omits the identity from the token
	// response.
	require.Empty(t, tok.UserID)

	authed, err := NewClient(
		Config{BaseURL: backend.URL()},
		&staticAuth{token: tok.AccessToken},
	)
	require.NoError(t, err)

	me, err := authed.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, reg.ID, me.ID)
	require.Equal(t, "grace@example.com", me.Email)
}

// TestReadDetail covers the backend's error body shapes.
func TestReadDetail(t *testing.T) {
	require.Equal(t, "nope", readDetail(strings.NewReader(
		`{"detail":"nope"}`,
	)))
	require.Equal(t, "field required; too short", readDetail(
		strings.NewReader(
			`{"detail":[{"msg":"field required"},{"msg":"too short"}]}`,
		),
	))
	require.Equal(t, "plain text", readDetail(strings.NewReader(
		"plain text\n",
	)))
	require.Empty(t, readDetail(strings.NewReader("")))
}

// TestWireDecoding checks id and timestamp flexibility.
func TestWireDecoding(t *testing.T) {
	var id flexID
	require.NoError(t, id.UnmarshalJSON([]byte(`42`)))
	require.Equal(t, "42", id.String())
	require.NoError(t, id.UnmarshalJSON([]byte(`"abc"`)))
	require.Equal(t, "abc", id.String())

	var ts wireTime
	require.NoError(t, ts.UnmarshalJSON([]byte(`"2025-01-02T03:04:05.123456"`)))
	require.Equal(t, 2025, ts.Year())
	require.NoError(t, ts.UnmarshalJSON([]byte(`"2025-01-02T03:04:05Z"`)))
	require.Error(t, ts.UnmarshalJSON([]byte(`"yesterday"`)))

	var empty wireTime
	require.NoError(t, empty.UnmarshalJSON([]byte(`null`)))
	require.True(t, empty.IsZero())

	blank := ""
	rec := wireRecord{ID: "1", HTMLContent: &blank}.toRecord()
	require.False(t, rec.HasMarkup())
	require.True(t, rec.Markup.IsNone())
}

// TestEndpointEscapesIDs ensures ids cannot change the request path.
func TestEndpointEscapesIDs(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://h/api/"}, nil)
	require.NoError(t, err)

	require.Equal(t, "http://h/api/presentations/a%2Fb",
		client.endpoint("presentations", "a/b"))
}
