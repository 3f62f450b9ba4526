// Package deckapi is the REST transport to the slide generation backend. It
// knows the wire format and the status code conventions of the service and
// maps every failure onto the deck error taxonomy. It does no caching; the
// deckcache package sits in front of it.
package deckapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roasbeef/deckview/internal/deck"
)

const (
	// DefaultTimeout bounds a single backend call, including generation,
	// which renders synchronously on the backend.
	DefaultTimeout = 2 * time.Minute

	// maxErrorBody caps how much of an error response is read for the
	// detail message.
	maxErrorBody = 8 << 10

	userAgent = "deckview"
)

// Authorizer decorates outgoing requests with the session credential.
type Authorizer interface {
	// Attach returns a request carrying the credential. It must not
	// modify the passed request.
	Attach(req *http.Request) *http.Request
}

// Config holds the backend client configuration.
type Config struct {
	// BaseURL is the API root, including the /api prefix, e.g.
	// http://localhost:8000/api.
	BaseURL string

	// Timeout bounds each request. Zero selects DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the transport. Tests pass the httptest
	// server's client.
	HTTPClient *http.Client
}

// Client talks to the backend REST API.
type Client struct {
	base *url.URL
	http *http.Client
	auth Authorizer
}

// NewClient creates a backend client. auth may be nil for a client that only
// performs unauthenticated calls.
func NewClient(cfg Config, auth Authorizer) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid api url %q: scheme must be "+
			"http or https", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		base: base,
		http: httpClient,
		auth: auth,
	}, nil
}

// endpoint joins the path segments onto the base URL, escaping each.
func (c *Client) endpoint(segments ...string) string {
	u := *c.base
	rawPath := c.base.EscapedPath()
	for _, seg := range segments {
		u.Path += "/" + seg
		rawPath += "/" + url.PathEscape(seg)
	}
	u.RawPath = rawPath

	return u.String()
}

// request describes a single backend call.
type request struct {
	op     string
	method string
	url    string
	body   io.Reader
	ctype  string
	auth   bool
}

// do executes the request and decodes a 2xx JSON body into out, which may be
// nil to discard it.
func (c *Client) do(ctx context.Context, r request, out any) error {
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, r.body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", r.op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if r.ctype != "" {
		req.Header.Set("Content-Type", r.ctype)
	}
	if r.auth && c.auth != nil {
		req = c.auth.Attach(req)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		// A caller cancellation is reported as such rather than as a
		// backend outage.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", r.op, ctxErr)
		}

		return &deck.StatusError{
			Op:    r.op,
			Kind:  deck.ErrNetwork,
			Cause: err,
		}
	}
	defer resp.Body.Close()

	log.Debugf("%s %s -> %d (%v)", r.method, req.URL.Path,
		resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(r.op, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &deck.StatusError{
			Op:         r.op,
			StatusCode: resp.StatusCode,
			Detail:     "malformed response body",
			Kind:       deck.ErrNetwork,
			Cause:      err,
		}
	}

	return nil
}

// statusError classifies a non-2xx response.
func statusError(op string, resp *http.Response) error {
	var kind error
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = deck.ErrAuth

	case http.StatusNotFound:
		kind = deck.ErrNotFound

	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		kind = deck.ErrInvalidRequest

	default:
		kind = deck.ErrNetwork
	}

	return &deck.StatusError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Detail:     readDetail(resp.Body),
		Kind:       kind,
	}
}

// readDetail extracts the FastAPI style {"detail": ...} message from an
// error body. The detail is either a string or a list of validation errors.
func readDetail(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil ||
		len(payload.Detail) == 0 {

		return strings.TrimSpace(string(raw))
	}

	var msg string
	if err := json.Unmarshal(payload.Detail, &msg); err == nil {
		return msg
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, item := range items {
			msgs = append(msgs, item.Msg)
		}

		return strings.Join(msgs, "; ")
	}

	return string(payload.Detail)
}

// jsonBody encodes v as a request body.
func jsonBody(v any) (io.Reader, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(raw), nil
}

// ListPresentations fetches every record of the current owner.
func (c *Client) ListPresentations(ctx context.Context) ([]*deck.Record,
	error) {

	var wire []wireRecord
	err := c.do(ctx, request{
		op:     "list presentations",
		method: http.MethodGet,
		// The backend mounts the collection with a trailing slash.
		url:  c.endpoint("presentations") + "/",
		auth: true,
	}, &wire)
	if err != nil {
		return nil, err
	}

	records := make([]*deck.Record, 0, len(wire))
	for _, w := range wire {
		records = append(records, w.toRecord())
	}

	return records, nil
}

// GetPresentation fetches a single record.
func (c *Client) GetPresentation(ctx context.Context,
	id string) (*deck.Record, error) {

	if id == "" {
		return nil, fmt.Errorf("%w: empty presentation id",
			deck.ErrInvalidRequest)
	}

	var wire wireRecord
	err := c.do(ctx, request{
		op:     "get presentation",
		method: http.MethodGet,
		url:    c.endpoint("presentations", id),
		auth:   true,
	}, &wire)
	if err != nil {
		return nil, err
	}

	return wire.toRecord(), nil
}

// GeneratePresentation submits markdown for rendering and returns the stored
// record.
func (c *Client) GeneratePresentation(ctx context.Context,
	gen deck.GenerateRequest) (*deck.Record, error) {

	gen = gen.Normalize()
	if err := gen.Validate(); err != nil {
		return nil, err
	}

	body, err := jsonBody(wireGenerate{
		MarkdownInput: gen.Markdown,
		Title:         gen.Title,
		Theme:         gen.Theme,
	})
	if err != nil {
		return nil, err
	}

	var wire wireRecord
	err = c.do(ctx, request{
		op:     "generate presentation",
		method: http.MethodPost,
		url:    c.endpoint("presentations", "generate"),
		body:   body,
		ctype:  "application/json",
		auth:   true,
	}, &wire)
	if err != nil {
		return nil, err
	}

	return wire.toRecord(), nil
}

// UpdatePresentation applies a partial update.
func (c *Client) UpdatePresentation(ctx context.Context, id string,
	patch deck.Patch) (*deck.Record, error) {

	if id == "" {
		return nil, fmt.Errorf("%w: empty presentation id",
			deck.ErrInvalidRequest)
	}
	if patch.IsEmpty() {
		return nil, fmt.Errorf("%w: update carries no changes",
			deck.ErrInvalidRequest)
	}

	body, err := jsonBody(newWirePatch(patch))
	if err != nil {
		return nil, err
	}

	var wire wireRecord
	err = c.do(ctx, request{
		op:     "update presentation",
		method: http.MethodPut,
		url:    c.endpoint("presentations", id),
		body:   body,
		ctype:  "application/json",
		auth:   true,
	}, &wire)
	if err != nil {
		return nil, err
	}

	return wire.toRecord(), nil
}

// DeletePresentation removes a record. An absent record is reported as
// deck.ErrNotFound.
func (c *Client) DeletePresentation(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty presentation id",
			deck.ErrInvalidRequest)
	}

	return c.do(ctx, request{
		op:     "delete presentation",
		method: http.MethodDelete,
		url:    c.endpoint("presentations", id),
		auth:   true,
	}, nil)
}

// Login exchanges email and password for a credential. The backend follows
// the OAuth2 password flow, so the email travels as the username field.
func (c *Client) Login(ctx context.Context, email,
	password string) (deck.TokenResponse, error) {

	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	var wire wireToken
	err := c.do(ctx, request{
		op:     "login",
		method: http.MethodPost,
		url:    c.endpoint("auth", "token"),
		body:   strings.NewReader(form.Encode()),
		ctype:  "application/x-www-form-urlencoded",
	}, &wire)
	if err != nil {
		return deck.TokenResponse{}, err
	}

	if wire.AccessToken == "" {
		return deck.TokenResponse{}, &deck.StatusError{
			Op:     "login",
			Detail: "response carries no access token",
			Kind:   deck.ErrAuth,
		}
	}

	return wire.toTokenResponse(), nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, name, email,
	password string) (deck.Registration, error) {

	body, err := jsonBody(wireRegister{
		Email:    email,
		Password: password,
		Name:     name,
	})
	if err != nil {
		return deck.Registration{}, err
	}

	var wire wireRegistration
	err = c.do(ctx, request{
		op:     "register",
		method: http.MethodPost,
		url:    c.endpoint("auth", "register"),
		body:   body,
		ctype:  "application/json",
	}, &wire)
	if err != nil {
		return deck.Registration{}, err
	}

	return deck.Registration{
		ID:          wire.ID.String(),
		Email:       wire.Email,
		Name:        wire.Name,
		AccessToken: wire.AccessToken,
	}, nil
}

// Me returns the identity the backend associates with the current
// credential.
func (c *Client) Me(ctx context.Context) (deck.Identity, error) {
	var wire wireUser
	err := c.do(ctx, request{
		op:     "current user",
		method: http.MethodGet,
		url:    c.endpoint("auth", "me"),
		auth:   true,
	}, &wire)
	if err != nil {
		return deck.Identity{}, err
	}

	ident := deck.Identity{
		ID:    wire.ID.String(),
		Email: wire.Email,
		Name:  wire.Name,
	}
	if ident.Name == "" {
		ident.Name = wire.FullName
	}

	return ident, nil
}

// IsRetryable reports whether err is a transient backend failure.
func IsRetryable(err error) bool {
	return errors.Is(err, deck.ErrNetwork)
}
