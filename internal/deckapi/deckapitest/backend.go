// Package deckapitest provides an in-process fake of the slide generation
// backend for tests. It implements the same REST routes, status codes and
// JSON shapes as the real service in its development mode, including JWT
// credentials that carry only sub and email claims.
package deckapitest

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// signingKey signs the fake backend's credentials.
var signingKey = []byte("deckapitest-signing-key")

// Record is the backend's stored form of a presentation.
type Record struct {
	ID              string  `json:"id"`
	UserID          string  `json:"user_id"`
	Title           string  `json:"title"`
	MarkdownContent string  `json:"markdown_content"`
	Theme           string  `json:"theme"`
	HTMLContent     string  `json:"html_content"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       *string `json:"updated_at"`

	created time.Time
}

type user struct {
	id       string
	email    string
	password string
	name     string
}

// Backend is a fake backend served over httptest.
type Backend struct {
	Server *httptest.Server

	mu       sync.Mutex
	users    map[string]*user
	revoked  map[string]bool
	records  map[string]*Record
	calls    map[string]int
	hold     chan struct{}
	failNext int
	now      func() time.Time
	ttl      time.Duration
}

// NewBackend starts a fake backend that is shut down when the test ends.
func NewBackend(t testing.TB) *Backend {
	t.Helper()

	b := &Backend{
		users:   make(map[string]*user),
		revoked: make(map[string]bool),
		records: make(map[string]*Record),
		calls:   make(map[string]int),
		now:     time.Now,
		ttl:     time.Hour,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/token", b.handleToken)
	mux.HandleFunc("POST /api/auth/register", b.handleRegister)
	mux.HandleFunc("GET /api/auth/me", b.handleMe)
	mux.HandleFunc("GET /api/presentations/{$}", b.handleList)
	mux.HandleFunc("POST /api/presentations/generate", b.handleGenerate)
	mux.HandleFunc("GET /api/presentations/{id}", b.handleGet)
	mux.HandleFunc("PUT /api/presentations/{id}", b.handleUpdate)
	mux.HandleFunc("DELETE /api/presentations/{id}", b.handleDelete)

	b.Server = httptest.NewServer(b.count(mux))
	t.Cleanup(b.Server.Close)

	return b
}

// URL returns the API root, including the /api prefix.
func (b *Backend) URL() string {
	return b.Server.URL + "/api"
}

// AddUser registers an account directly and returns its id.
func (b *Backend) AddUser(email, password, name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	u := &user{
		id:       uuid.NewString(),
		email:    email,
		password: password,
		name:     name,
	}
	b.users[email] = u

	return u.id
}

// IssueToken returns a credential for the given account, as /auth/token
// would.
func (b *Backend) IssueToken(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.issueLocked(b.users[email])
}

// SetTokenTTL changes the lifetime of newly issued credentials.
func (b *Backend) SetTokenTTL(ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ttl = ttl
}

// Revoke invalidates a previously issued credential.
func (b *Backend) Revoke(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.revoked[token] = true
}

// Calls returns how many requests hit the route, written as
// "METHOD /path" with the /api prefix and ids stripped, e.g.
// "GET /presentations/{id}".
func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.calls[route]
}

// Hold blocks presentation reads until the returned release function is
// called.
func (b *Backend) Hold() func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan struct{})
	b.hold = ch

	var once sync.Once

	return func() {
		once.Do(func() {
			b.mu.Lock()
			if b.hold == ch {
				b.hold = nil
			}
			b.mu.Unlock()

			close(ch)
		})
	}
}

// FailNext makes the next request fail with the given status.
func (b *Backend) FailNext(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failNext = status
}

// Stored returns a copy of the record as held by the backend.
func (b *Backend) Stored(id string) (Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[id]
	if !ok {
		return Record{}, false
	}

	return *rec, true
}

// EditDirect modifies a record behind the client's back.
func (b *Backend) EditDirect(id, title string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if rec, ok := b.records[id]; ok {
		rec.Title = title
	}
}

// routeName normalizes a request into the key used by Calls.
func routeName(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, "/api")
	if strings.HasPrefix(path, "/presentations/") {
		rest := strings.TrimPrefix(path, "/presentations/")
		if rest != "" && rest != "generate" {
			path = "/presentations/{id}"
		}
	}

	return r.Method + " " + path
}

// count records the call and applies injected failures.
func (b *Backend) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.calls[routeName(r)]++
		status := b.failNext
		b.failNext = 0
		b.mu.Unlock()

		if status != 0 {
			writeDetail(w, status, http.StatusText(status))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// waitHold blocks while reads are held.
func (b *Backend) waitHold(r *http.Request) {
	b.mu.Lock()
	ch := b.hold
	b.mu.Unlock()

	if ch == nil {
		return
	}

	select {
	case <-ch:
	case <-r.Context().Done():
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (b *Backend) issueLocked(u *user) string {
	if u == nil {
		return ""
	}

	claims := jwt.MapClaims{
		"sub":   u.id,
		"email": u.email,
		"exp":   b.now().Add(b.ttl).Unix(),
	}
	tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString(signingKey)

	return tok
}

// authenticate resolves the bearer credential to an account.
func (b *Backend) authenticate(w http.ResponseWriter, r *http.Request) *user {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return nil
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(
		raw, claims, func(*jwt.Token) (any, error) {
			return signingKey, nil
		},
	)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Invalid token")
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.revoked[raw] {
		writeDetail(w, http.StatusUnauthorized, "Invalid token")
		return nil
	}

	email, _ := claims["email"].(string)
	u := b.users[email]
	if u == nil {
		writeDetail(w, http.StatusUnauthorized, "Invalid token")
		return nil
	}

	return u
}

func (b *Backend) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	b.mu.Lock()
	u := b.users[r.PostForm.Get("username")]
	if u == nil || u.password != r.PostForm.Get("password") {
		b.mu.Unlock()
		writeDetail(
			w, http.StatusUnauthorized,
			"Incorrect email or password",
		)
		return
	}
	tok := b.issueLocked(u)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": tok,
		"token_type":   "bearer",
	})
}

func (b *Backend) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	b.mu.Lock()
	if _, ok := b.users[req.Email]; ok {
		b.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	u := &user{
		id:       uuid.NewString(),
		email:    req.Email,
		password: req.Password,
		name:     req.Name,
	}
	b.users[req.Email] = u
	tok := b.issueLocked(u)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"id":           u.id,
		"email":        u.email,
		"name":         u.name,
		"access_token": tok,
	})
}

func (b *Backend) handleMe(w http.ResponseWriter, r *http.Request) {
	u := b.authenticate(w, r)
	if u == nil {
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":    u.id,
		"email": u.email,
	})
}

func (b *Backend) handleList(w http.ResponseWriter, r *http.Request) {
	u := b.authenticate(w, r)
	if u == nil {
		return
	}
	b.waitHold(r)

	b.mu.Lock()
	out := make([]Record, 0, len(b.records))
	for _, rec := range b.records {
		if rec.UserID == u.id {
			out = append(out, *rec)
		}
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].created.After(out[j].created)
	})

	writeJSON(w, http.StatusOK, out)
}

// lookup returns the caller's record or writes a 404.
func (b *Backend) lookup(w http.ResponseWriter, u *user,
	id string) *Record {

	rec, ok := b.records[id]
	if !ok || rec.UserID != u.id {
		writeDetail(w, http.StatusNotFound, "Presentation not found")
		return nil
	}

	return rec
}

func (b *Backend) handleGet(w http.ResponseWriter, r *http.Request) {
	u := b.authenticate(w, r)
	if u == nil {
		return
	}
	b.waitHold(r)

	b.mu.Lock()
	rec := b.lookup(w, u, r.PathValue("id"))
	var out Record
	if rec != nil {
		out = *rec
	}
	b.mu.Unlock()

	if rec != nil {
		writeJSON(w, http.StatusOK, out)
	}
}

func (b *Backend) handleGenerate(w http.ResponseWriter, r *http.Request) {
	u := b.authenticate(w, r)
	if u == nil {
		return
	}

	var req struct {
		MarkdownInput string `json:"markdown_input"`
		Title         string `json:"title"`
		Theme         string `json:"theme"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if strings.TrimSpace(req.MarkdownInput) == "" {
		writeDetail(
			w, http.StatusUnprocessableEntity,
			"markdown_input must not be empty",
		)
		return
	}
	if req.Title == "" {
		req.Title = "Untitled Presentation"
	}
	if req.Theme == "" {
		req.Theme = "default"
	}

	b.mu.Lock()
	now := b.now().UTC()
	rec := &Record{
		ID:              uuid.NewString(),
		UserID:          u.id,
		Title:           req.Title,
		MarkdownContent: req.MarkdownInput,
		Theme:           req.Theme,
		HTMLContent:     RenderDeck(req.Title, req.MarkdownInput, req.Theme),
		CreatedAt:       now.Format("2006-01-02T15:04:05.999999"),
		created:         now,
	}
	b.records[rec.ID] = rec
	out := *rec
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleUpdate(w http.ResponseWriter, r *http.Request) {
	u := b.authenticate(w, r)
	if u == nil {
		return
	}

	var patch struct {
		Title           *string `json:"title"`
		MarkdownContent *string `json:"markdown_content"`
		Theme           *string `json:"theme"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	b.mu.Lock()
	rec := b.lookup(w, u, r.PathValue("id"))
	if rec == nil {
		b.mu.Unlock()
		return
	}
	if patch.Title != nil {
		rec.Title = *patch.Title
	}
	if patch.MarkdownContent != nil {
		rec.MarkdownContent = *patch.MarkdownContent
	}
	if patch.Theme != nil {
		rec.Theme = *patch.Theme
	}
	rec.HTMLContent = RenderDeck(rec.Title, rec.MarkdownContent, rec.Theme)

	now := b.now().UTC()
	stamp := now.Format(time.RFC3339Nano)
	rec.UpdatedAt = &stamp
	out := *rec
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleDelete(w http.ResponseWriter, r *http.Request) {
	u := b.authenticate(w, r)
	if u == nil {
		return
	}

	b.mu.Lock()
	rec := b.lookup(w, u, r.PathValue("id"))
	if rec != nil {
		delete(b.records, rec.ID)
	}
	b.mu.Unlock()

	if rec != nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Presentation deleted successfully",
		})
	}
}

// RenderDeck produces a reveal.js style document the way the backend's
// renderer does: one section per "---" separated slide.
func RenderDeck(title, markdown, theme string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<!DOCTYPE html>\n<html>\n<head>\n"+
		"<title>%s</title>\n"+
		"<link rel=\"stylesheet\" href=\"theme/%s.css\">\n"+
		"</head>\n<body>\n<div class=\"reveal\"><div class=\"slides\">\n",
		html.EscapeString(title), html.EscapeString(theme))

	for _, slide := range strings.Split(markdown, "\n---\n") {
		fmt.Fprintf(&sb, "<section data-markdown><textarea "+
			"data-template>%s</textarea></section>\n",
			html.EscapeString(strings.TrimSpace(slide)))
	}

	sb.WriteString("</div></div>\n" +
		"<script>Reveal.initialize({hash: true});</script>\n" +
		"</body>\n</html>\n")

	return sb.String()
}
