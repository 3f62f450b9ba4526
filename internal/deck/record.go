// Package deck defines the presentation records exchanged with the slide
// generation backend, together with the error taxonomy shared by every client
// layer that touches them.
package deck

import (
	"fmt"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultTheme is the theme requested when the caller leaves it empty.
const DefaultTheme = "default"

// Record is a single presentation as known to the client.
//
// Records handed out by the cache are shared between callers and must be
// treated as read-only. Use Clone before modifying one.
type Record struct {
	// ID is the backend assigned opaque identifier.
	ID string

	// Title is the human readable presentation title.
	Title string

	// Markdown is the markdown source the slides were generated from.
	Markdown string

	// Markup is the rendered slide document. It is absent until a
	// generation call has completed successfully for this record.
	Markup fn.Option[string]

	// Theme is the slide engine theme selected by the backend.
	Theme string

	// OwnerID is the identity of the user that owns the record.
	OwnerID string

	// CreatedAt is when the record was first stored.
	CreatedAt time.Time

	// UpdatedAt is when the record was last modified. It is the zero time
	// when the backend did not report it.
	UpdatedAt time.Time
}

// HasMarkup reports whether the record carries rendered markup that may be
// displayed.
func (r *Record) HasMarkup() bool {
	return r.Markup.IsSome() && r.Markup.UnwrapOr("") != ""
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	c := *r

	return &c
}

// String returns a short description of the record for logs.
func (r *Record) String() string {
	return fmt.Sprintf("%s(%q)", r.ID, r.Title)
}

// GenerateRequest asks the backend to render markdown into a slide deck.
type GenerateRequest struct {
	// Markdown is the slide source. Slides are separated by "---" lines.
	Markdown string

	// Title is the presentation title.
	Title string

	// Theme is the requested theme. Empty selects DefaultTheme.
	Theme string
}

// Normalize returns a copy of the request with defaults applied.
func (g GenerateRequest) Normalize() GenerateRequest {
	if strings.TrimSpace(g.Theme) == "" {
		g.Theme = DefaultTheme
	}

	return g
}

// Validate checks that the request can be submitted.
func (g GenerateRequest) Validate() error {
	if strings.TrimSpace(g.Markdown) == "" {
		return fmt.Errorf("%w: markdown input is empty", ErrInvalidRequest)
	}

	return nil
}

// Patch is a partial update of a record. Only fields that are set are sent
// to the backend.
type Patch struct {
	Title    fn.Option[string]
	Markdown fn.Option[string]
	Theme    fn.Option[string]
}

// IsEmpty reports whether the patch carries no changes.
func (p Patch) IsEmpty() bool {
	return p.Title.IsNone() && p.Markdown.IsNone() && p.Theme.IsNone()
}

// Identity is the projection of the authenticated user kept for immediate
// UI use.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// DisplayName returns the name to show for the identity, falling back to the
// local part of the email address.
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}

	local, _, _ := strings.Cut(i.Email, "@")

	return local
}

// IsZero reports whether no identity is known.
func (i Identity) IsZero() bool {
	return i == Identity{}
}

// TokenResponse is the credential issued by the backend on login.
type TokenResponse struct {
	AccessToken string
	TokenType   string
	UserID      string
	Email       string
	FullName    string
}

// Registration acknowledges a newly created account. Some backend modes sign
// the new user in immediately, in which case AccessToken is set.
type Registration struct {
	ID          string
	Email       string
	Name        string
	AccessToken string
}
