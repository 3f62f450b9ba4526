package deckapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/deckview/internal/deck"
)

// flexID accepts identifiers encoded either as JSON strings or numbers.
type flexID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %w", err)
	}
	*f = flexID(n.String())

	return nil
}

// String returns the identifier.
func (f flexID) String() string {
	return string(f)
}

// wireTimeLayouts are the timestamp layouts the backend emits. Python's
// isoformat omits the zone for naive datetimes, which are UTC.
var wireTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// wireTime parses the backend's timestamps.
type wireTime struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (w *wireTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// null or non-string: leave zero.
		return nil
	}
	if s == "" {
		return nil
	}

	for _, layout := range wireTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			w.Time = t.UTC()
			return nil
		}
	}

	return fmt.Errorf("unrecognized timestamp %q", s)
}

// wireRecord is the backend's PresentationResponse.
type wireRecord struct {
	ID              flexID   `json:"id"`
	UserID          flexID   `json:"user_id"`
	Title           string   `json:"title"`
	MarkdownContent string   `json:"markdown_content"`
	Theme           string   `json:"theme"`
	HTMLContent     *string  `json:"html_content"`
	CreatedAt       wireTime `json:"created_at"`
	UpdatedAt       wireTime `json:"updated_at"`
}

// toRecord converts the wire form into a Record. Empty markup is treated as
// absent.
func (w wireRecord) toRecord() *deck.Record {
	markup := fn.None[string]()
	if w.HTMLContent != nil && strings.TrimSpace(*w.HTMLContent) != "" {
		markup = fn.Some(*w.HTMLContent)
	}

	return &deck.Record{
		ID:        w.ID.String(),
		Title:     w.Title,
		Markdown:  w.MarkdownContent,
		Markup:    markup,
		Theme:     w.Theme,
		OwnerID:   w.UserID.String(),
		CreatedAt: w.CreatedAt.Time,
		UpdatedAt: w.UpdatedAt.Time,
	}
}

// wireGenerate is the body of POST /presentations/generate.
type wireGenerate struct {
	MarkdownInput string `json:"markdown_input"`
	Title         string `json:"title"`
	Theme         string `json:"theme"`
}

// wirePatch is the body of PUT /presentations/{id}. Unset fields are omitted
// so the backend leaves them unchanged.
type wirePatch struct {
	Title           *string `json:"title,omitempty"`
	MarkdownContent *string `json:"markdown_content,omitempty"`
	Theme           *string `json:"theme,omitempty"`
}

// optPtr converts an option into the pointer form encoding/json omits.
func optPtr(o fn.Option[string]) *string {
	var p *string
	o.WhenSome(func(v string) {
		p = &v
	})

	return p
}

func newWirePatch(p deck.Patch) wirePatch {
	return wirePatch{
		Title:           optPtr(p.Title),
		MarkdownContent: optPtr(p.Markdown),
		Theme:           optPtr(p.Theme),
	}
}

// wireToken is the /auth/token response. Only access_token is guaranteed.
type wireToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      flexID `json:"user_id"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
}

func (w wireToken) toTokenResponse() deck.TokenResponse {
	return deck.TokenResponse{
		AccessToken: w.AccessToken,
		TokenType:   w.TokenType,
		UserID:      w.UserID.String(),
		Email:       w.Email,
		FullName:    w.FullName,
	}
}

// wireRegister is the body of POST /auth/register.
type wireRegister struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// wireRegistration is the /auth/register response.
type wireRegistration struct {
	ID          flexID `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
}

// wireUser is the /auth/me response.
type wireUser struct {
	ID       flexID `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
}
