package viewer

import (
	"bytes"
	"fmt"
	"html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// draftRenderer renders markdown without passing raw HTML through.
var draftRenderer = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

const draftTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s (draft)</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; }
.banner { background: #fff3cd; padding: 0.5rem 1rem; }
</style>
</head>
<body>
<p class="banner">Draft: this presentation has not been rendered yet.</p>
%s
</body>
</html>
`

// DraftDocument returns the placeholder page for a record without markup:
// its markdown source rendered as plain HTML. Drafts have no slide engine so
// playback on them is view only.
func DraftDocument(title, markdown string) (string, error) {
	var body bytes.Buffer
	if err := draftRenderer.Convert([]byte(markdown), &body); err != nil {
		return "", fmt.Errorf("render draft: %w", err)
	}

	if title == "" {
		title = "Untitled"
	}

	return fmt.Sprintf(draftTemplate, html.EscapeString(title),
		body.String()), nil
}
