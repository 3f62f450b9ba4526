package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/roasbeef/deckview/internal/deck"
)

// PresentationSummary is a presentation without its sources.
type PresentationSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Theme     string `json:"theme"`
	Rendered  bool   `json:"rendered"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// PresentationDetail is a presentation with its markdown, and its rendered
// markup when asked for.
type PresentationDetail struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Theme     string `json:"theme"`
	Rendered  bool   `json:"rendered"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
	Markdown  string `json:"markdown"`
	Markup    string `json:"markup,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339)
}

func summarize(rec *deck.Record) PresentationSummary {
	return PresentationSummary{
		ID:        rec.ID,
		Title:     rec.Title,
		Theme:     rec.Theme,
		Rendered:  rec.HasMarkup(),
		CreatedAt: formatTime(rec.CreatedAt),
		UpdatedAt: formatTime(rec.UpdatedAt),
	}
}

func detail(rec *deck.Record, withMarkup bool) PresentationDetail {
	sum := summarize(rec)
	d := PresentationDetail{
		ID:        sum.ID,
		Title:     sum.Title,
		Theme:     sum.Theme,
		Rendered:  sum.Rendered,
		CreatedAt: sum.CreatedAt,
		UpdatedAt: sum.UpdatedAt,
		Markdown:  rec.Markdown,
	}
	if withMarkup {
		d.Markup = rec.Markup.UnwrapOr("")
	}

	return d
}

// ListPresentationsArgs are the arguments for the list_presentations tool.
type ListPresentationsArgs struct{}

// ListPresentationsResult is the result of the list_presentations tool.
type ListPresentationsResult struct {
	Presentations []PresentationSummary `json:"presentations"`
}

func (s *Server) handleListPresentations(ctx context.Context,
	req *mcp.CallToolRequest,
	args ListPresentationsArgs) (*mcp.CallToolResult,
	ListPresentationsResult, error) {

	recs, err := s.decks.List(ctx)
	if err != nil {
		return nil, ListPresentationsResult{}, err
	}

	out := make([]PresentationSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, summarize(rec))
	}

	return nil, ListPresentationsResult{Presentations: out}, nil
}

// GetPresentationArgs are the arguments for the get_presentation tool.
type GetPresentationArgs struct {
	ID string `json:"id" jsonschema:"ID of the presentation"`

	IncludeMarkup bool `json:"include_markup,omitempty" jsonschema:"Also return the rendered HTML document"`
}

func (s *Server) handleGetPresentation(ctx context.Context,
	req *mcp.CallToolRequest,
	args GetPresentationArgs) (*mcp.CallToolResult, PresentationDetail,
	error) {

	if args.ID == "" {
		return nil, PresentationDetail{}, fmt.Errorf("id is required")
	}

	found, err := s.decks.Lookup(ctx, args.ID)
	if err != nil {
		return nil, PresentationDetail{}, err
	}

	rec, err := found.UnwrapOrErr(
		fmt.Errorf("presentation %s not found", args.ID),
	)
	if err != nil {
		return nil, PresentationDetail{}, err
	}

	return nil, detail(rec, args.IncludeMarkup), nil
}

// GeneratePresentationArgs are the arguments for the generate_presentation
// tool.
type GeneratePresentationArgs struct {
	Markdown string `json:"markdown" jsonschema:"Slide source in markdown, slides separated by --- lines"`
	Title    string `json:"title,omitempty" jsonschema:"Presentation title"`
	Theme    string `json:"theme,omitempty" jsonschema:"Slide theme,default=default"`
}

func (s *Server) handleGeneratePresentation(ctx context.Context,
	req *mcp.CallToolRequest,
	args GeneratePresentationArgs) (*mcp.CallToolResult,
	PresentationSummary, error) {

	rec, err := s.decks.Generate(ctx, deck.GenerateRequest{
		Markdown: args.Markdown,
		Title:    args.Title,
		Theme:    args.Theme,
	})
	if err != nil {
		return nil, PresentationSummary{}, err
	}

	log.Debugf("Generated %v over MCP", rec)

	return nil, summarize(rec), nil
}

// UpdatePresentationArgs are the arguments for the update_presentation
// tool. Omitted fields are left unchanged.
type UpdatePresentationArgs struct {
	ID       string  `json:"id" jsonschema:"ID of the presentation"`
	Title    *string `json:"title,omitempty" jsonschema:"New title"`
	Markdown *string `json:"markdown,omitempty" jsonschema:"New markdown source"`
	Theme    *string `json:"theme,omitempty" jsonschema:"New theme"`
}

// patch converts the optional fields.
func (a UpdatePresentationArgs) patch() deck.Patch {
	opt := func(v *string) fn.Option[string] {
		if v == nil {
			return fn.None[string]()
		}

		return fn.Some(*v)
	}

	return deck.Patch{
		Title:    opt(a.Title),
		Markdown: opt(a.Markdown),
		Theme:    opt(a.Theme),
	}
}

func (s *Server) handleUpdatePresentation(ctx context.Context,
	req *mcp.CallToolRequest,
	args UpdatePresentationArgs) (*mcp.CallToolResult,
	PresentationSummary, error) {

	if args.ID == "" {
		return nil, PresentationSummary{}, fmt.Errorf("id is required")
	}

	patch := args.patch()
	if patch.IsEmpty() {
		return nil, PresentationSummary{}, fmt.Errorf("nothing to " +
			"update: set title, markdown or theme")
	}

	rec, err := s.decks.Update(ctx, args.ID, patch)
	if err != nil {
		return nil, PresentationSummary{}, err
	}

	return nil, summarize(rec), nil
}

// DeletePresentationArgs are the arguments for the delete_presentation
// tool.
type DeletePresentationArgs struct {
	ID string `json:"id" jsonschema:"ID of the presentation"`
}

// DeletePresentationResult is the result of the delete_presentation tool.
type DeletePresentationResult struct {
	Deleted bool `json:"deleted"`
}

func (s *Server) handleDeletePresentation(ctx context.Context,
	req *mcp.CallToolRequest,
	args DeletePresentationArgs) (*mcp.CallToolResult,
	DeletePresentationResult, error) {

	if args.ID == "" {
		return nil, DeletePresentationResult{},
			fmt.Errorf("id is required")
	}

	deleted, err := s.decks.Delete(ctx, args.ID)
	if err != nil {
		return nil, DeletePresentationResult{}, err
	}

	return nil, DeletePresentationResult{Deleted: deleted}, nil
}
