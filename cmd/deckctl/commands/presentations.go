package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/deckview/internal/deck"
	"github.com/spf13/cobra"
)

var (
	showMarkup bool

	generateFile  string
	generateTitle string
	generateTheme string

	updateFile  string
	updateTitle string
	updateTheme string
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List your presentations",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one presentation and its markdown",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a presentation from markdown",
	Long: `Generate a presentation from a markdown file. Slides are separated by
lines containing only ---. Use --file - to read the markdown from stdin.`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change the title, markdown or theme of a presentation",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpdate,
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a presentation",
	Args:    cobra.ExactArgs(1),
	RunE:    runDelete,
}

func init() {
	showCmd.Flags().BoolVar(&showMarkup, "markup", false,
		"Print the rendered HTML document instead of the markdown")

	generateCmd.Flags().StringVarP(&generateFile, "file", "f", "",
		"Markdown file, or - for stdin")
	generateCmd.Flags().StringVarP(&generateTitle, "title", "t", "",
		"Presentation title (default: the file name)")
	generateCmd.Flags().StringVar(&generateTheme, "theme", "",
		"Slide theme (default: "+deck.DefaultTheme+")")
	_ = generateCmd.MarkFlagRequired("file")

	updateCmd.Flags().StringVarP(&updateFile, "file", "f", "",
		"New markdown file, or - for stdin")
	updateCmd.Flags().StringVarP(&updateTitle, "title", "t", "",
		"New title")
	updateCmd.Flags().StringVar(&updateTheme, "theme", "", "New theme")
}

// presentationView is the JSON form of a record.
type presentationView struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Theme     string     `json:"theme"`
	Rendered  bool       `json:"rendered"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	Markdown  string     `json:"markdown,omitempty"`
}

func viewOf(rec *deck.Record, withMarkdown bool) presentationView {
	v := presentationView{
		ID:        rec.ID,
		Title:     rec.Title,
		Theme:     rec.Theme,
		Rendered:  rec.HasMarkup(),
		CreatedAt: rec.CreatedAt,
	}
	if !rec.UpdatedAt.IsZero() {
		updated := rec.UpdatedAt
		v.UpdatedAt = &updated
	}
	if withMarkdown {
		v.Markdown = rec.Markdown
	}

	return v
}

// formatWhen renders a timestamp for tables.
func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return t.Local().Format("2006-01-02 15:04")
}

// renderTable writes recs as a table.
func renderTable(w io.Writer, recs []*deck.Record) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Title", "Theme", "Rendered", "Updated"})

	for _, rec := range recs {
		updated := rec.UpdatedAt
		if updated.IsZero() {
			updated = rec.CreatedAt
		}

		rendered := "no"
		if rec.HasMarkup() {
			rendered = "yes"
		}

		t.AppendRow(table.Row{
			rec.ID, rec.Title, rec.Theme, rendered,
			formatWhen(updated),
		})
	}

	t.Render()
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	recs, err := rt.app.Presentations().List(ctx)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		views := make([]presentationView, 0, len(recs))
		for _, rec := range recs {
			views = append(views, viewOf(rec, false))
		}

		return outputJSON(views)
	}

	if len(recs) == 0 {
		fmt.Println("No presentations yet. Create one with " +
			"`deckctl generate --file slides.md`.")
		return nil
	}

	renderTable(os.Stdout, recs)

	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	rec, err := rt.app.Presentations().Get(ctx, args[0])
	if err != nil {
		return err
	}

	if showMarkup {
		markup, err := rec.Markup.UnwrapOrErr(fmt.Errorf("%v has not "+
			"been rendered", rec))
		if err != nil {
			return err
		}

		fmt.Println(markup)
		return nil
	}

	if outputFormat == "json" {
		return outputJSON(viewOf(rec, true))
	}

	fmt.Printf("ID:       %s\n", rec.ID)
	fmt.Printf("Title:    %s\n", rec.Title)
	fmt.Printf("Theme:    %s\n", rec.Theme)
	fmt.Printf("Rendered: %v\n", rec.HasMarkup())
	fmt.Printf("Created:  %s\n", formatWhen(rec.CreatedAt))
	fmt.Printf("Updated:  %s\n", formatWhen(rec.UpdatedAt))
	fmt.Println()
	fmt.Println(rec.Markdown)

	return nil
}

// readMarkdown reads the markdown at path, with - meaning stdin.
func readMarkdown(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read markdown: %w", err)
	}

	return string(data), nil
}

// titleFromPath derives a title from a file name.
func titleFromPath(path string) string {
	if path == "-" {
		return ""
	}

	base := filepath.Base(path)

	return strings.TrimSuffix(base, filepath.Ext(base))
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	markdown, err := readMarkdown(generateFile)
	if err != nil {
		return err
	}

	title := generateTitle
	if title == "" {
		title = titleFromPath(generateFile)
	}

	req := deck.GenerateRequest{
		Markdown: markdown,
		Title:    title,
		Theme:    generateTheme,
	}

	// Catch empty input before signing in or contacting the service.
	if err := req.Validate(); err != nil {
		return err
	}

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	fmt.Fprintln(os.Stderr, "Generating slides...")

	rec, err := rt.app.Presentations().Generate(ctx, req)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(viewOf(rec, false))
	}

	fmt.Printf("Created %s %q. Present it with `deckctl play %s`.\n",
		rec.ID, rec.Title, rec.ID)

	return nil
}

// updatePatch builds the patch from the flags the user set.
func updatePatch(cmd *cobra.Command) (deck.Patch, error) {
	patch := deck.Patch{
		Title:    fn.None[string](),
		Markdown: fn.None[string](),
		Theme:    fn.None[string](),
	}

	flags := cmd.Flags()
	if flags.Changed("title") {
		patch.Title = fn.Some(updateTitle)
	}
	if flags.Changed("theme") {
		patch.Theme = fn.Some(updateTheme)
	}
	if flags.Changed("file") {
		markdown, err := readMarkdown(updateFile)
		if err != nil {
			return deck.Patch{}, err
		}
		patch.Markdown = fn.Some(markdown)
	}

	if patch.IsEmpty() {
		return deck.Patch{}, fmt.Errorf("%w: nothing to update, set "+
			"--title, --file or --theme", deck.ErrInvalidRequest)
	}

	return patch, nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	patch, err := updatePatch(cmd)
	if err != nil {
		return err
	}

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	rec, err := rt.app.Presentations().Update(ctx, args[0], patch)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(viewOf(rec, false))
	}

	fmt.Printf("Updated %s %q.\n", rec.ID, rec.Title)

	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	deleted, err := rt.app.Presentations().Delete(ctx, args[0])
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(map[string]bool{"deleted": deleted})
	}

	if !deleted {
		fmt.Printf("Presentation %s was already gone.\n", args[0])
		return nil
	}

	fmt.Printf("Deleted %s.\n", args[0])

	return nil
}
