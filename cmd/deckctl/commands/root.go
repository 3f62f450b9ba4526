package commands

import (
	"github.com/roasbeef/deckview/internal/config"
	"github.com/spf13/cobra"
)

// outputFormat controls output format (text, json).
var outputFormat string

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "deckctl",
	Short: "Generate, manage and present slide decks",
	Long: `deckctl talks to the slide generation service: sign in, turn markdown
into presentations, manage them, and present them in the browser with the
keyboard driving the slides.

Every flag below can also be set through a DECKVIEW_* environment variable,
e.g. DECKVIEW_API_URL.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()

	// Global flags. Their defaults are empty so that unset flags leave
	// the environment in charge.
	flags.String("api-url", "", "Backend API base URL (default: "+
		config.DefaultAPIURL+")")
	flags.String("data-dir", "", "Directory for the session store and "+
		"logs (default: ~/.deckview)")
	flags.String("viewer-addr", "", "Listen address of the local viewer "+
		"(default: "+config.DefaultViewerAddr+")")
	flags.Duration("debounce", 0, "Playback navigation window (default: "+
		config.DefaultDebounce.String()+")")
	flags.Duration("attach-timeout", 0, "How long to wait for the slide "+
		"engine to attach (default: "+
		config.DefaultAttachTimeout.String()+")")
	flags.Duration("request-timeout", 0, "Timeout of one backend call "+
		"(default: "+config.DefaultRequestTimeout.String()+")")
	flags.String("debuglevel", "", "Log level: trace, debug, info, "+
		"warn, error (default: "+config.DefaultDebugLevel+")")
	flags.StringVar(
		&outputFormat, "format", "text",
		"Output format: text, json",
	)

	// Add subcommands.
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}
