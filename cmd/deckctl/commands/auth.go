package commands

import (
	"fmt"

	"github.com/roasbeef/deckview/internal/deck"
	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	registerEmail string
	registerName  string
	whoamiVerify  bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the service",
	Long: `Sign in with email and password. The credential is kept in the data
directory so later commands run signed in.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	Args:  cobra.NoArgs,
	RunE:  runRegister,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored credential",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed in user",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "",
		"Account email (prompted when omitted)")

	registerCmd.Flags().StringVarP(&registerEmail, "email", "e", "",
		"Account email (prompted when omitted)")
	registerCmd.Flags().StringVarP(&registerName, "name", "n", "",
		"Full name (prompted when omitted)")

	whoamiCmd.Flags().BoolVar(&whoamiVerify, "verify", false,
		"Ask the service instead of trusting the stored identity")
}

// promptIfEmpty returns value, or asks for it when it is empty.
func promptIfEmpty(value, label string) (string, error) {
	if value != "" {
		return value, nil
	}

	return prompt(label)
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	email, err := promptIfEmpty(loginEmail, "Email")
	if err != nil {
		return err
	}
	password, err := promptPassword("Password")
	if err != nil {
		return err
	}

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	ident, err := rt.app.Login(ctx, email, password)
	if err != nil {
		return err
	}

	return printIdentity("Logged in as", ident)
}

func runRegister(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	name, err := promptIfEmpty(registerName, "Name")
	if err != nil {
		return err
	}
	email, err := promptIfEmpty(registerEmail, "Email")
	if err != nil {
		return err
	}
	password, err := promptPassword("Password")
	if err != nil {
		return err
	}

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	ident, err := rt.app.Register(ctx, name, email, password)
	if err != nil {
		return err
	}

	return printIdentity("Registered and logged in as", ident)
}

func runLogout(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.app.Logout(ctx); err != nil {
		return err
	}

	fmt.Println("Logged out.")

	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	ident, err := rt.app.WhoAmI()
	if err == nil && whoamiVerify {
		ident, err = rt.app.Verify(ctx)
	}
	if err != nil {
		return err
	}

	return printIdentity("Logged in as", ident)
}

// printIdentity reports ident in the selected output format.
func printIdentity(label string, ident deck.Identity) error {
	if outputFormat == "json" {
		return outputJSON(ident)
	}

	fmt.Printf("%s %s <%s>\n", label, ident.DisplayName(), ident.Email)

	return nil
}
