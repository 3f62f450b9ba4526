package main

import (
	"fmt"
	"os"

	"github.com/roasbeef/deckview/cmd/deckctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, commands.Describe(err))
		os.Exit(1)
	}
}
