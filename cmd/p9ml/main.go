package main

import (
	"fmt"
	"os"

	"github.com/sbl8/p9ml/cmd/p9ml/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
