// Package main is the entry point of the chorus command.
package main

import (
	"fmt"
	"os"

	"chorus/internal/cli"
)

func main() {
	rootCmd := cli.NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
