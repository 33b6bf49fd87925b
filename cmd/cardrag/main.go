// Package main provides the entry point for the cardrag CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/cardrag/cmd/cardrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
