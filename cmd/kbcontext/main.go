// Package main provides the entry point for the kbcontext CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/kbcontext/cmd/kbcontext/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
