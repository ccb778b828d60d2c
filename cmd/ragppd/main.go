// Package main provides the entry point for the ragppd RAG++ core daemon.
package main

import (
	"fmt"
	"os"

	"github.com/ragpp/ragpp/cmd/ragppd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cmd.ExitCodeFor(err))
	}
}
