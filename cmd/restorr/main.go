// Package main is the entry point for the restorr application.
package main

import (
	"os"

	"github.com/jmylchreest/restorr/cmd/restorr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
