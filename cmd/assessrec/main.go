// Command assessrec recommends catalog assessments for a hiring need.
// It provides a CLI (via Cobra) for ingestion, single queries and batch
// evaluation, and an HTTP server exposing the same pipeline.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"github.com/54b3r/assessrec-go/cmd/assessrec/commands"
)

func main() {
	// A .env file is optional; real env vars always win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: failed to read .env: %v\n", err)
	}

	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
