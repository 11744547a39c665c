// Package main provides the pagesnap command: an HTTP screenshot service
// and a one-shot capture CLI.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
