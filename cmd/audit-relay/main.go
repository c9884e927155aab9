package main

import (
	"os"
)

// Set by -ldflags "-X main.version=..." at release time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
