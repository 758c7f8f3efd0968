// Command docrouter classifies documents by format and intent, extracts
// structured fields, and keeps a log of every classification.
package main

import (
	"fmt"
	"os"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
