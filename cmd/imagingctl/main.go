// Command imagingctl is the operator tool for imagingdesk: it migrates the
// storage index, exercises key normalization, object key building and
// resolution from the command line, and mints development tokens.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
