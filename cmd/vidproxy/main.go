// Package main is the entry point for vidproxy.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vidproxy: %v\n", err)
		os.Exit(1)
	}
}
