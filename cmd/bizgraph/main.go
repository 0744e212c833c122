// Package main provides the bizgraph CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/orneryd/bizgraph/pkg/graph"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error [%s]: %v\n", graph.Code(err), err)
		os.Exit(1)
	}
}
