// Command frameforge runs the deterministic per-frame DAG work-unit
// scheduler as a standalone process, wiring in the built-in work units
// (structured-log draining, dependency-cache resorting) around whatever an
// embedding application would otherwise register.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
