// Command explorer runs the imagery core without the desktop shell: the
// tile proxy, catalog listing, tile source resolution and full view loads
// against a headless viewer.
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
