// Command forge runs the build-artifact compilation cache: the
// compiler registry, intermediate store, plugin loader, and
// introspection API.
package main

import (
	"os"

	"github.com/xlegames/forge/cmd/forge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
