// ghoststreamd is the GhostStream LAN transcoding daemon.
package main

import (
	"os"

	"github.com/bleedingxiko/ghoststream/cmd/ghoststreamd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
