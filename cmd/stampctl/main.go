// Command stampctl is a command line wallet and messenger for stamped,
// encrypted relay messages.
package main

import (
	"os"

	"github.com/bitfsorg/libstamp-go/cmd/stampctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
