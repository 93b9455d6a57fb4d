// ralph runs a coding agent in a loop until it reports completion.
package main

import (
	"os"

	"github.com/Iron-Ham/ralph/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
