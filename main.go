// The main package for the wikindex executable.
package main

import (
	"github.com/JakeFAU/wikindex/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
