// Command docqa is the entry point for the document question-answering
// backend. It provides a CLI interface (via Cobra) for registering and
// processing documents, asking questions over them, and running the HTTP
// server.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/docqa-go/cmd/docqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
