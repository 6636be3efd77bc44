// tinyMem: persistent project memory for LLMs.
//
// Usage:
//
//	tinymem mcp                 # Serve MCP over stdio
//	tinymem write -s "summary"  # Store a memory
//	tinymem query terms...      # Recall memories
//	tinymem doctor              # Run diagnostics
package main

import (
	"os"

	"github.com/daverage/tinymem/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
