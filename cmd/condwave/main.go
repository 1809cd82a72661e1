// Package main provides the condwave CLI.
//
// Usage:
//
//	condwave [flags] <command> [args]
//
// Commands:
//
//	forward     - Training-path forward against request targets
//	infer       - Generate sequences from note requests
//	usage       - Chart how often each code is picked
//	export      - Snapshot model weights into the checkpoint store
//	checkpoint  - List, show and delete checkpoints
//	config      - Show, initialize or describe the config file
//
// Configuration:
//
//	The CLI reads ~/.condwave/config.yaml; checkpoints live under
//	~/.condwave/ unless the store section points elsewhere.
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/condwave/cmd/condwave/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
