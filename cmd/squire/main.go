package main

import (
	"context"
	"fmt"
	"os"

	"squire/internal/app"
	"squire/internal/deadline"
)

func main() {
	// Executor children re-enter here and never reach the CLI.
	if deadline.IsChild() {
		os.Exit(app.RunChild(context.Background()))
	}
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "squire:", err)
		os.Exit(1)
	}
}
