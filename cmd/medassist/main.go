package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	_ = godotenv.Load()

	ctx := context.Background()

	rootCmd := NewRootCmd(version)
	if err := fang.Execute(ctx, rootCmd); err != nil {
		os.Exit(1)
	}
}
