package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/szaiser/m8190a/internal/cli"
)

func main() {
	// Populate AWGCTL_* defaults from a local .env, if one exists. Flags
	// read their defaults from the environment, so this runs first.
	_ = godotenv.Load()

	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
