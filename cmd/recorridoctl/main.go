// Command recorridoctl is the operator tool for journey definitions and
// development tokens.
package main

import (
	"errors"
	"os"

	"github.com/joho/godotenv"

	"github.com/sendas-app/recorridos/internal/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	// Load .env file if present, like the server.
	_ = godotenv.Load()

	if err := cli.NewRootCmd(version).Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
