package main

import (
	"fmt"
	"os"

	"github.com/sunrin-today/cli-domain-backend/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "domainbroker: %v\n", err)
		os.Exit(1)
	}
}
