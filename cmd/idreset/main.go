package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/blackwell-systems/idreset/internal/app"
)

func main() {
	if err := app.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Interrupted.")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
