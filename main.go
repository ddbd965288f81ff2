package main

import (
	"errors"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// The report has already been printed.
		if errors.Is(err, errBatchIncomplete) {
			os.Exit(1)
		}

		exitOnError(err)
	}
}
