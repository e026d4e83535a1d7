package main

import (
	"os"

	"github.com/healthbridge/translator/backend/cmd/api/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
