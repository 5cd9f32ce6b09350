package main

import (
	"os"

	"github.com/hourse/backend/internal/app"
)

func main() {
	if err := app.Execute(); err != nil {
		os.Exit(1)
	}
}
