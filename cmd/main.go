package main

import (
	"os"

	"github.com/tinoosan/erpledger/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
