package main

import (
	"os"

	"github.com/mgirard/keepsake/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
