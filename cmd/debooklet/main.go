package main

import (
	"os"

	"github.com/local/debooklet/internal/cli"
)

func main() {
	if err := cli.Run(); err != nil {
		os.Exit(1)
	}
}
