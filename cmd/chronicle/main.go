package main

import (
	"os"

	"github.com/dshills/chronicle/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
