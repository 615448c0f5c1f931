package main

import (
	"os"

	"github.com/chrisgavin/trailbot/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
