package main

import (
	"os"

	"github.com/prorroga-chain-server/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
