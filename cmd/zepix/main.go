package main

import (
	"os"

	"ZepixTrader/cmd/zepix/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
