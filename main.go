package main

import (
	"os"

	"github.com/ca-srg/toolbelt/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
