package main

import (
	"fmt"
	"os"

	"essync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "essync:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
