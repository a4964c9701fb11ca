package main

import (
	"fmt"
	"os"

	"github.com/crimson-sun/pulsewatch/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pulsewatch: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
