package main

import (
	"fmt"
	"os"

	"github.com/life-research/fts-next-test-patient-uploader/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
