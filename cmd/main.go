package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "nsfabric",
		Usage: "namespace and storage-fabric middleware for grid data management",
		Commands: []*cli.Command{
			mkdirCommand(),
			rmCommand(),
			mvCommand(),
			lsCommand(),
			statCommand(),
			poolsCommand(),
			fsckCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "nsfabric:", err)
		os.Exit(1)
	}
}
