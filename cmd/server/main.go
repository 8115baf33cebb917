package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"p2pescrow/internal/logger"
)

func main() {
	app := &cli.App{
		Name:  "p2pescrow",
		Usage: "P2P escrow engine and HTTP API",
		Commands: []*cli.Command{
			cmdServe,
			cmdInspect,
			cmdReconcile,
			cmdSign,
		},
		Action: cmdServe.Action,
	}

	if err := app.Run(os.Args); err != nil {
		logger.Log.Fatal(err)
	}
}
