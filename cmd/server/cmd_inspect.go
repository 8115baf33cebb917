package main

import (
	"encoding/json"
	"os"

	"github.com/urfave/cli/v2"
)

var cmdInspect = &cli.Command{
	Name:  "inspect",
	Usage: "Print escrows, custody and events restored from the configured journal",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "events",
			Usage: "include the event log",
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		res := &resources{}
		defer res.Close()

		engine, _, err := openEngine(cctx.Context, cfg, res)
		if err != nil {
			return err
		}

		out := map[string]interface{}{
			"variant": engine.Variant().String(),
			"counter": engine.Counter(),
			"custody": engine.Ledger().Total().String(),
			"escrows": engine.Records(),
		}
		if cctx.Bool("events") {
			out["events"] = engine.Events().Since(0, 0)
		}
		if err := engine.CheckCustody(); err != nil {
			out["custodyError"] = err.Error()
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}
