package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"p2pescrow/internal/chain"
)

var cmdReconcile = &cli.Command{
	Name:  "reconcile",
	Usage: "Compare the journal against the deployed contract",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "rpc",
			Usage: "JSON-RPC endpoint, overrides CHAIN_RPC_URL",
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if rpc := cctx.String("rpc"); rpc != "" {
			cfg.Chain.RPCURL = rpc
		}
		if cfg.Chain.RPCURL == "" {
			return errors.New("reconcile needs CHAIN_RPC_URL or --rpc")
		}

		res := &resources{}
		defer res.Close()

		engine, _, err := openEngine(cctx.Context, cfg, res)
		if err != nil {
			return err
		}
		reader, err := openReader(cctx.Context, cfg, res)
		if err != nil {
			return err
		}

		mismatches, err := chain.Reconcile(cctx.Context, engine, reader)
		if err != nil {
			return err
		}
		for _, m := range mismatches {
			fmt.Println(m.String())
		}
		if len(mismatches) > 0 {
			return cli.Exit(fmt.Sprintf("%d mismatches", len(mismatches)), 1)
		}
		fmt.Println("in sync")
		return nil
	},
}
