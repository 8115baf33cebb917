package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"

	"p2pescrow/internal/callerauth"
)

var cmdSign = &cli.Command{
	Name:      "sign",
	Usage:     "Print caller headers for a request (development helper)",
	ArgsUsage: "<body>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "key",
			Usage:   "hex private key",
			EnvVars: []string{"CALLER_PRIVATE_KEY"},
		},
		&cli.StringFlag{
			Name:  "method",
			Value: "POST",
			Usage: "HTTP method of the request",
		},
		&cli.StringFlag{
			Name:     "path",
			Required: true,
			Usage:    "request path, e.g. /api/v1/escrows/1/release",
		},
	},
	Action: func(cctx *cli.Context) error {
		key, err := callerauth.ParsePrivateKey(cctx.String("key"))
		if err != nil {
			return err
		}
		body := []byte(cctx.Args().First())
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		sig, err := callerauth.Sign(key, cctx.String("method"), cctx.String("path"), ts, body)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s: %s\n", callerauth.HeaderAddress, crypto.PubkeyToAddress(key.PublicKey).Hex())
		fmt.Fprintf(os.Stdout, "%s: %s\n", callerauth.HeaderTimestamp, ts)
		fmt.Fprintf(os.Stdout, "%s: %s\n", callerauth.HeaderSignature, sig)
		return nil
	},
}
