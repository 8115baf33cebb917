package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"p2pescrow/internal/chain"
	"p2pescrow/internal/logger"
	"p2pescrow/internal/notify"
	"p2pescrow/internal/server"
)

var cmdServe = &cli.Command{
	Name:  "serve",
	Usage: "Start the escrow API",
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res := &resources{}
		defer res.Close()

		engine, j, err := openEngine(ctx, cfg, res)
		if err != nil {
			return err
		}
		store, err := openIdempotency(ctx, cfg, res)
		if err != nil {
			return err
		}
		reader, err := openReader(ctx, cfg, res)
		if err != nil {
			return err
		}
		sink, err := openSink(ctx, cfg, res)
		if err != nil {
			return err
		}

		deps := server.Deps{
			Engine:      engine,
			Idempotency: store,
			Journal:     j,
			Log:         logger.Log,
		}
		if reader != nil {
			deps.Reader = reader
		}
		apiServer := server.NewServer(cfg, deps)

		if sink != nil {
			fwd := &notify.Forwarder{
				Events:  engine.Events(),
				Sink:    sink,
				Log:     logger.Log.WithField("component", "notify"),
				OnError: apiServer.SinkFailed,
			}
			go func() {
				if err := fwd.Run(ctx, 0); err != nil && !errors.Is(err, context.Canceled) {
					logger.Log.WithError(err).Error("event forwarder stopped")
				}
			}()
		}

		if reader != nil {
			go logDrift(ctx, engine, reader)
		}

		errCh := make(chan error, 1)
		go func() {
			if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
		defer cancel()
		return apiServer.Shutdown(shutdownCtx)
	},
}

// logDrift reports differences from the deployed contract once at start-up.
func logDrift(ctx context.Context, engine chain.LocalView, reader chain.Reader) {
	mismatches, err := chain.Reconcile(ctx, engine, reader)
	if err != nil {
		logger.Log.WithError(err).Warn("contract reconcile failed")
		return
	}
	for _, m := range mismatches {
		logger.Log.WithField("escrow_id", m.EscrowID).Warn(m.String())
	}
}
