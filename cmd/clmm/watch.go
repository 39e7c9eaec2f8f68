package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/defistate/defistate-clmm-go/cmd/clmm/config"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator"
	"github.com/defistate/defistate-clmm-go/streams/jsonrpc/client"
	"github.com/spf13/cobra"
)

const defaultClientStateBufferSize = 100

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream pool changes from a running server",
		RunE:  runWatch,
	}
	cmd.Flags().String("server", "ws://127.0.0.1:8545", "server websocket URL")
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	rootLogger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.NewClient(ctx, client.Config{
		URL:        cfg.ServerURL,
		Logger:     rootLogger.With("component", "jsonrpc-client"),
		BufferSize: defaultClientStateBufferSize,
	})
	if err != nil {
		rootLogger.Error("Failed to initialize Client", "error", err)
		return err
	}

	for {
		select {
		case state := <-c.State():
			if state.Event == nil {
				rootLogger.Info("Snapshot", "sequence", state.Sequence, "pools", len(state.Pools))
				continue
			}
			pool := state.Event.Pool
			rootLogger.Info("Pool changed",
				"sequence", state.Sequence,
				"type", state.Event.Type,
				"pool", pool.ID,
				"account", state.Event.Account,
				"tick", pool.TickCurrent,
				"price", calculator.PriceFromSqrtPrice(pool.SqrtPrice, 0, 0).String(),
				"liquidity", pool.Liquidity.Dec(),
			)
		case err, ok := <-c.Err():
			if ok {
				rootLogger.Error("Fatal client error", "error", err)
				return err
			}
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}
