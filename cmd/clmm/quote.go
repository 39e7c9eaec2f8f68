package main

import (
	"encoding/json"
	"fmt"

	"github.com/defistate/defistate-clmm-go/cmd/clmm/config"
	"github.com/defistate/defistate-clmm-go/engine"
	"github.com/defistate/defistate-clmm-go/streams/jsonrpc/client"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

func newQuoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Simulate a swap against a running server",
		RunE:  runQuote,
	}
	cmd.Flags().String("server", "ws://127.0.0.1:8545", "server URL")
	cmd.Flags().String("pool", "", "pool id")
	cmd.Flags().Uint64("amount", 0, "input amount, or output amount with --exact-output")
	cmd.Flags().Bool("a-to-b", false, "sell token A for token B")
	cmd.Flags().Bool("exact-output", false, "treat --amount as the desired output")
	_ = cmd.MarkFlagRequired("pool")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func runQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	poolHex, _ := cmd.Flags().GetString("pool")
	amount, _ := cmd.Flags().GetUint64("amount")
	aToB, _ := cmd.Flags().GetBool("a-to-b")
	exactOutput, _ := cmd.Flags().GetBool("exact-output")

	caller, err := client.Dial(cmd.Context(), cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("connect %s: %w", cfg.ServerURL, err)
	}
	defer caller.Close()

	result, err := caller.Quote(cmd.Context(), engine.SwapParams{
		PoolID:      common.HexToHash(poolHex),
		Amount:      amount,
		AToB:        aToB,
		ExactOutput: exactOutput,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
