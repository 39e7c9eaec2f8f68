package main

import (
	"errors"
	"fmt"

	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/tickmath"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newPriceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Convert between prices, Q64.64 sqrt prices and ticks",
		Long: "Exactly one of --price, --sqrt-price or --tick is converted into the other two.\n" +
			"Prices are token B per token A in whole units.",
		RunE: runPrice,
	}
	cmd.Flags().String("price", "", "decimal price")
	cmd.Flags().String("sqrt-price", "", "Q64.64 sqrt price")
	cmd.Flags().Int32("tick", 0, "tick index")
	cmd.Flags().Uint8("decimals-a", 0, "decimals of token A")
	cmd.Flags().Uint8("decimals-b", 0, "decimals of token B")
	cmd.MarkFlagsMutuallyExclusive("price", "sqrt-price", "tick")
	cmd.MarkFlagsOneRequired("price", "sqrt-price", "tick")
	return cmd
}

func runPrice(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	decA, _ := flags.GetUint8("decimals-a")
	decB, _ := flags.GetUint8("decimals-b")

	sqrtPrice := new(uint256.Int)
	switch {
	case flags.Changed("price"):
		raw, _ := flags.GetString("price")
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("price: %w", err)
		}
		if sqrtPrice, err = calculator.SqrtPriceFromPrice(price, decA, decB); err != nil {
			return err
		}
	case flags.Changed("sqrt-price"):
		raw, _ := flags.GetString("sqrt-price")
		if err := sqrtPrice.SetFromDecimal(raw); err != nil {
			return fmt.Errorf("sqrt-price: %w", err)
		}
	case flags.Changed("tick"):
		tick, _ := flags.GetInt32("tick")
		if err := tickmath.SqrtPriceAtTick(sqrtPrice, tick); err != nil {
			return err
		}
	default:
		return errors.New("one of --price, --sqrt-price or --tick is required")
	}

	tick, err := tickmath.TickAtSqrtPrice(sqrtPrice)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "price:      %s\n", calculator.PriceFromSqrtPrice(sqrtPrice, decA, decB).String())
	fmt.Fprintf(out, "sqrt price: %s\n", sqrtPrice.Dec())
	fmt.Fprintf(out, "tick:       %d\n", tick)
	return nil
}
