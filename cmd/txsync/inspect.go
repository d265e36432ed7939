package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tomoswap/txsync"
	"github.com/tomoswap/txsync/config"
	"github.com/tomoswap/txsync/sdk"
	"github.com/tomoswap/txsync/txm"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <hash>",
		Short: "Query the node once for a transaction and print its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			hash, err := txsync.NormalizeHash(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load(ctx, flagConfigPath)
			if err != nil {
				return err
			}
			lggr, err := newLogger("error")
			if err != nil {
				return err
			}
			client, err := sdk.Dial(ctx, lggr, cfg.NodeURL(), cfg.ClientConfig())
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := inspect(ctx, client, hash)
			if err != nil {
				return err
			}
			printInspection(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

type inspection struct {
	Hash    string
	State   txm.TxState
	Receipt *sdk.Receipt
	Tx      *sdk.TxInfo
	// Detail explains a state that is not backed by a receipt.
	Detail string
}

// inspect asks the node about hash once. Unlike the reconciler it has no grace period, so
// a transaction the node does not know is reported as unknown rather than failed.
func inspect(ctx context.Context, client sdk.ChainClient, hash string) (*inspection, error) {
	res := &inspection{Hash: hash}
	receipt, err := client.GetReceipt(ctx, hash)
	switch {
	case err == nil:
		res.Receipt = receipt
		res.State = txm.Failed
		if receipt.Success {
			res.State = txm.Completed
		}
		return res, nil
	case sdk.Classify(err) == sdk.ClassTransient:
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	// absent or rejected receipt: the lookup decides

	tx, err := client.GetTransactionByHash(ctx, hash)
	switch {
	case err == nil:
		res.Tx = tx
		res.State = txm.Pending
		res.Detail = "waiting to be mined"
	case errors.Is(err, sdk.ErrNotFound):
		res.State = txm.Unknown
		res.Detail = "not known to the node"
	default:
		var rpcErr *sdk.RPCError
		if !errors.As(err, &rpcErr) {
			return nil, fmt.Errorf("failed to get transaction: %w", err)
		}
		res.State = txm.Errored
		res.Detail = rpcErr.Error()
	}
	return res, nil
}

func printInspection(w io.Writer, res *inspection) {
	var state string
	switch res.State {
	case txm.Completed:
		state = color.GreenString(res.State.String())
	case txm.Pending:
		state = color.YellowString(res.State.String())
	case txm.Failed, txm.Errored:
		state = color.RedString(res.State.String())
	default:
		state = color.WhiteString(res.State.String())
	}
	fmt.Fprintf(w, "%s  %s\n", color.New(color.Bold).Sprint(res.Hash), state)
	if r := res.Receipt; r != nil {
		fmt.Fprintf(w, "  Block:    %d\n", r.BlockNumber)
		fmt.Fprintf(w, "  Gas used: %s\n", r.GasUsed)
	}
	if tx := res.Tx; tx != nil {
		fmt.Fprintf(w, "  From:     %s\n", tx.From)
		fmt.Fprintf(w, "  To:       %s\n", tx.To)
		fmt.Fprintf(w, "  Nonce:    %d\n", tx.Nonce)
		fmt.Fprintf(w, "  Value:    %s\n", tx.Value)
	}
	if res.Detail != "" {
		fmt.Fprintf(w, "  %s\n", res.Detail)
	}
}
