package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/spf13/cobra"

	"github.com/nodeglass/btcnode/format"
	"github.com/nodeglass/btcnode/node"
)

// Inputs and outputs past this count are elided from transaction output.
const maxTxEntries = 5

func newBlockCmd() *cobra.Command {
	cmd := jsonFlag(&cobra.Command{
		Use:   "block HEIGHT",
		Short: "Show the block at the given height",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			height, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid block height %q", args[0])
			}
			verbosity, _ := cmd.Flags().GetInt("verbosity")
			if verbosity < 0 || verbosity > 2 {
				return fmt.Errorf("invalid verbosity %d, valid values are 0, 1 and 2", verbosity)
			}

			client, err := connect(cmd.Context())
			if err != nil {
				format.Fail(out, "could not connect to node")
				return err
			}

			block, err := client.BlockByHeight(cmd.Context(), height, verbosity)
			if err != nil {
				format.Fail(out, "could not get block at height "+args[0])
				return err
			}

			if asJSON(cmd) {
				return blockJSON(out, block)
			}
			renderBlock(out, "Block "+format.Comma(height), block)
			return nil
		},
	})
	cmd.Flags().Int("verbosity", 1, "getblock verbosity: 0 hex, 1 summary, 2 with transactions")
	return cmd
}

func newLatestCmd() *cobra.Command {
	cmd := jsonFlag(&cobra.Command{
		Use:   "latest",
		Short: "Show the block at the chain tip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			verbosity, _ := cmd.Flags().GetInt("verbosity")
			if verbosity < 0 || verbosity > 2 {
				return fmt.Errorf("invalid verbosity %d, valid values are 0, 1 and 2", verbosity)
			}

			client, err := connect(cmd.Context())
			if err != nil {
				format.Fail(out, "could not connect to node")
				return err
			}

			hash, err := client.BestBlockHash(cmd.Context())
			if err != nil {
				format.Fail(out, "could not get best block hash")
				return err
			}

			block, err := client.Block(cmd.Context(), hash, verbosity)
			if err != nil {
				format.Fail(out, "could not get latest block")
				return err
			}

			if asJSON(cmd) {
				return blockJSON(out, block)
			}
			renderBlock(out, "Latest block", block)
			return nil
		},
	})
	cmd.Flags().Int("verbosity", 1, "getblock verbosity: 0 hex, 1 summary, 2 with transactions")
	return cmd
}

func blockJSON(w io.Writer, block *node.Block) error {
	switch {
	case block.Summary != nil:
		return format.JSON(w, block.Summary)
	case block.Detail != nil:
		return format.JSON(w, block.Detail)
	default:
		_, err := fmt.Fprintln(w, block.Hex)
		return err
	}
}

func renderBlock(w io.Writer, title string, block *node.Block) {
	switch {
	case block.Summary != nil:
		b := block.Summary
		format.Section(w, title)
		format.KV(w, "Hash", b.Hash)
		format.KV(w, "Height", format.Comma(b.Height))
		format.KV(w, "Time", format.Time(b.Time))
		format.KV(w, "Transactions", format.Comma(int64(len(b.Tx))))
		format.KV(w, "Size", format.Comma(int64(b.Size))+" bytes")
		format.KV(w, "Weight", format.Comma(int64(b.Weight)))
		format.KV(w, "Difficulty", fmt.Sprintf("%.2f", b.Difficulty))

	case block.Detail != nil:
		b := block.Detail
		format.Section(w, title)
		format.KV(w, "Hash", b.Hash)
		format.KV(w, "Height", format.Comma(b.Height))
		format.KV(w, "Time", format.Time(b.Time))
		format.KV(w, "Transactions", format.Comma(int64(len(b.Tx))))
		format.KV(w, "Size", format.Comma(int64(b.Size))+" bytes")
		format.KV(w, "Weight", format.Comma(int64(b.Weight)))
		format.KV(w, "Difficulty", fmt.Sprintf("%.2f", b.Difficulty))

		fmt.Fprintln(w)
		for i, tx := range b.Tx {
			if i == maxTxEntries {
				fmt.Fprintf(w, "  ... %d more transactions\n", len(b.Tx)-maxTxEntries)
				break
			}
			fmt.Fprintf(w, "  %d. %s (%d vB)\n", i+1, tx.Txid, tx.Vsize)
		}

	default:
		fmt.Fprintln(w, block.Hex)
	}
}

func newTxCmd() *cobra.Command {
	return jsonFlag(&cobra.Command{
		Use:   "tx TXID",
		Short: "Show a transaction by its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			client, err := connect(cmd.Context())
			if err != nil {
				format.Fail(out, "could not connect to node")
				return err
			}

			tx, err := client.Transaction(cmd.Context(), args[0])
			if err != nil {
				format.Fail(out, "could not get transaction "+args[0])
				return err
			}

			if asJSON(cmd) {
				return format.JSON(out, tx)
			}
			renderTx(out, tx)
			return nil
		},
	})
}

func renderTx(w io.Writer, tx *btcjson.TxRawResult) {
	format.Section(w, "Transaction")
	format.KV(w, "TXID", tx.Txid)
	format.KV(w, "Hash", tx.Hash)
	format.KV(w, "Size", fmt.Sprintf("%d bytes", tx.Size))
	format.KV(w, "Virtual size", fmt.Sprintf("%d vB", tx.Vsize))
	format.KV(w, "Weight", tx.Weight)
	format.KV(w, "Confirmations", format.Comma(int64(tx.Confirmations)))
	if tx.BlockHash != "" {
		format.KV(w, "Block", tx.BlockHash)
	}
	if tx.Blocktime != 0 {
		format.KV(w, "Block time", format.Time(tx.Blocktime))
	}

	fmt.Fprintf(w, "\n  Inputs (%d):\n", len(tx.Vin))
	for i, vin := range tx.Vin {
		if i == maxTxEntries {
			fmt.Fprintf(w, "    ... %d more\n", len(tx.Vin)-maxTxEntries)
			break
		}
		if vin.IsCoinBase() {
			fmt.Fprintf(w, "    %d. coinbase\n", i+1)
			continue
		}
		fmt.Fprintf(w, "    %d. %s:%d\n", i+1, vin.Txid, vin.Vout)
	}

	fmt.Fprintf(w, "\n  Outputs (%d):\n", len(tx.Vout))
	for i, vout := range tx.Vout {
		if i == maxTxEntries {
			fmt.Fprintf(w, "    ... %d more\n", len(tx.Vout)-maxTxEntries)
			break
		}
		fmt.Fprintf(w, "    %d. %s -> %s\n", i+1, format.BTC(vout.Value), outputAddress(vout))
	}
}

// Older nodes report a list of addresses per output, newer ones a single
// address. Show whichever is present.
func outputAddress(vout btcjson.Vout) string {
	if vout.ScriptPubKey.Address != "" {
		return vout.ScriptPubKey.Address
	}
	if len(vout.ScriptPubKey.Addresses) != 0 {
		return vout.ScriptPubKey.Addresses[0]
	}
	return vout.ScriptPubKey.Type
}
