package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nodeglass/btcnode/format"
	"github.com/nodeglass/btcnode/node"
)

func newBalanceCmd() *cobra.Command {
	return jsonFlag(&cobra.Command{
		Use:   "balance ADDRESS",
		Short: "Show the balance of an address by scanning the UTXO set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			address := args[0]

			if !asJSON(cmd) {
				fmt.Fprintf(out, "Checking balance for %s...\n", address)
				format.Warn(out, "scanning the UTXO set may take a while")
			}

			client, err := connect(cmd.Context())
			if err != nil {
				format.Fail(out, "could not connect to node")
				return err
			}

			balance, err := client.AddressBalance(cmd.Context(), address)
			if err != nil {
				format.Fail(out, "could not get balance for "+address)
				return err
			}

			if asJSON(cmd) {
				return format.JSON(out, balance)
			}

			format.Section(out, "Address balance")
			format.KV(out, "Address", balance.Address)
			format.KV(out, "Balance", format.BTC(balance.Balance))
			format.KV(out, "Balance (sat)", format.Satoshis(balance.Balance))
			format.KV(out, "UTXOs", balance.Count)

			if balance.Count > 0 && confirm(cmd.InOrStdin(), out, "Show UTXO details?") {
				renderUnspents(out, balance.UTXOs)
			}
			return nil
		},
	})
}

func renderUnspents(w io.Writer, unspents []node.Unspent) {
	format.Section(w, "UTXO details")
	for i, utxo := range unspents {
		fmt.Fprintf(w, "\n  UTXO %d:\n", i+1)
		format.KV(w, "  Amount", format.BTC(utxo.Amount))
		format.KV(w, "  TXID", utxo.TxID)
		format.KV(w, "  Vout", utxo.Vout)
		format.KV(w, "  Height", format.Comma(utxo.Height))
	}
}

func newBatchBalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch-balance FILE",
		Short: "Check balances for every address listed in a file",
		Long: `Reads addresses from FILE (one per line, blank lines and #-comments
ignored) and scans the UTXO set once per address, strictly sequentially.
Per-address failures are counted but never abort the run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			addresses, err := readAddressFile(args[0])
			if err != nil {
				return fmt.Errorf("read addresses: %w", err)
			}
			if len(addresses) == 0 {
				return fmt.Errorf("no addresses in %s", args[0])
			}

			fmt.Fprintf(out, "Found %d addresses to check\n", len(addresses))
			format.Warn(out, "scanning the UTXO set once per address may take a long time")

			skipGate, _ := cmd.Flags().GetBool("yes")
			if !skipGate && !confirm(cmd.InOrStdin(), out, "Continue?") {
				return nil
			}

			client, err := connect(cmd.Context())
			if err != nil {
				format.Fail(out, "could not connect to node")
				return err
			}

			result := client.BatchBalances(cmd.Context(), addresses, func(i int, address string) {
				fmt.Fprintf(out, "  [%d/%d] %s\n", i+1, len(addresses), address)
			})

			format.Section(out, "Summary")
			format.KV(out, "Addresses checked", result.Checked)
			format.KV(out, "Successful", result.Successful)
			format.KV(out, "Failed", result.Failed)
			format.KV(out, "Total balance", format.BTC(result.TotalBalance))
			format.KV(out, "Total balance (sat)", format.Satoshis(result.TotalBalance))

			if result.Successful > 0 {
				fmt.Fprintln(out)
				format.BatchTable(out, result)
			}

			if output, _ := cmd.Flags().GetString("output"); output != "" {
				if err := writeBatchReport(output, result); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				format.OK(out, "results saved to "+output)
			}
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "write a JSON report to this file")
	cmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	return cmd
}

// readAddressFile returns the non-blank, non-comment lines of path.
func readAddressFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var addresses []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addresses = append(addresses, line)
	}

	return addresses, scanner.Err()
}

func writeBatchReport(path string, result *node.BatchResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// confirm prints an interactive [y/N] gate and reads one line. Anything
// but an explicit yes declines.
func confirm(r io.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
