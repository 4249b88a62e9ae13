package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/nodeglass/btcnode/format"
	"github.com/nodeglass/btcnode/node"
)

// Effective configuration for the current invocation, resolved once in
// the root command's PersistentPreRunE.
var cfg config

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "btcnode",
		Short: "Query a Bitcoin Core node over JSON-RPC",
		Long: `btcnode issues JSON-RPC calls against a Bitcoin Core compatible node
and formats the responses for human consumption.

Connection settings are read from a bitcoin.conf file in the working
directory (or the file named with --conf) and can be overridden with
command-line flags.`,
		Version:       version(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			jsonLog, _ := cmd.Flags().GetBool("json-log")
			if err := configureLogging(level, jsonLog); err != nil {
				return err
			}

			var err error
			cfg, err = resolveConfig(cmd.Flags())
			return err
		},
	}

	registerFlags(root.PersistentFlags())

	root.AddCommand(
		newStatusCmd(),
		newInfoCmd(),
		newNetworkCmd(),
		newMempoolCmd(),
		newPeersCmd(),
		newFeeCmd(),
		newHeightCmd(),
		newBlockCmd(),
		newLatestCmd(),
		newTxCmd(),
		newBalanceCmd(),
		newBatchBalanceCmd(),
		newConfigCmd(),
	)

	return root
}

func connect(ctx context.Context) (*node.Client, error) {
	return node.New(ctx, cfg.rpcHost(), cfg.User, cfg.Password, cfg.Timeout)
}

func asJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func jsonFlag(cmd *cobra.Command) *cobra.Command {
	cmd.Flags().Bool("json", false, "print the raw response as JSON")
	return cmd
}

func newInfoCmd() *cobra.Command {
	return jsonFlag(&cobra.Command{
		Use:   "info",
		Short: "Show blockchain information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			client, err := connect(cmd.Context())
			if err != nil {
				format.Fail(out, "could not connect to node")
				return err
			}

			info, err := client.BlockchainInfo(cmd.Context())
			if err != nil {
				format.Fail(out, "could not get blockchain info")
				return err
			}

			if asJSON(cmd) {
				return format.JSON(out, info)
			}
			renderBlockchainInfo(out, info)
			return nil
		},
	})
}

func renderBlockchainInfo(w io.Writer, info *btcjson.GetBlockChainInfoResult) {
	format.Section(w, "Blockchain")
	format.KV(w, "Chain", info.Chain)
	format.KV(w, "Blocks", format.Comma(int64(info.Blocks)))
	format.KV(w, "Headers", format.Comma(int64(info.Headers)))
	format.KV(w, "Sync progress", format.Percent(info.VerificationProgress))
	format.KV(w, "Size on disk", format.GB(info.SizeOnDisk))
	format.KV(w, "Best block hash", info.BestBlockHash)
}

func newNetworkCmd() *cobra.Command {
	return jsonFlag(&cobra.Command{
		Use:   "network",
		Short: "Show network information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			client, err := connect(cmd.Context())
			if err != nil {
				format.Fail(out, "could not connect to node")
				return err
			}

			info, err := client.NetworkInfo(cmd.Context())
			if err != nil {
				format.Fail(out, "could not get network info")
				return err
			}

			if asJSON(cmd) {
				return format.JSON(out, info)
			}
			renderNetworkInfo(out, info)
			return nil
		},
	})
}

func renderNetworkInfo(w io.Writer, info *btcjson.GetNetworkInfoResult) {
	format.Section(w, "Network")
	format.KV(w, "Version", info.Version)
	format.KV(w, "Subversion", info.SubVersion)
	format.KV(w, "Protocol version", info.ProtocolVersion)
	format.KV(w, "Connections", info.Connections)
	format.KV(w, "Network active", info.NetworkActive)
}

func newMempoolCmd() *cobra.Command {
	return jsonFlag(&cobra.Command{
		Use:   "mempool",
		Short: "Show mempool information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			client, err := connect(cmd.Context())
			if err != nil {
				format.Fail(out, "could not connect to node")
				return err
			}

			info, err := client.MempoolInfo(cmd.Context())
			if err != nil {
				format.Fail(out, "could not get mempool info")
				return err
			}

			if asJSON(cmd) {
				return format.JSON(out, info)
			}
			renderMempoolInfo(out, info)
			return nil
		},
	})
}

func renderMempoolInfo(w io.Writer, info *node.MempoolInfo) {
	format.Section(w, "Mempool")
	format.KV(w, "Transactions", format.Comma(info.Size))
	format.KV(w, "Size", format.KB(info.Bytes))
	format.KV(w, "Usage", format.KB(info.Usage))
	format.KV(w, "Max mempool", format.MB(info.MaxMempool))
	format.KV(w, "Min fee", format.FeeRate(info.MempoolMinFee))
}

func newPeersCmd() *cobra.Command {
	return jsonFlag(&cobra.Command{
		Use:   "peers",
		Short: "List connected peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			client, err := connect(cmd.Context())
			if err != nil {
				format.Fail(out, "could not connect to node")
				return err
			}

			peers, err := client.PeerInfo(cmd.Context())
			if err != nil {
				format.Fail(out, "could not get peer info")
				return err
			}

			if asJSON(cmd) {
				return format.JSON(out, peers)
			}

			format.Section(out, fmt.Sprintf("Connected peers: %d", len(peers)))
			format.PeerTable(out, peers)
			return nil
		},
	})
}

func newFeeCmd() *cobra.Command {
	cmd := jsonFlag(&cobra.Command{
		Use:   "fee",
		Short: "Estimate the fee rate for confirmation within a block target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			confTarget, _ := cmd.Flags().GetInt64("conf-target")

			client, err := connect(cmd.Context())
			if err != nil {
				format.Fail(out, "could not connect to node")
				return err
			}

			estimate, err := client.EstimateFee(cmd.Context(), confTarget)
			if err != nil {
				format.Fail(out, "could not estimate fee")
				return err
			}

			if asJSON(cmd) {
				return format.JSON(out, estimate)
			}

			format.Section(out, fmt.Sprintf("Fee estimate (%d blocks)", confTarget))
			if estimate.FeeRate != nil {
				rate := lo.FromPtr(estimate.FeeRate)
				format.KV(out, "Fee rate", format.FeeRate(rate))
				format.KV(out, "Fee rate (BTC/kvB)", fmt.Sprintf("%.8f", rate))
			}
			if len(estimate.Errors) > 0 {
				format.Warn(out, "estimator: "+strings.Join(estimate.Errors, "; "))
			}
			return nil
		},
	})
	cmd.Flags().Int64("conf-target", 6, "confirmation target in blocks")
	return cmd
}

func newHeightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "height",
		Short: "Print the current block count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			client, err := connect(cmd.Context())
			if err != nil {
				format.Fail(out, "could not connect to node")
				return err
			}

			count, err := client.BlockCount(cmd.Context())
			if err != nil {
				format.Fail(out, "could not get block count")
				return err
			}

			fmt.Fprintln(out, format.Comma(count))
			return nil
		},
	}
}

// status renders every section it can reach and notes the ones it
// cannot, instead of failing the whole command on the first error.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show a combined node status summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			client, err := connect(ctx)
			if err != nil {
				format.Fail(out, "could not connect to node")
				return err
			}

			if info, err := client.BlockchainInfo(ctx); err != nil {
				format.Fail(out, "could not get blockchain info")
			} else {
				renderBlockchainInfo(out, info)
			}

			if info, err := client.NetworkInfo(ctx); err != nil {
				format.Fail(out, "could not get network info")
			} else {
				renderNetworkInfo(out, info)
			}

			if info, err := client.MempoolInfo(ctx); err != nil {
				format.Fail(out, "could not get mempool info")
			} else {
				renderMempoolInfo(out, info)
			}

			if hash, err := client.BestBlockHash(ctx); err != nil {
				format.Fail(out, "could not get best block hash")
			} else if block, err := client.Block(ctx, hash, 1); err != nil {
				format.Fail(out, "could not get latest block")
			} else {
				renderBlock(out, "Latest block", block)
			}

			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration and where it came from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			format.Section(out, "Connection")
			format.KV(out, "Host", cfg.Host)
			format.KV(out, "Port", cfg.Port)
			format.KV(out, "User", cfg.User)
			format.KV(out, "Password", mask(cfg.Password))
			format.KV(out, "Timeout", cfg.Timeout)

			format.Section(out, "Configuration file")
			format.KV(out, "Path", cfg.ConfPath)
			if !cfg.ConfFound {
				format.KV(out, "Status", "not found")
			} else {
				format.KV(out, "Status", "found")
				for _, key := range []string{"rpcuser", "rpcpassword", "rpcport"} {
					value, ok := cfg.ConfKeys[key]
					if !ok {
						continue
					}
					if key == "rpcpassword" {
						value = mask(value)
					}
					format.KV(out, key, value)
				}
			}

			format.Section(out, "Precedence")
			fmt.Fprintln(out, "  1. command-line flags (--host, --port, ...)")
			fmt.Fprintln(out, "  2. "+defaultConfFile+" (or the file named with --conf)")
			fmt.Fprintf(out, "  3. built-in defaults (%s:%d)\n", defaultHost, defaultPort)

			return nil
		},
	}
}

func mask(secret string) string {
	return strings.Repeat("*", len(secret))
}
