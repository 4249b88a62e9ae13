// Package node wraps a single JSON-RPC connection to a Bitcoin Core
// compatible node, exposing one method per remote procedure. Methods
// return the decoded response or an error; they never retry and never
// cache.
package node

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nodeglass/btcnode/node/rpclog"
)

// ErrInvalidCredentials is returned when the node rejects the configured
// RPC username/password pair.
var ErrInvalidCredentials = errors.New("invalid RPC client credentials")

// Client is a thin wrapper around a bitcoind RPC connection. It is safe
// for use from a single logical thread of control; the CLI never issues
// concurrent requests.
type Client struct {
	conf    rpcclient.ConnConfig
	rpc     *rpcclient.Client
	timeout time.Duration
}

// New connects to bitcoind at host ("host:port") and verifies the
// connection with a getblockchaininfo call before returning.
func New(ctx context.Context, host, user, pass string, timeout time.Duration) (*Client, error) {
	log.Info().
		Str("host", host).
		Str("user", user).
		Msg("connecting to bitcoind")

	rpcclient.UseLogger(&rpclog.Logger{Logger: zerolog.Ctx(ctx)})

	conf := rpcclient.ConnConfig{
		User:         user,
		Pass:         pass,
		DisableTLS:   true,
		HTTPPostMode: true,
		Host:         host,
	}

	rpc, err := rpcclient.New(&conf, nil)
	if err != nil {
		return nil, err
	}

	client := &Client{
		conf:    conf,
		rpc:     rpc,
		timeout: timeout,
	}

	// Do a request, to verify we can reach the node.
	info, err := client.BlockchainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not get initial blockchain info: %w", err)
	}

	log.Debug().
		Str("chain", info.Chain).
		Int32("blocks", info.Blocks).
		Msg("reached bitcoind")

	return client, nil
}

// The rpcclient calls are not cancelable. call adds that capability
// client-side (the actual request continues running in the background)
// and applies the configured timeout. Every call is logged with its
// method name, duration and outcome.
func call[R any](ctx context.Context, c *Client, method string, fetch func() (R, error)) (R, error) {
	var zero R

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	results := make(chan R, 1)
	errs := make(chan error, 1)

	go func() {
		r, err := fetch()
		switch {
		case err != nil && err.Error() == `status code: 401, response: ""`:
			errs <- ErrInvalidCredentials

		case err != nil:
			errs <- err

		default:
			results <- r
		}
	}()

	start := time.Now()
	finish := func(err error) {
		level := zerolog.DebugLevel
		if err != nil {
			level = zerolog.ErrorLevel
		}

		zerolog.Ctx(ctx).WithLevel(level).
			Str("method", method).
			Stringer("duration", time.Since(start)).
			Err(err).
			Msgf("rpc: %s", method)
	}

	select {
	case <-ctx.Done():
		finish(ctx.Err())
		return zero, ctx.Err()

	case err := <-errs:
		finish(err)
		return zero, err

	case r := <-results:
		finish(nil)
		return r, nil
	}
}

// RPCErrorCode extracts the node-reported error code from err, or zero
// if err did not originate from a JSON-RPC error response.
func RPCErrorCode(err error) btcjson.RPCErrorCode {
	rpcErr := new(btcjson.RPCError)
	if !errors.As(err, &rpcErr) {
		return 0
	}

	return rpcErr.Code
}

// BlockchainInfo calls getblockchaininfo.
func (c *Client) BlockchainInfo(ctx context.Context) (*btcjson.GetBlockChainInfoResult, error) {
	return call(ctx, c, "getblockchaininfo", c.rpc.GetBlockChainInfo)
}

// BlockCount calls getblockcount and returns the height of the chain tip.
func (c *Client) BlockCount(ctx context.Context) (int64, error) {
	return call(ctx, c, "getblockcount", c.rpc.GetBlockCount)
}

// BlockHash calls getblockhash for the block at the given height.
func (c *Client) BlockHash(ctx context.Context, height int64) (*chainhash.Hash, error) {
	return call(ctx, c, "getblockhash", func() (*chainhash.Hash, error) {
		return c.rpc.GetBlockHash(height)
	})
}

// BestBlockHash calls getbestblockhash.
func (c *Client) BestBlockHash(ctx context.Context) (*chainhash.Hash, error) {
	return call(ctx, c, "getbestblockhash", c.rpc.GetBestBlockHash)
}

// Block holds a getblock response. Exactly one field is set, according
// to the requested verbosity: Hex for 0, Summary for 1, Detail for 2.
type Block struct {
	Hex     string
	Summary *btcjson.GetBlockVerboseResult
	Detail  *btcjson.GetBlockVerboseTxResult
}

// Block calls getblock with the given verbosity level.
func (c *Client) Block(ctx context.Context, hash *chainhash.Hash, verbosity int) (*Block, error) {
	switch verbosity {
	case 0:
		return call(ctx, c, "getblock", func() (*Block, error) {
			block, err := c.rpc.GetBlock(hash)
			if err != nil {
				return nil, err
			}

			var buf bytes.Buffer
			if err := block.Serialize(&buf); err != nil {
				return nil, err
			}
			return &Block{Hex: hex.EncodeToString(buf.Bytes())}, nil
		})

	case 1:
		return call(ctx, c, "getblock", func() (*Block, error) {
			block, err := c.rpc.GetBlockVerbose(hash)
			if err != nil {
				return nil, err
			}
			return &Block{Summary: block}, nil
		})

	case 2:
		return call(ctx, c, "getblock", func() (*Block, error) {
			block, err := c.rpc.GetBlockVerboseTx(hash)
			if err != nil {
				return nil, err
			}
			return &Block{Detail: block}, nil
		})

	default:
		return nil, fmt.Errorf("invalid getblock verbosity: %d", verbosity)
	}
}

// BlockByHeight resolves a height to a hash with getblockhash, then
// fetches the block. If the hash lookup fails, no second call is made.
func (c *Client) BlockByHeight(ctx context.Context, height int64, verbosity int) (*Block, error) {
	hash, err := c.BlockHash(ctx, height)
	if err != nil {
		return nil, fmt.Errorf("get block hash for height %d: %w", height, err)
	}

	return c.Block(ctx, hash, verbosity)
}

// Transaction calls getrawtransaction in verbose mode.
func (c *Client) Transaction(ctx context.Context, txid string) (*btcjson.TxRawResult, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("invalid txid %q: %w", txid, err)
	}

	return call(ctx, c, "getrawtransaction", func() (*btcjson.TxRawResult, error) {
		return c.rpc.GetRawTransactionVerbose(hash)
	})
}

// NetworkInfo calls getnetworkinfo.
func (c *Client) NetworkInfo(ctx context.Context) (*btcjson.GetNetworkInfoResult, error) {
	return call(ctx, c, "getnetworkinfo", c.rpc.GetNetworkInfo)
}

// PeerInfo calls getpeerinfo.
func (c *Client) PeerInfo(ctx context.Context) ([]btcjson.GetPeerInfoResult, error) {
	return call(ctx, c, "getpeerinfo", c.rpc.GetPeerInfo)
}

// EstimateFee calls estimatesmartfee with the given confirmation target.
func (c *Client) EstimateFee(ctx context.Context, confTarget int64) (*btcjson.EstimateSmartFeeResult, error) {
	return call(ctx, c, "estimatesmartfee", func() (*btcjson.EstimateSmartFeeResult, error) {
		return c.rpc.EstimateSmartFee(confTarget, nil)
	})
}

// MempoolInfo models the getmempoolinfo response. btcjson's result type
// predates the usage and maxmempool fields, so the call goes through
// RawRequest with our own type.
type MempoolInfo struct {
	Size          int64   `json:"size"`
	Bytes         int64   `json:"bytes"`
	Usage         int64   `json:"usage"`
	MaxMempool    int64   `json:"maxmempool"`
	MempoolMinFee float64 `json:"mempoolminfee"`
	MinRelayTxFee float64 `json:"minrelaytxfee"`
}

// MempoolInfo calls getmempoolinfo.
func (c *Client) MempoolInfo(ctx context.Context) (*MempoolInfo, error) {
	return call(ctx, c, "getmempoolinfo", func() (*MempoolInfo, error) {
		raw, err := c.rpc.RawRequest("getmempoolinfo", nil)
		if err != nil {
			return nil, err
		}

		var info MempoolInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("decode getmempoolinfo response: %w", err)
		}
		return &info, nil
	})
}
