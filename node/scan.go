package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
)

// Unspent is a single UTXO as reported by the node's scantxoutset
// facility.
type Unspent struct {
	TxID         string  `json:"txid"`
	Vout         uint32  `json:"vout"`
	ScriptPubKey string  `json:"scriptPubKey"`
	Descriptor   string  `json:"desc"`
	Amount       float64 `json:"amount"`
	Height       int64   `json:"height"`
}

// scanTxOutSetResult models the scantxoutset response. Not covered by
// btcjson, so the call goes through RawRequest.
type scanTxOutSetResult struct {
	Success     bool      `json:"success"`
	TxOuts      int64     `json:"txouts"`
	Height      int64     `json:"height"`
	BestBlock   string    `json:"bestblock"`
	TotalAmount float64   `json:"total_amount"`
	Unspents    []Unspent `json:"unspents"`
}

// AddressBalance summarizes the UTXO set entries paying to one address.
type AddressBalance struct {
	Address string    `json:"address"`
	Balance float64   `json:"balance"`
	UTXOs   []Unspent `json:"utxos"`
	Count   int       `json:"utxo_count"`
}

// AddressBalance issues a single scantxoutset call in "start" mode with
// an addr(...) descriptor for the given address. The scan walks the whole
// UTXO set on the node side, so this can be slow.
func (c *Client) AddressBalance(ctx context.Context, address string) (*AddressBalance, error) {
	return call(ctx, c, "scantxoutset", func() (*AddressBalance, error) {
		action, err := json.Marshal("start")
		if err != nil {
			return nil, err
		}
		descriptors, err := json.Marshal([]string{fmt.Sprintf("addr(%s)", address)})
		if err != nil {
			return nil, err
		}

		raw, err := c.rpc.RawRequest("scantxoutset", []json.RawMessage{action, descriptors})
		if err != nil {
			return nil, fmt.Errorf("scan address %s: %w", address, err)
		}

		var res scanTxOutSetResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("decode scantxoutset response: %w", err)
		}
		if !res.Success {
			return nil, errors.New("scantxoutset did not complete")
		}

		return &AddressBalance{
			Address: address,
			Balance: res.TotalAmount,
			UTXOs:   res.Unspents,
			Count:   len(res.Unspents),
		}, nil
	})
}

// BatchResult aggregates a batch balance run. Successful plus Failed
// always equals Checked.
type BatchResult struct {
	RunID        string            `json:"run_id"`
	GeneratedAt  time.Time         `json:"generated_at"`
	TotalBalance float64           `json:"total_balance"`
	Checked      int               `json:"addresses_checked"`
	Successful   int               `json:"successful"`
	Failed       int               `json:"failed"`
	Addresses    []*AddressBalance `json:"addresses"`
}

// BatchBalances checks every address strictly sequentially. Per-address
// failures are tallied, never aborting the batch. progress, if non-nil,
// is invoked before each address is scanned.
func (c *Client) BatchBalances(
	ctx context.Context, addresses []string, progress func(i int, address string),
) *BatchResult {
	result := &BatchResult{
		RunID:       ulid.Make().String(),
		GeneratedAt: time.Now().UTC(),
		Checked:     len(addresses),
		Addresses:   []*AddressBalance{},
	}

	for i, address := range addresses {
		if progress != nil {
			progress(i, address)
		}

		balance, err := c.AddressBalance(ctx, address)
		if err != nil {
			// Already logged by the call wrapper. Skip and keep going.
			result.Failed++
			continue
		}

		result.Addresses = append(result.Addresses, balance)
	}

	result.Successful = len(result.Addresses)
	result.TotalBalance = lo.SumBy(result.Addresses, func(b *AddressBalance) float64 {
		return b.Balance
	})

	return result
}
