package node

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

var (
	testBlockHash = strings.Repeat("ab", 32)
	testTxid      = strings.Repeat("cd", 32)
)

type rpcHandler func(params []json.RawMessage) (interface{}, *btcjson.RPCError)

// fakeNode is a minimal JSON-RPC HTTP server standing in for bitcoind.
// It records the order of incoming method calls.
type fakeNode struct {
	mu       sync.Mutex
	calls    []string
	handlers map[string]rpcHandler
	delay    time.Duration
}

func newFakeNode() *fakeNode {
	f := &fakeNode{handlers: make(map[string]rpcHandler)}

	// New verifies connectivity with getblockchaininfo.
	f.handle("getblockchaininfo", staticResult(map[string]interface{}{
		"chain":         "regtest",
		"blocks":        120,
		"headers":       120,
		"bestblockhash": testBlockHash,
	}))

	return f
}

func (f *fakeNode) handle(method string, h rpcHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeNode) setDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *fakeNode) methodCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func staticResult(v interface{}) rpcHandler {
	return func(_ []json.RawMessage) (interface{}, *btcjson.RPCError) {
		return v, nil
	}
}

func staticError(code btcjson.RPCErrorCode, message string) rpcHandler {
	return func(_ []json.RawMessage) (interface{}, *btcjson.RPCError) {
		return nil, &btcjson.RPCError{Code: code, Message: message}
	}
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var call struct {
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
		ID     interface{}       `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.calls = append(f.calls, call.Method)
	handler := f.handlers[call.Method]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	resp := struct {
		Result interface{}       `json:"result"`
		Error  *btcjson.RPCError `json:"error"`
		ID     interface{}       `json:"id"`
	}{ID: call.ID}

	if handler == nil {
		resp.Error = btcjson.ErrRPCMethodNotFound
	} else {
		resp.Result, resp.Error = handler(call.Params)
	}

	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, f *fakeNode) *Client {
	t.Helper()

	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	client, err := New(
		context.Background(),
		strings.TrimPrefix(srv.URL, "http://"),
		"user", "pass",
		5*time.Second,
	)
	require.NoError(t, err)

	return client
}

func TestNewVerifiesConnection(t *testing.T) {
	f := newFakeNode()
	newTestClient(t, f)

	require.Equal(t, []string{"getblockchaininfo"}, f.methodCalls())
}

func TestNewInvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	_, err := New(
		context.Background(),
		strings.TrimPrefix(srv.URL, "http://"),
		"user", "wrong",
		time.Second,
	)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestBlockByHeightCallOrder(t *testing.T) {
	f := newFakeNode()
	f.handle("getblockhash", staticResult(testBlockHash))
	f.handle("getblock", staticResult(map[string]interface{}{
		"hash":       testBlockHash,
		"height":     840000,
		"time":       1713571767,
		"size":       1500123,
		"weight":     3993000,
		"difficulty": 86388558925171.02,
		"tx":         []string{testTxid},
	}))

	client := newTestClient(t, f)

	block, err := client.BlockByHeight(context.Background(), 840000, 1)
	require.NoError(t, err)
	require.NotNil(t, block.Summary)
	require.Equal(t, testBlockHash, block.Summary.Hash)
	require.EqualValues(t, 840000, block.Summary.Height)
	require.Len(t, block.Summary.Tx, 1)

	require.Equal(t,
		[]string{"getblockchaininfo", "getblockhash", "getblock"},
		f.methodCalls(),
	)
}

func TestBlockVerbosityHex(t *testing.T) {
	// Serve a real serialized block so the hex round-trips through the
	// wire decoding inside rpcclient and back out.
	msg := wire.NewMsgBlock(wire.NewBlockHeader(1, &chainhash.Hash{}, &chainhash.Hash{}, 0x1d00ffff, 0x7c2bac1d))
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, 0xffffffff), []byte{0x51}, nil))
	tx.AddTxOut(wire.NewTxOut(50_0000_0000, []byte{0x51}))
	require.NoError(t, msg.AddTransaction(tx))

	var buf bytes.Buffer
	require.NoError(t, msg.Serialize(&buf))
	blockHex := hex.EncodeToString(buf.Bytes())

	f := newFakeNode()
	f.handle("getblockhash", staticResult(testBlockHash))
	f.handle("getblock", staticResult(blockHex))

	client := newTestClient(t, f)

	block, err := client.BlockByHeight(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Equal(t, blockHex, block.Hex)
	require.Nil(t, block.Summary)
	require.Nil(t, block.Detail)
}

func TestBlockVerbosityTxDetail(t *testing.T) {
	f := newFakeNode()
	f.handle("getblockhash", staticResult(testBlockHash))
	f.handle("getblock", staticResult(map[string]interface{}{
		"hash":   testBlockHash,
		"height": 840000,
		"tx": []map[string]interface{}{
			{"txid": testTxid, "vsize": 140},
		},
	}))

	client := newTestClient(t, f)

	block, err := client.BlockByHeight(context.Background(), 840000, 2)
	require.NoError(t, err)
	require.NotNil(t, block.Detail)
	require.Nil(t, block.Summary)
	require.Empty(t, block.Hex)
	require.Len(t, block.Detail.Tx, 1)
	require.Equal(t, testTxid, block.Detail.Tx[0].Txid)
}

func TestBlockByHeightHashFailure(t *testing.T) {
	f := newFakeNode()
	f.handle("getblockhash", staticError(btcjson.ErrRPCInvalidParameter, "Block height out of range"))

	client := newTestClient(t, f)

	_, err := client.BlockByHeight(context.Background(), 1<<40, 1)
	require.Error(t, err)
	require.Equal(t, btcjson.ErrRPCInvalidParameter, RPCErrorCode(err))

	// The hash lookup failed, so getblock must never have been issued.
	require.NotContains(t, f.methodCalls(), "getblock")
}

func TestTransactionInvalidTxid(t *testing.T) {
	f := newFakeNode()
	client := newTestClient(t, f)

	_, err := client.Transaction(context.Background(), "not-a-txid")
	require.Error(t, err)
	require.NotContains(t, f.methodCalls(), "getrawtransaction")
}

func TestMempoolInfo(t *testing.T) {
	f := newFakeNode()
	f.handle("getmempoolinfo", staticResult(map[string]interface{}{
		"size":          4521,
		"bytes":         2104512,
		"usage":         7340032,
		"maxmempool":    300000000,
		"mempoolminfee": 0.00001,
	}))

	client := newTestClient(t, f)

	info, err := client.MempoolInfo(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 4521, info.Size)
	require.EqualValues(t, 2104512, info.Bytes)
	require.EqualValues(t, 7340032, info.Usage)
	require.EqualValues(t, 300000000, info.MaxMempool)
}

func TestEstimateFee(t *testing.T) {
	f := newFakeNode()
	f.handle("estimatesmartfee", staticResult(map[string]interface{}{
		"feerate": 0.00012,
		"blocks":  6,
	}))

	client := newTestClient(t, f)

	estimate, err := client.EstimateFee(context.Background(), 6)
	require.NoError(t, err)
	require.NotNil(t, estimate.FeeRate)
	require.InDelta(t, 0.00012, *estimate.FeeRate, 1e-12)
	require.EqualValues(t, 6, estimate.Blocks)
}

// scanHandler serves scantxoutset per address: the balances map gives
// each address its unspents, everything else errors.
func scanHandler(t *testing.T, balances map[string][]Unspent) rpcHandler {
	return func(params []json.RawMessage) (interface{}, *btcjson.RPCError) {
		require.Len(t, params, 2)

		var action string
		require.NoError(t, json.Unmarshal(params[0], &action))
		require.Equal(t, "start", action)

		var descriptors []string
		require.NoError(t, json.Unmarshal(params[1], &descriptors))
		require.Len(t, descriptors, 1)

		address := strings.TrimSuffix(strings.TrimPrefix(descriptors[0], "addr("), ")")
		unspents, ok := balances[address]
		if !ok {
			return nil, &btcjson.RPCError{
				Code:    btcjson.ErrRPCInvalidAddressOrKey,
				Message: fmt.Sprintf("Invalid descriptor: %s", descriptors[0]),
			}
		}

		total := 0.0
		for _, u := range unspents {
			total += u.Amount
		}
		return map[string]interface{}{
			"success":      true,
			"height":       120,
			"bestblock":    testBlockHash,
			"total_amount": total,
			"unspents":     unspents,
		}, nil
	}
}

func TestAddressBalance(t *testing.T) {
	f := newFakeNode()
	f.handle("scantxoutset", scanHandler(t, map[string][]Unspent{
		"bc1qgood": {
			{TxID: testTxid, Vout: 0, Amount: 1.5, Height: 100},
			{TxID: testTxid, Vout: 1, Amount: 0.25, Height: 110},
		},
	}))

	client := newTestClient(t, f)

	balance, err := client.AddressBalance(context.Background(), "bc1qgood")
	require.NoError(t, err)
	require.Equal(t, "bc1qgood", balance.Address)
	require.InDelta(t, 1.75, balance.Balance, 1e-9)
	require.Equal(t, 2, balance.Count)
	require.Len(t, balance.UTXOs, 2)
}

func TestAddressBalanceScanError(t *testing.T) {
	f := newFakeNode()
	f.handle("scantxoutset", scanHandler(t, nil))

	client := newTestClient(t, f)

	balance, err := client.AddressBalance(context.Background(), "bc1qbogus")
	require.Error(t, err)
	require.Nil(t, balance)
	require.Equal(t, btcjson.ErrRPCInvalidAddressOrKey, RPCErrorCode(err))
}

func TestBatchBalancesTallies(t *testing.T) {
	f := newFakeNode()
	f.handle("scantxoutset", scanHandler(t, map[string][]Unspent{
		"bc1qone": {{TxID: testTxid, Vout: 0, Amount: 1.5, Height: 100}},
		"bc1qtwo": {{TxID: testTxid, Vout: 1, Amount: 0.5, Height: 101}},
	}))

	client := newTestClient(t, f)

	var seen []string
	result := client.BatchBalances(
		context.Background(),
		[]string{"bc1qone", "bc1qbroken", "bc1qtwo"},
		func(_ int, address string) { seen = append(seen, address) },
	)

	require.Equal(t, 3, result.Checked)
	require.Equal(t, 2, result.Successful)
	require.Equal(t, 1, result.Failed)
	require.Equal(t, result.Checked, result.Successful+result.Failed)
	require.InDelta(t, 2.0, result.TotalBalance, 1e-9)
	require.NotEmpty(t, result.RunID)

	// Strictly sequential, in input order, failures skipped but visited.
	require.Equal(t, []string{"bc1qone", "bc1qbroken", "bc1qtwo"}, seen)
}

func TestCallTimeout(t *testing.T) {
	f := newFakeNode()
	f.handle("getblockcount", staticResult(120))

	client := newTestClient(t, f)
	client.timeout = 50 * time.Millisecond
	f.setDelay(500 * time.Millisecond)

	_, err := client.BlockCount(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
