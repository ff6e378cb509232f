package chain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

type fakeSource struct {
	head   uint64
	blocks map[uint64]*Block
	txs    map[common.Hash]*Transaction
	failAt uint64

	mu       sync.Mutex
	fetched  []uint64
	resolved []common.Hash
}

func (f *fakeSource) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeSource) BlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, number)
	f.mu.Unlock()

	if f.failAt != 0 && number == f.failAt {
		return nil, errors.New("boom")
	}
	return f.blocks[number], nil
}

func (f *fakeSource) TransactionByHash(ctx context.Context, hash common.Hash) (*Transaction, error) {
	f.mu.Lock()
	f.resolved = append(f.resolved, hash)
	f.mu.Unlock()
	return f.txs[hash], nil
}

func (f *fakeSource) fetchedSorted() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]uint64(nil), f.fetched...)
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

func transfer(seed byte, from, to common.Address, wei int64) *Transaction {
	return &Transaction{
		Hash:  common.BytesToHash([]byte{seed}),
		From:  from,
		To:    &to,
		Value: (*hexutil.Big)(big.NewInt(wei)),
	}
}

func hydrated(txs ...*Transaction) []TxEntry {
	entries := make([]TxEntry, len(txs))
	for i, tx := range txs {
		entries[i] = TxEntry{Hash: tx.Hash, Tx: tx}
	}
	return entries
}

func TestScanWindow(t *testing.T) {
	assert.Equal(t, 0, ScanWindow(0))
	assert.Equal(t, 2, ScanWindow(1))
	assert.Equal(t, 20, ScanWindow(10))
	assert.Equal(t, 100, ScanWindow(50))
	assert.Equal(t, 100, ScanWindow(51))
	assert.Equal(t, 100, ScanWindow(1000))
}

func TestScannerWindowIsCapped(t *testing.T) {
	src := &fakeSource{head: 5000}

	records, err := NewScanner(src, nil).Recent(context.Background(), alice, 1000)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NotNil(t, records)

	fetched := src.fetchedSorted()
	require.Len(t, fetched, 100)
	assert.Equal(t, uint64(5000), fetched[0])
	assert.Equal(t, uint64(4901), fetched[99])
}

func TestScannerSkipsGenesis(t *testing.T) {
	src := &fakeSource{head: 3}

	_, err := NewScanner(src, nil).Recent(context.Background(), alice, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 2, 1}, src.fetchedSorted())
}

func TestScannerMatchesSenderAndRecipient(t *testing.T) {
	sent := transfer(1, alice, bob, 1e18)
	unrelated := transfer(2, bob, carol, 5)
	received := transfer(3, carol, alice, 5e17)

	src := &fakeSource{
		head: 10,
		blocks: map[uint64]*Block{
			10: {Number: 10, Timestamp: 1000, Transactions: hydrated(sent, unrelated)},
			9:  {Number: 9, Timestamp: 990, Transactions: hydrated(received)},
		},
	}

	records, err := NewScanner(src, nil).Recent(context.Background(), alice, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, TransactionRecord{
		Hash:        sent.Hash.Hex(),
		From:        alice.Hex(),
		To:          bob.Hex(),
		Value:       "1",
		BlockNumber: 10,
		Timestamp:   1000,
	}, records[0])
	assert.Equal(t, received.Hash.Hex(), records[1].Hash)
	assert.Equal(t, "0.5", records[1].Value)
	assert.Equal(t, uint64(9), records[1].BlockNumber)
	assert.Equal(t, uint64(990), records[1].Timestamp)
}

func TestScannerStopsAtLimit(t *testing.T) {
	src := &fakeSource{
		head: 10,
		blocks: map[uint64]*Block{
			10: {Number: 10, Transactions: hydrated(transfer(1, alice, bob, 1), transfer(2, alice, bob, 2))},
			9:  {Number: 9, Transactions: hydrated(transfer(3, alice, bob, 3))},
		},
	}

	records, err := NewScanner(src, nil).Recent(context.Background(), alice, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, common.BytesToHash([]byte{1}).Hex(), records[0].Hash)
	assert.Equal(t, common.BytesToHash([]byte{2}).Hex(), records[1].Hash)
}

func TestScannerResolvesBareHashes(t *testing.T) {
	tx := transfer(7, bob, alice, 3)
	creation := &Transaction{Hash: common.BytesToHash([]byte{8}), From: alice}
	missing := common.BytesToHash([]byte{9})

	src := &fakeSource{
		head: 4,
		blocks: map[uint64]*Block{
			4: {Number: 4, Timestamp: 40, Transactions: []TxEntry{{Hash: tx.Hash}, {Hash: missing}, {Hash: creation.Hash}}},
		},
		txs: map[common.Hash]*Transaction{tx.Hash: tx, creation.Hash: creation},
	}

	records, err := NewScanner(src, nil).Recent(context.Background(), alice, 5)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, tx.Hash.Hex(), records[0].Hash)
	assert.Equal(t, "0.000000000000000003", records[0].Value)
	assert.Equal(t, "", records[1].To)
	assert.Equal(t, "0", records[1].Value)
	assert.ElementsMatch(t, []common.Hash{tx.Hash, missing, creation.Hash}, src.resolved)
}

func TestScannerFailsOnBlockError(t *testing.T) {
	src := &fakeSource{head: 10, failAt: 7}

	_, err := NewScanner(src, nil).Recent(context.Background(), alice, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block 7")
}

func TestScannerZeroLimit(t *testing.T) {
	src := &fakeSource{head: 10}

	records, err := NewScanner(src, nil).Recent(context.Background(), alice, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, src.fetchedSorted())
}

func TestTxEntryUnmarshal(t *testing.T) {
	raw := `{
		"number": "0x10",
		"timestamp": "0x64",
		"transactions": [
			"0x0000000000000000000000000000000000000000000000000000000000000001",
			{
				"hash": "0x0000000000000000000000000000000000000000000000000000000000000002",
				"from": "0x00000000000000000000000000000000000a11ce",
				"to": null,
				"value": "0xde0b6b3a7640000",
				"blockNumber": "0x10"
			}
		]
	}`

	var block Block
	require.NoError(t, json.Unmarshal([]byte(raw), &block))
	assert.Equal(t, hexutil.Uint64(16), block.Number)
	assert.Equal(t, hexutil.Uint64(100), block.Timestamp)
	require.Len(t, block.Transactions, 2)

	bare := block.Transactions[0]
	assert.Nil(t, bare.Tx)
	assert.Equal(t, common.BytesToHash([]byte{1}), bare.Hash)

	full := block.Transactions[1]
	require.NotNil(t, full.Tx)
	assert.Equal(t, common.BytesToHash([]byte{2}), full.Hash)
	assert.Equal(t, alice, full.Tx.From)
	assert.Nil(t, full.Tx.To)
	assert.Equal(t, "1", FormatEther(full.Tx.Value.ToInt()))

	encoded, err := json.Marshal(block.Transactions)
	require.NoError(t, err)
	var again []TxEntry
	require.NoError(t, json.Unmarshal(encoded, &again))
	assert.Nil(t, again[0].Tx)
	assert.NotNil(t, again[1].Tx)
}

// rpcRequest is the subset of a JSON-RPC request the fake node reads.
type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params []any           `json:"params"`
}

func newFakeNode(t *testing.T, results map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var req rpcRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		key := req.Method
		if len(req.Params) > 0 {
			if s, ok := req.Params[0].(string); ok {
				key += ":" + s
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  results[key],
		})
	}))
}

func TestRPCBlockSource(t *testing.T) {
	hashOnly := "0x0000000000000000000000000000000000000000000000000000000000000001"
	node := newFakeNode(t, map[string]any{
		"eth_blockNumber": "0x2",
		"eth_getBlockByNumber:0x2": map[string]any{
			"number":       "0x2",
			"timestamp":    "0x5",
			"transactions": []any{hashOnly},
		},
		"eth_getTransactionByHash:" + hashOnly: map[string]any{
			"hash":        hashOnly,
			"from":        bob.Hex(),
			"to":          alice.Hex(),
			"value":       "0x1",
			"blockNumber": "0x2",
		},
	})
	defer node.Close()

	rc, err := rpc.DialContext(context.Background(), node.URL)
	require.NoError(t, err)
	defer rc.Close()

	src := NewRPCBlockSource(rc)
	ctx := context.Background()

	head, err := src.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), head)

	missing, err := src.BlockByNumber(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, missing)

	records, err := NewScanner(src, nil).Recent(ctx, alice, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, hashOnly, records[0].Hash)
	assert.Equal(t, uint64(5), records[0].Timestamp)
}
