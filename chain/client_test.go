package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifinance/evm-signer-mcp/config"
	"github.com/lifinance/evm-signer-mcp/wallet"
)

// storageABI describes a contract holding one uint256 slot, initialised by
// the constructor.
const storageABI = `[
	{"type":"constructor","inputs":[{"name":"initial","type":"uint256"}],"stateMutability":"nonpayable"},
	{"type":"function","name":"set","inputs":[{"name":"value","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"get","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
]`

// storageBytecode assembles the contract by hand: the init code copies the
// trailing constructor argument into slot 0 and returns the 50 byte runtime,
// which dispatches on the set and get selectors.
func storageBytecode(t *testing.T) string {
	t.Helper()
	parsed, err := ParseABI(storageABI)
	require.NoError(t, err)

	set := hex.EncodeToString(parsed.Methods["set"].ID)
	get := hex.EncodeToString(parsed.Methods["get"].ID)

	initCode := "602060203803600039" + "600051600055" + "603280601a600039" + "6000f3"
	runtime := "600035" + "60e01c" +
		"80" + "63" + set + "14" + "601e57" +
		"80" + "63" + get + "14" + "602657" +
		"600080fd" +
		"5b" + "600435" + "600055" + "00" +
		"5b" + "600054" + "600052" + "60206000f3"
	require.Len(t, initCode, 26*2)
	require.Len(t, runtime, 50*2)
	return "0x" + initCode + runtime
}

// simConn adapts the simulated client, which has no Close.
type simConn struct {
	simulated.Client
}

func (simConn) Close() {}

// simBlocks serves the scanner from the simulated chain.
type simBlocks struct {
	client simulated.Client
}

func (s simBlocks) BlockNumber(ctx context.Context) (uint64, error) {
	return s.client.BlockNumber(ctx)
}

func (s simBlocks) BlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	b, err := s.client.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	block := &Block{Number: hexutil.Uint64(b.NumberU64()), Timestamp: hexutil.Uint64(b.Time())}
	for _, tx := range b.Transactions() {
		converted, err := simTransaction(tx, b.Number())
		if err != nil {
			return nil, err
		}
		block.Transactions = append(block.Transactions, TxEntry{Hash: tx.Hash(), Tx: converted})
	}
	return block, nil
}

func (s simBlocks) TransactionByHash(ctx context.Context, hash common.Hash) (*Transaction, error) {
	tx, _, err := s.client.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return simTransaction(tx, nil)
}

func simTransaction(tx *types.Transaction, number *big.Int) (*Transaction, error) {
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Hash:        tx.Hash(),
		From:        from,
		To:          tx.To(),
		Value:       (*hexutil.Big)(tx.Value()),
		BlockNumber: (*hexutil.Big)(number),
	}, nil
}

type testChain struct {
	client *Client
	store  *wallet.Store
	funded *wallet.Wallet
	dials  atomic.Int32
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

// newTestChain starts a simulated chain that mines a block every 100ms and a
// client whose every dial lands on it.
func newTestChain(t *testing.T) *testChain {
	t.Helper()

	store, err := wallet.NewStore(config.KeysConfig{Path: t.TempDir()}, nil)
	require.NoError(t, err)
	funded, err := wallet.Create()
	require.NoError(t, err)
	require.NoError(t, store.Save(funded))

	backend := simulated.NewBackend(types.GenesisAlloc{
		funded.Address: {Balance: ether(100)},
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				backend.Commit()
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		_ = backend.Close()
	})

	tc := &testChain{store: store, funded: funded}
	cfg := &config.Config{
		InfuraAPIKey:   "test",
		DefaultNetwork: "sepolia",
		RPCURLTemplate: config.DefaultRPCURLTemplate,
	}
	dialer := func(ctx context.Context, url string) (*Conn, error) {
		tc.dials.Add(1)
		c := backend.Client()
		return &Conn{Backend: simConn{c}, Blocks: simBlocks{c}}, nil
	}
	tc.client = NewClient(cfg, store, nil, WithDialer(dialer))
	return tc
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClientBalance(t *testing.T) {
	tc := newTestChain(t)

	balance, err := tc.client.Balance(testContext(t), tc.funded.Address.Hex(), "")
	require.NoError(t, err)
	assert.Equal(t, "100", balance.Ether())
	assert.Equal(t, "ETH", balance.Unit)
	assert.Equal(t, "sepolia", balance.Network)
}

func TestClientSendValue(t *testing.T) {
	tc := newTestChain(t)
	ctx := testContext(t)
	recipient := common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	result, err := tc.client.SendValue(ctx, "0x"+strings.ToUpper(tc.funded.Key()[2:]), recipient.Hex(), "1.5", "")
	require.NoError(t, err)
	assert.Equal(t, "sepolia", result.Network)
	assert.Equal(t, "https://sepolia.etherscan.io/tx/"+result.Hash.Hex(), result.Explorer)
	assert.NotZero(t, result.BlockNumber)

	balance, err := tc.client.Balance(ctx, recipient.Hex(), "")
	require.NoError(t, err)
	assert.Equal(t, "1.5", balance.Ether())

	records, err := tc.client.RecentTransactions(ctx, recipient.Hex(), 50, "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, result.Hash.Hex(), records[0].Hash)
	assert.Equal(t, tc.funded.Address.Hex(), records[0].From)
	assert.Equal(t, recipient.Hex(), records[0].To)
	assert.Equal(t, "1.5", records[0].Value)
	assert.Equal(t, result.BlockNumber, records[0].BlockNumber)
}

func TestClientSendValueInsufficientFunds(t *testing.T) {
	tc := newTestChain(t)

	poor, err := wallet.Create()
	require.NoError(t, err)
	require.NoError(t, tc.store.Save(poor))

	_, err = tc.client.SendValue(testContext(t), poor.Address.Hex(), tc.funded.Address.Hex(), "1", "")
	assert.Error(t, err)
}

func TestClientMissingSignerNeverDials(t *testing.T) {
	tc := newTestChain(t)
	ctx := testContext(t)
	unknown := "0x000000000000000000000000000000000000dead"
	parsed, err := ParseABI(storageABI)
	require.NoError(t, err)
	code, err := ParseBytecode(storageBytecode(t))
	require.NoError(t, err)

	_, err = tc.client.Deploy(ctx, unknown, parsed, code, []any{"1"}, "")
	require.ErrorIs(t, err, ErrSignerNotFound)
	assert.Contains(t, err.Error(), unknown)

	_, err = tc.client.SendValue(ctx, unknown, tc.funded.Address.Hex(), "1", "")
	require.ErrorIs(t, err, ErrSignerNotFound)

	_, err = tc.client.Execute(ctx, unknown, tc.funded.Address.Hex(), parsed, "set", []any{"1"}, "")
	require.ErrorIs(t, err, ErrSignerNotFound)

	assert.Zero(t, tc.dials.Load())
}

func TestClientContractLifecycle(t *testing.T) {
	tc := newTestChain(t)
	ctx := testContext(t)
	from := tc.funded.Address.Hex()

	parsed, err := ParseABI(storageABI)
	require.NoError(t, err)
	code, err := ParseBytecode(storageBytecode(t))
	require.NoError(t, err)

	deployed, err := tc.client.Deploy(ctx, from, parsed, code, []any{"7"}, "")
	require.NoError(t, err)
	contract := deployed.Address.Hex()
	assert.Equal(t, "https://sepolia.etherscan.io/address/"+contract, deployed.Explorer)
	assert.NotEqual(t, common.Hash{}, deployed.Tx.Hash)

	out, err := tc.client.Call(ctx, contract, parsed, "get", nil, "")
	require.NoError(t, err)
	value, err := FormatResult(out)
	require.NoError(t, err)
	assert.Equal(t, "7", value)

	executed, err := tc.client.Execute(ctx, from, contract, parsed, "set", []any{"42"}, "")
	require.NoError(t, err)
	assert.Equal(t, "https://sepolia.etherscan.io/tx/"+executed.Hash.Hex(), executed.Explorer)

	out, err = tc.client.Call(ctx, contract, parsed, "get()", nil, "")
	require.NoError(t, err)
	value, err = FormatResult(out)
	require.NoError(t, err)
	assert.Equal(t, "42", value)

	t.Run("unknown method", func(t *testing.T) {
		_, err := tc.client.Call(ctx, contract, parsed, "missing", nil, "")
		assert.ErrorIs(t, err, ErrMethodNotFound)
	})

	t.Run("wrong argument count", func(t *testing.T) {
		_, err := tc.client.Execute(ctx, from, contract, parsed, "set", nil, "")
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}
