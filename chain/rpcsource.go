package chain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// rpcBlockSource issues raw JSON-RPC calls so that both transaction list
// shapes (hashes or objects) reach TxEntry untouched.
type rpcBlockSource struct {
	rc *rpc.Client
}

func NewRPCBlockSource(rc *rpc.Client) BlockSource {
	return &rpcBlockSource{rc: rc}
}

func (s *rpcBlockSource) BlockNumber(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	if err := s.rc.CallContext(ctx, &n, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (s *rpcBlockSource) BlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	var raw json.RawMessage
	if err := s.rc.CallContext(ctx, &raw, "eth_getBlockByNumber", hexutil.EncodeUint64(number), true); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var block Block
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, fmt.Errorf("failed to decode block %d: %w", number, err)
	}
	return &block, nil
}

func (s *rpcBlockSource) TransactionByHash(ctx context.Context, hash common.Hash) (*Transaction, error) {
	var tx *Transaction
	if err := s.rc.CallContext(ctx, &tx, "eth_getTransactionByHash", hash); err != nil {
		return nil, err
	}
	return tx, nil
}
