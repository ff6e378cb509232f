package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/sync/errgroup"
)

// MaxScanWindow bounds how many blocks a single scan fetches.
const MaxScanWindow = 100

// ScanWindow is the number of blocks scanned for limit results: twice the
// limit, capped at MaxScanWindow.
func ScanWindow(limit int) int {
	if limit <= 0 {
		return 0
	}
	return min(2*limit, MaxScanWindow)
}

// BlockSource is the read side of an RPC endpoint used by the scanner.
type BlockSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	// BlockByNumber returns the block with full transaction bodies, or nil
	// when the node does not know it.
	BlockByNumber(ctx context.Context, number uint64) (*Block, error)
	// TransactionByHash returns nil when the transaction is unknown.
	TransactionByHash(ctx context.Context, hash common.Hash) (*Transaction, error)
}

type Block struct {
	Number       hexutil.Uint64 `json:"number"`
	Timestamp    hexutil.Uint64 `json:"timestamp"`
	Transactions []TxEntry      `json:"transactions"`
}

type Transaction struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Value       *hexutil.Big    `json:"value"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
}

// TxEntry is one element of a block's transaction list: either a bare hash
// or a hydrated transaction. Tx is nil for the bare form.
type TxEntry struct {
	Hash common.Hash
	Tx   *Transaction
}

func (e *TxEntry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		e.Tx = nil
		return json.Unmarshal(data, &e.Hash)
	}

	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return err
	}
	e.Hash = tx.Hash
	e.Tx = &tx
	return nil
}

func (e TxEntry) MarshalJSON() ([]byte, error) {
	if e.Tx == nil {
		return json.Marshal(e.Hash)
	}
	return json.Marshal(e.Tx)
}

// TransactionRecord is one scan result. To is empty for contract creation.
type TransactionRecord struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	BlockNumber uint64 `json:"blockNumber"`
	Timestamp   uint64 `json:"timestamp"`
}

// Scanner finds recent transactions of an address by walking back from the
// chain tip. It sees only the scan window, so results are best effort.
type Scanner struct {
	source BlockSource
	logger *slog.Logger
}

func NewScanner(source BlockSource, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{source: source, logger: logger}
}

// Recent returns at most limit transactions sent from or to address, newest
// block first. Blocks of the window are fetched concurrently; any failed
// fetch fails the whole scan.
func (s *Scanner) Recent(ctx context.Context, address common.Address, limit int) ([]TransactionRecord, error) {
	records := []TransactionRecord{}
	if limit <= 0 {
		return records, nil
	}

	head, err := s.source.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get block number: %w", err)
	}

	window := ScanWindow(limit)
	numbers := make([]uint64, 0, window)
	for i := uint64(0); i < uint64(window) && i < head; i++ {
		numbers = append(numbers, head-i)
	}

	blocks := make([]*Block, len(numbers))
	g, gctx := errgroup.WithContext(ctx)
	for i, number := range numbers {
		g.Go(func() error {
			block, err := s.source.BlockByNumber(gctx, number)
			if err != nil {
				return fmt.Errorf("failed to get block %d: %w", number, err)
			}
			blocks[i] = block
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Debug("Scanning blocks", "head", head, "blocks", len(numbers), "limit", limit)

	for _, block := range blocks {
		if block == nil {
			continue
		}
		for _, entry := range block.Transactions {
			tx := entry.Tx
			if tx == nil {
				tx, err = s.source.TransactionByHash(ctx, entry.Hash)
				if err != nil {
					return nil, fmt.Errorf("failed to get transaction %s: %w", entry.Hash.Hex(), err)
				}
				if tx == nil {
					continue
				}
			}
			if !touches(tx, address) {
				continue
			}

			records = append(records, newRecord(tx, block))
			if len(records) >= limit {
				return records, nil
			}
		}
	}
	return records, nil
}

func touches(tx *Transaction, address common.Address) bool {
	return tx.From == address || (tx.To != nil && *tx.To == address)
}

func newRecord(tx *Transaction, block *Block) TransactionRecord {
	record := TransactionRecord{
		Hash:        tx.Hash.Hex(),
		From:        tx.From.Hex(),
		Value:       "0",
		BlockNumber: uint64(block.Number),
		Timestamp:   uint64(block.Timestamp),
	}
	if tx.To != nil {
		record.To = tx.To.Hex()
	}
	if tx.Value != nil {
		record.Value = FormatEther(tx.Value.ToInt())
	}
	if tx.BlockNumber != nil {
		record.BlockNumber = tx.BlockNumber.ToInt().Uint64()
	}
	return record
}
