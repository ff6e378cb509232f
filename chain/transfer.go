package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxResult describes a transaction that has been included in a block.
type TxResult struct {
	Hash        common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Network     string
	Explorer    string
}

// SendValue transfers amount (in ether) from a stored wallet to to, and waits
// until the transaction is mined.
func (c *Client) SendValue(ctx context.Context, from, to, amount, network string) (*TxResult, error) {
	value, err := ParseEther(amount)
	if err != nil {
		return nil, err
	}

	signer, err := c.ResolveSigner(ctx, from, network)
	if err != nil {
		return nil, err
	}
	defer signer.Close()

	conn := signer.Conn
	sender := signer.Wallet.Address
	recipient := common.HexToAddress(to)

	balance, err := conn.BalanceAt(ctx, sender, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet balance: %w", err)
	}

	// Estimating also simulates the transfer, so reverts surface here.
	gasLimit, err := conn.EstimateGas(ctx, ethereum.CallMsg{
		From:  sender,
		To:    &recipient,
		Value: value,
	})
	if err != nil {
		return nil, fmt.Errorf("transfer would fail: %w. Revert reason: %s", err, revertReason(err))
	}

	nonce, err := conn.PendingNonceAt(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	head, err := conn.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest block header: %w", err)
	}

	var tx *types.Transaction
	if head.BaseFee != nil {
		tipCap, err := conn.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to suggest gas tip cap: %w", err)
		}
		// base fee * 2 + tip
		feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tipCap)

		if err := checkFunds(balance, value, feeCap, gasLimit); err != nil {
			return nil, err
		}
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   signer.ChainID,
			Nonce:     nonce,
			GasTipCap: tipCap,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			To:        &recipient,
			Value:     value,
		})
	} else {
		gasPrice, err := conn.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to suggest gas price: %w", err)
		}
		if err := checkFunds(balance, value, gasPrice, gasLimit); err != nil {
			return nil, err
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gasLimit,
			To:       &recipient,
			Value:    value,
		})
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(signer.ChainID), signer.Wallet.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := conn.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.Info("Transfer submitted",
		"hash", signed.Hash().Hex(),
		"from", sender.Hex(),
		"to", recipient.Hex(),
		"network", signer.Network,
	)

	return c.waitMined(ctx, signer, signed)
}

func checkFunds(balance, value, feePerGas *big.Int, gasLimit uint64) error {
	gasCost := new(big.Int).Mul(feePerGas, new(big.Int).SetUint64(gasLimit))
	needed := new(big.Int).Add(value, gasCost)
	if balance.Cmp(needed) < 0 {
		return fmt.Errorf("insufficient balance: have %s, need %s (including max gas cost)",
			FormatEther(balance), FormatEther(needed))
	}
	return nil
}

// waitMined blocks until tx is included and fails if it reverted.
func (c *Client) waitMined(ctx context.Context, signer *Signer, tx *types.Transaction) (*TxResult, error) {
	receipt, err := bind.WaitMined(ctx, signer.Conn, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for transaction %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, fmt.Errorf("transaction %s reverted in block %d", tx.Hash().Hex(), receipt.BlockNumber.Uint64())
	}

	c.logger.Info("Transaction mined",
		"hash", tx.Hash().Hex(),
		"block", receipt.BlockNumber.Uint64(),
		"gasUsed", receipt.GasUsed,
	)

	return &TxResult{
		Hash:        tx.Hash(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Network:     signer.Network,
		Explorer:    ExplorerTxURL(signer.Network, tx.Hash().Hex()),
	}, nil
}

// revertReason extracts the reason from an "execution reverted: ..." error.
func revertReason(err error) string {
	if parts := strings.SplitN(err.Error(), "execution reverted:", 2); len(parts) > 1 {
		return strings.TrimSpace(parts[1])
	}
	return "unknown"
}
