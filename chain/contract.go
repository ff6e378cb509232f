package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// DeployResult describes a deployed contract.
type DeployResult struct {
	Address common.Address
	Tx      *TxResult
	// Explorer links to the contract's address page.
	Explorer string
}

// Deploy creates a contract from a stored wallet and waits until its code is
// on chain. constructorArgs are decoded JSON values.
func (c *Client) Deploy(ctx context.Context, from string, parsed abi.ABI, bytecode []byte, constructorArgs []any, network string) (*DeployResult, error) {
	args, err := ConvertArgs(parsed.Constructor.Inputs, constructorArgs)
	if err != nil {
		return nil, err
	}

	signer, err := c.ResolveSigner(ctx, from, network)
	if err != nil {
		return nil, err
	}
	defer signer.Close()

	opts, err := signer.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}

	address, tx, _, err := bind.DeployContract(opts, parsed, bytecode, signer.Conn, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy contract: %w", err)
	}
	c.logger.Info("Deployment submitted",
		"hash", tx.Hash().Hex(),
		"address", address.Hex(),
		"network", signer.Network,
	)

	if _, err := bind.WaitDeployed(ctx, signer.Conn, tx); err != nil {
		return nil, fmt.Errorf("failed waiting for deployment %s: %w", tx.Hash().Hex(), err)
	}
	result, err := c.waitMined(ctx, signer, tx)
	if err != nil {
		return nil, err
	}

	return &DeployResult{
		Address:  address,
		Tx:       result,
		Explorer: ExplorerAddressURL(signer.Network, address.Hex()),
	}, nil
}

// Call invokes a read-only method and returns its decoded outputs. No wallet
// is involved.
func (c *Client) Call(ctx context.Context, contract string, parsed abi.ABI, method string, rawArgs []any, network string) ([]any, error) {
	m, err := lookupMethod(parsed, method)
	if err != nil {
		return nil, err
	}
	args, err := ConvertArgs(m.Inputs, rawArgs)
	if err != nil {
		return nil, err
	}

	conn, err := c.connect(ctx, c.Network(network))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	bound := bind.NewBoundContract(common.HexToAddress(contract), parsed, conn, conn, conn)
	var out []any
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, m.Name, args...); err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", m.Name, err)
	}
	return out, nil
}

// Execute sends a state-changing method call from a stored wallet and waits
// until it is mined.
func (c *Client) Execute(ctx context.Context, from, contract string, parsed abi.ABI, method string, rawArgs []any, network string) (*TxResult, error) {
	m, err := lookupMethod(parsed, method)
	if err != nil {
		return nil, err
	}
	args, err := ConvertArgs(m.Inputs, rawArgs)
	if err != nil {
		return nil, err
	}

	signer, err := c.ResolveSigner(ctx, from, network)
	if err != nil {
		return nil, err
	}
	defer signer.Close()

	opts, err := signer.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}

	bound := bind.NewBoundContract(common.HexToAddress(contract), parsed, signer.Conn, signer.Conn, signer.Conn)
	tx, err := bound.Transact(opts, m.Name, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s: %w. Revert reason: %s", m.Name, err, revertReason(err))
	}
	c.logger.Info("Contract transaction submitted",
		"hash", tx.Hash().Hex(),
		"contract", contract,
		"method", m.Name,
		"network", signer.Network,
	)

	return c.waitMined(ctx, signer, tx)
}

// lookupMethod finds a method by name or by its canonical signature, e.g.
// "transfer(address,uint256)" for overloaded methods.
func lookupMethod(parsed abi.ABI, method string) (abi.Method, error) {
	if m, ok := parsed.Methods[method]; ok {
		return m, nil
	}
	for _, m := range parsed.Methods {
		if m.Sig == method {
			return m, nil
		}
	}
	return abi.Method{}, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
}
