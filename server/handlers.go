package server

import (
	"context"
	"fmt"
	"sort"

	"github.com/lifinance/evm-signer-mcp/chain"
	"github.com/lifinance/evm-signer-mcp/wallet"
)

func (s *Server) healthCheck(ctx context.Context, _ toolArgs) (any, error) {
	result := map[string]interface{}{
		"status":         "ok",
		"server":         serverName,
		"version":        s.version,
		"defaultNetwork": s.cfg.DefaultNetwork,
	}

	addresses, err := s.wallets.List()
	if err != nil {
		result["status"] = "degraded"
		result["error"] = err.Error()
	} else {
		result["wallets"] = len(addresses)
	}

	return result, nil
}

func (s *Server) createWallet(ctx context.Context, _ toolArgs) (any, error) {
	w, err := wallet.Create()
	if err != nil {
		return nil, err
	}

	if err := s.wallets.Save(w); err != nil {
		return nil, err
	}

	loggerFromContext(ctx, s.logger).Info("Wallet created", "address", w.Address.Hex())

	return map[string]interface{}{
		"address":    w.Address.Hex(),
		"message":    "Wallet created and saved successfully.",
		"privateKey": w.SecretHex(),
	}, nil
}

func (s *Server) importWallet(ctx context.Context, args toolArgs) (any, error) {
	secret, err := args.Required("privateKey")
	if err != nil {
		return nil, err
	}

	w, err := wallet.Import(secret)
	if err != nil {
		return nil, err
	}

	if err := s.wallets.Save(w); err != nil {
		return nil, err
	}

	loggerFromContext(ctx, s.logger).Info("Wallet imported", "address", w.Address.Hex())

	return map[string]interface{}{
		"address": w.Address.Hex(),
		"message": "Wallet imported and saved successfully.",
	}, nil
}

func (s *Server) listWallets(ctx context.Context, _ toolArgs) (any, error) {
	addresses, err := s.wallets.List()
	if err != nil {
		return nil, err
	}
	sort.Strings(addresses)

	return map[string]interface{}{
		"wallets": addresses,
		"count":   len(addresses),
	}, nil
}

func (s *Server) checkBalance(ctx context.Context, args toolArgs) (any, error) {
	address, err := args.Address("address")
	if err != nil {
		return nil, err
	}
	network, err := args.Network()
	if err != nil {
		return nil, err
	}

	balance, err := s.chain.Balance(ctx, address, network)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"address": balance.Address,
		"network": balance.Network,
		"balance": fmt.Sprintf("%s %s", balance.Ether(), balance.Unit),
		"unit":    balance.Unit,
		"wei":     balance.Wei.String(),
	}, nil
}

func (s *Server) getTransactions(ctx context.Context, args toolArgs) (any, error) {
	address, err := args.Address("address")
	if err != nil {
		return nil, err
	}
	requested, err := args.Int("limit")
	if err != nil {
		return nil, err
	}
	limit, err := NormalizeLimit(requested)
	if err != nil {
		return nil, err
	}
	network, err := args.Network()
	if err != nil {
		return nil, err
	}

	records, err := s.chain.RecentTransactions(ctx, address, limit, network)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"address":      address,
		"network":      s.chain.Network(network),
		"transactions": records,
		"count":        len(records),
	}, nil
}

func (s *Server) sendTransaction(ctx context.Context, args toolArgs) (any, error) {
	from, err := args.Address("fromAddress")
	if err != nil {
		return nil, err
	}
	to := args.String("toAddress")
	if err := ValidateRecipientAddress("toAddress", to); err != nil {
		return nil, err
	}
	amount := args.String("amount")
	if err := ValidateAmount("amount", amount); err != nil {
		return nil, err
	}
	network, err := args.Network()
	if err != nil {
		return nil, err
	}

	tx, err := s.chain.SendValue(ctx, from, to, amount, network)
	if err != nil {
		return nil, err
	}

	unit := chain.LookupNetwork(tx.Network).Unit
	return map[string]interface{}{
		"message":     fmt.Sprintf("Sent %s %s from %s to %s", amount, unit, from, to),
		"transaction": tx.Hash.Hex(),
		"blockNumber": tx.BlockNumber,
		"explorer":    tx.Explorer,
		"network":     tx.Network,
	}, nil
}

func (s *Server) deployContract(ctx context.Context, args toolArgs) (any, error) {
	from, err := args.Address("fromAddress")
	if err != nil {
		return nil, err
	}
	parsed, err := args.ABI("abi")
	if err != nil {
		return nil, err
	}
	rawBytecode, err := args.Required("bytecode")
	if err != nil {
		return nil, err
	}
	bytecode, err := chain.ParseBytecode(rawBytecode)
	if err != nil {
		return nil, &ValidationError{Field: "bytecode", Message: err.Error()}
	}
	constructorArgs, err := args.JSONArray("constructorArgs")
	if err != nil {
		return nil, err
	}
	network, err := args.Network()
	if err != nil {
		return nil, err
	}

	deployed, err := s.chain.Deploy(ctx, from, parsed, bytecode, constructorArgs, network)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"message":               "Contract deployed successfully",
		"contractAddress":       deployed.Address.Hex(),
		"deploymentTransaction": deployed.Tx.Hash.Hex(),
		"explorer":              deployed.Explorer,
		"network":               deployed.Tx.Network,
	}, nil
}

func (s *Server) callContract(ctx context.Context, args toolArgs) (any, error) {
	contract, err := args.Address("contractAddress")
	if err != nil {
		return nil, err
	}
	parsed, err := args.ABI("abi")
	if err != nil {
		return nil, err
	}
	method, err := args.Required("method")
	if err != nil {
		return nil, err
	}
	callArgs, err := args.JSONArray("args")
	if err != nil {
		return nil, err
	}
	network, err := args.Network()
	if err != nil {
		return nil, err
	}

	outputs, err := s.chain.Call(ctx, contract, parsed, method, callArgs, network)
	if err != nil {
		return nil, err
	}
	result, err := chain.FormatResult(outputs)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"contractAddress": contract,
		"method":          method,
		"result":          result,
		"network":         s.chain.Network(network),
	}, nil
}

func (s *Server) executeContract(ctx context.Context, args toolArgs) (any, error) {
	from, err := args.Address("fromAddress")
	if err != nil {
		return nil, err
	}
	contract, err := args.Address("contractAddress")
	if err != nil {
		return nil, err
	}
	parsed, err := args.ABI("abi")
	if err != nil {
		return nil, err
	}
	method, err := args.Required("method")
	if err != nil {
		return nil, err
	}
	callArgs, err := args.JSONArray("args")
	if err != nil {
		return nil, err
	}
	network, err := args.Network()
	if err != nil {
		return nil, err
	}

	tx, err := s.chain.Execute(ctx, from, contract, parsed, method, callArgs, network)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"message":     fmt.Sprintf("Successfully executed %s on contract %s", method, contract),
		"transaction": tx.Hash.Hex(),
		"blockNumber": tx.BlockNumber,
		"explorer":    tx.Explorer,
		"network":     tx.Network,
	}, nil
}

func (s *Server) compileContract(ctx context.Context, args toolArgs) (any, error) {
	source, err := args.Required("source")
	if err != nil {
		return nil, err
	}

	artifact, err := s.compiler.Compile(ctx, source, args.String("contractName"))
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"contractName": artifact.ContractName,
		"abi":          artifact.ABI,
		"bytecode":     artifact.Bytecode,
	}, nil
}
