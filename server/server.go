// Package server exposes stored wallets and contract operations as MCP tools.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/lifinance/evm-signer-mcp/chain"
	"github.com/lifinance/evm-signer-mcp/compiler"
	"github.com/lifinance/evm-signer-mcp/config"
	"github.com/lifinance/evm-signer-mcp/wallet"
)

const serverName = "evm-signer"

// WalletStore persists wallets.
type WalletStore interface {
	Save(w *wallet.Wallet) error
	List() ([]string, error)
}

// ChainClient performs reads and signed writes against a network.
type ChainClient interface {
	Network(network string) string
	Balance(ctx context.Context, address, network string) (*chain.Balance, error)
	RecentTransactions(ctx context.Context, address string, limit int, network string) ([]chain.TransactionRecord, error)
	SendValue(ctx context.Context, from, to, amount, network string) (*chain.TxResult, error)
	Deploy(ctx context.Context, from string, parsed abi.ABI, bytecode []byte, constructorArgs []any, network string) (*chain.DeployResult, error)
	Call(ctx context.Context, contract string, parsed abi.ABI, method string, rawArgs []any, network string) ([]any, error)
	Execute(ctx context.Context, from, contract string, parsed abi.ABI, method string, rawArgs []any, network string) (*chain.TxResult, error)
}

// Compiler turns Solidity source into a deployable artifact.
type Compiler interface {
	Compile(ctx context.Context, source, contractName string) (*compiler.Artifact, error)
}

// Server represents the EVM signer MCP server
type Server struct {
	mcpServer *mcpserver.MCPServer
	wallets   WalletStore
	chain     ChainClient
	compiler  Compiler
	cfg       *config.Config
	version   string
	logger    *slog.Logger

	// handlers by tool name, as registered
	handlers map[string]mcpserver.ToolHandlerFunc
}

// NewServer creates a new MCP server instance with all tools registered
func NewServer(version string, cfg *config.Config, wallets WalletStore, chainClient ChainClient, comp Compiler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		wallets:  wallets,
		chain:    chainClient,
		compiler: comp,
		cfg:      cfg,
		version:  version,
		logger:   logger,
		handlers: make(map[string]mcpserver.ToolHandlerFunc),
	}

	s.mcpServer = mcpserver.NewMCPServer(
		serverName,
		version,
		mcpserver.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

// GetMCPServer returns the underlying MCP server for in-process transport
func (s *Server) GetMCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio serves MCP over stdin/stdout until the input stream closes.
func (s *Server) ServeStdio() error {
	errLogger := slog.NewLogLogger(s.logger.Handler(), slog.LevelError)
	return mcpserver.ServeStdio(s.mcpServer, mcpserver.WithErrorLogger(errLogger))
}

// toolFunc is the body of one tool. The returned value becomes the JSON payload.
type toolFunc func(ctx context.Context, args toolArgs) (any, error)

// handle adapts fn into an MCP handler: it tags the call with an invocation
// id, turns errors into flagged results and encodes the payload as JSON.
// action completes the error prefix "Error <action>".
func (s *Server) handle(action string, fn toolFunc) mcpserver.ToolHandlerFunc {
	return s.withPanicRecovery(action, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logger := s.logger.With("tool", request.Params.Name, "invocation", uuid.NewString())
		ctx = withLogger(ctx, logger)

		logger.Debug("Tool invoked")
		payload, err := fn(ctx, newToolArgs(request))
		if err != nil {
			logger.Warn("Tool failed", "error", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error %s: %v", action, err)), nil
		}

		body, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Error %s: error serializing result: %v", action, err)), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	})
}

// withPanicRecovery wraps a handler with panic recovery to prevent server crashes
func (s *Server) withPanicRecovery(action string, handler mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				s.logger.Error("Handler panic recovered",
					"tool", request.Params.Name,
					"panic", r,
					"stack", string(stack),
				)
				result = mcp.NewToolResultError(fmt.Sprintf("Error %s: internal error: %v", action, r))
				err = nil // Don't return error, return a tool result instead
			}
		}()
		return handler(ctx, request)
	}
}

func (s *Server) addTool(tool mcp.Tool, action string, fn toolFunc) {
	handler := s.handle(action, fn)
	s.handlers[tool.Name] = handler
	s.mcpServer.AddTool(tool, handler)
}

// registerTools registers all available tools with the MCP server
func (s *Server) registerTools() {
	s.addTool(mcp.NewTool("health-check",
		mcp.WithDescription("Check the health of the signer server. Returns the server version, the default network and the number of stored wallets."),
	), "checking health", s.healthCheck)

	// Wallet management
	s.addTool(mcp.NewTool("create-wallet",
		mcp.WithDescription("Create a new random wallet and save it to the key store. Returns the address and the private key. Store the private key somewhere safe: it is the only way to recover the wallet outside this server."),
	), "creating wallet", s.createWallet)

	s.addTool(mcp.NewTool("import-wallet",
		mcp.WithDescription("Import an existing wallet from its private key and save it to the key store."),
		mcp.WithString("privateKey", mcp.Description("Hex-encoded secp256k1 private key, with or without the 0x prefix."), mcp.Required()),
	), "importing wallet", s.importWallet)

	s.addTool(mcp.NewTool("list-wallets",
		mcp.WithDescription("List the addresses of all wallets in the key store."),
	), "listing wallets", s.listWallets)

	// Chain reads
	s.addTool(mcp.NewTool("check-balance",
		mcp.WithDescription("Get the native currency balance of any address."),
		mcp.WithString("address", mcp.Description("Address to query (0x...)."), mcp.Required()),
		mcp.WithString("network", mcp.Description("Network name (e.g. 'mainnet', 'sepolia', 'polygon-mainnet'). Defaults to the server's default network.")),
	), "checking balance", s.checkBalance)

	s.addTool(mcp.NewTool("get-transactions",
		mcp.WithDescription("Find recent transactions sent from or to an address by scanning the latest blocks. The scan covers at most 100 blocks, so older activity is not returned."),
		mcp.WithString("address", mcp.Description("Address to search for (0x...)."), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Maximum number of transactions to return (default 10, max 100).")),
		mcp.WithString("network", mcp.Description("Network name. Defaults to the server's default network.")),
	), "getting transactions", s.getTransactions)

	// Signed writes
	s.addTool(mcp.NewTool("send-transaction",
		mcp.WithDescription("Send native currency from a stored wallet and wait until the transaction is mined."),
		mcp.WithString("fromAddress", mcp.Description("Sender address. Must be a wallet in the key store."), mcp.Required()),
		mcp.WithString("toAddress", mcp.Description("Recipient address (0x...)."), mcp.Required()),
		mcp.WithString("amount", mcp.Description("Amount in whole currency units as a decimal string (e.g. '0.01')."), mcp.Required()),
		mcp.WithString("network", mcp.Description("Network name. Defaults to the server's default network.")),
	), "sending transaction", s.sendTransaction)

	s.addTool(mcp.NewTool("deploy-contract",
		mcp.WithDescription("Deploy a contract from a stored wallet. Use compile-contract first to get the ABI and bytecode from Solidity source."),
		mcp.WithString("fromAddress", mcp.Description("Deployer address. Must be a wallet in the key store."), mcp.Required()),
		mcp.WithString("abi", mcp.Description("Contract ABI as a JSON string."), mcp.Required()),
		mcp.WithString("bytecode", mcp.Description("Contract creation bytecode as hex."), mcp.Required()),
		mcp.WithString("constructorArgs", mcp.Description("Constructor arguments as a JSON array string (e.g. '[\"Token\", 18]').")),
		mcp.WithString("network", mcp.Description("Network name. Defaults to the server's default network.")),
	), "deploying contract", s.deployContract)

	s.addTool(mcp.NewTool("call-contract",
		mcp.WithDescription("Call a read-only contract method. No transaction is sent and no wallet is needed."),
		mcp.WithString("contractAddress", mcp.Description("Contract address (0x...)."), mcp.Required()),
		mcp.WithString("abi", mcp.Description("Contract ABI as a JSON string."), mcp.Required()),
		mcp.WithString("method", mcp.Description("Method name or full signature (e.g. 'balanceOf' or 'balanceOf(address)')."), mcp.Required()),
		mcp.WithString("args", mcp.Description("Method arguments as a JSON array string.")),
		mcp.WithString("network", mcp.Description("Network name. Defaults to the server's default network.")),
	), "calling contract method", s.callContract)

	s.addTool(mcp.NewTool("execute-contract",
		mcp.WithDescription("Send a transaction to a state-changing contract method from a stored wallet and wait until it is mined."),
		mcp.WithString("fromAddress", mcp.Description("Sender address. Must be a wallet in the key store."), mcp.Required()),
		mcp.WithString("contractAddress", mcp.Description("Contract address (0x...)."), mcp.Required()),
		mcp.WithString("abi", mcp.Description("Contract ABI as a JSON string."), mcp.Required()),
		mcp.WithString("method", mcp.Description("Method name or full signature."), mcp.Required()),
		mcp.WithString("args", mcp.Description("Method arguments as a JSON array string.")),
		mcp.WithString("network", mcp.Description("Network name. Defaults to the server's default network.")),
	), "executing contract method", s.executeContract)

	s.addTool(mcp.NewTool("compile-contract",
		mcp.WithDescription("Compile Solidity source with the remote compiler. Returns the ABI and bytecode ready for deploy-contract."),
		mcp.WithString("source", mcp.Description("Solidity source code."), mcp.Required()),
		mcp.WithString("contractName", mcp.Description("Contract to return when the source defines several. Defaults to the first by name.")),
	), "compiling contract", s.compileContract)
}
