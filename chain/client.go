// Package chain talks to an Ethereum JSON-RPC endpoint on behalf of stored
// wallets: balances, value transfers, contract deployment and calls, and a
// best-effort scan of recent transactions.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/lifinance/evm-signer-mcp/config"
	"github.com/lifinance/evm-signer-mcp/wallet"
)

var (
	ErrSignerNotFound = errors.New("signer not found")
	ErrMethodNotFound = errors.New("method not found")
)

// Backend is the subset of ethclient.Client the chain client needs.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Close()
}

// Conn is one open connection to a network.
type Conn struct {
	Backend
	Blocks BlockSource
}

// Dialer opens a connection to an RPC endpoint.
type Dialer func(ctx context.Context, url string) (*Conn, error)

// DialRPC connects to url with the go-ethereum RPC client.
func DialRPC(ctx context.Context, url string) (*Conn, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the Ethereum client: %w", err)
	}
	return &Conn{
		Backend: ethclient.NewClient(rc),
		Blocks:  NewRPCBlockSource(rc),
	}, nil
}

// SignerSource resolves an address to a wallet, or nil when it is unknown.
type SignerSource interface {
	Load(address string) *wallet.Wallet
}

// Client performs chain operations against the configured networks. Every
// operation dials its own connection and closes it before returning.
type Client struct {
	cfg     *config.Config
	wallets SignerSource
	dial    Dialer
	logger  *slog.Logger
}

type Option func(*Client)

// WithDialer replaces the RPC dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dial = d
	}
}

// NewClient creates a chain client.
func NewClient(cfg *config.Config, wallets SignerSource, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:     cfg,
		wallets: wallets,
		dial:    DialRPC,
		logger:  logger.With("component", "chain"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Network resolves an optional network name to the one actually used.
func (c *Client) Network(network string) string {
	return c.cfg.Network(network)
}

func (c *Client) connect(ctx context.Context, network string) (*Conn, error) {
	// The endpoint URL carries the API key; log the network name only.
	c.logger.Debug("Connecting to network", "network", network)
	return c.dial(ctx, c.cfg.RPCURL(network))
}

// Signer is a wallet bound to an open connection.
type Signer struct {
	Wallet  *wallet.Wallet
	Network string
	ChainID *big.Int
	Conn    *Conn
}

// TransactOpts returns keyed transaction options for the signer.
func (s *Signer) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.Wallet.PrivateKey, s.ChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// Close releases the signer's connection.
func (s *Signer) Close() {
	s.Conn.Close()
}

// ResolveSigner loads the wallet for address and connects it to network. The
// wallet is resolved before any connection is made, so an unknown address
// never reaches the network. Callers must Close the signer.
func (c *Client) ResolveSigner(ctx context.Context, address, network string) (*Signer, error) {
	w := c.wallets.Load(address)
	if w == nil {
		return nil, fmt.Errorf("%w: no wallet stored for %s", ErrSignerNotFound, address)
	}

	network = c.Network(network)
	conn, err := c.connect(ctx, network)
	if err != nil {
		return nil, err
	}

	chainID, err := conn.ChainID(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	return &Signer{Wallet: w, Network: network, ChainID: chainID, Conn: conn}, nil
}

// Balance is a native currency balance.
type Balance struct {
	Address string
	Network string
	Unit    string
	Wei     *big.Int
}

// Ether returns the balance in whole currency units.
func (b *Balance) Ether() string {
	return FormatEther(b.Wei)
}

// Balance queries the latest native balance of address.
func (c *Client) Balance(ctx context.Context, address, network string) (*Balance, error) {
	network = c.Network(network)
	conn, err := c.connect(ctx, network)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	account := common.HexToAddress(address)
	wei, err := conn.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	return &Balance{
		Address: account.Hex(),
		Network: network,
		Unit:    LookupNetwork(network).Unit,
		Wei:     wei,
	}, nil
}

// RecentTransactions scans the tip of network for transactions sent from or
// to address. See Scanner for the exact semantics.
func (c *Client) RecentTransactions(ctx context.Context, address string, limit int, network string) ([]TransactionRecord, error) {
	network = c.Network(network)
	conn, err := c.connect(ctx, network)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return NewScanner(conn.Blocks, c.logger).Recent(ctx, common.HexToAddress(address), limit)
}
