package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lifinance/evm-signer-mcp/chain"
	"github.com/lifinance/evm-signer-mcp/compiler"
	"github.com/lifinance/evm-signer-mcp/config"
	"github.com/lifinance/evm-signer-mcp/server"
	"github.com/lifinance/evm-signer-mcp/wallet"
)

const version = "1.0.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "evm-signer-mcp",
	Short: "MCP server for managing EVM wallets and signing transactions",
	Long: `evm-signer-mcp serves Model Context Protocol tools over stdio.

It keeps wallets in a local key store, optionally encrypted, and uses them
to send value, deploy contracts and call contract methods on Ethereum
networks reached through an RPC provider.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.String("api-key", "", "RPC provider API key (overrides INFURA_API_KEY)")
	flags.String("network", "", "default network (overrides DEFAULT_NETWORK)")
	flags.String("rpc-url", "", "RPC URL template with {network} and {apiKey} placeholders (overrides RPC_URL_TEMPLATE)")
	flags.String("keys-path", "", "key store directory (overrides KEYS_PATH)")
	flags.String("log-level", "", "log level: debug, info, warn or error (overrides LOG_LEVEL)")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}

	// stdout carries the MCP stream
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	store, err := wallet.NewStore(cfg.Keys, logger)
	if err != nil {
		return fmt.Errorf("failed to open key store: %w", err)
	}

	chainClient := chain.NewClient(cfg, store, logger)
	comp := compiler.NewClient(cfg.CompilerURL, logger)

	s := server.NewServer(version, cfg, store, chainClient, comp, logger)

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal, exiting...")
		os.Exit(0)
	}()

	logger.Info("Starting EVM signer MCP server",
		"version", version,
		"network", cfg.DefaultNetwork,
		"keys_path", cfg.Keys.Path,
		"encrypted", store.Encrypted(),
	)
	return s.ServeStdio()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
