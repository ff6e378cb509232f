// Package compiler compiles Solidity source through a remote standard-JSON
// compiler endpoint.
package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

const sourceName = "main.sol"

var ErrCompilation = errors.New("compilation failed")

// Artifact is the deployable output for one contract.
type Artifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

type input struct {
	Language string                `json:"language"`
	Sources  map[string]sourceFile `json:"sources"`
	Settings settings              `json:"settings"`
}

type sourceFile struct {
	Content string `json:"content"`
}

type settings struct {
	OutputSelection map[string]map[string][]string `json:"outputSelection"`
	Optimizer       optimizer                      `json:"optimizer"`
}

type optimizer struct {
	Enabled bool `json:"enabled"`
	Runs    int  `json:"runs"`
}

type output struct {
	Errors []struct {
		Severity         string `json:"severity"`
		Message          string `json:"message"`
		FormattedMessage string `json:"formattedMessage"`
	} `json:"errors"`
	Contracts map[string]map[string]struct {
		ABI json.RawMessage `json:"abi"`
		EVM struct {
			Bytecode struct {
				Object string `json:"object"`
			} `json:"bytecode"`
		} `json:"evm"`
	} `json:"contracts"`
}

// Client compiles contracts against a remote endpoint.
type Client struct {
	url    string
	http   *HTTPClient
	logger *slog.Logger
}

// NewClient creates a compiler client for the endpoint at url.
func NewClient(url string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "compiler")
	return &Client{
		url:    url,
		http:   NewHTTPClient(logger),
		logger: logger,
	}
}

// Compile compiles source and returns the artifact for contractName, or the
// first contract in name order when contractName is empty or absent.
func (c *Client) Compile(ctx context.Context, source, contractName string) (*Artifact, error) {
	body, err := json.Marshal(input{
		Language: "Solidity",
		Sources:  map[string]sourceFile{sourceName: {Content: source}},
		Settings: settings{
			OutputSelection: map[string]map[string][]string{
				"*": {"*": {"abi", "evm.bytecode"}},
			},
			Optimizer: optimizer{Enabled: true, Runs: 200},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode compiler input: %w", err)
	}

	c.logger.Debug("Compiling source", "bytes", len(source), "contract", contractName)

	respBody, err := c.http.PostJSON(ctx, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("compiler request failed: %w", err)
	}

	var out output
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to decode compiler output: %w", err)
	}

	var messages []string
	for _, e := range out.Errors {
		if e.Severity != "error" {
			continue
		}
		msg := e.FormattedMessage
		if msg == "" {
			msg = e.Message
		}
		messages = append(messages, strings.TrimSpace(msg))
	}
	if len(messages) > 0 {
		return nil, fmt.Errorf("%w:\n%s", ErrCompilation, strings.Join(messages, "\n"))
	}

	contracts := out.Contracts[sourceName]
	if len(contracts) == 0 {
		return nil, errors.New("compilation succeeded but no contracts found")
	}

	name := contractName
	if _, ok := contracts[name]; !ok {
		names := make([]string, 0, len(contracts))
		for n := range contracts {
			names = append(names, n)
		}
		sort.Strings(names)
		name = names[0]
	}
	compiled := contracts[name]

	bytecode := compiled.EVM.Bytecode.Object
	if !strings.HasPrefix(bytecode, "0x") {
		bytecode = "0x" + bytecode
	}
	return &Artifact{ContractName: name, ABI: compiled.ABI, Bytecode: bytecode}, nil
}
