package chain

import (
	"sort"
	"strings"
)

// Network describes how a named network is presented to users.
type Network struct {
	Name     string
	Explorer string
	Unit     string
}

const fallbackNetwork = "mainnet"

var networks = map[string]Network{
	"mainnet":          {Explorer: "https://etherscan.io", Unit: "ETH"},
	"sepolia":          {Explorer: "https://sepolia.etherscan.io", Unit: "ETH"},
	"holesky":          {Explorer: "https://holesky.etherscan.io", Unit: "ETH"},
	"goerli":           {Explorer: "https://goerli.etherscan.io", Unit: "ETH"},
	"polygon-mainnet":  {Explorer: "https://polygonscan.com", Unit: "POL"},
	"polygon-amoy":     {Explorer: "https://amoy.polygonscan.com", Unit: "POL"},
	"arbitrum-mainnet": {Explorer: "https://arbiscan.io", Unit: "ETH"},
	"arbitrum-sepolia": {Explorer: "https://sepolia.arbiscan.io", Unit: "ETH"},
	"optimism-mainnet": {Explorer: "https://optimistic.etherscan.io", Unit: "ETH"},
	"optimism-sepolia": {Explorer: "https://sepolia-optimism.etherscan.io", Unit: "ETH"},
	"base-mainnet":     {Explorer: "https://basescan.org", Unit: "ETH"},
	"base-sepolia":     {Explorer: "https://sepolia.basescan.org", Unit: "ETH"},
	"linea-mainnet":    {Explorer: "https://lineascan.build", Unit: "ETH"},
}

// LookupNetwork returns the presentation details for name. Unknown networks
// get the mainnet explorer and unit but keep their own name.
func LookupNetwork(name string) Network {
	name = strings.ToLower(name)
	n, ok := networks[name]
	if !ok {
		n = networks[fallbackNetwork]
	}
	n.Name = name
	return n
}

// KnownNetworks lists the networks with a dedicated explorer, sorted.
func KnownNetworks() []string {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExplorerTxURL links to a transaction page.
func ExplorerTxURL(network, hash string) string {
	return LookupNetwork(network).Explorer + "/tx/" + hash
}

// ExplorerAddressURL links to an address or contract page.
func ExplorerAddressURL(network, address string) string {
	return LookupNetwork(network).Explorer + "/address/" + address
}
