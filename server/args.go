package server

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lifinance/evm-signer-mcp/chain"
)

// toolArgs is the flat argument object of one tool call.
type toolArgs map[string]any

func newToolArgs(request mcp.CallToolRequest) toolArgs {
	if args, ok := request.Params.Arguments.(map[string]interface{}); ok {
		return args
	}
	return toolArgs{}
}

// String returns a string argument, or "" when it is absent or not a string.
func (a toolArgs) String(key string) string {
	if val, exists := a[key]; exists {
		if str, ok := val.(string); ok {
			return strings.TrimSpace(str)
		}
	}
	return ""
}

// Required returns a string argument that must be present and non-empty.
func (a toolArgs) Required(key string) (string, error) {
	val := a.String(key)
	if val == "" {
		return "", &ValidationError{Field: key, Message: "is required"}
	}
	return val, nil
}

// Address returns a required, well-formed address argument.
func (a toolArgs) Address(key string) (string, error) {
	val := a.String(key)
	if err := ValidateAddress(key, val); err != nil {
		return "", err
	}
	return val, nil
}

// Network returns the optional network argument, lowercased.
func (a toolArgs) Network() (string, error) {
	network := strings.ToLower(a.String("network"))
	if err := ValidateNetwork(network); err != nil {
		return "", err
	}
	return network, nil
}

// Int returns an optional integer argument. nil means absent.
func (a toolArgs) Int(key string) (*int, error) {
	val, exists := a[key]
	if !exists || val == nil {
		return nil, nil
	}

	invalid := &ValidationError{Field: key, Message: fmt.Sprintf("must be an integer, got %v", val)}
	var n int
	switch v := val.(type) {
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
			return nil, invalid
		}
		n = int(v)
	case int:
		n = v
	case json.Number:
		parsed, err := strconv.Atoi(v.String())
		if err != nil {
			return nil, invalid
		}
		n = parsed
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, invalid
		}
		n = parsed
	default:
		return nil, invalid
	}
	return &n, nil
}

// ABI parses a required contract ABI given as a JSON string. A JSON array
// passed directly is accepted too.
func (a toolArgs) ABI(key string) (abi.ABI, error) {
	raw, err := a.rawJSON(key)
	if err != nil {
		return abi.ABI{}, err
	}
	if raw == "" {
		return abi.ABI{}, &ValidationError{Field: key, Message: "is required"}
	}

	parsed, err := chain.ParseABI(raw)
	if err != nil {
		return abi.ABI{}, &ValidationError{Field: key, Message: err.Error()}
	}
	return parsed, nil
}

// JSONArray decodes an optional JSON array argument, such as contract call
// arguments. Absent means empty.
func (a toolArgs) JSONArray(key string) ([]any, error) {
	raw, err := a.rawJSON(key)
	if err != nil {
		return nil, err
	}

	args, err := chain.DecodeArgs(raw)
	if err != nil {
		return nil, &ValidationError{Field: key, Message: err.Error()}
	}
	return args, nil
}

// rawJSON returns the argument as JSON text. Strings are taken verbatim;
// structured values are re-encoded.
func (a toolArgs) rawJSON(key string) (string, error) {
	val, exists := a[key]
	if !exists || val == nil {
		return "", nil
	}
	if s, ok := val.(string); ok {
		return strings.TrimSpace(s), nil
	}

	body, err := json.Marshal(val)
	if err != nil {
		return "", &ValidationError{Field: key, Message: fmt.Sprintf("invalid JSON value: %v", err)}
	}
	return string(body), nil
}
