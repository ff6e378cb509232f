package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

var ErrInvalidArgument = errors.New("invalid contract argument")

var bigIntType = reflect.TypeOf((*big.Int)(nil))

// DecodeArgs parses a JSON array of contract arguments. Numbers are kept as
// json.Number so large integers survive. An empty string means no arguments.
func DecodeArgs(raw string) ([]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON: %v", ErrInvalidArgument, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: unexpected data after JSON array", ErrInvalidArgument)
	}
	args, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: arguments must be a JSON array", ErrInvalidArgument)
	}
	return args, nil
}

// ParseABI parses a contract ABI given as JSON.
func ParseABI(raw string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("invalid ABI: %w", err)
	}
	return parsed, nil
}

// ParseBytecode decodes hex contract bytecode, with or without the 0x prefix.
func ParseBytecode(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	code, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid bytecode: %w", err)
	}
	if len(code) == 0 {
		return nil, errors.New("invalid bytecode: empty")
	}
	return code, nil
}

// ConvertArgs turns decoded JSON values into the Go values the ABI encoder
// expects for inputs.
func ConvertArgs(inputs abi.Arguments, raw []any) ([]any, error) {
	if len(raw) != len(inputs) {
		return nil, fmt.Errorf("%w: expected %d arguments, got %d", ErrInvalidArgument, len(inputs), len(raw))
	}
	out := make([]any, len(raw))
	for i, input := range inputs {
		v, err := convertValue(input.Type, raw[i])
		if err != nil {
			name := input.Name
			if name == "" {
				name = strconv.Itoa(i)
			}
			return nil, fmt.Errorf("%w: argument %s (%s): %v", ErrInvalidArgument, name, input.Type.String(), err)
		}
		out[i] = v.Interface()
	}
	return out, nil
}

func convertValue(t abi.Type, v any) (reflect.Value, error) {
	switch t.T {
	case abi.IntTy, abi.UintTy:
		n, err := toBigInt(v)
		if err != nil {
			return reflect.Value{}, err
		}
		return intValue(t, n)

	case abi.AddressTy:
		s, ok := v.(string)
		if !ok || !common.IsHexAddress(s) {
			return reflect.Value{}, fmt.Errorf("expected a hex address, got %v", v)
		}
		return reflect.ValueOf(common.HexToAddress(s)), nil

	case abi.BoolTy:
		switch b := v.(type) {
		case bool:
			return reflect.ValueOf(b), nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("expected a boolean, got %q", b)
			}
			return reflect.ValueOf(parsed), nil
		}
		return reflect.Value{}, fmt.Errorf("expected a boolean, got %v", v)

	case abi.StringTy:
		s, ok := v.(string)
		if !ok {
			return reflect.Value{}, fmt.Errorf("expected a string, got %v", v)
		}
		return reflect.ValueOf(s), nil

	case abi.BytesTy:
		b, err := toBytes(v)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b), nil

	case abi.FixedBytesTy:
		b, err := toBytes(v)
		if err != nil {
			return reflect.Value{}, err
		}
		if len(b) != t.Size {
			return reflect.Value{}, fmt.Errorf("expected %d bytes, got %d", t.Size, len(b))
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr, nil

	case abi.SliceTy:
		items, ok := v.([]any)
		if !ok {
			return reflect.Value{}, fmt.Errorf("expected an array, got %v", v)
		}
		slice := reflect.MakeSlice(t.GetType(), len(items), len(items))
		for i, item := range items {
			ev, err := convertValue(*t.Elem, item)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			slice.Index(i).Set(ev)
		}
		return slice, nil

	case abi.ArrayTy:
		items, ok := v.([]any)
		if !ok || len(items) != t.Size {
			return reflect.Value{}, fmt.Errorf("expected an array of %d elements, got %v", t.Size, v)
		}
		arr := reflect.New(t.GetType()).Elem()
		for i, item := range items {
			ev, err := convertValue(*t.Elem, item)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			arr.Index(i).Set(ev)
		}
		return arr, nil

	case abi.TupleTy:
		return tupleValue(t, v)
	}

	return reflect.Value{}, fmt.Errorf("unsupported type %s", t.String())
}

// tupleValue accepts either an object keyed by component name or a
// positional array.
func tupleValue(t abi.Type, v any) (reflect.Value, error) {
	st := reflect.New(t.GetType()).Elem()

	switch fields := v.(type) {
	case map[string]any:
		for i, elem := range t.TupleElems {
			name := t.TupleRawNames[i]
			item, ok := fields[name]
			if !ok {
				return reflect.Value{}, fmt.Errorf("missing tuple field %q", name)
			}
			ev, err := convertValue(*elem, item)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("field %s: %w", name, err)
			}
			st.Field(i).Set(ev)
		}
	case []any:
		if len(fields) != len(t.TupleElems) {
			return reflect.Value{}, fmt.Errorf("expected %d tuple fields, got %d", len(t.TupleElems), len(fields))
		}
		for i, elem := range t.TupleElems {
			ev, err := convertValue(*elem, fields[i])
			if err != nil {
				return reflect.Value{}, fmt.Errorf("field %d: %w", i, err)
			}
			st.Field(i).Set(ev)
		}
	default:
		return reflect.Value{}, fmt.Errorf("expected an object or array for tuple, got %v", v)
	}
	return st, nil
}

func intValue(t abi.Type, n *big.Int) (reflect.Value, error) {
	if t.T == abi.UintTy {
		if n.Sign() < 0 {
			return reflect.Value{}, fmt.Errorf("negative value %s for %s", n, t.String())
		}
		if n.BitLen() > t.Size {
			return reflect.Value{}, fmt.Errorf("value %s overflows %s", n, t.String())
		}
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		minimum := new(big.Int).Neg(limit)
		maximum := new(big.Int).Sub(limit, big.NewInt(1))
		if n.Cmp(minimum) < 0 || n.Cmp(maximum) > 0 {
			return reflect.Value{}, fmt.Errorf("value %s overflows %s", n, t.String())
		}
	}

	goType := t.GetType()
	if goType == bigIntType {
		return reflect.ValueOf(n), nil
	}
	v := reflect.New(goType).Elem()
	switch goType.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v.SetInt(n.Int64())
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v.SetUint(n.Uint64())
	default:
		return reflect.Value{}, fmt.Errorf("unsupported integer type %s", goType)
	}
	return v, nil
}

// toBigInt accepts JSON numbers, decimal strings and 0x prefixed hex strings.
// Fractional values are rejected.
func toBigInt(v any) (*big.Int, error) {
	switch n := v.(type) {
	case json.Number:
		return parseInteger(n.String())
	case string:
		s := strings.TrimSpace(n)
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			out, ok := new(big.Int).SetString(s[2:], 16)
			if !ok {
				return nil, fmt.Errorf("invalid hex integer %q", n)
			}
			return out, nil
		}
		return parseInteger(s)
	case float64:
		d := decimal.NewFromFloat(n)
		if !d.IsInteger() {
			return nil, fmt.Errorf("expected an integer, got %v", n)
		}
		return d.BigInt(), nil
	case int:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case *big.Int:
		return new(big.Int).Set(n), nil
	}
	return nil, fmt.Errorf("expected an integer, got %v", v)
}

func parseInteger(s string) (*big.Int, error) {
	if out, ok := new(big.Int).SetString(s, 10); ok {
		return out, nil
	}
	// Exponent notation such as 1e18.
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	if !d.IsInteger() {
		return nil, fmt.Errorf("expected an integer, got %q", s)
	}
	return d.BigInt(), nil
}

func toBytes(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected a hex string, got %v", v)
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex bytes %q: %v", v, err)
	}
	return b, nil
}

// JSONSafe converts decoded contract outputs into values that encode to JSON
// without losing precision: integers become decimal strings, addresses
// checksummed hex, byte arrays 0x hex and tuples objects keyed by name.
func JSONSafe(v any) any {
	return jsonSafe(reflect.ValueOf(v))
}

func jsonSafe(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}

	switch x := v.Interface().(type) {
	case *big.Int:
		if x == nil {
			return nil
		}
		return x.String()
	case common.Address:
		return x.Hex()
	case common.Hash:
		return x.Hex()
	case []byte:
		return hexutil.Encode(x)
	}

	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Bool:
		return v.Bool()
	case reflect.String:
		return v.String()
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return jsonSafe(v.Elem())
	case reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, v.Len())
			for i := range b {
				b[i] = byte(v.Index(i).Uint())
			}
			return hexutil.Encode(b)
		}
		return jsonSafeList(v)
	case reflect.Slice:
		return jsonSafeList(v)
	case reflect.Struct:
		out := make(map[string]any, v.NumField())
		for i := 0; i < v.NumField(); i++ {
			field := v.Type().Field(i)
			if !field.IsExported() {
				continue
			}
			name := field.Name
			if tag, _, _ := strings.Cut(field.Tag.Get("json"), ","); tag != "" && tag != "-" {
				name = tag
			}
			out[name] = jsonSafe(v.Field(i))
		}
		return out
	}
	return fmt.Sprint(v.Interface())
}

func jsonSafeList(v reflect.Value) []any {
	out := make([]any, v.Len())
	for i := range out {
		out[i] = jsonSafe(v.Index(i))
	}
	return out
}

// FormatResult renders call outputs as text. A single scalar output is
// returned in its plain string form; anything else is JSON.
func FormatResult(outputs []any) (string, error) {
	var safe any
	switch len(outputs) {
	case 0:
		safe = []any{}
	case 1:
		safe = JSONSafe(outputs[0])
		switch s := safe.(type) {
		case string:
			return s, nil
		case bool:
			return strconv.FormatBool(s), nil
		}
	default:
		list := make([]any, len(outputs))
		for i, out := range outputs {
			list[i] = JSONSafe(out)
		}
		safe = list
	}

	body, err := json.Marshal(safe)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(body), nil
}
