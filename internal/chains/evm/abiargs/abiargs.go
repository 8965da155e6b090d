// Package abiargs encodes constructor arguments given as strings against the
// constructor signature of a contract ABI.
package abiargs

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrArgCount is returned when the number of supplied values does not match
// the number of constructor inputs.
var ErrArgCount = errors.New("constructor argument count mismatch")

// Constructor parses an ABI JSON document and returns its constructor inputs.
// ok is false when the contract declares no constructor.
func Constructor(abiJSON json.RawMessage) (inputs abi.Arguments, ok bool, err error) {
	if len(abiJSON) == 0 {
		return nil, false, nil
	}
	parsed, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return nil, false, fmt.Errorf("parsing ABI: %w", err)
	}
	// The zero Method is indistinguishable from a constructor without
	// inputs, so look for the entry itself.
	var entries []struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(abiJSON, &entries); err != nil {
		return nil, false, fmt.Errorf("parsing ABI: %w", err)
	}
	for _, e := range entries {
		if e.Type == "constructor" {
			return parsed.Constructor.Inputs, true, nil
		}
	}
	return nil, false, nil
}

// Encode ABI-encodes values against the constructor of abiJSON. A contract
// without a constructor encodes to empty bytes whatever the values are.
func Encode(abiJSON json.RawMessage, values []string) ([]byte, error) {
	inputs, ok, err := Constructor(abiJSON)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []byte{}, nil
	}
	return EncodeArgs(inputs, values)
}

// EncodeArgs converts each string to the Go type of the matching argument and
// packs the result.
func EncodeArgs(inputs abi.Arguments, values []string) ([]byte, error) {
	if len(inputs) != len(values) {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrArgCount, len(inputs), len(values))
	}
	converted := make([]any, len(values))
	for i, arg := range inputs {
		v, err := parseValue(arg.Type, strings.TrimSpace(values[i]))
		if err != nil {
			name := arg.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("argument %s (%s): %w", name, arg.Type.String(), err)
		}
		converted[i] = v.Interface()
	}
	packed, err := inputs.Pack(converted...)
	if err != nil {
		return nil, fmt.Errorf("packing constructor arguments: %w", err)
	}
	return packed, nil
}

func parseValue(t abi.Type, s string) (reflect.Value, error) {
	goType := t.GetType()

	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(s) {
			return reflect.Value{}, fmt.Errorf("invalid address %q", s)
		}
		return reflect.ValueOf(common.HexToAddress(s)), nil

	case abi.BoolTy:
		switch strings.ToLower(s) {
		case "true":
			return reflect.ValueOf(true), nil
		case "false":
			return reflect.ValueOf(false), nil
		}
		return reflect.Value{}, fmt.Errorf("invalid bool %q", s)

	case abi.StringTy:
		return reflect.ValueOf(unquote(s)), nil

	case abi.BytesTy:
		b, err := hexutil.Decode(withPrefix(s))
		if err != nil {
			return reflect.Value{}, fmt.Errorf("invalid bytes %q: %w", s, err)
		}
		return reflect.ValueOf(b), nil

	case abi.FixedBytesTy:
		b, err := hexutil.Decode(withPrefix(s))
		if err != nil {
			return reflect.Value{}, fmt.Errorf("invalid bytes%d %q: %w", t.Size, s, err)
		}
		if len(b) > t.Size {
			return reflect.Value{}, fmt.Errorf("value %q longer than bytes%d", s, t.Size)
		}
		v := reflect.New(goType).Elem()
		reflect.Copy(v, reflect.ValueOf(b))
		return v, nil

	case abi.IntTy, abi.UintTy:
		return parseInteger(t, goType, s)

	case abi.SliceTy, abi.ArrayTy:
		items, err := splitList(s, '[', ']')
		if err != nil {
			return reflect.Value{}, err
		}
		if t.T == abi.ArrayTy && len(items) != t.Size {
			return reflect.Value{}, fmt.Errorf("expected %d elements, got %d", t.Size, len(items))
		}
		var v reflect.Value
		if t.T == abi.SliceTy {
			v = reflect.MakeSlice(goType, len(items), len(items))
		} else {
			v = reflect.New(goType).Elem()
		}
		for i, item := range items {
			ev, err := parseValue(*t.Elem, item)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			v.Index(i).Set(ev)
		}
		return v, nil

	case abi.TupleTy:
		items, err := splitList(s, '(', ')')
		if err != nil {
			return reflect.Value{}, err
		}
		if len(items) != len(t.TupleElems) {
			return reflect.Value{}, fmt.Errorf("expected %d tuple fields, got %d", len(t.TupleElems), len(items))
		}
		v := reflect.New(goType).Elem()
		for i, item := range items {
			fv, err := parseValue(*t.TupleElems[i], item)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("field %d: %w", i, err)
			}
			v.Field(i).Set(fv)
		}
		return v, nil
	}
	return reflect.Value{}, fmt.Errorf("unsupported type %s", t.String())
}

func parseInteger(t abi.Type, goType reflect.Type, s string) (reflect.Value, error) {
	n, ok := new(big.Int).SetString(strings.ReplaceAll(s, "_", ""), 0)
	if !ok {
		return reflect.Value{}, fmt.Errorf("invalid integer %q", s)
	}
	if t.T == abi.UintTy && n.Sign() < 0 {
		return reflect.Value{}, fmt.Errorf("negative value %q for unsigned type", s)
	}
	limit, mag := t.Size, n
	if t.T == abi.IntTy {
		limit--
		if n.Sign() < 0 {
			mag = new(big.Int).Add(n, big.NewInt(1))
		}
	}
	if mag.BitLen() > limit {
		return reflect.Value{}, fmt.Errorf("value %q overflows %s", s, t.String())
	}

	// Sizes up to 64 bits map to native Go integers, wider ones to *big.Int.
	switch goType.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v := reflect.New(goType).Elem()
		v.SetUint(n.Uint64())
		return v, nil
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v := reflect.New(goType).Elem()
		v.SetInt(n.Int64())
		return v, nil
	}
	return reflect.ValueOf(n), nil
}

// splitList splits "[a, b, [c, d]]" into its top-level items, respecting
// nested brackets, parentheses and double-quoted strings.
func splitList(s string, opening, closing byte) ([]string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != opening || s[len(s)-1] != closing {
		return nil, fmt.Errorf("expected %c...%c, got %q", opening, closing, s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return nil, nil
	}

	var (
		items    []string
		depth    int
		inQuotes bool
		start    int
	)
	for i := 0; i < len(body); i++ {
		switch c := body[i]; {
		case c == '"':
			inQuotes = !inQuotes
		case inQuotes:
		case c == '[' || c == '(':
			depth++
		case c == ']' || c == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced brackets in %q", s)
			}
		case c == ',' && depth == 0:
			items = append(items, strings.TrimSpace(body[start:i]))
			start = i + 1
		}
	}
	if depth != 0 || inQuotes {
		return nil, fmt.Errorf("unbalanced brackets in %q", s)
	}
	return append(items, strings.TrimSpace(body[start:])), nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func withPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return "0x" + s[2:]
	}
	return "0x" + s
}
