package abiargs

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenABI = `[
	{"type":"constructor","inputs":[
		{"name":"owner","type":"address"},
		{"name":"supply","type":"uint256"},
		{"name":"name","type":"string"}
	]},
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"}],"outputs":[]}
]`

func TestEncode(t *testing.T) {
	owner := "0x00000000000000000000000000000000000000aa"

	t.Run("encodes typed values", func(t *testing.T) {
		got, err := Encode(json.RawMessage(tokenABI), []string{owner, "1000", "Token"})
		require.NoError(t, err)

		inputs, ok, err := Constructor(json.RawMessage(tokenABI))
		require.NoError(t, err)
		require.True(t, ok)
		want, err := inputs.Pack(common.HexToAddress(owner), big.NewInt(1000), "Token")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("count mismatch", func(t *testing.T) {
		_, err := Encode(json.RawMessage(tokenABI), []string{owner, "1000"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrArgCount))
		assert.Contains(t, err.Error(), "expected 3, got 2")
	})

	t.Run("no constructor encodes to empty", func(t *testing.T) {
		got, err := Encode(json.RawMessage(`[{"type":"function","name":"f","inputs":[],"outputs":[]}]`), []string{"1", "2"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("constructor without inputs rejects values", func(t *testing.T) {
		_, err := Encode(json.RawMessage(`[{"type":"constructor","inputs":[]}]`), []string{"1"})
		assert.True(t, errors.Is(err, ErrArgCount))
	})

	t.Run("invalid address", func(t *testing.T) {
		_, err := Encode(json.RawMessage(tokenABI), []string{"0x1234", "1", "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "owner")
	})
}

func TestEncodeArgs_Types(t *testing.T) {
	mustType := func(s string, components ...abi.ArgumentMarshaling) abi.Type {
		typ, err := abi.NewType(s, "", components)
		require.NoError(t, err)
		return typ
	}

	tests := []struct {
		name    string
		typ     abi.Type
		value   string
		want    any
		wantErr bool
	}{
		{name: "uint8", typ: mustType("uint8"), value: "255", want: uint8(255)},
		{name: "uint8 overflow", typ: mustType("uint8"), value: "256", wantErr: true},
		{name: "int8 min", typ: mustType("int8"), value: "-128", want: int8(-128)},
		{name: "int8 underflow", typ: mustType("int8"), value: "-129", wantErr: true},
		{name: "uint256 hex", typ: mustType("uint256"), value: "0xff", want: big.NewInt(255)},
		{name: "uint negative", typ: mustType("uint256"), value: "-1", wantErr: true},
		{name: "bool", typ: mustType("bool"), value: "TRUE", want: true},
		{name: "bytes", typ: mustType("bytes"), value: "0xdeadbeef", want: []byte{0xde, 0xad, 0xbe, 0xef}},
		{name: "bytes4", typ: mustType("bytes4"), value: "deadbeef", want: [4]byte{0xde, 0xad, 0xbe, 0xef}},
		{name: "bytes2 too long", typ: mustType("bytes2"), value: "0xdeadbeef", wantErr: true},
		{name: "string quoted", typ: mustType("string"), value: `"hello"`, want: "hello"},
		{name: "uint list", typ: mustType("uint64[]"), value: "[1, 2, 3]", want: []uint64{1, 2, 3}},
		{name: "fixed array", typ: mustType("address[2]"), value: "[0x00000000000000000000000000000000000000aa,0x00000000000000000000000000000000000000bb]",
			want: [2]common.Address{common.HexToAddress("0xaa"), common.HexToAddress("0xbb")}},
		{name: "fixed array wrong size", typ: mustType("uint8[2]"), value: "[1]", wantErr: true},
		{name: "nested list", typ: mustType("uint16[][]"), value: "[[1],[2,3]]", want: [][]uint16{{1}, {2, 3}}},
		{name: "unbalanced", typ: mustType("uint16[]"), value: "[1,2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := abi.Arguments{{Type: tt.typ}}
			got, err := EncodeArgs(args, []string{tt.value})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			want, err := args.Pack(tt.want)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestEncodeArgs_Tuple(t *testing.T) {
	typ, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "id", Type: "uint256"},
		{Name: "label", Type: "string"},
	})
	require.NoError(t, err)

	args := abi.Arguments{{Name: "cfg", Type: typ}}
	got, err := EncodeArgs(args, []string{`(7, "seven")`})
	require.NoError(t, err)

	decoded, err := args.Unpack(got)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Contains(t, fmtValue(decoded[0]), "seven")
}

func fmtValue(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestSplitList(t *testing.T) {
	items, err := splitList(`["a,b", [1,2], (3,4)]`, '[', ']')
	require.NoError(t, err)
	assert.Equal(t, []string{`"a,b"`, "[1,2]", "(3,4)"}, items)

	items, err = splitList("[]", '[', ']')
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = splitList("1,2", '[', ']')
	assert.Error(t, err)
}
