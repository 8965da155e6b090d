package evm

import (
	"bytes"
	"encoding/binary"
	"regexp"

	"github.com/fxamacker/cbor/v2"

	"github.com/pendergraft/codeproof/internal/chains"
)

// Library placeholder pattern: __$<34 hex chars>$__
var libraryPlaceholder = regexp.MustCompile(`__\$[a-fA-F0-9]{34}\$__`)

var metadataDecoder, _ = cbor.DecOptions{
	MaxNestedLevels: 16,
}.DecMode()

// SplitMetadata splits bytecode into its executable part and the trailing
// compiler metadata region. The last two bytes of solc output hold the
// big-endian length of the CBOR map that precedes them. If the region is not
// a valid CBOR map the whole input is returned as code and ok is false.
func SplitMetadata(bytecode []byte) (code, metadata []byte, ok bool) {
	if len(bytecode) < 2 {
		return bytecode, nil, false
	}
	n := int(binary.BigEndian.Uint16(bytecode[len(bytecode)-2:]))
	if n == 0 || n+2 > len(bytecode) {
		return bytecode, nil, false
	}
	start := len(bytecode) - 2 - n
	region := bytecode[start : len(bytecode)-2]

	var m map[any]any
	if err := metadataDecoder.Unmarshal(region, &m); err != nil {
		return bytecode, nil, false
	}
	return bytecode[:start], bytecode[start:], true
}

// StripMetadata removes the CBOR metadata appended to bytecode
func StripMetadata(bytecode []byte) []byte {
	code, _, _ := SplitMetadata(bytecode)
	return code
}

// MatchBytecodes compares a locally derived bytecode with the one observed on
// chain. Identical inputs are an exact match. Otherwise the constructor
// arguments are trimmed from creation code and the metadata region is masked
// on both sides; equal remainders are a partial match.
//
// Neither slice is modified.
func MatchBytecodes(local, remote, constructorArgs []byte, isRuntime bool) chains.MatchType {
	if bytes.Equal(local, remote) {
		return chains.MatchExact
	}
	if isPartialMatch(local, remote, constructorArgs, isRuntime) {
		return chains.MatchPartial
	}
	return chains.MatchNone
}

func isPartialMatch(local, remote, constructorArgs []byte, isRuntime bool) bool {
	if !isRuntime && len(constructorArgs) > 0 {
		// Both sides must carry the same argument suffix, otherwise the code
		// regions would be misaligned.
		if !bytes.HasSuffix(local, constructorArgs) || !bytes.HasSuffix(remote, constructorArgs) {
			return false
		}
		local = local[:len(local)-len(constructorArgs)]
		remote = remote[:len(remote)-len(constructorArgs)]
	}
	return bytes.Equal(StripMetadata(local), StripMetadata(remote))
}

// HasLibraryPlaceholders checks if hex bytecode contains library placeholders
func HasLibraryPlaceholders(bytecode string) bool {
	return libraryPlaceholder.MatchString(bytecode)
}
