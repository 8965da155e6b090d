// Package validation provides input validation for codeproof.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/mod/semver"

	"github.com/pendergraft/codeproof/internal/chains"
)

// ErrInvalidBlock is returned for block references that are not a literal
// block number.
var ErrInvalidBlock = errors.New("invalid block number")

// Solidity identifier: letters, digits, $ and _, not starting with a digit
var identifierRegex = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]{0,127}$`)

// ParseContractID parses "Name" or "path/to/File.sol:Name"
func ParseContractID(s string) (chains.ContractID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return chains.ContractID{}, errors.New("contract identifier cannot be empty")
	}

	var id chains.ContractID
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		id.Path, id.Name = s[:i], s[i+1:]
		if id.Path == "" {
			return chains.ContractID{}, errors.New("invalid contract identifier: empty source path")
		}
		// Prevent path traversal out of the project
		if strings.Contains(id.Path, "..") {
			return chains.ContractID{}, errors.New("invalid contract identifier: path must stay inside the project")
		}
	} else {
		id.Name = s
	}

	if !identifierRegex.MatchString(id.Name) {
		return chains.ContractID{}, fmt.Errorf("invalid contract name %q", id.Name)
	}
	return id, nil
}

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") {
		return errors.New("invalid address: must start with 0x")
	}
	if !isHex(addr[2:]) {
		return errors.New("invalid address: contains non-hex characters")
	}
	return nil
}

// ValidateTxHash validates a 32-byte transaction hash
func ValidateTxHash(hash string) error {
	if len(hash) != 66 || !strings.HasPrefix(hash, "0x") {
		return errors.New("invalid transaction hash: must be 0x + 64 hex characters")
	}
	if !isHex(hash[2:]) {
		return errors.New("invalid transaction hash: contains non-hex characters")
	}
	return nil
}

// ParseHex decodes hex bytes with or without the 0x prefix. An empty string
// decodes to empty bytes.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0x" {
		return []byte{}, nil
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode("0x" + s[2:])
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// ParseBlockNumber accepts a decimal or 0x-prefixed hex block number. Tags
// such as "latest" and block hashes are rejected.
func ParseBlockNumber(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidBlock)
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		// block hashes are 0x-prefixed too
		if len(s) > 18 {
			return 0, fmt.Errorf("%w: %q is not a block number", ErrInvalidBlock, s)
		}
		n, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidBlock, s)
		}
		return n, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidBlock, s)
	}
	return n, nil
}

// ValidateCompilerVersion validates a solc version such as
// "0.8.20+commit.a1b2c3d4" or "v0.8.20"
func ValidateCompilerVersion(v string) error {
	normalized := strings.TrimPrefix(strings.TrimSpace(v), "v")
	if normalized == "" {
		return errors.New("compiler version cannot be empty")
	}
	// semver build metadata uses "+", which solc does too
	if !semver.IsValid("v" + normalized) {
		return fmt.Errorf("invalid compiler version %q", v)
	}
	if strings.Count(strings.SplitN(normalized, "+", 2)[0], ".") != 2 {
		return fmt.Errorf("invalid compiler version %q: must be X.Y.Z", v)
	}
	return nil
}

// ValidateChainID validates a chain ID
func ValidateChainID(chainID int64) error {
	if chainID <= 0 {
		return errors.New("chain ID must be positive")
	}
	return nil
}

func isHex(s string) bool {
	for _, c := range s {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return false
		}
	}
	return true
}
