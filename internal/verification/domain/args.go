package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pendergraft/codeproof/internal/chains/evm/abiargs"
)

// ArgsInput holds every source of constructor arguments for one run.
type ArgsInput struct {
	// Reported are the arguments the explorer holds for the contract.
	Reported []byte
	// Typed and Encoded are user supplied; nil means absent.
	Typed   []string
	Encoded []byte
	// CreationInput is the on-chain creation code including arguments, nil
	// for predeploys.
	CreationInput []byte
	LocalCode     []byte
	ABI           json.RawMessage
}

// ResolveConstructorArgs picks the constructor arguments of a run. Typed
// values win over encoded bytes, which win over the explorer's arguments.
//
// The explorer's arguments are untrusted: when no user arguments are given
// and the creation input does not end with them, the arguments are re-derived
// as the tail of the creation input past the local creation code. A creation
// input shorter than the local code is left alone.
func ResolveConstructorArgs(in ArgsInput) ([]byte, ArgsSource, error) {
	if in.Typed != nil {
		encoded, err := abiargs.Encode(in.ABI, in.Typed)
		if errors.Is(err, abiargs.ErrArgCount) {
			return nil, "", fmt.Errorf("%w: %v", ErrConstructorArgsMismatch, err)
		}
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidConstructorArgs, err)
		}
		return encoded, ArgsTyped, nil
	}
	if in.Encoded != nil {
		return bytes.Clone(in.Encoded), ArgsEncoded, nil
	}

	args := bytes.Clone(in.Reported)
	if args == nil {
		args = []byte{}
	}
	if in.CreationInput == nil || bytes.HasSuffix(in.CreationInput, args) {
		return args, ArgsExplorer, nil
	}
	if len(in.CreationInput) < len(in.LocalCode) {
		return args, ArgsExplorer, nil
	}
	return bytes.Clone(in.CreationInput[len(in.LocalCode):]), ArgsCreationInput, nil
}
