// Package domain contains the bytecode verification pipeline.
package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/pendergraft/codeproof/internal/chains"
)

// Ignore names a bytecode kind whose comparison is skipped.
type Ignore string

const (
	IgnoreNone     Ignore = ""
	IgnoreCreation Ignore = "creation"
	IgnoreRuntime  Ignore = "runtime"
)

// Request is the request to verify a deployed contract against a local
// artifact.
type Request struct {
	Address  common.Address
	Contract chains.ContractID
	// Block is a literal block number (decimal or 0x-hex) to compare the
	// runtime code at. Empty means the block of the creation transaction.
	Block string
	// ConstructorArgs are typed constructor values encoded against the
	// artifact's constructor. nil means none were supplied; an empty,
	// non-nil slice is an explicit empty list.
	ConstructorArgs []string
	// EncodedConstructorArgs are ABI-encoded constructor arguments used
	// verbatim. nil means none were supplied.
	EncodedConstructorArgs []byte
	Ignore                 Ignore
}

// Result is the outcome of comparing one kind of bytecode.
type Result struct {
	Kind    chains.BytecodeKind `json:"bytecodeType"`
	Match   chains.MatchType    `json:"matchType"`
	Message string              `json:"message,omitempty"`
}

// ArgsSource records where the constructor arguments of a run came from.
type ArgsSource string

const (
	ArgsTyped    ArgsSource = "typed"
	ArgsEncoded  ArgsSource = "encoded"
	ArgsExplorer ArgsSource = "explorer"
	// ArgsCreationInput means the explorer's arguments did not match the
	// creation transaction and were re-derived from its input.
	ArgsCreationInput ArgsSource = "creation-input"
)

// CreationKind describes how a contract was created.
type CreationKind string

const (
	CreationPredeploy CreationKind = "predeploy"
	CreationCreate    CreationKind = "create"
	CreationCreate2   CreationKind = "create2-deployer"
)

// Report is the result set of a verification run.
type Report struct {
	RunID           string         `json:"runId,omitempty"`
	ChainID         uint64         `json:"chainId"`
	Address         common.Address `json:"address"`
	Contract        string         `json:"contract"`
	Creation        CreationKind   `json:"creation"`
	CreationTx      *common.Hash   `json:"creationTx,omitempty"`
	Block           uint64         `json:"block,omitempty"`
	EVMVersion      string         `json:"evmVersion"`
	ConstructorArgs hexutil.Bytes  `json:"constructorArgs"`
	ArgsSource      ArgsSource     `json:"constructorArgsSource"`
	Results         []Result       `json:"results"`
}

// Predeploy reports whether the contract had no creation record.
func (r *Report) Predeploy() bool {
	return r.Creation == CreationPredeploy
}

// Verified reports whether every evaluated bytecode kind matched.
func (r *Report) Verified() bool {
	if len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if !res.Match.IsMatch() {
			return false
		}
	}
	return true
}
