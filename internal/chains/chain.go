// Package chains holds the chain-agnostic artifact and match types shared by
// the builders, the bytecode matcher and the verification pipeline.
package chains

import (
	"context"
	"encoding/json"
)

// MatchType is the outcome of comparing a locally derived bytecode with the
// bytecode observed on chain.
type MatchType string

const (
	// MatchExact means the two sides are byte-identical.
	MatchExact MatchType = "exact"
	// MatchPartial means the code matches once compiler metadata (and, for
	// creation code, the constructor arguments) is masked out.
	MatchPartial MatchType = "partial"
	// MatchNone means no reconciliation was possible.
	MatchNone MatchType = "none"
)

// IsMatch reports whether m is an exact or partial match.
func (m MatchType) IsMatch() bool {
	return m == MatchExact || m == MatchPartial
}

// BytecodeKind selects which of the two bytecodes of a contract is compared.
type BytecodeKind string

const (
	KindCreation BytecodeKind = "creation"
	KindRuntime  BytecodeKind = "runtime"
)

// Builder locates and parses compiled artifacts for a specific build tool
type Builder interface {
	DisplayName() string // "Foundry"

	// Detection
	Detect(dir string) (bool, error)
	ConfigFile() string // "foundry.toml"

	// Artifact handling
	Find(dir string, contract ContractID) (string, error)
	Parse(artifactPath string) (*Artifact, error)
	Build(ctx context.Context, dir string, settings CompilerSettings) error
}

// ContractID identifies a contract as either "Name" or "path/to/File.sol:Name".
type ContractID struct {
	Path string
	Name string
}

// String returns the identifier in its "path:Name" form.
func (c ContractID) String() string {
	if c.Path == "" {
		return c.Name
	}
	return c.Path + ":" + c.Name
}

// CompilerSettings are the settings an explorer reports for a verified
// contract. They select the compiler configuration and key the artifact cache.
type CompilerSettings struct {
	CompilerVersion string `json:"compilerVersion,omitempty"`
	Optimizer       bool   `json:"optimizer"`
	Runs            int    `json:"runs,omitempty"`
	EVMVersion      string `json:"evmVersion,omitempty"`
	ViaIR           bool   `json:"viaIR,omitempty"`
}

// Artifact is a compiled contract
type Artifact struct {
	Name  string `json:"name"`
	Chain string `json:"chain"` // "evm"

	EVM *EVMArtifact `json:"evm,omitempty"`
}

// EVMArtifact contains EVM-specific contract data
type EVMArtifact struct {
	SourcePath       string          `json:"sourcePath"`
	ABI              json.RawMessage `json:"abi"`
	Bytecode         string          `json:"bytecode"`
	DeployedBytecode string          `json:"deployedBytecode"`
	Compiler         EVMCompiler     `json:"compiler"`
}

// EVMCompiler contains EVM compiler details
type EVMCompiler struct {
	Version    string          `json:"version"` // "0.8.20+commit.a1b2c3d4"
	Optimizer  OptimizerConfig `json:"optimizer"`
	EVMVersion string          `json:"evmVersion"` // "paris", "shanghai"
	ViaIR      bool            `json:"viaIR"`
}

// OptimizerConfig contains optimizer settings
type OptimizerConfig struct {
	Enabled bool `json:"enabled"`
	Runs    int  `json:"runs"`
}
