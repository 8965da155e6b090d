package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pendergraft/codeproof/internal/chains"
	"github.com/pendergraft/codeproof/internal/chains/evm"
	"github.com/pendergraft/codeproof/internal/explorer"
	"github.com/pendergraft/codeproof/internal/observability/metrics"
	"github.com/pendergraft/codeproof/internal/storage"
	"github.com/pendergraft/codeproof/internal/validation"
)

// Errors returned by the verification service.
var (
	ErrInvalidRequest          = errors.New("invalid request")
	ErrInvalidBlock            = validation.ErrInvalidBlock
	ErrNoBytecode              = errors.New("no bytecode at address")
	ErrContractNameMismatch    = errors.New("contract name mismatch")
	ErrConstructorArgsMismatch = errors.New("constructor argument count mismatch")
	ErrInvalidConstructorArgs  = errors.New("invalid constructor arguments")
	ErrUnlinkedBytecode        = errors.New("bytecode has unlinked libraries")
	ErrUnsupportedCompiler     = errors.New("unsupported compiler")
	ErrUnsupportedCreation     = errors.New("unsupported creation transaction")
	ErrUnexpectedCallResult    = errors.New("unexpected deployer call result")
	ErrMissingDeployedCode     = errors.New("no code deployed by replay")
)

// Provider is the chain data the pipeline reads.
type Provider interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*evm.Transaction, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*evm.Receipt, error)
}

// Provenance is where creation records and compilation metadata come from.
type Provenance interface {
	ContractCreation(ctx context.Context, addr common.Address) (*explorer.CreationData, error)
	SourceMetadata(ctx context.Context, addr common.Address) (*explorer.SourceMetadata, error)
}

// ArtifactSource resolves a contract to a compiled artifact.
type ArtifactSource interface {
	Artifact(ctx context.Context, id chains.ContractID, settings chains.CompilerSettings) (*chains.Artifact, error)
}

// RunRecorder stores finished runs.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *storage.Run) error
}

// Service verifies deployed contracts.
type Service struct {
	provider   Provider
	provenance Provenance
	artifacts  ArtifactSource
	forker     evm.Forker
	recorder   RunRecorder
	evmVersion string
	logger     *slog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithRunRecorder records every run, failed runs included.
func WithRunRecorder(r RunRecorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithDefaultEVMVersion sets the EVM version used when neither the explorer
// nor the compiler version determine one.
func WithDefaultEVMVersion(v string) Option {
	return func(s *Service) {
		s.evmVersion = v
	}
}

// NewService creates a verification service.
func NewService(provider Provider, provenance Provenance, artifacts ArtifactSource, forker evm.Forker, opts ...Option) *Service {
	s := &Service{
		provider:   provider,
		provenance: provenance,
		artifacts:  artifacts,
		forker:     forker,
		evmVersion: evm.DefaultEVMVersion,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// state is a step of a verification run.
type state int

const (
	stateResolvingContext state = iota
	stateResolvingArgs
	statePredeploy
	stateCreationCheck
	stateRuntimeCheck
	stateDone
)

func (s state) String() string {
	switch s {
	case stateResolvingContext:
		return "resolving_context"
	case stateResolvingArgs:
		return "resolving_args"
	case statePredeploy:
		return "predeploy"
	case stateCreationCheck:
		return "creation_check"
	case stateRuntimeCheck:
		return "runtime_check"
	case stateDone:
		return "done"
	}
	return "unknown"
}

// run carries what the states of one verification have established.
type run struct {
	req     Request
	chainID *big.Int
	logger  *slog.Logger

	creation  *CreationContext
	metadata  *explorer.SourceMetadata
	artifact  *chains.Artifact
	local     []byte
	args      []byte
	source    ArgsSource
	evmVer    string
	runtimeAt uint64
	results   []Result
}

// Verify compares the bytecode deployed at req.Address with the artifact of
// req.Contract. Comparison outcomes, mismatches included, are reported in
// the Report; an error means the run could not be completed.
func (s *Service) Verify(ctx context.Context, req Request) (*Report, error) {
	r, err := s.prepare(ctx, req)
	if err == nil {
		err = s.execute(ctx, r)
	}

	report := r.report()
	if err != nil {
		metrics.VerificationRun("failed")
	} else {
		metrics.VerificationRun("completed")
		for _, res := range report.Results {
			metrics.VerificationResult(string(res.Kind), string(res.Match))
		}
	}
	if r.chainID != nil {
		report.RunID = s.record(ctx, report, err)
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

// prepare validates req and checks that there is code to verify. Nothing is
// fetched for a malformed request.
func (s *Service) prepare(ctx context.Context, req Request) (*run, error) {
	r := &run{
		req:    req,
		logger: s.logger.With("address", req.Address.Hex(), "contract", req.Contract.String()),
	}
	if req.Contract.Name == "" {
		return r, fmt.Errorf("%w: contract name is required", ErrInvalidRequest)
	}
	if req.ConstructorArgs != nil && req.EncodedConstructorArgs != nil {
		return r, fmt.Errorf("%w: typed and encoded constructor arguments are exclusive", ErrInvalidRequest)
	}
	switch req.Ignore {
	case IgnoreNone, IgnoreCreation, IgnoreRuntime:
	default:
		return r, fmt.Errorf("%w: unknown bytecode kind %q", ErrInvalidRequest, req.Ignore)
	}
	code, err := s.provider.CodeAt(ctx, req.Address, nil)
	if err != nil {
		return r, fmt.Errorf("fetching code of %s: %w", req.Address, err)
	}
	if len(code) == 0 {
		return r, fmt.Errorf("%w: %s", ErrNoBytecode, req.Address)
	}
	chainID, err := s.provider.ChainID(ctx)
	if err != nil {
		return r, fmt.Errorf("fetching chain id: %w", err)
	}
	r.chainID = chainID
	r.logger = r.logger.With("chain_id", chainID.String())
	return r, nil
}

func (s *Service) execute(ctx context.Context, r *run) error {
	st := stateResolvingContext
	for st != stateDone {
		next, err := s.step(ctx, st, r)
		if err != nil {
			return err
		}
		r.logger.Debug("verification transition", "from", st, "to", next)
		st = next
	}
	return nil
}

func (s *Service) step(ctx context.Context, st state, r *run) (state, error) {
	switch st {
	case stateResolvingContext:
		return s.resolveContext(ctx, r)
	case stateResolvingArgs:
		return s.resolveArgs(ctx, r)
	case statePredeploy:
		return s.checkPredeploy(ctx, r)
	case stateCreationCheck:
		return s.checkCreation(r)
	case stateRuntimeCheck:
		return s.checkRuntime(ctx, r)
	}
	return stateDone, fmt.Errorf("unexpected verification state %s", st)
}

func (s *Service) resolveContext(ctx context.Context, r *run) (state, error) {
	resolver := &creationResolver{provenance: s.provenance, provider: s.provider}
	cc, err := resolver.Resolve(ctx, r.req.Address)
	if err != nil {
		return stateDone, err
	}
	r.creation = cc
	if cc.Kind == CreationPredeploy {
		r.logger.Info("no creation transaction found, verifying as predeploy")
		metrics.Predeploy()
	}
	return stateResolvingArgs, nil
}

func (s *Service) resolveArgs(ctx context.Context, r *run) (state, error) {
	md, err := s.provenance.SourceMetadata(ctx, r.req.Address)
	if err != nil {
		return stateDone, fmt.Errorf("getting source metadata of %s: %w", r.req.Address, err)
	}
	if md.ContractName != r.req.Contract.Name {
		return stateDone, fmt.Errorf("%w: explorer has %q, requested %q", ErrContractNameMismatch, md.ContractName, r.req.Contract.Name)
	}
	if md.CompilerVersion != "" {
		if err := validation.ValidateCompilerVersion(md.CompilerVersion); err != nil {
			return stateDone, fmt.Errorf("%w: %v", ErrUnsupportedCompiler, err)
		}
	}
	r.metadata = md

	r.evmVer, err = evm.ResolveEVMVersion(md.EVMVersion, md.CompilerVersion, s.evmVersion)
	if err != nil {
		return stateDone, fmt.Errorf("resolving EVM version: %w", err)
	}
	settings := chains.CompilerSettings{
		CompilerVersion: md.CompilerVersion,
		Optimizer:       md.OptimizationUsed,
		Runs:            md.Runs,
		EVMVersion:      r.evmVer,
		ViaIR:           md.ViaIR,
	}
	artifact, err := s.artifacts.Artifact(ctx, r.req.Contract, settings)
	if err != nil {
		return stateDone, fmt.Errorf("getting artifact of %s: %w", r.req.Contract, err)
	}
	if artifact.EVM == nil {
		return stateDone, fmt.Errorf("artifact of %s has no EVM bytecode", r.req.Contract)
	}
	if evm.HasLibraryPlaceholders(artifact.EVM.Bytecode) {
		return stateDone, fmt.Errorf("%w: %s", ErrUnlinkedBytecode, r.req.Contract)
	}
	local, err := validation.ParseHex(artifact.EVM.Bytecode)
	if err != nil {
		return stateDone, fmt.Errorf("decoding bytecode of %s: %w", r.req.Contract, err)
	}
	r.artifact = artifact
	r.local = local

	abi := artifact.EVM.ABI
	if len(abi) == 0 {
		abi = md.ABI
	}
	r.args, r.source, err = ResolveConstructorArgs(ArgsInput{
		Reported:      md.ConstructorArguments,
		Typed:         r.req.ConstructorArgs,
		Encoded:       r.req.EncodedConstructorArgs,
		CreationInput: r.creation.Input,
		LocalCode:     local,
		ABI:           abi,
	})
	if err != nil {
		return stateDone, err
	}
	if r.source == ArgsCreationInput {
		metrics.ArgsRederived()
		r.logger.Warn("explorer constructor arguments do not match the creation transaction, using the creation input instead",
			"reported", hexutil.Encode(md.ConstructorArguments),
			"derived", hexutil.Encode(r.args),
		)
	}

	if r.creation.Kind == CreationPredeploy {
		return statePredeploy, nil
	}
	return stateCreationCheck, nil
}

// checkPredeploy replays a genesis deployment. Predeploys have no creation
// transaction, so only the runtime code is compared and ignore flags do not
// apply.
func (s *Service) checkPredeploy(ctx context.Context, r *run) (state, error) {
	if r.req.Ignore != IgnoreNone {
		r.logger.Warn("ignore flag has no effect on predeploys", "ignore", string(r.req.Ignore))
	}

	builder := &envBuilder{provider: s.provider, forker: s.forker, chainID: r.chainID}
	env, exec, err := builder.Build(ctx, ForkRequest{Genesis: true, EVMVersion: r.evmVer})
	if err != nil {
		return stateDone, err
	}
	start := time.Now()
	replayed, err := ReplayGenesis(ctx, exec, env, r.payload())
	metrics.ReplayDuration("genesis", time.Since(start))
	if err != nil {
		return stateDone, err
	}

	onchain, err := s.provider.CodeAt(ctx, r.req.Address, nil)
	if err != nil {
		return stateDone, fmt.Errorf("fetching code of %s: %w", r.req.Address, err)
	}
	r.addResult(chains.KindRuntime, evm.MatchBytecodes(replayed, onchain, nil, true))
	return stateDone, nil
}

func (s *Service) checkCreation(r *run) (state, error) {
	if r.req.Ignore == IgnoreCreation {
		return stateRuntimeCheck, nil
	}
	match := evm.MatchBytecodes(r.payload(), r.creation.Input, r.args, false)
	r.addResult(chains.KindCreation, match)
	if match == chains.MatchNone {
		// no replay can match when the creation code already differs
		r.results = append(r.results, Result{
			Kind:    chains.KindRuntime,
			Match:   chains.MatchNone,
			Message: "skipped because the creation code did not match",
		})
		return stateDone, nil
	}
	return stateRuntimeCheck, nil
}

func (s *Service) checkRuntime(ctx context.Context, r *run) (state, error) {
	if r.req.Ignore == IgnoreRuntime {
		return stateDone, nil
	}

	block, err := r.runtimeBlock()
	if err != nil {
		return stateDone, err
	}
	r.runtimeAt = block

	builder := &envBuilder{provider: s.provider, forker: s.forker, chainID: r.chainID}
	env, exec, err := builder.Build(ctx, ForkRequest{
		Block:      block,
		EVMVersion: r.evmVer,
		Sender:     r.creation.Tx.From,
	})
	if err != nil {
		return stateDone, err
	}
	start := time.Now()
	replayed, err := ReplayCreation(ctx, exec, env, r.creation.Tx, r.payload())
	metrics.ReplayDuration(string(r.creation.Kind), time.Since(start))
	if err != nil {
		return stateDone, err
	}

	onchain, err := s.provider.CodeAt(ctx, r.req.Address, new(big.Int).SetUint64(block))
	if err != nil {
		return stateDone, fmt.Errorf("fetching code of %s at block %d: %w", r.req.Address, block, err)
	}
	r.addResult(chains.KindRuntime, evm.MatchBytecodes(replayed, onchain, nil, true))
	return stateDone, nil
}

// runtimeBlock is the requested block, or the block of the creation
// transaction. The block is only parsed here: runs that never replay the
// runtime code accept any value.
func (r *run) runtimeBlock() (uint64, error) {
	if r.req.Block != "" {
		n, err := validation.ParseBlockNumber(r.req.Block)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, fmt.Errorf("%w: block 0 has no parent to fork from", ErrInvalidBlock)
		}
		return n, nil
	}
	if r.creation.Tx.BlockNumber == nil {
		return 0, fmt.Errorf("%w: creation transaction %s is not mined", ErrInvalidBlock, r.creation.Tx.Hash.Hex())
	}
	return r.creation.Tx.BlockNumber.Uint64(), nil
}

// payload is the local creation code followed by the constructor arguments.
func (r *run) payload() []byte {
	out := make([]byte, 0, len(r.local)+len(r.args))
	out = append(out, r.local...)
	return append(out, r.args...)
}

func (r *run) addResult(kind chains.BytecodeKind, match chains.MatchType) {
	res := Result{Kind: kind, Match: match}
	if match == chains.MatchNone {
		res.Message = mismatchHint(r.artifact, r.metadata)
	}
	r.logger.Info("bytecode compared", "kind", string(kind), "match", string(match))
	r.results = append(r.results, res)
}

func (r *run) report() *Report {
	report := &Report{
		Address:    r.req.Address,
		Contract:   r.req.Contract.String(),
		EVMVersion: r.evmVer,
		Block:      r.runtimeAt,
		Results:    r.results,
	}
	if report.Results == nil {
		report.Results = []Result{}
	}
	if r.chainID != nil {
		report.ChainID = r.chainID.Uint64()
	}
	if r.creation != nil {
		report.Creation = r.creation.Kind
		if r.creation.Data != nil {
			hash := r.creation.Data.TxHash
			report.CreationTx = &hash
		}
	}
	if r.source != "" {
		report.ConstructorArgs = r.args
		report.ArgsSource = r.source
	}
	return report
}

// mismatchHint names compiler settings that differ between the local
// artifact and the explorer's record.
func mismatchHint(artifact *chains.Artifact, md *explorer.SourceMetadata) string {
	if artifact == nil || artifact.EVM == nil || md == nil {
		return ""
	}
	c := artifact.EVM.Compiler
	var diffs []string
	if md.CompilerVersion != "" && c.Version != "" && baseCompiler(c.Version) != baseCompiler(md.CompilerVersion) {
		diffs = append(diffs, fmt.Sprintf("compiler %s (explorer %s)", c.Version, md.CompilerVersion))
	}
	if c.Optimizer.Enabled != md.OptimizationUsed {
		diffs = append(diffs, fmt.Sprintf("optimizer %t (explorer %t)", c.Optimizer.Enabled, md.OptimizationUsed))
	} else if md.OptimizationUsed && c.Optimizer.Runs != md.Runs {
		diffs = append(diffs, fmt.Sprintf("optimizer runs %d (explorer %d)", c.Optimizer.Runs, md.Runs))
	}
	if md.EVMVersion != "" && c.EVMVersion != "" && !strings.EqualFold(c.EVMVersion, evm.NormalizeEVMVersion(md.EVMVersion)) {
		diffs = append(diffs, fmt.Sprintf("evm version %s (explorer %s)", c.EVMVersion, md.EVMVersion))
	}
	if c.ViaIR != md.ViaIR {
		diffs = append(diffs, fmt.Sprintf("via-ir %t (explorer %t)", c.ViaIR, md.ViaIR))
	}
	if len(diffs) == 0 {
		return ""
	}
	return "local settings differ: " + strings.Join(diffs, ", ")
}

func baseCompiler(v string) string {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexByte(v, '+'); i >= 0 {
		return v[:i]
	}
	return v
}

// record stores the run and returns its ID. Storage failures are logged and
// do not fail the verification.
func (s *Service) record(ctx context.Context, report *Report, runErr error) string {
	if s.recorder == nil {
		return ""
	}
	stored := &storage.Run{
		ChainID:   strconv.FormatUint(report.ChainID, 10),
		Address:   report.Address.Hex(),
		Contract:  report.Contract,
		Predeploy: report.Predeploy(),
		Block:     int64(report.Block),
	}
	for _, res := range report.Results {
		stored.Results = append(stored.Results, storage.RunResult{
			Kind:    string(res.Kind),
			Match:   string(res.Match),
			Message: res.Message,
		})
	}
	if runErr != nil {
		stored.Error = runErr.Error()
	}
	if err := s.recorder.CreateRun(ctx, stored); err != nil {
		s.logger.Error("recording verification run", "address", report.Address.Hex(), "error", err)
		return ""
	}
	return stored.ID
}
