package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/codeproof/internal/chains"
	"github.com/pendergraft/codeproof/internal/chains/evm"
	"github.com/pendergraft/codeproof/internal/explorer"
	"github.com/pendergraft/codeproof/internal/observability/metrics"
	"github.com/pendergraft/codeproof/internal/storage"
)

var (
	target   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	sender   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	deployed = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	txHash   = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")

	initCode    = []byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x34, 0x80, 0x15}
	runtimeCode = []byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x5f, 0x80, 0xfd}
	counterABI  = json.RawMessage(`[{"type":"constructor","inputs":[{"name":"start","type":"uint256"}],"stateMutability":"nonpayable"}]`)
)

func uintArg(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// fakeProvider serves chain data from maps and counts calls.
type fakeProvider struct {
	chainID  *big.Int
	code     map[string][]byte
	nonces   map[uint64]uint64
	tx       *evm.Transaction
	receipt  *evm.Receipt
	gasLimit uint64
	baseFee  *big.Int

	calls       int
	txCalls     int
	codeBlocks  []string
	headerCalls []uint64
	nonceCalls  []uint64
}

func blockKey(n *big.Int) string {
	if n == nil {
		return "latest"
	}
	return n.String()
}

func (p *fakeProvider) ChainID(ctx context.Context) (*big.Int, error) {
	p.calls++
	return p.chainID, nil
}

func (p *fakeProvider) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	p.calls++
	if account != target {
		return nil, nil
	}
	key := blockKey(blockNumber)
	p.codeBlocks = append(p.codeBlocks, key)
	if code, ok := p.code[key]; ok {
		return code, nil
	}
	return p.code["latest"], nil
}

func (p *fakeProvider) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	p.calls++
	p.nonceCalls = append(p.nonceCalls, blockNumber.Uint64())
	return p.nonces[blockNumber.Uint64()], nil
}

func (p *fakeProvider) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	p.calls++
	p.headerCalls = append(p.headerCalls, number.Uint64())
	return &types.Header{
		Number:     new(big.Int).Set(number),
		Time:       1_700_000_000 + number.Uint64(),
		GasLimit:   p.gasLimit,
		BaseFee:    p.baseFee,
		Difficulty: new(big.Int),
	}, nil
}

func (p *fakeProvider) TransactionByHash(ctx context.Context, hash common.Hash) (*evm.Transaction, error) {
	p.calls++
	p.txCalls++
	if p.tx == nil || p.tx.Hash != hash {
		return nil, errors.New("transaction not found")
	}
	return p.tx, nil
}

func (p *fakeProvider) TransactionReceipt(ctx context.Context, hash common.Hash) (*evm.Receipt, error) {
	p.calls++
	p.txCalls++
	if p.receipt == nil || p.receipt.TxHash != hash {
		return nil, errors.New("receipt not found")
	}
	return p.receipt, nil
}

type fakeProvenance struct {
	creation    *explorer.CreationData
	creationErr error
	metadata    *explorer.SourceMetadata
	metadataErr error
}

func (p *fakeProvenance) ContractCreation(ctx context.Context, addr common.Address) (*explorer.CreationData, error) {
	return p.creation, p.creationErr
}

func (p *fakeProvenance) SourceMetadata(ctx context.Context, addr common.Address) (*explorer.SourceMetadata, error) {
	return p.metadata, p.metadataErr
}

type fakeArtifacts struct {
	artifact *chains.Artifact
	err      error
	settings []chains.CompilerSettings
}

func (a *fakeArtifacts) Artifact(ctx context.Context, id chains.ContractID, settings chains.CompilerSettings) (*chains.Artifact, error) {
	a.settings = append(a.settings, settings)
	return a.artifact, a.err
}

// fakeExecutor records what was executed. Deploys land at deployTo and calls
// return callOut.
type fakeExecutor struct {
	seeded   map[common.Address]uint64
	balances map[common.Address]*uint256.Int
	ensured  map[common.Address][]byte
	deploys  []evm.Message
	calls    []evm.Message
	deployTo common.Address
	callOut  []byte
	exitErr  error
	code     map[common.Address][]byte
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		seeded:   make(map[common.Address]uint64),
		balances: make(map[common.Address]*uint256.Int),
		ensured:  make(map[common.Address][]byte),
		code:     make(map[common.Address][]byte),
		deployTo: deployed,
	}
}

func (e *fakeExecutor) SeedAccount(addr common.Address, balance *uint256.Int, nonce uint64) {
	e.seeded[addr] = nonce
	e.balances[addr] = balance
}

func (e *fakeExecutor) EnsureCode(ctx context.Context, addr common.Address, code []byte) error {
	e.ensured[addr] = code
	return nil
}

func (e *fakeExecutor) Deploy(ctx context.Context, msg evm.Message) (*evm.DeployResult, error) {
	e.deploys = append(e.deploys, msg)
	return &evm.DeployResult{Address: e.deployTo, ExitErr: e.exitErr}, nil
}

func (e *fakeExecutor) Call(ctx context.Context, msg evm.Message) ([]byte, error) {
	e.calls = append(e.calls, msg)
	return e.callOut, nil
}

func (e *fakeExecutor) Code(addr common.Address) []byte {
	return e.code[addr]
}

type fakeForker struct {
	exec    *fakeExecutor
	configs []evm.ForkConfig
}

func (f *fakeForker) Fork(ctx context.Context, cfg evm.ForkConfig) (evm.Executor, error) {
	f.configs = append(f.configs, cfg)
	return f.exec, nil
}

type fakeRecorder struct {
	runs []*storage.Run
}

func (r *fakeRecorder) CreateRun(ctx context.Context, run *storage.Run) error {
	run.ID = "run-1"
	r.runs = append(r.runs, run)
	return nil
}

type fixture struct {
	provider   *fakeProvider
	provenance *fakeProvenance
	artifacts  *fakeArtifacts
	forker     *fakeForker
	recorder   *fakeRecorder
}

// newFixture describes a contract created by a plain CREATE transaction in
// block 100 whose explorer record is accurate.
func newFixture() *fixture {
	args := uintArg(7)
	exec := newFakeExecutor()
	exec.code[deployed] = runtimeCode

	to := (*common.Address)(nil)
	contract := target
	return &fixture{
		provider: &fakeProvider{
			chainID:  big.NewInt(1),
			code:     map[string][]byte{"latest": runtimeCode},
			nonces:   map[uint64]uint64{99: 5},
			gasLimit: 30_000_000,
			baseFee:  big.NewInt(7),
			tx: &evm.Transaction{
				Hash:        txHash,
				From:        sender,
				To:          to,
				Nonce:       3,
				Value:       new(big.Int),
				Gas:         1_000_000,
				GasPrice:    big.NewInt(10),
				Input:       concat(initCode, args),
				BlockNumber: big.NewInt(100),
			},
			receipt: &evm.Receipt{
				TxHash:          txHash,
				ContractAddress: &contract,
				BlockNumber:     big.NewInt(100),
				Status:          1,
			},
		},
		provenance: &fakeProvenance{
			creation: &explorer.CreationData{ContractAddress: target, Creator: sender, TxHash: txHash},
			metadata: &explorer.SourceMetadata{
				ContractName:         "Counter",
				CompilerVersion:      "0.8.20+commit.a1b2c3d4",
				OptimizationUsed:     true,
				Runs:                 200,
				ConstructorArguments: args,
				ABI:                  counterABI,
			},
		},
		artifacts: &fakeArtifacts{
			artifact: &chains.Artifact{
				Name:  "Counter",
				Chain: "evm",
				EVM: &chains.EVMArtifact{
					ABI:              counterABI,
					Bytecode:         hexutil.Encode(initCode),
					DeployedBytecode: hexutil.Encode(runtimeCode),
					Compiler: chains.EVMCompiler{
						Version:   "0.8.20+commit.a1b2c3d4",
						Optimizer: chains.OptimizerConfig{Enabled: true, Runs: 200},
					},
				},
			},
		},
		forker:   &fakeForker{exec: exec},
		recorder: &fakeRecorder{},
	}
}

func (f *fixture) service() *Service {
	return NewService(f.provider, f.provenance, f.artifacts, f.forker, WithRunRecorder(f.recorder))
}

func (f *fixture) request() Request {
	return Request{Address: target, Contract: chains.ContractID{Name: "Counter"}}
}

func kinds(results []Result) map[chains.BytecodeKind]chains.MatchType {
	out := make(map[chains.BytecodeKind]chains.MatchType)
	for _, r := range results {
		out[r.Kind] = r.Match
	}
	return out
}

func TestVerify_Create(t *testing.T) {
	f := newFixture()

	report, err := f.service().Verify(context.Background(), f.request())
	require.NoError(t, err)

	assert.Equal(t, []Result{
		{Kind: chains.KindCreation, Match: chains.MatchExact},
		{Kind: chains.KindRuntime, Match: chains.MatchExact},
	}, report.Results)
	assert.True(t, report.Verified())
	assert.Equal(t, CreationCreate, report.Creation)
	assert.Equal(t, uint64(100), report.Block)
	assert.Equal(t, uint64(1), report.ChainID)
	assert.Equal(t, ArgsExplorer, report.ArgsSource)
	assert.Equal(t, "run-1", report.RunID)

	// fork at the parent block with the header of the creation block
	require.Len(t, f.forker.configs, 1)
	cfg := f.forker.configs[0]
	assert.Equal(t, uint64(99), cfg.Block)
	assert.Equal(t, uint64(100), cfg.Env.Number)
	assert.Equal(t, uint64(1_700_000_100), cfg.Env.Time)
	assert.Equal(t, uint64(1), cfg.ChainID.Uint64())

	// nonce comes from the parent block, not from the transaction
	require.Len(t, f.forker.exec.deploys, 1)
	msg := f.forker.exec.deploys[0]
	assert.Equal(t, uint64(5), msg.Nonce)
	assert.Equal(t, sender, msg.From)
	assert.Equal(t, concat(initCode, uintArg(7)), msg.Input)

	assert.Contains(t, f.provider.codeBlocks, "100")
}

func TestVerify_Predeploy(t *testing.T) {
	for _, ignore := range []Ignore{IgnoreNone, IgnoreRuntime, IgnoreCreation} {
		t.Run("ignore="+string(ignore), func(t *testing.T) {
			f := newFixture()
			f.provenance.creation = nil
			f.provenance.creationErr = explorer.ErrCreationNotFound
			f.provenance.metadata.ConstructorArguments = nil

			req := f.request()
			req.Ignore = ignore
			report, err := f.service().Verify(context.Background(), req)
			require.NoError(t, err)

			assert.True(t, report.Predeploy())
			assert.Nil(t, report.CreationTx)
			assert.Equal(t, []Result{{Kind: chains.KindRuntime, Match: chains.MatchExact}}, report.Results)
			assert.Zero(t, f.provider.txCalls)

			require.Len(t, f.forker.configs, 1)
			assert.Equal(t, uint64(0), f.forker.configs[0].Block)

			exec := f.forker.exec
			assert.Equal(t, uint64(0), exec.seeded[genesisDeployer])
			assert.Equal(t, "100000000000000000000", exec.balances[genesisDeployer].Dec())
			require.Len(t, exec.deploys, 1)
			msg := exec.deploys[0]
			assert.Equal(t, genesisDeployer, msg.From)
			assert.Nil(t, msg.To)
			assert.Equal(t, uint64(30_000_000), msg.Gas)
			assert.Equal(t, int64(7), msg.GasPrice.Int64())
			assert.Equal(t, int64(7), msg.GasFeeCap.Int64())
			assert.Equal(t, initCode, msg.Input)

			assert.Equal(t, []string{"latest", "latest"}, f.provider.codeBlocks)
			require.Len(t, f.recorder.runs, 1)
			assert.True(t, f.recorder.runs[0].Predeploy)
		})
	}
}

func TestVerify_RederivesConstructorArgs(t *testing.T) {
	f := newFixture()
	f.provenance.metadata.ConstructorArguments = uintArg(8)

	report, err := f.service().Verify(context.Background(), f.request())
	require.NoError(t, err)

	assert.Equal(t, ArgsCreationInput, report.ArgsSource)
	assert.Equal(t, hexutil.Bytes(uintArg(7)), report.ConstructorArgs)
	assert.Equal(t, chains.MatchExact, kinds(report.Results)[chains.KindCreation])
	require.Len(t, f.forker.exec.deploys, 1)
	assert.Equal(t, concat(initCode, uintArg(7)), f.forker.exec.deploys[0].Input)
}

func TestVerify_ShortCreationInputKeepsExplorerArgs(t *testing.T) {
	f := newFixture()
	f.provenance.metadata.ConstructorArguments = uintArg(8)
	f.provider.tx.Input = initCode[:4]

	report, err := f.service().Verify(context.Background(), f.request())
	require.NoError(t, err)

	assert.Equal(t, ArgsExplorer, report.ArgsSource)
	assert.Equal(t, hexutil.Bytes(uintArg(8)), report.ConstructorArgs)
	assert.Equal(t, chains.MatchNone, kinds(report.Results)[chains.KindCreation])
	assert.Empty(t, f.forker.exec.deploys)
}

func TestVerify_ConstructorArgCountMismatch(t *testing.T) {
	f := newFixture()
	req := f.request()
	req.ConstructorArgs = []string{"1", "2"}

	_, err := f.service().Verify(context.Background(), req)
	require.ErrorIs(t, err, ErrConstructorArgsMismatch)
	assert.Empty(t, f.forker.configs)

	require.Len(t, f.recorder.runs, 1)
	assert.NotEmpty(t, f.recorder.runs[0].Error)
}

func TestVerify_UserConstructorArgs(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Request)
		source ArgsSource
	}{
		{
			name:   "typed",
			modify: func(r *Request) { r.ConstructorArgs = []string{"7"} },
			source: ArgsTyped,
		},
		{
			name:   "encoded",
			modify: func(r *Request) { r.EncodedConstructorArgs = uintArg(7) },
			source: ArgsEncoded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			// a wrong explorer record must not matter
			f.provenance.metadata.ConstructorArguments = uintArg(8)
			req := f.request()
			tt.modify(&req)

			report, err := f.service().Verify(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.source, report.ArgsSource)
			assert.True(t, report.Verified())
		})
	}
}

func TestVerify_CreationMismatchSkipsReplay(t *testing.T) {
	f := newFixture()
	f.artifacts.artifact.EVM.Bytecode = "0x6001600155"

	report, err := f.service().Verify(context.Background(), f.request())
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Equal(t, chains.KindCreation, report.Results[0].Kind)
	assert.Equal(t, chains.MatchNone, report.Results[0].Match)
	assert.Equal(t, chains.KindRuntime, report.Results[1].Kind)
	assert.Equal(t, chains.MatchNone, report.Results[1].Match)
	assert.False(t, report.Verified())

	assert.Empty(t, f.forker.configs)
	assert.Empty(t, f.forker.exec.deploys)
	assert.Empty(t, f.forker.exec.calls)
}

func TestVerify_Create2Deployer(t *testing.T) {
	metrics.Init(true, "codeproof")
	t.Cleanup(func() { metrics.Init(false, "") })

	f := newFixture()
	salt := bytes.Repeat([]byte{0x42}, 32)
	factory := evm.Create2DeployerAddress
	f.provider.tx.To = &factory
	f.provider.tx.Input = concat(salt, initCode, uintArg(7))
	f.provider.receipt.To = &factory
	f.provider.receipt.ContractAddress = nil
	f.forker.exec.callOut = deployed.Bytes()

	report, err := f.service().Verify(context.Background(), f.request())
	require.NoError(t, err)

	assert.Equal(t, CreationCreate2, report.Creation)
	assert.True(t, report.Verified())
	assert.Equal(t, evm.Create2DeployerRuntimeCode, f.forker.exec.ensured[factory])

	require.Len(t, f.forker.exec.calls, 1)
	msg := f.forker.exec.calls[0]
	assert.Equal(t, &factory, msg.To)
	assert.Equal(t, concat(salt, initCode, uintArg(7)), msg.Input)
	assert.Equal(t, uint64(5), msg.Nonce)
	assert.Empty(t, f.forker.exec.deploys)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rr.Body.String(), `verification_replay_duration_seconds_count{mode="create2-deployer",service="codeproof"} 1`)
}

func TestVerify_Create2UnexpectedResult(t *testing.T) {
	f := newFixture()
	factory := evm.Create2DeployerAddress
	f.provider.tx.To = &factory
	f.provider.tx.Input = concat(bytes.Repeat([]byte{0x01}, 32), initCode, uintArg(7))
	f.provider.receipt.To = &factory
	f.forker.exec.callOut = []byte{0x01}

	_, err := f.service().Verify(context.Background(), f.request())
	require.ErrorIs(t, err, ErrUnexpectedCallResult)
}

func TestVerify_Ignore(t *testing.T) {
	tests := []struct {
		ignore Ignore
		want   []chains.BytecodeKind
		forks  int
	}{
		{ignore: IgnoreCreation, want: []chains.BytecodeKind{chains.KindRuntime}, forks: 1},
		{ignore: IgnoreRuntime, want: []chains.BytecodeKind{chains.KindCreation}, forks: 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.ignore), func(t *testing.T) {
			f := newFixture()
			req := f.request()
			req.Ignore = tt.ignore

			report, err := f.service().Verify(context.Background(), req)
			require.NoError(t, err)

			var got []chains.BytecodeKind
			for _, r := range report.Results {
				got = append(got, r.Kind)
			}
			assert.Equal(t, tt.want, got)
			assert.Len(t, f.forker.configs, tt.forks)
		})
	}
}

func TestVerify_Block(t *testing.T) {
	tests := []struct {
		name      string
		block     string
		wantFork  uint64
		wantBlock string
	}{
		{name: "decimal", block: "120", wantFork: 119, wantBlock: "120"},
		{name: "hex", block: "0x78", wantFork: 119, wantBlock: "120"},
		{name: "creation block", block: "", wantFork: 99, wantBlock: "100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.provider.nonces[tt.wantFork] = 5
			req := f.request()
			req.Block = tt.block

			report, err := f.service().Verify(context.Background(), req)
			require.NoError(t, err)

			require.Len(t, f.forker.configs, 1)
			assert.Equal(t, tt.wantFork, f.forker.configs[0].Block)
			assert.Equal(t, []uint64{tt.wantFork}, f.provider.nonceCalls)
			assert.Contains(t, f.provider.codeBlocks, tt.wantBlock)
			assert.Equal(t, tt.wantFork+1, report.Block)
		})
	}
}

func TestVerify_InvalidBlock(t *testing.T) {
	for _, block := range []string{"latest", "pending", txHash.Hex(), "12abc"} {
		t.Run(block, func(t *testing.T) {
			f := newFixture()
			req := f.request()
			req.Block = block

			_, err := f.service().Verify(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidBlock)
			assert.Empty(t, f.forker.configs)
		})
	}

	t.Run("genesis", func(t *testing.T) {
		f := newFixture()
		req := f.request()
		req.Block = "0"

		_, err := f.service().Verify(context.Background(), req)
		require.ErrorIs(t, err, ErrInvalidBlock)
		assert.Empty(t, f.forker.configs)
	})
}

// The block only selects where the runtime code is replayed, so runs that
// never replay it do not parse it.
func TestVerify_BlockUnusedWithoutRuntimeCheck(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*fixture, *Request)
	}{
		{
			name:   "runtime ignored",
			modify: func(_ *fixture, r *Request) { r.Ignore = IgnoreRuntime },
		},
		{
			name: "predeploy",
			modify: func(f *fixture, _ *Request) {
				f.provenance.creation = nil
				f.provenance.creationErr = explorer.ErrCreationNotFound
				f.provenance.metadata.ConstructorArguments = nil
			},
		},
		{
			name: "creation mismatch",
			modify: func(f *fixture, _ *Request) {
				f.artifacts.artifact.EVM.Bytecode = "0x6001600155"
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			req := f.request()
			req.Block = "latest"
			tt.modify(f, &req)

			report, err := f.service().Verify(context.Background(), req)
			require.NoError(t, err)
			assert.NotEmpty(t, report.Results)
		})
	}
}

func TestVerify_Errors(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*fixture, *Request)
		wantErr error
	}{
		{
			name: "no bytecode",
			modify: func(f *fixture, _ *Request) {
				f.provider.code = map[string][]byte{}
			},
			wantErr: ErrNoBytecode,
		},
		{
			name: "contract name mismatch",
			modify: func(f *fixture, _ *Request) {
				f.provenance.metadata.ContractName = "Other"
			},
			wantErr: ErrContractNameMismatch,
		},
		{
			name: "unverified source",
			modify: func(f *fixture, _ *Request) {
				f.provenance.metadataErr = explorer.ErrSourceNotVerified
			},
			wantErr: explorer.ErrSourceNotVerified,
		},
		{
			name: "explorer failure is not a predeploy",
			modify: func(f *fixture, _ *Request) {
				f.provenance.creationErr = explorer.ErrRateLimited
			},
			wantErr: explorer.ErrRateLimited,
		},
		{
			name: "non-solc compiler",
			modify: func(f *fixture, _ *Request) {
				f.provenance.metadata.CompilerVersion = "vyper:0.3.10"
			},
			wantErr: ErrUnsupportedCompiler,
		},
		{
			name: "unlinked library",
			modify: func(f *fixture, _ *Request) {
				f.artifacts.artifact.EVM.Bytecode = "0x6080__$1234567890abcdef1234567890abcdef12$__6040"
			},
			wantErr: ErrUnlinkedBytecode,
		},
		{
			name: "factory creation",
			modify: func(f *fixture, _ *Request) {
				factory := common.HexToAddress("0x00000000000000000000000000000000000000ff")
				f.provider.tx.To = &factory
				f.provider.receipt.To = &factory
				f.provider.receipt.ContractAddress = nil
			},
			wantErr: ErrUnsupportedCreation,
		},
		{
			name: "replay deploys nothing",
			modify: func(f *fixture, _ *Request) {
				delete(f.forker.exec.code, deployed)
				f.forker.exec.exitErr = errors.New("execution reverted")
			},
			wantErr: ErrMissingDeployedCode,
		},
		{
			name: "invalid typed argument",
			modify: func(_ *fixture, r *Request) {
				r.ConstructorArgs = []string{"not-a-number"}
			},
			wantErr: ErrInvalidConstructorArgs,
		},
		{
			name: "both argument forms",
			modify: func(_ *fixture, r *Request) {
				r.ConstructorArgs = []string{"7"}
				r.EncodedConstructorArgs = uintArg(7)
			},
			wantErr: ErrInvalidRequest,
		},
		{
			name: "unknown ignore kind",
			modify: func(_ *fixture, r *Request) {
				r.Ignore = "metadata"
			},
			wantErr: ErrInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			req := f.request()
			tt.modify(f, &req)

			report, err := f.service().Verify(context.Background(), req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, report)
		})
	}
}

func TestVerify_RuntimeMismatchHint(t *testing.T) {
	f := newFixture()
	f.provider.code["100"] = []byte{0x60, 0x01}
	f.artifacts.artifact.EVM.Compiler.Optimizer.Runs = 1000

	report, err := f.service().Verify(context.Background(), f.request())
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	runtime := report.Results[1]
	assert.Equal(t, chains.MatchNone, runtime.Match)
	assert.Contains(t, runtime.Message, "optimizer runs 1000 (explorer 200)")
}

func TestVerify_ArtifactSettings(t *testing.T) {
	f := newFixture()
	f.provenance.metadata.EVMVersion = "Paris"
	f.provenance.metadata.ViaIR = true

	report, err := f.service().Verify(context.Background(), f.request())
	require.NoError(t, err)

	require.Len(t, f.artifacts.settings, 1)
	assert.Equal(t, chains.CompilerSettings{
		CompilerVersion: "0.8.20+commit.a1b2c3d4",
		Optimizer:       true,
		Runs:            200,
		EVMVersion:      "paris",
		ViaIR:           true,
	}, f.artifacts.settings[0])
	assert.Equal(t, "paris", report.EVMVersion)
	assert.Equal(t, "paris", f.forker.configs[0].EVMVersion)
}

func TestMismatchHint(t *testing.T) {
	artifact := newFixture().artifacts.artifact
	md := &explorer.SourceMetadata{CompilerVersion: "0.8.20+commit.a1b2c3d4", OptimizationUsed: true, Runs: 200}

	assert.Empty(t, mismatchHint(artifact, md))
	assert.Empty(t, mismatchHint(nil, md))

	other := *md
	other.CompilerVersion = "0.8.19+commit.7dd6d404"
	other.ViaIR = true
	assert.Equal(t, "local settings differ: compiler 0.8.20+commit.a1b2c3d4 (explorer 0.8.19+commit.7dd6d404), via-ir false (explorer true)",
		mismatchHint(artifact, &other))
}
