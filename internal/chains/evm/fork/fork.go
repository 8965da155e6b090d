// Package fork executes transactions on top of historical chain state read
// lazily from a JSON-RPC node.
package fork

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/pendergraft/codeproof/internal/chains/evm"
)

// maxAttempts bounds how often a message is re-executed while the set of
// accounts and slots it reads keeps growing.
const maxAttempts = 32

// ErrUnsettled is returned when execution kept discovering new state.
var ErrUnsettled = errors.New("fork state did not settle")

// Forker creates forks backed by a remote node.
type Forker struct {
	reader StateReader
	logger *slog.Logger
}

// NewForker creates a Forker reading state through reader.
func NewForker(reader StateReader, logger *slog.Logger) *Forker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forker{reader: reader, logger: logger}
}

// Fork pins a new fork to cfg.Block.
func (f *Forker) Fork(ctx context.Context, cfg evm.ForkConfig) (evm.Executor, error) {
	return New(f.reader, cfg, f.logger)
}

// Fork is a single-use execution environment. It is not safe for concurrent
// use.
type Fork struct {
	reader StateReader
	logger *slog.Logger
	cfg    evm.ForkConfig
	chain  *params.ChainConfig
	block  *big.Int

	accounts map[common.Address]*account
	hashes   map[uint64]common.Hash

	// post state of the last execution
	state *state.StateDB
}

// New creates a fork of the chain behind reader at cfg.Block.
func New(reader StateReader, cfg evm.ForkConfig, logger *slog.Logger) (*Fork, error) {
	chain, err := ChainConfig(cfg.EVMVersion, cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("building chain config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Env.Difficulty == nil {
		cfg.Env.Difficulty = new(big.Int)
	}
	if cfg.Env.BaseFee == nil {
		cfg.Env.BaseFee = new(big.Int)
	}
	return &Fork{
		reader:   reader,
		logger:   logger.With("fork_block", cfg.Block, "evm_version", cfg.EVMVersion),
		cfg:      cfg,
		chain:    chain,
		block:    new(big.Int).SetUint64(cfg.Block),
		accounts: make(map[common.Address]*account),
		hashes:   make(map[uint64]common.Hash),
	}, nil
}

// SeedAccount replaces the balance and nonce of addr. The account has no code
// unless EnsureCode installs some.
func (f *Fork) SeedAccount(addr common.Address, balance *uint256.Int, nonce uint64) {
	acct, ok := f.accounts[addr]
	if !ok {
		acct = &account{storage: make(map[common.Hash]common.Hash)}
		f.accounts[addr] = acct
	}
	acct.balance = new(uint256.Int).Set(balance)
	acct.nonce = nonce
	acct.code = nil
}

// EnsureCode installs code at addr unless the fork already has code there.
func (f *Fork) EnsureCode(ctx context.Context, addr common.Address, code []byte) error {
	acct, err := f.load(ctx, addr)
	if err != nil {
		return err
	}
	if len(acct.code) == 0 {
		f.logger.Debug("installing code", "address", addr, "size", len(code))
		acct.code = append([]byte(nil), code...)
	}
	return nil
}

// Deploy executes a contract creation and reports the created address.
func (f *Fork) Deploy(ctx context.Context, msg evm.Message) (*evm.DeployResult, error) {
	if msg.To != nil {
		return nil, fmt.Errorf("deploy called with recipient %s", msg.To)
	}
	res, err := f.apply(ctx, msg)
	if err != nil {
		return nil, err
	}
	return &evm.DeployResult{
		Address:    crypto.CreateAddress(msg.From, msg.Nonce),
		ReturnData: res.ReturnData,
		GasUsed:    res.UsedGas,
		ExitErr:    res.Err,
	}, nil
}

// Call executes a message call and returns its output. A reverted call is
// not an error; the revert data is returned as output.
func (f *Fork) Call(ctx context.Context, msg evm.Message) ([]byte, error) {
	if msg.To == nil {
		return nil, errors.New("call without recipient")
	}
	res, err := f.apply(ctx, msg)
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		f.logger.Debug("call failed", "to", msg.To, "err", res.Err)
	}
	return res.ReturnData, nil
}

// Code returns the code of addr after the last execution.
func (f *Fork) Code(addr common.Address) []byte {
	if f.state == nil {
		return nil
	}
	return f.state.GetCode(addr)
}

func (f *Fork) apply(ctx context.Context, msg evm.Message) (*core.ExecutionResult, error) {
	prefetch := []common.Address{msg.From, f.cfg.Env.Coinbase}
	if msg.To != nil {
		prefetch = append(prefetch, *msg.To)
	}
	for _, addr := range prefetch {
		if _, err := f.load(ctx, addr); err != nil {
			return nil, err
		}
	}
	f.fund(msg)

	coreMsg := toCoreMessage(msg)
	gasPool := f.cfg.Env.GasLimit
	if msg.Gas > gasPool {
		gasPool = msg.Gas
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sdb, err := f.baseState()
		if err != nil {
			return nil, err
		}
		rs := &remoteState{StateDB: sdb, ctx: ctx, fork: f}
		machine := vm.NewEVM(f.blockContext(rs), rs, f.chain, vm.Config{})

		res, err := core.ApplyMessage(machine, coreMsg, new(core.GasPool).AddGas(gasPool))
		if rs.err != nil {
			return nil, rs.err
		}
		if rs.misses > 0 {
			f.logger.Debug("execution read unseen state, re-executing", "attempt", attempt, "misses", rs.misses)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("executing message from %s: %w", msg.From, err)
		}
		f.state = sdb
		return res, nil
	}
	return nil, fmt.Errorf("%w after %d executions", ErrUnsettled, maxAttempts)
}

// fund tops up the sender so that the upfront gas cost can be bought. Other
// transactions of the replayed block are not executed, so the balance at the
// parent block may be short.
func (f *Fork) fund(msg evm.Message) {
	acct := f.accounts[msg.From]
	if acct == nil {
		return
	}
	need := new(big.Int).SetUint64(msg.Gas)
	if msg.GasFeeCap != nil {
		need.Mul(need, msg.GasFeeCap)
	} else if msg.GasPrice != nil {
		need.Mul(need, msg.GasPrice)
	}
	if msg.Value != nil {
		need.Add(need, msg.Value)
	}
	required, overflow := uint256.FromBig(need)
	if overflow {
		required = new(uint256.Int).SetAllOne()
	}
	if acct.balance.Lt(required) {
		f.logger.Debug("funding sender", "from", msg.From, "balance", acct.balance, "required", required)
		acct.balance = required
	}
}

// baseState builds a state holding everything known about the fork. The
// state is finalised so that seeded values count as committed.
func (f *Fork) baseState() (*state.StateDB, error) {
	sdb, err := state.New(types.EmptyRootHash, state.NewDatabaseForTesting())
	if err != nil {
		return nil, fmt.Errorf("creating state: %w", err)
	}
	for addr, acct := range f.accounts {
		install(sdb, addr, acct)
	}
	sdb.Finalise(true)
	return sdb, nil
}

func install(sdb *state.StateDB, addr common.Address, acct *account) {
	sdb.SetBalance(addr, acct.balance, tracing.BalanceChangeUnspecified)
	sdb.SetNonce(addr, acct.nonce, tracing.NonceChangeUnspecified)
	if len(acct.code) > 0 {
		sdb.SetCode(addr, acct.code, tracing.CodeChangeUnspecified)
	}
	for key, val := range acct.storage {
		sdb.SetState(addr, key, val)
	}
}

func (f *Fork) blockContext(rs *remoteState) vm.BlockContext {
	env := f.cfg.Env
	bctx := vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     f.hashFunc(rs),
		Coinbase:    env.Coinbase,
		GasLimit:    env.GasLimit,
		BlockNumber: new(big.Int).SetUint64(env.Number),
		Time:        env.Time,
		Difficulty:  new(big.Int).Set(env.Difficulty),
	}
	if hasBaseFee(f.cfg.EVMVersion) {
		bctx.BaseFee = new(big.Int).Set(env.BaseFee)
	}
	if postMerge(f.cfg.EVMVersion) {
		random := env.MixDigest
		bctx.Random = &random
	}
	if f.chain.IsCancun(bctx.BlockNumber, bctx.Time) {
		bctx.BlobBaseFee = blobBaseFee(f.cfg.EVMVersion, env.ExcessBlobGas)
	}
	return bctx
}

// hashFunc serves BLOCKHASH from the node. Failures surface through rs.
func (f *Fork) hashFunc(rs *remoteState) vm.GetHashFunc {
	return func(n uint64) common.Hash {
		if h, ok := f.hashes[n]; ok {
			return h
		}
		header, err := f.reader.HeaderByNumber(rs.ctx, new(big.Int).SetUint64(n))
		if err != nil {
			if rs.err == nil {
				rs.err = fmt.Errorf("fetching header %d: %w", n, err)
			}
			return common.Hash{}
		}
		h := header.Hash()
		f.hashes[n] = h
		return h
	}
}

func (f *Fork) known(addr common.Address) bool {
	_, ok := f.accounts[addr]
	return ok
}

func (f *Fork) knownSlot(addr common.Address, key common.Hash) bool {
	acct, ok := f.accounts[addr]
	if !ok {
		return false
	}
	_, ok = acct.storage[key]
	return ok
}

func (f *Fork) load(ctx context.Context, addr common.Address) (*account, error) {
	if acct, ok := f.accounts[addr]; ok {
		return acct, nil
	}
	return f.fetchAccount(ctx, addr)
}

func (f *Fork) fetchAccount(ctx context.Context, addr common.Address) (*account, error) {
	balance, err := f.reader.BalanceAt(ctx, addr, f.block)
	if err != nil {
		return nil, fmt.Errorf("fetching balance of %s at block %d: %w", addr, f.cfg.Block, err)
	}
	nonce, err := f.reader.NonceAt(ctx, addr, f.block)
	if err != nil {
		return nil, fmt.Errorf("fetching nonce of %s at block %d: %w", addr, f.cfg.Block, err)
	}
	code, err := f.reader.CodeAt(ctx, addr, f.block)
	if err != nil {
		return nil, fmt.Errorf("fetching code of %s at block %d: %w", addr, f.cfg.Block, err)
	}
	bal, overflow := uint256.FromBig(balance)
	if overflow {
		return nil, fmt.Errorf("balance of %s overflows 256 bits", addr)
	}
	acct := &account{
		balance: bal,
		nonce:   nonce,
		code:    code,
		storage: make(map[common.Hash]common.Hash),
	}
	f.accounts[addr] = acct
	return acct, nil
}

func (f *Fork) fetchSlot(ctx context.Context, addr common.Address, key common.Hash) (common.Hash, error) {
	raw, err := f.reader.StorageAt(ctx, addr, key, f.block)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetching slot %s of %s at block %d: %w", key, addr, f.cfg.Block, err)
	}
	val := common.BytesToHash(raw)
	f.accounts[addr].storage[key] = val
	return val, nil
}

func toCoreMessage(msg evm.Message) *core.Message {
	return &core.Message{
		From:       msg.From,
		To:         msg.To,
		Nonce:      msg.Nonce,
		Value:      orZero(msg.Value),
		GasLimit:   msg.Gas,
		GasPrice:   orZero(msg.GasPrice),
		GasFeeCap:  orZero(msg.GasFeeCap),
		GasTipCap:  orZero(msg.GasTipCap),
		Data:       msg.Input,
		AccessList: msg.AccessList,
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
