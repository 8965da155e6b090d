package domain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/pendergraft/codeproof/internal/chains/evm"
)

// ForkRequest selects the block a replay runs in.
type ForkRequest struct {
	// Genesis replays at block 0 on top of the genesis state.
	Genesis bool
	// Block is the replayed block. The fork holds the state after Block-1.
	Block      uint64
	EVMVersion string
	// Sender is the account whose nonce is read at Block-1.
	Sender common.Address
}

// ReplayEnvironment is the execution context of one replay.
type ReplayEnvironment struct {
	ForkBlock   uint64
	EVMVersion  string
	Env         evm.BlockEnv
	SenderNonce uint64
}

// envBuilder reconstructs the context of a historical block.
type envBuilder struct {
	provider Provider
	forker   evm.Forker
	chainID  *big.Int
}

// Build forks the chain for req and copies the header of the replayed block
// into the environment, so opcodes reading block context observe the
// historical values.
func (b *envBuilder) Build(ctx context.Context, req ForkRequest) (*ReplayEnvironment, evm.Executor, error) {
	block := req.Block
	if req.Genesis {
		block = 0
	} else if block == 0 {
		return nil, nil, fmt.Errorf("%w: cannot replay the genesis block", ErrInvalidBlock)
	}

	number := new(big.Int).SetUint64(block)
	header, err := b.provider.HeaderByNumber(ctx, number)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching block %d: %w", block, err)
	}

	env := &ReplayEnvironment{
		EVMVersion: req.EVMVersion,
		Env:        evm.BlockEnvFromHeader(header),
	}
	if !req.Genesis {
		env.ForkBlock = block - 1
		// The other transactions of the block are not replayed, so the
		// sender's nonce is taken from the parent block.
		nonce, err := b.provider.NonceAt(ctx, req.Sender, new(big.Int).SetUint64(env.ForkBlock))
		if err != nil {
			return nil, nil, fmt.Errorf("fetching nonce of %s at block %d: %w", req.Sender, env.ForkBlock, err)
		}
		env.SenderNonce = nonce
	}

	exec, err := b.forker.Fork(ctx, evm.ForkConfig{
		ChainID:    b.chainID,
		Block:      env.ForkBlock,
		EVMVersion: req.EVMVersion,
		Env:        env.Env,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("forking at block %d: %w", env.ForkBlock, err)
	}
	return env, exec, nil
}

// genesisDeployer is the synthetic account predeploys are deployed from.
var genesisDeployer = common.BytesToAddress([]byte{0x01})

// genesisBalance is the balance the genesis deployer is seeded with.
var genesisBalance = new(uint256.Int).Mul(uint256.NewInt(100), uint256.NewInt(params.Ether))

// ReplayGenesis deploys payload from a funded synthetic account and returns
// the runtime code it produced.
func ReplayGenesis(ctx context.Context, exec evm.Executor, env *ReplayEnvironment, payload []byte) ([]byte, error) {
	exec.SeedAccount(genesisDeployer, genesisBalance, 0)

	fee := new(big.Int)
	if env.Env.BaseFee != nil {
		fee.Set(env.Env.BaseFee)
	}
	res, err := exec.Deploy(ctx, evm.Message{
		From:      genesisDeployer,
		Nonce:     0,
		Value:     new(big.Int),
		Gas:       env.Env.GasLimit,
		GasPrice:  fee,
		GasFeeCap: fee,
		GasTipCap: fee,
		Input:     payload,
	})
	if err != nil {
		return nil, fmt.Errorf("deploying at genesis: %w", err)
	}
	return deployedCode(exec, res.Address, res.ExitErr)
}

// ReplayCreation re-executes the creation transaction tx with payload in
// place of the original creation code and returns the runtime code it
// produced. Calls to the deterministic deployer keep their original salt.
func ReplayCreation(ctx context.Context, exec evm.Executor, env *ReplayEnvironment, tx *evm.Transaction, payload []byte) ([]byte, error) {
	msg := evm.MessageFromTransaction(tx)
	msg.Nonce = env.SenderNonce

	if tx.To == nil {
		msg.Input = payload
		res, err := exec.Deploy(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("replaying %s at block %d: %w", tx.Hash.Hex(), env.Env.Number, err)
		}
		return deployedCode(exec, res.Address, res.ExitErr)
	}

	if *tx.To != evm.Create2DeployerAddress {
		return nil, fmt.Errorf("%w: %s calls %s, which is not the deterministic deployer", ErrUnsupportedCreation, tx.Hash.Hex(), tx.To)
	}
	if len(tx.Input) < evm.SaltLength {
		return nil, fmt.Errorf("%w: deterministic deployer call %s has no salt", ErrUnsupportedCreation, tx.Hash.Hex())
	}
	input := make([]byte, 0, evm.SaltLength+len(payload))
	input = append(input, tx.Input[:evm.SaltLength]...)
	msg.Input = append(input, payload...)

	if err := exec.EnsureCode(ctx, evm.Create2DeployerAddress, evm.Create2DeployerRuntimeCode); err != nil {
		return nil, fmt.Errorf("installing deterministic deployer: %w", err)
	}
	out, err := exec.Call(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("replaying %s at block %d: %w", tx.Hash.Hex(), env.Env.Number, err)
	}
	if len(out) != common.AddressLength {
		return nil, fmt.Errorf("%w: deployer returned %d bytes at block %d", ErrUnexpectedCallResult, len(out), env.Env.Number)
	}
	return deployedCode(exec, common.BytesToAddress(out), nil)
}

func deployedCode(exec evm.Executor, addr common.Address, exitErr error) ([]byte, error) {
	code := exec.Code(addr)
	if len(code) > 0 {
		return code, nil
	}
	if exitErr != nil {
		return nil, fmt.Errorf("%w: deployment of %s failed: %v", ErrMissingDeployedCode, addr, exitErr)
	}
	return nil, fmt.Errorf("%w: no code at %s after deployment", ErrMissingDeployedCode, addr)
}
