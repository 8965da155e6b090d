package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Transaction is the subset of a mined transaction needed to replay it.
type Transaction struct {
	Hash        common.Hash
	From        common.Address
	To          *common.Address // nil for contract creation
	Nonce       uint64
	Value       *big.Int
	Gas         uint64
	GasPrice    *big.Int
	GasFeeCap   *big.Int // nil for legacy transactions
	GasTipCap   *big.Int
	Input       []byte
	AccessList  types.AccessList // nil for legacy transactions
	BlockNumber *big.Int         // nil while pending
}

// Receipt is the subset of a transaction receipt used to classify a creation.
type Receipt struct {
	TxHash          common.Hash
	To              *common.Address
	ContractAddress *common.Address
	BlockNumber     *big.Int
	Status          uint64
}

// BlockEnv is the block context a replay observes through opcodes such as
// TIMESTAMP, COINBASE, PREVRANDAO and BASEFEE.
type BlockEnv struct {
	Number        uint64
	Time          uint64
	Coinbase      common.Address
	Difficulty    *big.Int
	MixDigest     common.Hash
	BaseFee       *big.Int
	GasLimit      uint64
	ExcessBlobGas *uint64
}

// BlockEnvFromHeader copies the execution relevant fields of a header.
func BlockEnvFromHeader(h *types.Header) BlockEnv {
	env := BlockEnv{
		Number:        h.Number.Uint64(),
		Time:          h.Time,
		Coinbase:      h.Coinbase,
		Difficulty:    new(big.Int),
		MixDigest:     h.MixDigest,
		BaseFee:       new(big.Int),
		GasLimit:      h.GasLimit,
		ExcessBlobGas: h.ExcessBlobGas,
	}
	if h.Difficulty != nil {
		env.Difficulty.Set(h.Difficulty)
	}
	if h.BaseFee != nil {
		env.BaseFee.Set(h.BaseFee)
	}
	return env
}

// Message is a transaction to execute on a fork.
type Message struct {
	From       common.Address
	To         *common.Address
	Nonce      uint64
	Value      *big.Int
	Gas        uint64
	GasPrice   *big.Int
	GasFeeCap  *big.Int
	GasTipCap  *big.Int
	Input      []byte
	AccessList types.AccessList
}

// MessageFromTransaction copies tx into a Message that can be modified
// without touching tx.
func MessageFromTransaction(tx *Transaction) Message {
	msg := Message{
		From:      tx.From,
		To:        tx.To,
		Nonce:     tx.Nonce,
		Value:     tx.Value,
		Gas:       tx.Gas,
		GasPrice:  tx.GasPrice,
		GasFeeCap: tx.GasFeeCap,
		GasTipCap: tx.GasTipCap,
		Input:     append([]byte(nil), tx.Input...),
	}
	if tx.AccessList != nil {
		msg.AccessList = append(types.AccessList(nil), tx.AccessList...)
	}
	if msg.GasFeeCap == nil {
		msg.GasFeeCap = msg.GasPrice
	}
	if msg.GasTipCap == nil {
		msg.GasTipCap = msg.GasPrice
	}
	return msg
}

// DeployResult is the outcome of a contract creation on a fork.
type DeployResult struct {
	Address    common.Address
	ReturnData []byte
	GasUsed    uint64
	// ExitErr is the EVM level failure (revert, out of gas, ...), if any.
	// The creation was still included, so it is not returned as an error.
	ExitErr error
}

// ForkConfig pins a fork to a block and a rule set.
type ForkConfig struct {
	ChainID    *big.Int
	Block      uint64 // state is read as of this block
	EVMVersion string
	Env        BlockEnv
}

// Executor runs messages against the state of a fork. Each Deploy or Call
// starts from the fork state plus any seeded accounts; the post state of the
// last execution is what Code reads.
type Executor interface {
	SeedAccount(addr common.Address, balance *uint256.Int, nonce uint64)
	EnsureCode(ctx context.Context, addr common.Address, code []byte) error
	Deploy(ctx context.Context, msg Message) (*DeployResult, error)
	Call(ctx context.Context, msg Message) ([]byte, error)
	Code(addr common.Address) []byte
}

// Forker creates executors pinned to a historical block.
type Forker interface {
	Fork(ctx context.Context, cfg ForkConfig) (Executor, error)
}
