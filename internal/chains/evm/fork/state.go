package fork

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// StateReader reads historical chain state. *ethclient.Client satisfies it.
type StateReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// account is an account as read from the remote node.
type account struct {
	balance *uint256.Int
	nonce   uint64
	code    []byte
	storage map[common.Hash]common.Hash
}

// remoteState is the vm.StateDB handed to the EVM. Reads of accounts and
// slots the fork has not seen yet are fetched from the node, recorded on the
// fork and counted as misses. A run with misses saw partially seeded state
// and has to be repeated.
type remoteState struct {
	*state.StateDB

	ctx    context.Context
	fork   *Fork
	misses int
	err    error
}

func (s *remoteState) touch(addr common.Address) {
	if s.err != nil || s.fork.known(addr) {
		return
	}
	acct, err := s.fork.fetchAccount(s.ctx, addr)
	if err != nil {
		s.err = err
		return
	}
	s.misses++
	install(s.StateDB, addr, acct)
}

func (s *remoteState) touchSlot(addr common.Address, key common.Hash) {
	s.touch(addr)
	if s.err != nil || s.fork.knownSlot(addr, key) {
		return
	}
	val, err := s.fork.fetchSlot(s.ctx, addr, key)
	if err != nil {
		s.err = err
		return
	}
	s.misses++
	s.StateDB.SetState(addr, key, val)
}

func (s *remoteState) GetBalance(addr common.Address) *uint256.Int {
	s.touch(addr)
	return s.StateDB.GetBalance(addr)
}

func (s *remoteState) GetNonce(addr common.Address) uint64 {
	s.touch(addr)
	return s.StateDB.GetNonce(addr)
}

func (s *remoteState) GetCode(addr common.Address) []byte {
	s.touch(addr)
	return s.StateDB.GetCode(addr)
}

func (s *remoteState) GetCodeHash(addr common.Address) common.Hash {
	s.touch(addr)
	return s.StateDB.GetCodeHash(addr)
}

func (s *remoteState) GetCodeSize(addr common.Address) int {
	s.touch(addr)
	return s.StateDB.GetCodeSize(addr)
}

func (s *remoteState) Exist(addr common.Address) bool {
	s.touch(addr)
	return s.StateDB.Exist(addr)
}

func (s *remoteState) Empty(addr common.Address) bool {
	s.touch(addr)
	return s.StateDB.Empty(addr)
}

func (s *remoteState) GetState(addr common.Address, key common.Hash) common.Hash {
	s.touchSlot(addr, key)
	return s.StateDB.GetState(addr, key)
}

// GetStateAndCommittedState backs SSTORE gas and refund accounting.
func (s *remoteState) GetStateAndCommittedState(addr common.Address, key common.Hash) (common.Hash, common.Hash) {
	s.touchSlot(addr, key)
	return s.StateDB.GetStateAndCommittedState(addr, key)
}

func (s *remoteState) GetStorageRoot(addr common.Address) common.Hash {
	s.touch(addr)
	return s.StateDB.GetStorageRoot(addr)
}
