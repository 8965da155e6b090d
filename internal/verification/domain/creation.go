package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/codeproof/internal/chains/evm"
	"github.com/pendergraft/codeproof/internal/explorer"
)

// CreationContext is how a contract came to exist.
type CreationContext struct {
	Kind CreationKind
	// Data, Tx and Receipt are nil for predeploys.
	Data    *explorer.CreationData
	Tx      *evm.Transaction
	Receipt *evm.Receipt
	// Input is the creation code including constructor arguments as sent on
	// chain. For the deterministic deployer the salt is not part of it.
	Input []byte
	// Salt is the deterministic deployer salt.
	Salt []byte
}

// creationResolver finds the creation transaction of a contract.
type creationResolver struct {
	provenance Provenance
	provider   Provider
}

// Resolve classifies how addr was created. A missing creation record makes
// the contract a predeploy; every other provenance failure is returned.
func (c *creationResolver) Resolve(ctx context.Context, addr common.Address) (*CreationContext, error) {
	data, err := c.provenance.ContractCreation(ctx, addr)
	if errors.Is(err, explorer.ErrCreationNotFound) {
		return &CreationContext{Kind: CreationPredeploy}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting creation data of %s: %w", addr, err)
	}

	tx, err := c.provider.TransactionByHash(ctx, data.TxHash)
	if err != nil {
		return nil, fmt.Errorf("fetching creation transaction %s: %w", data.TxHash.Hex(), err)
	}
	receipt, err := c.provider.TransactionReceipt(ctx, data.TxHash)
	if err != nil {
		return nil, fmt.Errorf("fetching receipt of %s: %w", data.TxHash.Hex(), err)
	}

	cc := &CreationContext{Data: data, Tx: tx, Receipt: receipt}
	switch {
	case receipt.To == nil && receipt.ContractAddress != nil && *receipt.ContractAddress == addr:
		cc.Kind = CreationCreate
		cc.Input = tx.Input
	case receipt.To != nil && *receipt.To == evm.Create2DeployerAddress:
		if len(tx.Input) < evm.SaltLength {
			return nil, fmt.Errorf("%w: deterministic deployer call %s has no salt", ErrUnsupportedCreation, data.TxHash.Hex())
		}
		cc.Kind = CreationCreate2
		cc.Salt = tx.Input[:evm.SaltLength]
		cc.Input = tx.Input[evm.SaltLength:]
	default:
		return nil, fmt.Errorf("%w: could not extract the creation code of %s from %s", ErrUnsupportedCreation, addr, data.TxHash.Hex())
	}
	return cc, nil
}
