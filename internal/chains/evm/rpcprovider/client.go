// Package rpcprovider reads chain data from an Ethereum JSON-RPC node.
package rpcprovider

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/pendergraft/codeproof/internal/chains/evm"
)

// ErrNotFound is returned when the node has no such transaction or block.
var ErrNotFound = ethereum.NotFound

// Client is a JSON-RPC backed chain reader.
type Client struct {
	rpc *rpc.Client
	eth *ethclient.Client
}

// Dial connects to the node at url.
func Dial(ctx context.Context, url string) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return NewClient(c), nil
}

// NewClient wraps an existing RPC connection.
func NewClient(c *rpc.Client) *Client {
	return &Client{rpc: c, eth: ethclient.NewClient(c)}
}

// Close closes the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// ChainID returns the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching chain id: %w", err)
	}
	return id, nil
}

// CodeAt returns the code of account at blockNumber. A nil blockNumber reads
// the latest block.
func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CodeAt(ctx, account, blockNumber)
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, account, blockNumber)
}

func (c *Client) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return c.eth.NonceAt(ctx, account, blockNumber)
}

func (c *Client) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	return c.eth.StorageAt(ctx, account, key, blockNumber)
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.eth.HeaderByNumber(ctx, number)
}

type rpcTransaction struct {
	Hash                 common.Hash      `json:"hash"`
	From                 common.Address   `json:"from"`
	To                   *common.Address  `json:"to"`
	Nonce                hexutil.Uint64   `json:"nonce"`
	Value                *hexutil.Big     `json:"value"`
	Gas                  hexutil.Uint64   `json:"gas"`
	GasPrice             *hexutil.Big     `json:"gasPrice"`
	MaxFeePerGas         *hexutil.Big     `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big     `json:"maxPriorityFeePerGas"`
	Input                hexutil.Bytes    `json:"input"`
	AccessList           types.AccessList `json:"accessList"`
	BlockNumber          *hexutil.Big     `json:"blockNumber"`
}

// TransactionByHash returns the transaction with the given hash. The sender
// is taken from the node's response rather than recovered from the
// signature.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*evm.Transaction, error) {
	var raw *rpcTransaction
	if err := c.rpc.CallContext(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		return nil, fmt.Errorf("fetching transaction %s: %w", hash, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("transaction %s: %w", hash, ErrNotFound)
	}
	return &evm.Transaction{
		Hash:        raw.Hash,
		From:        raw.From,
		To:          raw.To,
		Nonce:       uint64(raw.Nonce),
		Value:       toBig(raw.Value),
		Gas:         uint64(raw.Gas),
		GasPrice:    toBig(raw.GasPrice),
		GasFeeCap:   (*big.Int)(raw.MaxFeePerGas),
		GasTipCap:   (*big.Int)(raw.MaxPriorityFeePerGas),
		Input:       raw.Input,
		AccessList:  raw.AccessList,
		BlockNumber: (*big.Int)(raw.BlockNumber),
	}, nil
}

type rpcReceipt struct {
	TransactionHash common.Hash     `json:"transactionHash"`
	To              *common.Address `json:"to"`
	ContractAddress *common.Address `json:"contractAddress"`
	BlockNumber     *hexutil.Big    `json:"blockNumber"`
	Status          hexutil.Uint64  `json:"status"`
}

// TransactionReceipt returns the receipt of a mined transaction.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*evm.Receipt, error) {
	var raw *rpcReceipt
	if err := c.rpc.CallContext(ctx, &raw, "eth_getTransactionReceipt", hash); err != nil {
		return nil, fmt.Errorf("fetching receipt %s: %w", hash, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("receipt %s: %w", hash, ErrNotFound)
	}
	return &evm.Receipt{
		TxHash:          raw.TransactionHash,
		To:              raw.To,
		ContractAddress: raw.ContractAddress,
		BlockNumber:     (*big.Int)(raw.BlockNumber),
		Status:          uint64(raw.Status),
	}, nil
}

func toBig(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return (*big.Int)(v)
}
