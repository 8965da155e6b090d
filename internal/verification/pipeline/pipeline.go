// Package pipeline wires the verification service to a JSON-RPC node, a
// block explorer and a Foundry project.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pendergraft/codeproof/internal/artifacts"
	"github.com/pendergraft/codeproof/internal/chains/evm/fork"
	"github.com/pendergraft/codeproof/internal/chains/evm/foundry"
	"github.com/pendergraft/codeproof/internal/chains/evm/rpcprovider"
	"github.com/pendergraft/codeproof/internal/explorer"
	"github.com/pendergraft/codeproof/internal/verification/domain"
)

// Options configures a Pipeline.
type Options struct {
	RPCURL      string
	ExplorerURL string
	ExplorerKey string
	// ExplorerRPS limits explorer requests per second; zero disables limiting.
	ExplorerRPS float64

	// Root is the Foundry project holding the artifacts.
	Root  string
	Forge string
	// OutDir is the forge output directory, "out" when empty.
	OutDir string
	// Build runs forge when no artifact with the explorer's settings exists.
	Build bool

	DefaultEVMVersion string
	Cache             artifacts.Cache
	Recorder          domain.RunRecorder
	Logger            *slog.Logger
}

// Pipeline is a verification service bound to one chain.
type Pipeline struct {
	*domain.Service

	ChainID  uint64
	provider *rpcprovider.Client
}

// New connects to the node and builds the service.
func New(ctx context.Context, opts Options) (*Pipeline, error) {
	if opts.RPCURL == "" {
		return nil, errors.New("an RPC URL is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	provider, err := rpcprovider.Dial(ctx, opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", opts.RPCURL, err)
	}
	chainID, err := provider.ChainID(ctx)
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("fetching chain id: %w", err)
	}

	provenance := explorer.New(opts.ExplorerURL, opts.ExplorerKey,
		explorer.WithChainID(chainID.Uint64()),
		explorer.WithRateLimit(opts.ExplorerRPS),
	)

	builderOpts := []foundry.Option{foundry.WithLogger(logger)}
	if opts.Forge != "" {
		builderOpts = append(builderOpts, foundry.WithForge(opts.Forge))
	}
	if opts.OutDir != "" {
		builderOpts = append(builderOpts, foundry.WithOutDir(opts.OutDir))
	}
	sourceOpts := []artifacts.Option{
		artifacts.WithBuild(opts.Build),
		artifacts.WithLogger(logger),
	}
	if opts.Cache != nil {
		sourceOpts = append(sourceOpts, artifacts.WithCache(opts.Cache))
	}
	root := opts.Root
	if root == "" {
		root = "."
	}
	source := artifacts.New(foundry.New(builderOpts...), root, sourceOpts...)

	svcOpts := []domain.Option{domain.WithLogger(logger)}
	if opts.DefaultEVMVersion != "" {
		svcOpts = append(svcOpts, domain.WithDefaultEVMVersion(opts.DefaultEVMVersion))
	}
	if opts.Recorder != nil {
		svcOpts = append(svcOpts, domain.WithRunRecorder(opts.Recorder))
	}

	return &Pipeline{
		Service:  domain.NewService(provider, provenance, source, fork.NewForker(provider, logger), svcOpts...),
		ChainID:  chainID.Uint64(),
		provider: provider,
	}, nil
}

// Close releases the node connection.
func (p *Pipeline) Close() {
	p.provider.Close()
}
