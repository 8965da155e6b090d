// Package foundry provides the Foundry builder for EVM contracts.
package foundry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pendergraft/codeproof/internal/chains"
)

var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrAmbiguousName    = errors.New("contract name is ambiguous")
	ErrNoBytecode       = errors.New("contract has no bytecode (likely an interface)")
)

// Builder implements chains.Builder for Foundry projects
type Builder struct {
	forge  string
	outDir string
	logger *slog.Logger
}

// Option configures a Builder
type Option func(*Builder)

// WithForge sets the forge binary to run.
func WithForge(path string) Option {
	return func(b *Builder) {
		b.forge = path
	}
}

// WithOutDir sets the artifacts directory, relative to the project root.
func WithOutDir(dir string) Option {
	return func(b *Builder) {
		b.outDir = dir
	}
}

// WithLogger sets the logger used for build output.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = l
	}
}

// New creates a new Foundry builder
func New(opts ...Option) *Builder {
	b := &Builder{
		forge:  "forge",
		outDir: "out",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// DisplayName returns a human-readable name
func (b *Builder) DisplayName() string {
	return "Foundry"
}

// ConfigFile returns the config file name
func (b *Builder) ConfigFile() string {
	return "foundry.toml"
}

// Detect checks if a directory is a Foundry project
func (b *Builder) Detect(dir string) (bool, error) {
	configPath := filepath.Join(dir, b.ConfigFile())
	_, err := os.Stat(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Find returns the artifact path of a contract in a Foundry project. When the
// identifier carries no source path, the name must be unique in the project.
func (b *Builder) Find(dir string, id chains.ContractID) (string, error) {
	outDir := filepath.Join(dir, b.outDir)

	if _, err := os.Stat(outDir); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s does not exist", ErrArtifactNotFound, outDir)
	}

	var matches []string

	// Walk the out directory
	err := filepath.Walk(outDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if info.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}

		// Artifacts live at out/{Source}.sol/{Contract}.json
		if info.Name() != id.Name+".json" || !strings.HasSuffix(filepath.Dir(path), ".sol") {
			return nil
		}

		if id.Path != "" {
			sourcePath, err := b.getArtifactSourcePath(path)
			if err != nil || filepath.ToSlash(sourcePath) != filepath.ToSlash(id.Path) {
				return nil
			}
		}

		matches = append(matches, path)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking %s: %w", outDir, err)
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %d artifacts, use path:Name", ErrAmbiguousName, id, len(matches))
	}
}

// getArtifactSourcePath reads an artifact and returns its source path
func (b *Builder) getArtifactSourcePath(artifactPath string) (string, error) {
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return "", err
	}

	var raw FoundryArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}

	// Parse metadata to get source path
	if raw.RawMetadata == "" {
		return "", fmt.Errorf("no metadata")
	}

	var metadata FoundryMetadata
	if err := json.Unmarshal([]byte(raw.RawMetadata), &metadata); err != nil {
		return "", err
	}

	return getFirstKey(metadata.Settings.CompilationTarget), nil
}

// Parse parses a Foundry artifact file
func (b *Builder) Parse(artifactPath string) (*chains.Artifact, error) {
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}

	var raw FoundryArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing artifact JSON: %w", err)
	}

	if raw.Bytecode.Object == "" || raw.Bytecode.Object == "0x" {
		return nil, ErrNoBytecode
	}

	var metadata FoundryMetadata
	if raw.RawMetadata != "" {
		_ = json.Unmarshal([]byte(raw.RawMetadata), &metadata) // Non-fatal, continue without metadata
	}

	contractName := strings.TrimSuffix(filepath.Base(artifactPath), ".json")

	artifact := &chains.Artifact{
		Name:  contractName,
		Chain: "evm",
		EVM: &chains.EVMArtifact{
			SourcePath:       getFirstKey(metadata.Settings.CompilationTarget),
			ABI:              raw.ABI,
			Bytecode:         raw.Bytecode.Object,
			DeployedBytecode: raw.DeployedBytecode.Object,
			Compiler: chains.EVMCompiler{
				Version:    metadata.Compiler.Version,
				EVMVersion: metadata.Settings.EVMVersion,
				ViaIR:      metadata.Settings.ViaIR,
				Optimizer: chains.OptimizerConfig{
					Enabled: metadata.Settings.Optimizer.Enabled,
					Runs:    metadata.Settings.Optimizer.Runs,
				},
			},
		},
	}

	return artifact, nil
}

// Build compiles the project at dir with forge using the given settings.
// Zero valued settings fall back to the project's foundry.toml.
func (b *Builder) Build(ctx context.Context, dir string, settings chains.CompilerSettings) error {
	args := BuildArgs(dir, b.outDir, settings)
	b.logger.Info("running forge build", "dir", dir, "args", strings.Join(args, " "))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.forge, args...)
	cmd.Dir = dir
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(string(out))
		}
		return fmt.Errorf("forge build failed: %w: %s", err, msg)
	}
	b.logger.Debug("forge build finished", "output", strings.TrimSpace(string(out)))
	return nil
}

// BuildArgs returns the forge arguments that compile dir with settings.
func BuildArgs(dir, outDir string, settings chains.CompilerSettings) []string {
	args := []string{"build", "--root", dir, "--out", outDir}
	if v := settings.CompilerVersion; v != "" {
		// forge resolves bare versions; commit suffixes are not accepted
		if i := strings.IndexByte(v, '+'); i >= 0 {
			v = v[:i]
		}
		args = append(args, "--use", v)
	}
	if settings.Optimizer {
		args = append(args, "--optimize", "--optimizer-runs", strconv.Itoa(settings.Runs))
	}
	if settings.EVMVersion != "" {
		args = append(args, "--evm-version", settings.EVMVersion)
	}
	if settings.ViaIR {
		args = append(args, "--via-ir")
	}
	return args
}

// FoundryArtifact represents the structure of a Foundry artifact JSON file
type FoundryArtifact struct {
	ABI              json.RawMessage `json:"abi"`
	Bytecode         BytecodeObject  `json:"bytecode"`
	DeployedBytecode BytecodeObject  `json:"deployedBytecode"`
	RawMetadata      string          `json:"rawMetadata"`
}

// BytecodeObject represents bytecode in a Foundry artifact
type BytecodeObject struct {
	Object string `json:"object"`
}

// FoundryMetadata represents the parsed rawMetadata field
type FoundryMetadata struct {
	Compiler CompilerMeta `json:"compiler"`
	Language string       `json:"language"`
	Settings SettingsMeta `json:"settings"`
}

// CompilerMeta contains compiler information
type CompilerMeta struct {
	Version string `json:"version"`
}

// SettingsMeta contains compiler settings
type SettingsMeta struct {
	CompilationTarget map[string]string `json:"compilationTarget"`
	EVMVersion        string            `json:"evmVersion"`
	Optimizer         OptimizerMeta     `json:"optimizer"`
	ViaIR             bool              `json:"viaIR"`
}

// OptimizerMeta contains optimizer settings
type OptimizerMeta struct {
	Enabled bool `json:"enabled"`
	Runs    int  `json:"runs"`
}

// getFirstKey returns the first key from a map
func getFirstKey(m map[string]string) string {
	for k := range m {
		return k
	}
	return ""
}
