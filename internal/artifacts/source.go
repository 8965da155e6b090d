// Package artifacts provides compiled contract artifacts to the verification
// pipeline. Artifacts are looked up in the project's build output, then in a
// warm cache keyed by the compiler settings an explorer reports, and are
// built on demand.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pendergraft/codeproof/internal/chains"
	"github.com/pendergraft/codeproof/internal/observability/metrics"
	"github.com/pendergraft/codeproof/internal/storage"
)

// Cache stores serialized artifacts. storage.Store satisfies it.
type Cache interface {
	GetCachedArtifact(ctx context.Context, key string) ([]byte, error)
	PutCachedArtifact(ctx context.Context, key string, content []byte) error
}

// Source resolves contract identifiers to artifacts of one project.
type Source struct {
	builder chains.Builder
	cache   Cache
	root    string
	build   bool
	logger  *slog.Logger
}

// Option configures a Source
type Option func(*Source)

// WithCache enables the warm artifact cache.
func WithCache(c Cache) Option {
	return func(s *Source) {
		s.cache = c
	}
}

// WithBuild controls whether the project is compiled when no matching
// artifact exists. It is enabled by default.
func WithBuild(enabled bool) Option {
	return func(s *Source) {
		s.build = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) {
		s.logger = l
	}
}

// New creates a Source for the project at root.
func New(builder chains.Builder, root string, opts ...Option) *Source {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	s := &Source{
		builder: builder,
		root:    root,
		build:   true,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Artifact returns the artifact of id compiled with settings. Build output
// compiled with settings wins over the cache; the cache only answers when
// the output is missing or was compiled differently, and only while the
// contract's source file is unchanged.
func (s *Source) Artifact(ctx context.Context, id chains.ContractID, settings chains.CompilerSettings) (*chains.Artifact, error) {
	key := CacheKey(s.root, id, settings)
	logger := s.logger.With("contract", id.String(), "cache_key", key[:12])

	artifact, err := s.fromOutput(id)
	if err == nil && !SettingsMatch(artifact, settings) {
		logger.Info("existing artifact was built with other compiler settings")
		artifact, err = nil, errStale
	}
	if err == nil {
		metrics.ArtifactLookup("output")
		s.remember(ctx, logger, key, artifact)
		return artifact, nil
	}

	if s.cache != nil {
		cached, cerr := s.cached(ctx, key)
		switch {
		case cerr == nil:
			logger.Debug("artifact cache hit")
			metrics.ArtifactLookup("cache")
			return cached, nil
		case !errors.Is(cerr, storage.ErrNotFound):
			// a broken or outdated cache entry is rebuilt, not fatal
			logger.Warn("reading cached artifact", "error", cerr)
		}
	}

	if !s.build {
		return nil, fmt.Errorf("loading artifact %s: %w", id, err)
	}
	ok, derr := s.builder.Detect(s.root)
	if derr != nil {
		return nil, fmt.Errorf("inspecting %s: %w", s.root, derr)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %s, cannot build %s with %s", ErrNotProject, s.root, s.builder.ConfigFile(), id, s.builder.DisplayName())
	}
	if err := s.builder.Build(ctx, s.root, settings); err != nil {
		return nil, fmt.Errorf("building %s: %w", id, err)
	}
	if artifact, err = s.fromOutput(id); err != nil {
		return nil, fmt.Errorf("loading artifact %s after build: %w", id, err)
	}
	metrics.ArtifactLookup("build")
	s.remember(ctx, logger, key, artifact)
	return artifact, nil
}

// ErrNotProject is returned when an artifact has to be built but the root is
// not a project of the configured build tool.
var ErrNotProject = errors.New("not a project")

var (
	errStale         = errors.New("artifact compiled with different settings")
	errSourceChanged = errors.New("source changed since the artifact was cached")
)

func (s *Source) fromOutput(id chains.ContractID) (*chains.Artifact, error) {
	path, err := s.builder.Find(s.root, id)
	if err != nil {
		return nil, err
	}
	return s.builder.Parse(path)
}

// cacheEntry is a cached artifact with the hash of the source file it was
// compiled from.
type cacheEntry struct {
	SourceHash string           `json:"sourceHash"`
	Artifact   *chains.Artifact `json:"artifact"`
}

func (s *Source) cached(ctx context.Context, key string) (*chains.Artifact, error) {
	content, err := s.cache.GetCachedArtifact(ctx, key)
	if err != nil {
		return nil, err
	}
	var entry cacheEntry
	if err := json.Unmarshal(content, &entry); err != nil {
		return nil, fmt.Errorf("decoding cached artifact: %w", err)
	}
	if entry.Artifact == nil || entry.Artifact.EVM == nil {
		return nil, errors.New("cached artifact has no EVM section")
	}
	if s.sourceHash(entry.Artifact) != entry.SourceHash {
		return nil, fmt.Errorf("%w: %s", errSourceChanged, entry.Artifact.EVM.SourcePath)
	}
	return entry.Artifact, nil
}

func (s *Source) remember(ctx context.Context, logger *slog.Logger, key string, artifact *chains.Artifact) {
	if s.cache == nil {
		return
	}
	content, err := json.Marshal(cacheEntry{SourceHash: s.sourceHash(artifact), Artifact: artifact})
	if err == nil {
		err = s.cache.PutCachedArtifact(ctx, key, content)
	}
	if err != nil {
		logger.Warn("caching artifact", "error", err)
	}
}

// sourceHash hashes the source file of artifact. A source that cannot be
// read hashes to the empty string.
func (s *Source) sourceHash(artifact *chains.Artifact) string {
	if artifact.EVM == nil || artifact.EVM.SourcePath == "" {
		return ""
	}
	path := artifact.EVM.SourcePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// CacheKey derives the cache key of a contract of the project at root
// compiled with settings.
func CacheKey(root string, id chains.ContractID, settings chains.CompilerSettings) string {
	payload, _ := json.Marshal(struct {
		Root     string                  `json:"root"`
		Contract string                  `json:"contract"`
		Settings chains.CompilerSettings `json:"settings"`
	}{root, id.String(), settings})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// SettingsMatch reports whether artifact was compiled with settings. Zero
// valued settings are not constrained.
func SettingsMatch(artifact *chains.Artifact, settings chains.CompilerSettings) bool {
	if artifact.EVM == nil {
		return false
	}
	c := artifact.EVM.Compiler
	if settings.CompilerVersion != "" && !sameCompiler(c.Version, settings.CompilerVersion) {
		return false
	}
	if settings.CompilerVersion == "" {
		// nothing was reported, so the project configuration is authoritative
		return true
	}
	if c.Optimizer.Enabled != settings.Optimizer {
		return false
	}
	if settings.Optimizer && c.Optimizer.Runs != settings.Runs {
		return false
	}
	if settings.EVMVersion != "" && !strings.EqualFold(c.EVMVersion, settings.EVMVersion) {
		return false
	}
	return c.ViaIR == settings.ViaIR
}

// sameCompiler compares solc versions, ignoring the commit suffix when only
// one side carries it.
func sameCompiler(a, b string) bool {
	a, b = strings.TrimPrefix(a, "v"), strings.TrimPrefix(b, "v")
	if a == b {
		return true
	}
	if strings.Contains(a, "+") && strings.Contains(b, "+") {
		return false
	}
	return baseVersion(a) == baseVersion(b)
}

func baseVersion(v string) string {
	if i := strings.IndexByte(v, '+'); i >= 0 {
		return v[:i]
	}
	return v
}
