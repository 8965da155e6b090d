package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pendergraft/codeproof/internal/artifacts"
	"github.com/pendergraft/codeproof/internal/storage"
	"github.com/pendergraft/codeproof/internal/verification/domain"
	"github.com/pendergraft/codeproof/internal/verification/pipeline"
	verificationTransport "github.com/pendergraft/codeproof/internal/verification/transport"
	"github.com/pendergraft/codeproof/pkg/client"
)

type verifyOptions struct {
	block       string
	args        []string
	argsPath    string
	encodedArgs string
	ignore      string
	noBuild     bool
	jsonOutput  bool
	remote      bool
	settings    settingsFlags
}

func createVerifyCmd() *cobra.Command {
	var opts verifyOptions

	cmd := &cobra.Command{
		Use:   "verify-bytecode <address> <contract>",
		Short: "Verify deployed bytecode against a local artifact",
		Long: `Verify that the bytecode deployed at an address was produced by compiling
a contract of the local Foundry project.

The creation transaction is fetched from the block explorer and replayed on a
fork of the chain taken just before it, with the local creation code in place
of the original. The creation input and the resulting runtime code are then
compared with what is on chain. Compiler metadata is ignored for partial
matches.

The contract is either a bare name or path:Name, e.g. src/Token.sol:Token.

EXAMPLES:
  # Verify using codeproof.toml settings
  codeproof verify-bytecode 0x1234... Token

  # Provide the constructor arguments explicitly
  codeproof verify-bytecode 0x1234... src/Token.sol:Token \
    --constructor-args "My Token" --constructor-args MTK

  # Compare the runtime code at a later block
  codeproof verify-bytecode 0x1234... Token --block 19000000 --ignore creation

  # Run the verification on a codeproof server
  codeproof verify-bytecode 0x1234... Token --remote --server https://codeproof.example.com
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := opts.request(args[0], args[1])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			var results []outputResult
			if opts.remote {
				results, err = verifyRemote(ctx, client.New(getServer()), req)
			} else {
				results, err = verifyLocal(ctx, loadSettings(opts.settings), !opts.noBuild, req, slog.Default())
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return writeResultsJSON(out, results)
			}
			printResults(out, args[1], results, isTerminal(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.block, "block", "", "block number to compare the runtime code at (default: creation block)")
	cmd.Flags().StringArrayVar(&opts.args, "constructor-args", nil, "constructor argument, repeat for each parameter")
	cmd.Flags().StringVar(&opts.argsPath, "constructor-args-path", "", "file with whitespace separated constructor arguments")
	cmd.Flags().StringVar(&opts.encodedArgs, "encoded-constructor-args", "", "ABI-encoded constructor arguments (hex)")
	cmd.Flags().StringVar(&opts.ignore, "ignore", "", "skip one comparison: creation or runtime")
	cmd.Flags().BoolVar(&opts.noBuild, "no-build", false, "do not run forge when no matching artifact exists")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output results as JSON")
	cmd.Flags().BoolVar(&opts.remote, "remote", false, "run the verification on the server")

	cmd.Flags().StringVar(&opts.settings.RPCURL, "rpc-url", "", "JSON-RPC endpoint (env "+envRPCURL+")")
	cmd.Flags().StringVar(&opts.settings.ExplorerURL, "etherscan-url", "", "block explorer API URL (env "+envExplorerURL+")")
	cmd.Flags().StringVar(&opts.settings.ExplorerKey, "etherscan-key", "", "block explorer API key (env "+envExplorerKey+")")
	cmd.Flags().StringVar(&opts.settings.Root, "root", "", "Foundry project root (default: .)")
	cmd.Flags().StringVar(&opts.settings.Forge, "forge", "", "forge binary (default: forge on PATH)")
	cmd.Flags().StringVar(&opts.settings.EVMVersion, "evm-version", "", "EVM version when neither the explorer nor the compiler default give one")

	cmd.MarkFlagsMutuallyExclusive("constructor-args", "constructor-args-path", "encoded-constructor-args")

	return cmd
}

// request builds the API request from the command line.
func (o verifyOptions) request(address, contract string) (client.VerifyRequest, error) {
	req := client.VerifyRequest{
		Address:                address,
		Contract:               contract,
		Block:                  o.block,
		ConstructorArgs:        o.args,
		EncodedConstructorArgs: o.encodedArgs,
		Ignore:                 o.ignore,
	}
	if o.argsPath != "" {
		args, err := readArgsFile(o.argsPath)
		if err != nil {
			return req, err
		}
		req.ConstructorArgs = args
	}
	return req, nil
}

// readArgsFile reads constructor arguments separated by whitespace or newlines.
// An empty file is an explicit empty argument list.
func readArgsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading constructor args: %w", err)
	}
	return strings.Fields(string(data)), nil
}

func verifyLocal(ctx context.Context, s settings, build bool, req client.VerifyRequest, logger *slog.Logger) ([]outputResult, error) {
	dreq, err := verificationTransport.VerifyRequest(req).ToDomain()
	if err != nil {
		return nil, err
	}
	if s.RPCURL == "" {
		return nil, errors.New("no RPC URL: set --rpc-url, " + envRPCURL + " or rpc_url in " + projectConfigFile)
	}

	var cache artifacts.Cache
	if s.ArtifactCache != "" {
		store, err := storage.NewSQLiteStore(s.ArtifactCache, logger)
		if err != nil {
			return nil, fmt.Errorf("opening artifact cache: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrating artifact cache: %w", err)
		}
		cache = store
	}

	p, err := pipeline.New(ctx, pipeline.Options{
		RPCURL:            s.RPCURL,
		ExplorerURL:       s.ExplorerURL,
		ExplorerKey:       s.ExplorerKey,
		Root:              s.Root,
		Forge:             s.Forge,
		Build:             build,
		DefaultEVMVersion: s.EVMVersion,
		Cache:             cache,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	defer p.Close()

	report, err := p.Verify(ctx, dreq)
	if err != nil {
		return nil, err
	}
	return fromReport(report), nil
}

func verifyRemote(ctx context.Context, c *client.Client, req client.VerifyRequest) ([]outputResult, error) {
	report, err := c.Verify(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to verify: %w", err)
	}

	results := make([]outputResult, 0, len(report.Results))
	for _, r := range report.Results {
		results = append(results, outputResult{BytecodeType: r.BytecodeType, MatchType: r.MatchType, Message: r.Message})
	}
	return results, nil
}

// outputResult is one line of --json output.
type outputResult struct {
	BytecodeType string `json:"bytecode_type"`
	MatchType    string `json:"match_type"`
	Message      string `json:"message,omitempty"`
}

func fromReport(report *domain.Report) []outputResult {
	results := make([]outputResult, 0, len(report.Results))
	for _, r := range report.Results {
		results = append(results, outputResult{
			BytecodeType: string(r.Kind),
			MatchType:    string(r.Match),
			Message:      r.Message,
		})
	}
	return results
}

func writeResultsJSON(w io.Writer, results []outputResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// printResults writes one line per compared bytecode.
func printResults(w io.Writer, contract string, results []outputResult, colored bool) {
	if len(results) == 0 {
		fmt.Fprintf(w, "No bytecode of %s was compared\n", contract)
		return
	}

	for _, r := range results {
		kind := r.BytecodeType
		if kind != "" {
			kind = strings.ToUpper(kind[:1]) + kind[1:]
		}

		var line string
		var c *color.Color
		switch r.MatchType {
		case "exact":
			line, c = fmt.Sprintf("%s code matched with status exact", kind), color.New(color.FgGreen)
		case "partial":
			line, c = fmt.Sprintf("%s code matched with status partial", kind), color.New(color.FgYellow)
		default:
			line, c = fmt.Sprintf("%s code did not match", kind), color.New(color.FgRed)
		}
		if r.Message != "" {
			line += ": " + r.Message
		}

		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		fmt.Fprintln(w, c.Sprint(line))
	}
}

// isTerminal reports whether w is a terminal, so that colour codes are only
// written to interactive sessions.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
