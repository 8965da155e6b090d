package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/codeproof/pkg/client"
)

func createRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Verification run history on the server",
	}

	cmd.AddCommand(createRunsListCmd())
	cmd.AddCommand(createRunsShowCmd())

	return cmd
}

func createRunsListCmd() *cobra.Command {
	var opts client.ListRunsOptions
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List verification runs",
		Long: `List verification runs recorded by the server, newest first.

EXAMPLES:
  # All runs
  codeproof runs list

  # Runs for one contract on mainnet
  codeproof runs list --chain-id 1 --address 0x1234...

  # Next page
  codeproof runs list --cursor <next-cursor>
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunsList(cmd.Context(), cmd.OutOrStdout(), client.New(getServer()), opts, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&opts.ChainID, "chain-id", "", "filter by chain ID")
	cmd.Flags().StringVar(&opts.Address, "address", "", "filter by contract address")
	cmd.Flags().StringVar(&opts.Contract, "contract", "", "filter by contract identifier")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of results")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "continue after this cursor")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func createRunsShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a verification run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunsShow(cmd.Context(), cmd.OutOrStdout(), client.New(getServer()), args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runRunsList(ctx context.Context, w io.Writer, c *client.Client, opts client.ListRunsOptions, jsonOutput bool) error {
	resp, err := c.ListRuns(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	if len(resp.Data) == 0 {
		fmt.Fprintln(w, "No runs found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCHAIN\tADDRESS\tCONTRACT\tVERIFIED\tCREATED")
	for _, r := range resp.Data {
		verified := "no"
		if r.Verified {
			verified = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.ChainID, truncateAddress(r.Address), r.Contract, verified, r.CreatedAt)
	}
	tw.Flush()

	if resp.Pagination.HasMore {
		fmt.Fprintf(w, "\n(showing %d runs, more with --cursor %s)\n", len(resp.Data), resp.Pagination.NextCursor)
	}

	return nil
}

func runRunsShow(ctx context.Context, w io.Writer, c *client.Client, id string, jsonOutput bool) error {
	run, err := c.GetRun(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	fmt.Fprintf(w, "Run:       %s\n", run.ID)
	fmt.Fprintf(w, "Chain ID:  %s\n", run.ChainID)
	fmt.Fprintf(w, "Address:   %s\n", run.Address)
	fmt.Fprintf(w, "Contract:  %s\n", run.Contract)
	if run.Predeploy {
		fmt.Fprintln(w, "Created:   at genesis")
	} else if run.Block > 0 {
		fmt.Fprintf(w, "Block:     %d\n", run.Block)
	}
	fmt.Fprintf(w, "Verified:  %v\n", run.Verified)
	if run.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", run.Error)
	}
	if run.CreatedAt != "" {
		fmt.Fprintf(w, "Recorded:  %s\n", run.CreatedAt)
	}

	if len(run.Results) > 0 {
		fmt.Fprintln(w)
		results := make([]outputResult, 0, len(run.Results))
		for _, r := range run.Results {
			results = append(results, outputResult{BytecodeType: r.BytecodeType, MatchType: r.MatchType, Message: r.Message})
		}
		printResults(w, run.Contract, results, false)
	}

	return nil
}

func truncateAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
