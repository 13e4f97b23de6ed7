package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/retrievald/internal/logging"
	"github.com/fyrsmithlabs/retrievald/internal/queryproc"
	"github.com/fyrsmithlabs/retrievald/internal/rerank"
	"github.com/fyrsmithlabs/retrievald/internal/retriever"
)

var (
	queryFilters  []string
	queryTopK     int
	queryScores   bool
	queryAssemble bool
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Retrieve passages for a query",
	Long: `Run the retrieval pipeline for a query and print the results.

Examples:
  # Plain retrieval
  retrievald query "how do I configure SAML authentication"

  # Constrain by metadata
  retrievald query "firewall parser" --filter vendor=cisco --filter doc_type=parser,rule

  # Show raw similarity scores
  retrievald query "lateral movement detection" --scores

  # Print an assembled, token-budgeted context block
  retrievald query "okta mfa use case" --context`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringArrayVar(&queryFilters, "filter", nil, "metadata filter key=value (repeatable; comma-separated values mean any-of)")
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "override configured result count")
	queryCmd.Flags().BoolVar(&queryScores, "scores", false, "vector-only search with raw similarity scores")
	queryCmd.Flags().BoolVar(&queryAssemble, "context", false, "print results as one assembled context block")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, logger, embedder, idx, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logging.Sync(logger) //nolint:errcheck
	defer idx.Close()          //nolint:errcheck

	if queryTopK > 0 {
		cfg.Retriever.TopK = queryTopK
	}

	processor := queryproc.New(embedder, logger.Named("queryproc"))
	reranker, err := rerank.New(cfg.Rerank, logger.Named("rerank"))
	if err != nil {
		return fmt.Errorf("initializing reranker: %w", err)
	}

	r, err := retriever.New(idx, idx, processor, reranker, cfg.Retriever, logger.Named("retriever"))
	if err != nil {
		return fmt.Errorf("initializing retriever: %w", err)
	}

	filter, err := parseFilters(queryFilters)
	if err != nil {
		return err
	}

	query := args[0]
	out := cmd.OutOrStdout()

	if queryScores {
		scored, err := r.RetrieveWithScores(cmd.Context(), query, filter)
		if err != nil {
			return err
		}
		if len(scored) == 0 {
			fmt.Fprintln(out, "No results.")
			return nil
		}
		for i, sp := range scored {
			fmt.Fprintf(out, "%d. [%.4f] %s\n%s\n\n", i+1, sp.Score, sp.Citation(), sp.Text)
		}
		return nil
	}

	results, err := r.Retrieve(cmd.Context(), query, filter)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}

	if queryAssemble {
		fmt.Fprintln(out, r.AssembleContext(results, cfg.Retriever.MaxContextTokens))
		return nil
	}

	for i, p := range results {
		fmt.Fprintf(out, "%d. %s\n%s\n\n", i+1, p.Citation(), strings.TrimSpace(p.Text))
	}
	return nil
}
