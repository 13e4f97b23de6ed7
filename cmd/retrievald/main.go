// Package main implements the retrievald CLI: corpus loading and
// retrieval queries against the configured search index.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievald/internal/config"
	"github.com/fyrsmithlabs/retrievald/internal/corpus"
	"github.com/fyrsmithlabs/retrievald/internal/embeddings"
	"github.com/fyrsmithlabs/retrievald/internal/index"
	"github.com/fyrsmithlabs/retrievald/internal/logging"
)

var (
	configPath string
	logLevel   string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "retrievald",
	Short: "Retrieval and reranking engine for security documentation",
	Long: `retrievald retrieves passages from an indexed documentation corpus using
hybrid vector+keyword search, with query understanding, multi-strategy
fallback, diversification, and reranking.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/retrievald/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override configured log level")
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the retrievald version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "retrievald %s\n", version)
	},
}

// setup loads configuration and constructs the logger, embedder, and index
// shared by all commands.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, *embeddings.Service, index.Index, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	embedder, err := embeddings.NewService(cfg.Embeddings, logger.Named("embeddings"))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("initializing embeddings: %w", err)
	}

	idx, err := index.New(cmd.Context(), cfg.Index, embedder, logger.Named("index"))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("initializing index: %w", err)
	}

	return cfg, logger, embedder, idx, nil
}

// parseFilters converts repeated key=value flags into a filter spec. A
// comma-separated value becomes an IN constraint.
func parseFilters(pairs []string) (corpus.FilterSpec, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filter := corpus.FilterSpec{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("invalid filter %q, expected key=value", pair)
		}
		if strings.Contains(value, ",") {
			filter[key] = corpus.Condition{In: strings.Split(value, ",")}
		} else {
			filter[key] = corpus.Condition{Equals: value}
		}
	}
	return filter, nil
}
