package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/retrievald/internal/corpus"
	"github.com/fyrsmithlabs/retrievald/internal/logging"
)

var loadBatchSize int

var loadCmd = &cobra.Command{
	Use:   "load <passages.jsonl>",
	Short: "Load passages from a JSONL file into the index",
	Long: `Load passages into the configured index. The input is JSON Lines with
one passage per line:

  {"text": "...", "metadata": {"doc_type": "parser", "source": "cisco.md", "vendor": "cisco"}}

Passages without a chunk_id in their metadata get a generated one.`,
	Args: cobra.ExactArgs(1),
	RunE: runLoad,
}

func init() {
	loadCmd.Flags().IntVar(&loadBatchSize, "batch-size", 64, "passages per index write")
}

type passageRecord struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

func runLoad(cmd *cobra.Command, args []string) error {
	_, logger, _, idx, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logging.Sync(logger) //nolint:errcheck
	defer idx.Close()          //nolint:errcheck

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	var (
		batch []corpus.Passage
		total int
		line  int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := idx.Add(cmd.Context(), batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec passageRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if rec.Text == "" {
			return fmt.Errorf("line %d: missing text", line)
		}
		batch = append(batch, corpus.Passage{Text: rec.Text, Metadata: rec.Metadata})

		if len(batch) >= loadBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if err := flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d passages.\n", total)
	return nil
}
