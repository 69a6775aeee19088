package main

import (
	"encoding/json"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/snapshot"
	"github.com/spf13/cobra"
)

func newQueryCmd() *cobra.Command {
	var (
		vocabPath    string
		snapshotPath string
		featuresPath string
		limit        int
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Rank the images of a snapshot against a query",
		Long:  `The query file holds {"features": [[...], ...], "limit": n}. --limit overrides the file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := snapshot.Open(snapshotPath)
			if err != nil {
				return err
			}
			normName := r.Header().Norm.String()
			r.Close()

			engine, _, err := openEngine(vocabPath, normName)
			if err != nil {
				return err
			}
			if err := engine.LoadSnapshot(snapshotPath); err != nil {
				return err
			}

			in, err := openInput(featuresPath)
			if err != nil {
				return err
			}
			defer in.Close()
			var req ingestion.QueryRequest
			if err := json.NewDecoder(in).Decode(&req); err != nil {
				return fmt.Errorf("reading query: %w", err)
			}
			if cmd.Flags().Changed("limit") || req.Limit == 0 {
				req.Limit = limit
			}
			result, err := engine.Query(req.Features, req.Limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&vocabPath, "vocabulary", "", "vocabulary the snapshot was built with")
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "index.vwsnap", "snapshot to query")
	cmd.Flags().StringVar(&featuresPath, "features", "-", "query JSON file, - for stdin")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of matches")
	cmd.MarkFlagRequired("vocabulary")
	return cmd
}
