package main

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/ingestion/validator"
	"github.com/spf13/cobra"
)

func newBuildCmd() *cobra.Command {
	var (
		vocabPath    string
		featuresPath string
		outPath      string
		normName     string
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Index a JSON-lines feature file into a snapshot",
		Long: `Each input line is {"image_id": "...", "features": [[...], ...]}.
Images are indexed in file order, so internal indexes follow line order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, vocab, err := openEngine(vocabPath, normName)
			if err != nil {
				return err
			}
			in, err := openInput(featuresPath)
			if err != nil {
				return err
			}
			defer in.Close()

			limits := validator.Limits{Dimension: vocab.Dimension}
			err = readImages(in, func(_ int, event ingestion.ImageEvent) error {
				if err := validator.ValidateImageEvent(&event, limits); err != nil {
					return err
				}
				_, err := engine.AddImage(event.ImageID, event.Features)
				return err
			})
			if err != nil {
				return err
			}
			if err := engine.SaveSnapshot(outPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d images over %d words (%s) into %s\n",
				engine.NumImages(), engine.NumWords(), engine.Norm(), outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&vocabPath, "vocabulary", "", "vocabulary file (.yaml or msgpack)")
	cmd.Flags().StringVar(&featuresPath, "features", "-", "JSON-lines feature file, - for stdin")
	cmd.Flags().StringVar(&outPath, "out", "index.vwsnap", "snapshot to write")
	cmd.Flags().StringVar(&normName, "norm", "L2", "distance norm, L1 or L2")
	cmd.MarkFlagRequired("vocabulary")
	return cmd
}
