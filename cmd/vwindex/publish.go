package main

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/postgres"
	"github.com/spf13/cobra"
)

func newPublishCmd() *cobra.Command {
	var (
		configPath   string
		featuresPath string
		source       string
		dimension    int
		batchSize    int
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Send a JSON-lines feature file to the ingest topic",
		Long: `publish reads the same input as build but hands the images to a running
recognizer through Kafka instead of writing a snapshot.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if batchSize < 1 {
				return fmt.Errorf("--batch-size must be positive")
			}

			producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ImageIngest)
			defer producer.Close()

			var status publisher.StatusStore
			if cfg.Postgres.Enabled {
				db, err := postgres.New(cfg.Postgres)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := db.EnsureSchema(cmd.Context()); err != nil {
					return err
				}
				status = db
			}

			limits := validator.Limits{Dimension: dimension, MaxFeatures: cfg.Search.MaxFeatures}
			pub := publisher.New(producer, status, limits, source)

			in, err := openInput(featuresPath)
			if err != nil {
				return err
			}
			defer in.Close()

			total := 0
			batch := make([]ingestion.ImageEvent, 0, batchSize)
			flush := func() error {
				if err := pub.Publish(cmd.Context(), batch); err != nil {
					return err
				}
				total += len(batch)
				batch = batch[:0]
				return nil
			}
			err = readImages(in, func(_ int, event ingestion.ImageEvent) error {
				batch = append(batch, event)
				if len(batch) >= batchSize {
					return flush()
				}
				return nil
			})
			if err != nil {
				return err
			}
			if err := flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d images to %s\n", total, cfg.Kafka.Topics.ImageIngest)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "configs/development.yaml", "path to config file")
	cmd.Flags().StringVar(&featuresPath, "features", "-", "JSON-lines feature file, - for stdin")
	cmd.Flags().StringVar(&source, "source", "vwindex", "source recorded on every event")
	cmd.Flags().IntVar(&dimension, "dimension", 0, "expected feature dimension, 0 to skip the check")
	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "events per Kafka write")
	return cmd
}
