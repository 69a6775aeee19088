package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/invertedfile"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/snapshot"
	apperrors "github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/errors"
	"github.com/spf13/cobra"
)

type wordSummary struct {
	Word     int32 `json:"word"`
	Postings int   `json:"postings"`
}

type wordDetail struct {
	Word     int                    `json:"word"`
	Postings []invertedfile.Posting `json:"postings"`
}

type inspectReport struct {
	Path          string        `json:"path"`
	Version       uint32        `json:"version"`
	Norm          string        `json:"norm"`
	Words         uint32        `json:"words"`
	ObservedWords int           `json:"observed_words"`
	Images        uint32        `json:"images"`
	CreatedAt     time.Time     `json:"created_at"`
	TopWords      []wordSummary `json:"top_words"`
	SampleImages  []string      `json:"sample_images,omitempty"`
	Word          *wordDetail   `json:"word,omitempty"`
}

// head returns how many of size items to list for a requested count n.
func head(n, size int) int {
	return min(max(n, 0), size)
}

func newInspectCmd() *cobra.Command {
	var (
		snapshotPath string
		top          int
		sample       int
		word         int
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarise a snapshot without loading it",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := snapshot.Open(snapshotPath)
			if err != nil {
				return err
			}
			defer r.Close()

			h := r.Header()
			report := inspectReport{
				Path:          snapshotPath,
				Version:       h.Version,
				Norm:          h.Norm.String(),
				Words:         h.NumWords,
				ObservedWords: r.Words(),
				Images:        h.NumImages,
				CreatedAt:     time.Unix(h.CreatedAt, 0).UTC(),
			}
			entries := r.Dictionary()
			sort.SliceStable(entries, func(i, j int) bool {
				return entries[i].Count > entries[j].Count
			})
			for _, e := range entries[:head(top, len(entries))] {
				report.TopWords = append(report.TopWords, wordSummary{Word: e.Word, Postings: e.Count})
			}
			if sample > 0 {
				ids, err := r.Registry()
				if err != nil {
					return err
				}
				report.SampleImages = ids[:head(sample, len(ids))]
			}
			if cmd.Flags().Changed("word") {
				if word < 0 || word >= int(h.NumWords) {
					return fmt.Errorf("%w: word %d, vocabulary has %d words", apperrors.ErrWordOutOfRange, word, h.NumWords)
				}
				postings, err := r.Postings(word)
				if err != nil {
					return err
				}
				report.Word = &wordDetail{Word: word, Postings: postings}
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "index.vwsnap", "snapshot to inspect")
	cmd.Flags().IntVar(&top, "top", 10, "number of longest posting lists to list")
	cmd.Flags().IntVar(&sample, "sample", 0, "number of image ids to list")
	cmd.Flags().IntVar(&word, "word", 0, "list the postings of this word")
	return cmd
}
