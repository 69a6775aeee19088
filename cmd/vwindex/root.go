package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/vocabulary"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/logger"
	"github.com/spf13/cobra"
)

const maxLineBytes = 64 << 20

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:   "vwindex",
		Short: "Build and query visual-word index snapshots",
		Long: `vwindex works on .vwsnap snapshot files without running the service.

Examples:
  vwindex build --vocabulary vocab.msgpack --features images.jsonl --out index.vwsnap
  vwindex query --vocabulary vocab.msgpack --snapshot index.vwsnap --features query.json
  vwindex inspect --snapshot index.vwsnap
  vwindex publish --config configs/development.yaml --features images.jsonl`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetupWriter(cmd.ErrOrStderr(), logLevel, "text")
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.AddCommand(newBuildCmd(), newQueryCmd(), newInspectCmd(), newPublishCmd())
	return root
}

// openEngine loads the vocabulary at path and creates an empty engine over
// it.
func openEngine(path, normName string) (*recognition.Engine, *vocabulary.Vocabulary, error) {
	vocab, err := vocabulary.Load(path)
	if err != nil {
		return nil, nil, err
	}
	cfg := config.Default().Recognition
	cfg.Norm = normName
	searcher := vocabulary.NewBruteForce(vocab)
	engine, err := recognition.NewEngine(searcher, searcher.Size(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return engine, vocab, nil
}

// readImages calls fn for every JSON line of r. Blank lines are skipped.
func readImages(r io.Reader, fn func(line int, event ingestion.ImageEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var event ingestion.ImageEvent
		if err := json.Unmarshal(text, &event); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(line, event); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return scanner.Err()
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
