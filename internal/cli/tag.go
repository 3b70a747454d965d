package cli

import (
	"log/slog"
	"time"

	"github.com/happyhackingspace/seqlab"
	"github.com/spf13/cobra"
)

type tagResult struct {
	Name        string               `json:"name"`
	Labels      []string             `json:"labels"`
	Probability float64              `json:"probability"`
	KBest       []seqlab.Labeling    `json:"kbest,omitempty"`
	Marginals   []map[string]float64 `json:"marginals,omitempty"`
}

func (c *CLI) newTagCommand() *cobra.Command {
	var modelPath string
	var threshold float64
	var k int
	var marginals bool
	var labeled bool

	cmd := &cobra.Command{
		Use:   "tag [url-or-file]",
		Short: "Label the sequences of a corpus from a URL, file, or stdin",
		Args:  cobra.MaximumNArgs(1),
		Example: `  # Label an unlabeled corpus file
  seqlab tag data/test.txt --model model.json

  # Pipe a corpus from stdin
  cat data/test.txt | seqlab tag

  # Re-label a labeled corpus, ignoring its labels
  seqlab tag data/train.txt --labeled

  # Show the 3 best labelings per sequence
  seqlab tag data/test.txt --k 3

  # Show per-position label probabilities
  seqlab tag data/test.txt --marginals --threshold 0.1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			seqs, err := readInput(args, labeled)
			if err != nil {
				return err
			}
			if seqs == nil && len(args) == 0 {
				return cmd.Help()
			}

			start := time.Now()
			tg, err := loadModel(modelPath)
			if err != nil {
				return err
			}
			slog.Debug("Model loaded", "labels", len(tg.Labels()), "duration", time.Since(start))

			start = time.Now()
			results := make([]tagResult, 0, len(seqs))
			for _, seq := range seqs {
				best, err := tg.TagKBest(seq.Features, max(k, 1))
				if err != nil {
					slog.Warn("Cannot label sequence", "name", seq.Name, "error", err)
					continue
				}
				res := tagResult{Name: seq.Name}
				if len(best) > 0 {
					res.Labels, res.Probability = best[0].Labels, best[0].Probability
				}
				if k > 1 {
					res.KBest = best
				}
				if marginals {
					res.Marginals, err = tg.Marginals(seq.Features, threshold)
					if err != nil {
						return err
					}
				}
				results = append(results, res)
			}
			slog.Debug("Tagging completed", "sequences", len(results), "duration", time.Since(start))
			return printJSON(results)
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "Path to model file (default: auto-detect)")
	cmd.Flags().IntVar(&k, "k", 1, "Number of labelings per sequence")
	cmd.Flags().BoolVar(&marginals, "marginals", false, "Show per-position label probabilities")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.05, "Minimum probability threshold for --marginals")
	cmd.Flags().BoolVar(&labeled, "labeled", false, "Input lines end with a label")
	return cmd
}
