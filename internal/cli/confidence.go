package cli

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/happyhackingspace/seqlab"
	"github.com/spf13/cobra"
)

type spanResult struct {
	seqlab.Span
	Confidence float64 `json:"confidence"`
}

type confidenceResult struct {
	Name       string             `json:"name"`
	Labels     []string           `json:"labels"`
	Confidence float64            `json:"confidence"`
	Spans      []spanResult       `json:"spans"`
	Correction *seqlab.Correction `json:"correction,omitempty"`
}

// parseSpan parses "start:end:label".
func parseSpan(s string) (seqlab.Span, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[2] == "" {
		return seqlab.Span{}, fmt.Errorf("span %q: want start:end:label", s)
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return seqlab.Span{}, fmt.Errorf("span %q: %w", s, err)
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return seqlab.Span{}, fmt.Errorf("span %q: %w", s, err)
	}
	return seqlab.Span{Start: start, End: end, Label: parts[2]}, nil
}

func (c *CLI) newConfidenceCommand() *cobra.Command {
	var modelPath string
	var fix string
	var labeled bool

	cmd := &cobra.Command{
		Use:   "confidence [url-or-file]",
		Short: "Score the best labeling and each of its spans",
		Args:  cobra.MaximumNArgs(1),
		Example: `  seqlab confidence data/test.txt --model model.json

  # Fix positions 2..4 to NAME and show the relabeling that follows
  seqlab confidence data/test.txt --fix 2:4:NAME`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var span seqlab.Span
			if fix != "" {
				var err error
				if span, err = parseSpan(fix); err != nil {
					return err
				}
			}
			seqs, err := readInput(args, labeled)
			if err != nil {
				return err
			}
			if seqs == nil && len(args) == 0 {
				return cmd.Help()
			}
			tg, err := loadModel(modelPath)
			if err != nil {
				return err
			}

			results := make([]confidenceResult, 0, len(seqs))
			for _, seq := range seqs {
				labels, err := tg.Tag(seq.Features)
				if err != nil {
					slog.Warn("Cannot label sequence", "name", seq.Name, "error", err)
					continue
				}
				res := confidenceResult{Name: seq.Name, Labels: labels}
				if res.Confidence, err = tg.Confidence(seq.Features); err != nil {
					return err
				}
				for _, sp := range seqlab.Spans(labels) {
					p, err := tg.SpanConfidence(seq.Features, sp)
					if err != nil {
						return err
					}
					res.Spans = append(res.Spans, spanResult{Span: sp, Confidence: p})
				}
				if fix != "" {
					res.Correction, err = tg.Correct(seq.Features, span)
					if err != nil {
						slog.Warn("Cannot apply correction", "name", seq.Name, "span", fix, "error", err)
					}
				}
				results = append(results, res)
			}
			return printJSON(results)
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "Path to model file (default: auto-detect)")
	cmd.Flags().StringVar(&fix, "fix", "", "Fix a span start:end:label and relabel the rest")
	cmd.Flags().BoolVar(&labeled, "labeled", false, "Input lines end with a label")
	return cmd
}
