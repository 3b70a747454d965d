package cli

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/happyhackingspace/seqlab"
	"github.com/spf13/cobra"
)

func (c *CLI) newEvaluateCommand() *cobra.Command {
	var flags trainFlags
	var cvFolds int

	cmd := &cobra.Command{
		Use:   "evaluate <corpus>",
		Short: "Evaluate labeling accuracy via grouped cross-validation",
		Args:  cobra.ExactArgs(1),
		Example: `  seqlab evaluate data/train.txt --cv 10
  seqlab evaluate data/train.txt --config seqlab.yaml --objective memm`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("cv") {
				cfg.Folds = cvFolds
			}
			cfg.Trainer.Verbose = c.verbose

			slog.Info("Evaluating", "folds", cfg.Folds, "corpus", args[0], "objective", cfg.Trainer.Objective)
			start := time.Now()
			result, err := seqlab.Evaluate(cmd.Context(), args[0], &seqlab.EvalConfig{
				Folds:   cfg.Folds,
				Trainer: cfg.Trainer,
			})
			if err != nil {
				return err
			}
			slog.Debug("Evaluation completed", "duration", time.Since(start))

			fmt.Printf("Token accuracy: %.1f%% (%d/%d)\n",
				result.TokenAccuracy*100, result.TokenCorrect, result.TokenTotal)
			fmt.Printf("Sequence accuracy: %.1f%% (%d/%d sequences)\n",
				result.SequenceAccuracy*100, result.SequenceCorrect, result.SequenceTotal)
			if result.Failed > 0 {
				fmt.Printf("Unlabelable sequences: %d\n", result.Failed)
			}
			fmt.Printf("Macro F1: %.1f%%\n", result.MacroF1*100)
			printConfusionMatrix(result.Confusion, slices.Clone(result.Classes))
			printClassReport(result.Confusion, result.Classes, result.Precision, result.Recall, result.F1)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&cvFolds, "cv", 10, "Number of cross-validation folds")
	return cmd
}

func printClassReport(confusion map[string]map[string]int, classes []string, precision, recall, f1 map[string]float64) {
	fmt.Printf("\nPer-class metrics:\n")
	fmt.Printf("%8s  %6s  %6s  %6s  %7s\n", "class", "prec", "recall", "f1", "support")
	for _, cls := range classes {
		support := 0
		for _, v := range confusion[cls] {
			support += v
		}
		fmt.Printf("%8s  %5.1f%%  %5.1f%%  %5.1f%%  %7d\n",
			cls, precision[cls]*100, recall[cls]*100, f1[cls]*100, support)
	}
}

func printConfusionMatrix(confusion map[string]map[string]int, classes []string) {
	if len(confusion) == 0 {
		return
	}

	sort.Slice(classes, func(i, j int) bool {
		ti, tj := 0, 0
		for _, v := range confusion[classes[i]] {
			ti += v
		}
		for _, v := range confusion[classes[j]] {
			tj += v
		}
		return ti > tj
	})

	fmt.Printf("\nConfusion matrix (rows=true, cols=predicted):\n")
	fmt.Printf("%8s", "")
	for _, c := range classes {
		fmt.Printf(" %5s", c)
	}
	fmt.Printf("  total  acc%%\n")

	for _, trueClass := range classes {
		fmt.Printf("%8s", trueClass)
		total := 0
		correct := 0
		for _, predClass := range classes {
			count := confusion[trueClass][predClass]
			total += count
			if trueClass == predClass {
				correct = count
			}
			if count == 0 {
				fmt.Printf("   %5s", ".")
			} else {
				fmt.Printf("   %3d", count)
			}
		}
		acc := 0.0
		if total > 0 {
			acc = float64(correct) / float64(total) * 100
		}
		fmt.Printf("  %5d %5.1f\n", total, acc)
	}
}
