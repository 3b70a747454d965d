package cli

import (
	"log/slog"
	"time"

	"github.com/happyhackingspace/seqlab"
	"github.com/happyhackingspace/seqlab/internal/config"
	"github.com/spf13/cobra"
)

// trainFlags are the command-line overrides for the config file.
type trainFlags struct {
	configPath    string
	objective     string
	c1, c2        float64
	maxIterations int
	workers       int
}

func (f *trainFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configPath, "config", "", "Path to YAML config file")
	cmd.Flags().StringVar(&f.objective, "objective", "crf", "Training objective (crf or memm)")
	cmd.Flags().Float64Var(&f.c1, "c1", 0, "L1 regularization")
	cmd.Flags().Float64Var(&f.c2, "c2", 0, "L2 regularization")
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", 0, "Maximum optimizer iterations")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Parallel objective workers")
}

// load reads the config file, if any, and applies flags the user set.
func (f *trainFlags) load(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		cfg, err = config.Load(f.configPath)
		if err != nil {
			return config.Config{}, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("objective") {
		cfg.Trainer.Objective = f.objective
	}
	if flags.Changed("c1") {
		cfg.Trainer.C1 = f.c1
	}
	if flags.Changed("c2") {
		cfg.Trainer.C2 = f.c2
	}
	if flags.Changed("max-iterations") {
		cfg.Trainer.MaxIterations = f.maxIterations
	}
	if flags.Changed("workers") {
		cfg.Trainer.Workers = f.workers
	}
	return cfg, cfg.Validate()
}

func (c *CLI) newTrainCommand() *cobra.Command {
	var flags trainFlags
	var checkpointPath string
	var resume bool

	cmd := &cobra.Command{
		Use:   "train <corpus> <modelfile>",
		Short: "Train a model on a labeled corpus",
		Args:  cobra.ExactArgs(2),
		Example: `  seqlab train data/train.txt model.json
  seqlab train data/train.txt model.bin --objective memm --workers 4
  seqlab train data/train.txt model.json --checkpoint run.db --resume`,
		RunE: func(cmd *cobra.Command, args []string) error {
			corpusPath, modelPath := args[0], args[1]
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("checkpoint") {
				cfg.Checkpoint.Path = checkpointPath
			}
			if cmd.Flags().Changed("resume") {
				cfg.Checkpoint.Resume = resume
			}
			cfg.Trainer.Verbose = c.verbose

			slog.Info("Training", "corpus", corpusPath, "objective", cfg.Trainer.Objective, "output", modelPath)
			start := time.Now()
			tg, err := seqlab.Train(cmd.Context(), corpusPath, &seqlab.TrainConfig{
				Trainer:         cfg.Trainer,
				Checkpoint:      cfg.Checkpoint.Path,
				CheckpointEvery: cfg.Checkpoint.Every,
				CheckpointKeep:  cfg.Checkpoint.Keep,
				Resume:          cfg.Checkpoint.Resume,
			})
			if err != nil {
				return err
			}
			slog.Debug("Training completed", "duration", time.Since(start))
			if err := tg.Save(modelPath); err != nil {
				return err
			}
			slog.Info("Model saved", "path", modelPath, "format", seqlab.FormatFor(modelPath))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "Write iteration snapshots to this file")
	cmd.Flags().BoolVar(&resume, "resume", false, "Resume from the latest snapshot")
	return cmd
}
