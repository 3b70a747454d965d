package seqlab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/happyhackingspace/seqlab/crf"
	"github.com/happyhackingspace/seqlab/internal/checkpoint"
	"github.com/happyhackingspace/seqlab/internal/codec"
	"github.com/happyhackingspace/seqlab/internal/corpus"
)

// TrainConfig holds configuration for training.
type TrainConfig struct {
	Trainer crf.TrainerConfig
	// Checkpoint is a bbolt file for per-iteration snapshots; empty disables them.
	Checkpoint      string
	CheckpointEvery int
	CheckpointKeep  int
	// Resume continues from the latest snapshot in Checkpoint.
	Resume bool
}

// DefaultTrainConfig returns default training config.
func DefaultTrainConfig() *TrainConfig {
	return &TrainConfig{
		Trainer:         crf.DefaultTrainerConfig(),
		CheckpointEvery: 1,
		CheckpointKeep:  3,
	}
}

// EvalConfig holds configuration for evaluation. A Trainer without an
// Objective is replaced by crf.DefaultTrainerConfig().
type EvalConfig struct {
	Folds   int
	Trainer crf.TrainerConfig
}

// EvalResult holds cross-validation evaluation results.
type EvalResult struct {
	TokenAccuracy    float64
	SequenceAccuracy float64
	TokenCorrect     int
	TokenTotal       int
	SequenceCorrect  int
	SequenceTotal    int
	Failed           int // test sequences with no valid labeling

	Classes   []string
	Confusion map[string]map[string]int // gold → predicted → count
	Precision map[string]float64
	Recall    map[string]float64
	F1        map[string]float64
	MacroF1   float64
}

// Train trains a tagger on the labeled corpus file at corpusPath.
func Train(ctx context.Context, corpusPath string, config *TrainConfig) (*Tagger, error) {
	seqs, err := corpus.ReadFile(corpusPath, corpus.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("seqlab: %w", err)
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("seqlab: no sequences found in %s", corpusPath)
	}
	return TrainSequences(ctx, seqs, config)
}

// TrainSequences trains a tagger on labeled sequences.
func TrainSequences(ctx context.Context, seqs []crf.TrainingSequence, config *TrainConfig) (*Tagger, error) {
	if config == nil {
		config = DefaultTrainConfig()
	}
	model := crf.NewModelFor(seqs, config.Trainer.AllPossibleTransitions)
	instances, err := model.Instances(seqs)
	if err != nil {
		return nil, fmt.Errorf("seqlab: %w", err)
	}

	tr := &crf.Trainer{Config: config.Trainer}
	if config.Checkpoint != "" {
		store, err := checkpoint.Open(config.Checkpoint)
		if err != nil {
			return nil, fmt.Errorf("seqlab: %w", err)
		}
		defer func() { _ = store.Close() }()
		store.Keep = config.CheckpointKeep

		start := 0
		if config.Resume {
			start, err = resume(store, model)
			if err != nil {
				return nil, fmt.Errorf("seqlab: %w", err)
			}
			tr.Config.MaxIterations = max(0, tr.Config.MaxIterations-start)
		}
		every := max(1, config.CheckpointEvery)
		tr.OnIteration = func(it crf.Iteration) error {
			n := start + it.Number
			if n%every != 0 {
				return nil
			}
			return store.Put(codec.Snapshot{Iteration: n, Value: it.Value, Params: it.Parameters})
		}
	}

	res, err := tr.Fit(ctx, model, instances)
	if err != nil {
		return nil, fmt.Errorf("seqlab: %w", err)
	}
	slog.Debug("Training finished", "iterations", res.Iterations, "value", res.Value, "converged", res.Converged)
	return NewTagger(model), nil
}

// resume loads the latest snapshot into model and returns its iteration.
func resume(store *checkpoint.Store, model *crf.Model) (int, error) {
	snap, err := store.Latest()
	if errors.Is(err, checkpoint.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(snap.Params) != len(model.Params.Values) {
		return 0, fmt.Errorf("checkpoint has %d parameters, model needs %d", len(snap.Params), len(model.Params.Values))
	}
	copy(model.Params.Values, snap.Params)
	slog.Info("Resuming from checkpoint", "iteration", snap.Iteration, "value", snap.Value)
	return snap.Iteration, nil
}

// Evaluate runs grouped cross-validation on the labeled corpus file at
// corpusPath. Sequences from the same site never straddle folds.
func Evaluate(ctx context.Context, corpusPath string, config *EvalConfig) (*EvalResult, error) {
	seqs, err := corpus.ReadFile(corpusPath, corpus.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("seqlab: %w", err)
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("seqlab: no sequences found in %s", corpusPath)
	}
	return EvaluateSequences(ctx, seqs, config)
}

// EvaluateSequences runs grouped cross-validation on labeled sequences.
func EvaluateSequences(ctx context.Context, seqs []crf.TrainingSequence, config *EvalConfig) (*EvalResult, error) {
	nFolds := 10
	trainer := crf.DefaultTrainerConfig()
	if config != nil {
		if config.Folds > 0 {
			nFolds = config.Folds
		}
		if config.Trainer.Objective != "" {
			trainer = config.Trainer
		}
	}

	groups := corpus.AssignGroups(seqs)
	folds := corpus.GroupKFold(groups, nFolds)
	if len(folds) < 2 {
		return nil, fmt.Errorf("seqlab: cross-validation needs at least 2 groups, got %d", len(folds))
	}

	result := &EvalResult{Confusion: make(map[string]map[string]int)}
	for f, testIdx := range folds {
		testSet := makeTestSet(len(seqs), testIdx)
		var trainSeqs []crf.TrainingSequence
		for i, seq := range seqs {
			if !testSet[i] {
				trainSeqs = append(trainSeqs, seq)
			}
		}
		slog.Debug("Training fold", "fold", f+1, "train", len(trainSeqs), "test", len(testIdx))
		model, err := crf.Train(ctx, trainSeqs, trainer)
		if err != nil {
			return nil, fmt.Errorf("seqlab: fold %d: %w", f+1, err)
		}
		for _, idx := range testIdx {
			result.add(model, seqs[idx])
		}
	}
	result.finish()
	return result, nil
}

func (r *EvalResult) add(model *crf.Model, seq crf.TrainingSequence) {
	pred, err := model.Predict(seq.Features)
	if err != nil {
		slog.Warn("Cannot label sequence", "name", seq.Name, "error", err)
		r.Failed++
		pred = make([]string, len(seq.Labels))
	}
	allCorrect := true
	for j, gold := range seq.Labels {
		if gold == "" {
			continue
		}
		if r.Confusion[gold] == nil {
			r.Confusion[gold] = make(map[string]int)
		}
		r.Confusion[gold][pred[j]]++
		if pred[j] == gold {
			r.TokenCorrect++
		} else {
			allCorrect = false
		}
		r.TokenTotal++
	}
	if allCorrect {
		r.SequenceCorrect++
	}
	r.SequenceTotal++
}

func (r *EvalResult) finish() {
	if r.TokenTotal > 0 {
		r.TokenAccuracy = float64(r.TokenCorrect) / float64(r.TokenTotal)
	}
	if r.SequenceTotal > 0 {
		r.SequenceAccuracy = float64(r.SequenceCorrect) / float64(r.SequenceTotal)
	}

	predicted := make(map[string]int)
	for gold, row := range r.Confusion {
		r.Classes = append(r.Classes, gold)
		for p, n := range row {
			predicted[p] += n
		}
	}
	sort.Strings(r.Classes)

	r.Precision = make(map[string]float64, len(r.Classes))
	r.Recall = make(map[string]float64, len(r.Classes))
	r.F1 = make(map[string]float64, len(r.Classes))
	for _, c := range r.Classes {
		tp := r.Confusion[c][c]
		support := 0
		for _, n := range r.Confusion[c] {
			support += n
		}
		var prec, rec, f1 float64
		if predicted[c] > 0 {
			prec = float64(tp) / float64(predicted[c])
		}
		if support > 0 {
			rec = float64(tp) / float64(support)
		}
		if prec+rec > 0 {
			f1 = 2 * prec * rec / (prec + rec)
		}
		r.Precision[c], r.Recall[c], r.F1[c] = prec, rec, f1
		r.MacroF1 += f1
	}
	if len(r.Classes) > 0 {
		r.MacroF1 /= float64(len(r.Classes))
	}
}

func makeTestSet(n int, testIdx []int) []bool {
	set := make([]bool, n)
	for _, i := range testIdx {
		set[i] = true
	}
	return set
}
