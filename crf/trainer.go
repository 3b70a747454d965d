package crf

import (
	"context"
	"fmt"
	"log/slog"
)

// Objectives understood by TrainerConfig.Objective.
const (
	ObjectiveCRF  = "crf"
	ObjectiveMEMM = "memm"
)

// TrainerConfig holds training hyperparameters.
type TrainerConfig struct {
	Objective              string  `yaml:"objective"`
	C1                     float64 `yaml:"c1"` // L1 regularization
	C2                     float64 `yaml:"c2"` // L2 regularization
	MaxIterations          int     `yaml:"max_iterations"`
	AllPossibleTransitions bool    `yaml:"all_possible_transitions"`
	Epsilon                float64 `yaml:"epsilon"` // convergence threshold on the pseudo-gradient
	Delta                  float64 `yaml:"delta"`   // relative objective change threshold, 0 disables
	HistorySize            int     `yaml:"history_size"`
	MaxLineSearch          int     `yaml:"max_line_search"`
	Workers                int     `yaml:"workers"`
	SkipInvalid            bool    `yaml:"skip_invalid"`
	Verbose                bool    `yaml:"-"`
}

// DefaultTrainerConfig returns default training config.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Objective:              ObjectiveCRF,
		C1:                     0.1655,
		C2:                     0.0236,
		MaxIterations:          100,
		AllPossibleTransitions: true,
		Epsilon:                1e-5,
		HistorySize:            10,
		MaxLineSearch:          20,
		Workers:                1,
		SkipInvalid:            true,
	}
}

// Validate reports configuration values no trainer can use.
func (c TrainerConfig) Validate() error {
	switch c.Objective {
	case ObjectiveCRF, ObjectiveMEMM:
	default:
		return fmt.Errorf("crf: unknown objective %q", c.Objective)
	}
	if c.C1 < 0 || c.C2 < 0 {
		return fmt.Errorf("crf: regularization must be non-negative (c1=%v, c2=%v)", c.C1, c.C2)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("crf: max iterations must be non-negative, got %d", c.MaxIterations)
	}
	if c.Workers < 0 {
		return fmt.Errorf("crf: workers must be non-negative, got %d", c.Workers)
	}
	return nil
}

// Trainer fits a model's parameters to labeled instances.
type Trainer struct {
	Config TrainerConfig
	// OnIteration, if set, observes every accepted optimizer step.
	OnIteration func(Iteration) error
}

// NewObjective builds the objective the config selects.
func NewObjective(t *Transducer, instances []*Instance, config TrainerConfig) (Optimizable, error) {
	switch config.Objective {
	case ObjectiveMEMM:
		return NewMEMMObjective(t, instances, config)
	default:
		return NewCRFObjective(t, instances, config)
	}
}

// Fit optimizes model's parameters in place.
func (tr *Trainer) Fit(ctx context.Context, model *Model, instances []*Instance) (*OptimizeResult, error) {
	if err := tr.Config.Validate(); err != nil {
		return nil, err
	}
	obj, err := NewObjective(model.Transducer(), instances, tr.Config)
	if err != nil {
		return nil, err
	}
	slog.Debug("Training",
		"objective", tr.Config.Objective,
		"instances", len(instances),
		"labels", model.Labels.Size(),
		"attributes", model.Attributes.Size(),
		"parameters", obj.NumParameters(),
		"workers", tr.Config.Workers)
	return Maximize(ctx, obj, tr.Config, tr.OnIteration)
}

// Train builds a model over the sequences' labels and attributes and fits it.
func Train(ctx context.Context, sequences []TrainingSequence, config TrainerConfig) (*Model, error) {
	model := NewModelFor(sequences, config.AllPossibleTransitions)
	instances, err := model.Instances(sequences)
	if err != nil {
		return nil, err
	}
	tr := &Trainer{Config: config}
	if _, err := tr.Fit(ctx, model, instances); err != nil {
		return nil, err
	}
	return model, nil
}
