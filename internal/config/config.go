// Package config loads training configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/happyhackingspace/seqlab/crf"
)

// Config is the top-level configuration file.
type Config struct {
	Trainer    crf.TrainerConfig `yaml:"trainer"`
	Checkpoint Checkpoint        `yaml:"checkpoint"`
	Folds      int               `yaml:"folds"`
}

// Checkpoint controls snapshot writing during training.
type Checkpoint struct {
	Path   string `yaml:"path"`   // bbolt file; empty disables checkpoints
	Every  int    `yaml:"every"`  // write every N iterations
	Keep   int    `yaml:"keep"`   // snapshots retained, 0 keeps all
	Resume bool   `yaml:"resume"` // start from the latest snapshot
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Trainer: crf.DefaultTrainerConfig(),
		Checkpoint: Checkpoint{
			Every: 1,
			Keep:  3,
		},
		Folds: 10,
	}
}

// Parse overlays YAML onto the defaults. Unknown keys are an error.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Validate checks the trainer settings and the remaining fields.
func (c Config) Validate() error {
	if err := c.Trainer.Validate(); err != nil {
		return err
	}
	if c.Checkpoint.Every < 1 {
		return fmt.Errorf("config: checkpoint.every must be at least 1, got %d", c.Checkpoint.Every)
	}
	if c.Checkpoint.Keep < 0 {
		return fmt.Errorf("config: checkpoint.keep must be non-negative, got %d", c.Checkpoint.Keep)
	}
	if c.Folds < 2 {
		return fmt.Errorf("config: folds must be at least 2, got %d", c.Folds)
	}
	return nil
}
