// Package seqlab labels token sequences with linear-chain CRF and MEMM models.
//
// A Tagger wraps a trained model and decodes sequences of per-position
// feature sets:
//
//	tg, _ := seqlab.Load("model.json")
//	labels, _ := tg.Tag([]map[string]float64{{"w=john": 1}, {"w=smith": 1}})
//	fmt.Println(labels) // [B-NAME I-NAME]
package seqlab

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/happyhackingspace/seqlab/crf"
	"github.com/happyhackingspace/seqlab/internal/codec"
)

// Format selects a model file encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatBinary
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "JSON"
	case FormatBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// FormatFor picks the encoding from a file name: ".bin" is binary,
// anything else JSON.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".bin") {
		return FormatBinary
	}
	return FormatJSON
}

// Tagger decodes label sequences with a trained model.
type Tagger struct {
	model *crf.Model
}

// Labeling is one decoded sequence with its probability under the model.
type Labeling struct {
	Labels      []string `json:"labels"`
	Probability float64  `json:"probability"`
}

// Span is a contiguous range [Start, End) of positions carrying one label.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
}

// Correction is the relabeling implied by fixing one span.
type Correction struct {
	Labels  []string `json:"labels"`
	Changed int      `json:"changed"`
}

// NewTagger wraps a model.
func NewTagger(model *crf.Model) *Tagger {
	return &Tagger{model: model}
}

// New loads the tagger from "model.json", searching the current directory
// and parent directories up to the module root (where go.mod lives), then
// the model cache directory.
func New() (*Tagger, error) {
	path, err := findModel("model.json")
	if err != nil {
		return nil, fmt.Errorf("seqlab: %w", err)
	}
	return Load(path)
}

// ModelDir returns the per-user directory models are cached in.
func ModelDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "seqlab")
}

func findModel(name string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		// Stop at module root
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	cached := filepath.Join(ModelDir(), name)
	if _, err := os.Stat(cached); err == nil {
		return cached, nil
	}
	return "", fmt.Errorf("%s not found", name)
}

// Load loads a trained model file in either format.
func Load(path string) (*Tagger, error) {
	var model *crf.Model
	var err error
	switch FormatFor(path) {
	case FormatBinary:
		var data []byte
		data, err = os.ReadFile(path)
		if err == nil {
			model, err = codec.UnmarshalModel(data)
		}
	default:
		model, err = crf.LoadModel(path)
	}
	if err != nil {
		return nil, fmt.Errorf("seqlab: load %s: %w", path, err)
	}
	return &Tagger{model: model}, nil
}

// Save writes the model in the format its file name selects.
func (tg *Tagger) Save(path string) error {
	if tg.model == nil {
		return fmt.Errorf("seqlab: tagger not initialized")
	}
	var err error
	switch FormatFor(path) {
	case FormatBinary:
		err = os.WriteFile(path, codec.MarshalModel(tg.model), 0644)
	default:
		err = crf.SaveModel(tg.model, path)
	}
	if err != nil {
		return fmt.Errorf("seqlab: %w", err)
	}
	return nil
}

// Model returns the underlying model.
func (tg *Tagger) Model() *crf.Model {
	return tg.model
}

// Labels returns the label alphabet in id order.
func (tg *Tagger) Labels() []string {
	return tg.model.Labels.ToStr
}

// Tag returns the most likely label for each position.
func (tg *Tagger) Tag(features []map[string]float64) ([]string, error) {
	labels, err := tg.model.Predict(features)
	if err != nil {
		return nil, fmt.Errorf("seqlab: %w", err)
	}
	return labels, nil
}

// TagKBest returns up to k labelings, most likely first.
func (tg *Tagger) TagKBest(features []map[string]float64, k int) ([]Labeling, error) {
	preds, err := tg.model.PredictKBest(features, k)
	if err != nil {
		return nil, fmt.Errorf("seqlab: %w", err)
	}
	out := make([]Labeling, len(preds))
	for i, p := range preds {
		out[i] = Labeling{Labels: p.Labels, Probability: p.Probability}
	}
	return out, nil
}

// Marginals returns P(label) for every position, omitting probabilities
// below threshold.
func (tg *Tagger) Marginals(features []map[string]float64, threshold float64) ([]map[string]float64, error) {
	marg, err := tg.model.PredictMarginals(features)
	if err != nil {
		return nil, fmt.Errorf("seqlab: %w", err)
	}
	for _, m := range marg {
		for label, p := range m {
			if p < threshold {
				delete(m, label)
			}
		}
	}
	return marg, nil
}

// Confidence returns the probability of the best labeling.
func (tg *Tagger) Confidence(features []map[string]float64) (float64, error) {
	p, err := crf.SequenceConfidence(tg.model.Transducer(), tg.model.Input(features))
	if err != nil {
		return 0, fmt.Errorf("seqlab: %w", err)
	}
	return p, nil
}

func (tg *Tagger) segment(span Span) (crf.Segment, error) {
	y := tg.model.Labels.Get(span.Label)
	if y < 0 {
		return crf.Segment{}, fmt.Errorf("seqlab: %w: unknown label %q", crf.ErrLabelRange, span.Label)
	}
	return crf.Segment{Start: span.Start, End: span.End, Label: y}, nil
}

// SpanConfidence returns the probability that every position of span
// carries span.Label.
func (tg *Tagger) SpanConfidence(features []map[string]float64, span Span) (float64, error) {
	seg, err := tg.segment(span)
	if err != nil {
		return 0, err
	}
	p, err := crf.SegmentConfidence(tg.model.Transducer(), tg.model.Input(features), seg)
	if err != nil {
		return 0, fmt.Errorf("seqlab: %w", err)
	}
	return p, nil
}

// Spans groups consecutive equal labels into spans.
func Spans(labels []string) []Span {
	var spans []Span
	for i, label := range labels {
		if n := len(spans); n > 0 && spans[n-1].Label == label && spans[n-1].End == i {
			spans[n-1].End++
			continue
		}
		spans = append(spans, Span{Start: i, End: i + 1, Label: label})
	}
	return spans
}

// Correct relabels the sequence with span fixed to span.Label.
func (tg *Tagger) Correct(features []map[string]float64, span Span) (*Correction, error) {
	seg, err := tg.segment(span)
	if err != nil {
		return nil, err
	}
	res, err := crf.Correct(tg.model.Transducer(), tg.model.Input(features), seg)
	if err != nil {
		return nil, fmt.Errorf("seqlab: %w", err)
	}
	return &Correction{
		Labels:  res.Path.LabelStrings(tg.model.Labels),
		Changed: res.Changed,
	}, nil
}
