// Package crf implements weighted finite-state transducers and the lattice
// computations used to train and decode linear-chain CRFs and MEMMs.
//
// A label sequence is a path through a Transducer. SumLattice computes the
// total weight of all paths (forward-backward), MaxLattice finds the best
// and k-best paths (Viterbi), and a Constraint restricts either lattice to
// the paths consistent with known labels.
package crf

import "errors"

var (
	// ErrNoPath reports that no path satisfies the transducer and constraint.
	ErrNoPath = errors.New("crf: no valid path")
	// ErrNumeric reports NaN or +Inf where only finite or -Inf weights are allowed.
	ErrNumeric = errors.New("crf: numeric corruption")
	// ErrLengthMismatch reports labels or a constraint that do not align with the input.
	ErrLengthMismatch = errors.New("crf: length mismatch")
	// ErrLabelRange reports a label id outside the label alphabet.
	ErrLabelRange = errors.New("crf: label out of range")
	// ErrFeatureRange reports a feature index outside the model's feature space.
	ErrFeatureRange = errors.New("crf: feature out of range")
	// ErrSegmentRange reports an empty, inverted, or out-of-bounds segment.
	ErrSegmentRange = errors.New("crf: segment out of range")
	// ErrSegmentConflict reports overlapping segments requiring different labels.
	ErrSegmentConflict = errors.New("crf: conflicting segments")
)

// Alphabet maps between string labels/attributes and integer IDs.
type Alphabet struct {
	ToID  map[string]int `json:"to_id"`
	ToStr []string       `json:"to_str"`
}

// NewAlphabet creates an empty alphabet.
func NewAlphabet() *Alphabet {
	return &Alphabet{
		ToID: make(map[string]int),
	}
}

// NewAlphabetOf creates an alphabet holding entries in the given order.
func NewAlphabetOf(entries ...string) *Alphabet {
	a := NewAlphabet()
	for _, s := range entries {
		a.Add(s)
	}
	return a
}

// Add adds a string to the alphabet if not already present, returns its ID.
func (a *Alphabet) Add(s string) int {
	if id, ok := a.ToID[s]; ok {
		return id
	}
	id := len(a.ToStr)
	a.ToID[s] = id
	a.ToStr = append(a.ToStr, s)
	return id
}

// Get returns the ID for a string, or -1 if not found.
func (a *Alphabet) Get(s string) int {
	if id, ok := a.ToID[s]; ok {
		return id
	}
	return -1
}

// Lookup returns the string for an ID, or "" if the ID is unknown.
func (a *Alphabet) Lookup(id int) string {
	if id < 0 || id >= len(a.ToStr) {
		return ""
	}
	return a.ToStr[id]
}

// Size returns the number of entries.
func (a *Alphabet) Size() int {
	return len(a.ToStr)
}
