package crf

import "fmt"

// Segment pins positions [Start, End) to Label.
type Segment struct {
	Start int `json:"start"`
	End   int `json:"end"`
	Label int `json:"label"`
}

// Constraint restricts a lattice to paths whose emitted labels agree with
// the pinned positions. A nil *Constraint permits every path.
type Constraint struct {
	pinned []int // -1 = free
}

// NewExactConstraint pins every position to the given label. Entries of -1
// are left free, which makes partially labeled sequences usable too.
func NewExactConstraint(labels []int) *Constraint {
	c := &Constraint{pinned: make([]int, len(labels))}
	copy(c.pinned, labels)
	return c
}

// NewSegmentConstraint pins each segment's positions and leaves the rest of
// a length-long sequence free.
func NewSegmentConstraint(length int, segs ...Segment) (*Constraint, error) {
	c := &Constraint{pinned: make([]int, length)}
	for i := range c.pinned {
		c.pinned[i] = -1
	}
	for _, seg := range segs {
		if seg.Start < 0 || seg.End > length || seg.Start >= seg.End || seg.Label < 0 {
			return nil, fmt.Errorf("%w: [%d,%d) label %d in sequence of length %d",
				ErrSegmentRange, seg.Start, seg.End, seg.Label, length)
		}
		for pos := seg.Start; pos < seg.End; pos++ {
			if p := c.pinned[pos]; p >= 0 && p != seg.Label {
				return nil, fmt.Errorf("%w: position %d pinned to both %d and %d",
					ErrSegmentConflict, pos, p, seg.Label)
			}
			c.pinned[pos] = seg.Label
		}
	}
	return c, nil
}

// Len returns the sequence length the constraint was built for.
func (c *Constraint) Len() int {
	return len(c.pinned)
}

// Permits reports whether label may be emitted at pos.
func (c *Constraint) Permits(pos, label int) bool {
	if c == nil {
		return true
	}
	p := c.pinned[pos]
	return p < 0 || p == label
}

// Pinned returns the required label at pos, if any.
func (c *Constraint) Pinned(pos int) (int, bool) {
	if c == nil || c.pinned[pos] < 0 {
		return 0, false
	}
	return c.pinned[pos], true
}

func (c *Constraint) check(length, numLabels int) error {
	if c == nil {
		return nil
	}
	if len(c.pinned) != length {
		return fmt.Errorf("%w: constraint covers %d positions, input has %d", ErrLengthMismatch, len(c.pinned), length)
	}
	for pos, y := range c.pinned {
		if y < -1 || y >= numLabels {
			return fmt.Errorf("%w: constraint label %d at position %d", ErrLabelRange, y, pos)
		}
	}
	return nil
}

// transitionWeights caches the log weight of every transition at every
// position, with transitions the constraint forbids set to -Inf.
func transitionWeights(t *Transducer, inst *Instance, c *Constraint) ([][]float64, error) {
	n := inst.Len()
	weights := make([][]float64, n)
	for pos := range n {
		row := make([]float64, len(t.trans))
		fv := inst.Features[pos]
		for e := range t.trans {
			tr := &t.trans[e]
			if !c.Permits(pos, tr.Label) {
				row[e] = negInf
				continue
			}
			w := t.weight(tr, fv)
			if err := checkWeight(w, "transition", pos, e); err != nil {
				return nil, err
			}
			row[e] = w
		}
		weights[pos] = row
	}
	return weights, nil
}

func prepare(t *Transducer, inst *Instance, c *Constraint) ([][]float64, error) {
	if err := t.Validate(inst); err != nil {
		return nil, err
	}
	if err := c.check(inst.Len(), t.labels.Size()); err != nil {
		return nil, err
	}
	return transitionWeights(t, inst, c)
}
