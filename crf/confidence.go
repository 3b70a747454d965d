package crf

import "math"

// ConstrainedTotalWeight returns the log of the summed weight of all paths
// that emit seg.Label on every position of seg.
func ConstrainedTotalWeight(t *Transducer, inst *Instance, seg Segment) (float64, error) {
	c, err := NewSegmentConstraint(inst.Len(), seg)
	if err != nil {
		return 0, err
	}
	lat, err := NewSumLattice(t, inst, c)
	if err != nil {
		return 0, err
	}
	return lat.Total(), nil
}

// SegmentConfidence returns the probability that the positions of seg carry
// seg.Label, summed over every labeling of the rest of the sequence.
func SegmentConfidence(t *Transducer, inst *Instance, seg Segment) (float64, error) {
	constrained, err := ConstrainedTotalWeight(t, inst, seg)
	if err != nil {
		return 0, err
	}
	lat, err := NewSumLattice(t, inst, nil)
	if err != nil {
		return 0, err
	}
	if isNegInf(constrained) || isNegInf(lat.Total()) {
		return 0, nil
	}
	return math.Exp(constrained - lat.Total()), nil
}

// SequenceConfidence returns the probability of the best path.
func SequenceConfidence(t *Transducer, inst *Instance) (float64, error) {
	sum, err := NewSumLattice(t, inst, nil)
	if err != nil {
		return 0, err
	}
	vit, err := NewMaxLattice(t, inst, nil)
	if err != nil {
		return 0, err
	}
	best := vit.BestWeight()
	if isNegInf(best) {
		return 0, ErrNoPath
	}
	return math.Exp(best - sum.Total()), nil
}

// Correction is the best path under a segment constraint.
type Correction struct {
	Path Path
	// Changed counts positions outside the segment whose label differs from
	// the unconstrained best path.
	Changed int
}

// Correct decodes inst with seg's positions forced to seg.Label.
func Correct(t *Transducer, inst *Instance, seg Segment) (Correction, error) {
	free, err := NewMaxLattice(t, inst, nil)
	if err != nil {
		return Correction{}, err
	}
	before, err := free.BestPath()
	if err != nil {
		return Correction{}, err
	}
	c, err := NewSegmentConstraint(inst.Len(), seg)
	if err != nil {
		return Correction{}, err
	}
	pinned, err := NewMaxLattice(t, inst, c)
	if err != nil {
		return Correction{}, err
	}
	after, err := pinned.BestPath()
	if err != nil {
		return Correction{}, err
	}
	res := Correction{Path: after}
	for pos, y := range after.Labels {
		if pos >= seg.Start && pos < seg.End {
			continue
		}
		if y != before.Labels[pos] {
			res.Changed++
		}
	}
	return res, nil
}
