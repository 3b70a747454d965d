package crf

import (
	"fmt"
	"math"
)

// MEMMObjective is the locally normalized log-likelihood of a maximum-entropy
// Markov model over the same transducer: at every position the gold
// transition competes only against the other transitions leaving the gold
// source state.
type MEMMObjective struct {
	objectiveCache
	gold []Path
}

// NewMEMMObjective builds the objective over labeled instances. Each gold
// state sequence is fixed once here by constrained Viterbi, so unlabeled
// positions are filled with the best completion under the initial parameters.
func NewMEMMObjective(t *Transducer, instances []*Instance, config TrainerConfig) (*MEMMObjective, error) {
	o := &MEMMObjective{
		objectiveCache: newObjectiveCache(t, instances, config),
		gold:           make([]Path, len(instances)),
	}
	for i, inst := range instances {
		if err := checkTrainingInstance(t, inst); err != nil {
			return nil, &InstanceError{Index: i, Name: inst.Name, Err: err}
		}
		lat, err := NewMaxLattice(t, inst, NewExactConstraint(inst.Labels))
		if err != nil {
			return nil, &InstanceError{Index: i, Name: inst.Name, Err: err}
		}
		p, err := lat.BestPath()
		if err != nil && !config.SkipInvalid {
			return nil, &InstanceError{Index: i, Name: inst.Name, Err: err}
		}
		o.gold[i] = p
	}
	o.eval = o.instanceValue
	return o, nil
}

// LocalDistribution returns P(e | source state, input at pos) for every
// transition leaving state s, in Outgoing order. It fails with ErrNoPath when
// no transition leaving s has finite weight.
func LocalDistribution(t *Transducer, s int, fv FeatureVector) ([]float64, error) {
	lp, err := localLogDistribution(t, s, fv)
	if err != nil {
		return nil, err
	}
	for i := range lp {
		lp[i] = math.Exp(lp[i])
	}
	return lp, nil
}

// localLogDistribution is LocalDistribution in log space.
func localLogDistribution(t *Transducer, s int, fv FeatureVector) ([]float64, error) {
	out := t.Outgoing(s)
	ws := make([]float64, len(out))
	for i, e := range out {
		ws[i] = t.weight(&t.trans[e], fv)
		if err := checkWeight(ws[i], "transition", 0, e); err != nil {
			return nil, err
		}
	}
	logZ := logSumExp(ws)
	if isNegInf(logZ) {
		return nil, fmt.Errorf("%w: state %d has no transition with finite weight", ErrNoPath, s)
	}
	for i := range ws {
		ws[i] -= logZ
	}
	return ws, nil
}

func (o *MEMMObjective) instanceValue(inst *Instance, idx int, grad *Expectations) (float64, error) {
	gold := o.gold[idx]
	if gold.States == nil {
		return 0, fmt.Errorf("%w: labels are unreachable", ErrNoPath)
	}
	var value float64
	logDists := make([][]float64, len(gold.Edges))
	for pos, ge := range gold.Edges {
		lp, err := localLogDistribution(o.t, gold.States[pos], inst.Features[pos])
		if err != nil {
			return 0, err
		}
		for i, e := range o.t.Outgoing(gold.States[pos]) {
			if e == ge {
				value += lp[i]
			}
		}
		logDists[pos] = lp
	}
	if isNegInf(value) {
		return 0, fmt.Errorf("%w: gold transition has zero local probability", ErrNoPath)
	}

	for pos, ge := range gold.Edges {
		fv := inst.Features[pos]
		for i, e := range o.t.Outgoing(gold.States[pos]) {
			grad.addTransition(o.t, e, fv, -math.Exp(logDists[pos][i]))
		}
		grad.addTransition(o.t, ge, fv, 1)
	}
	return value, nil
}
