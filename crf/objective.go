package crf

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// Optimizable is what a gradient-based optimizer needs from a training
// objective. Value and gradient are maximized.
type Optimizable interface {
	NumParameters() int
	Parameters(buf []float64)
	SetParameters(p []float64)
	Value() (float64, error)
	ValueGradient(buf []float64) error
}

// InstanceError identifies the training instance an evaluation failed on.
type InstanceError struct {
	Index int
	Name  string
	Err   error
}

func (e *InstanceError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("instance %d (%s): %v", e.Index, e.Name, e.Err)
	}
	return fmt.Sprintf("instance %d: %v", e.Index, e.Err)
}

func (e *InstanceError) Unwrap() error { return e.Err }

// partial is one worker's share of an evaluation.
type partial struct {
	value   float64
	grad    *Expectations
	skipped []int
	err     error
}

func (p *partial) merge(o *partial) {
	p.value += o.value
	p.grad.Merge(o.grad)
	p.skipped = append(p.skipped, o.skipped...)
	if p.err == nil {
		p.err = o.err
	}
}

// instanceFunc scores one instance and adds its gradient contribution to
// grad. It must leave grad untouched when it returns an error.
type instanceFunc func(inst *Instance, idx int, grad *Expectations) (float64, error)

// evaluate splits instances into contiguous shards, runs fn over each shard
// in its own goroutine with a private accumulator, and merges the shards in
// order. Instances failing with ErrNoPath are skipped when skipInvalid is set.
func evaluate(instances []*Instance, workers, dim int, skipInvalid bool, fn instanceFunc) (*partial, error) {
	if workers < 1 {
		workers = 1
	}
	if workers > len(instances) {
		workers = max(1, len(instances))
	}
	chunk := (len(instances) + workers - 1) / workers

	parts := make([]*partial, workers)
	var wg sync.WaitGroup
	for w := range workers {
		parts[w] = &partial{grad: NewExpectations(dim)}
		lo, hi := w*chunk, min((w+1)*chunk, len(instances))
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(p *partial, lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				v, err := fn(instances[i], i, p.grad)
				if err != nil {
					if skipInvalid && errors.Is(err, ErrNoPath) {
						p.skipped = append(p.skipped, i)
						continue
					}
					p.err = &InstanceError{Index: i, Name: instances[i].Name, Err: err}
					return
				}
				p.value += v
			}
		}(parts[w], lo, hi)
	}
	wg.Wait()

	total := parts[0]
	for _, p := range parts[1:] {
		total.merge(p)
	}
	if total.err != nil {
		return nil, total.err
	}
	return total, nil
}

// objectiveCache holds the shared parameter plumbing of CRF and MEMM
// objectives: the current value and gradient stay valid until the
// parameters change.
type objectiveCache struct {
	t           *Transducer
	instances   []*Instance
	c2          float64
	workers     int
	skipInvalid bool

	valid  bool
	value  float64
	grad   []float64
	warned map[int]bool
	eval   instanceFunc
}

func (o *objectiveCache) NumParameters() int {
	return len(o.t.params.Values)
}

func (o *objectiveCache) Parameters(buf []float64) {
	copy(buf, o.t.params.Values)
}

// SetParameters replaces the parameter vector. Callers must not run it
// concurrently with Value or ValueGradient.
func (o *objectiveCache) SetParameters(p []float64) {
	copy(o.t.params.Values, p)
	o.valid = false
}

func (o *objectiveCache) Value() (float64, error) {
	if err := o.compute(); err != nil {
		return 0, err
	}
	return o.value, nil
}

func (o *objectiveCache) ValueGradient(buf []float64) error {
	if err := o.compute(); err != nil {
		return err
	}
	copy(buf, o.grad)
	return nil
}

func (o *objectiveCache) compute() error {
	if o.valid {
		return nil
	}
	w := o.t.params.Values
	res, err := evaluate(o.instances, o.workers, len(w), o.skipInvalid, o.eval)
	if err != nil {
		return err
	}
	for _, i := range res.skipped {
		if !o.warned[i] {
			o.warned[i] = true
			slog.Warn("Skipping instance with no valid path", "index", i, "name", o.instances[i].Name)
		}
	}

	o.value = res.value
	o.grad = res.grad.Values
	if o.c2 > 0 {
		o.value -= 0.5 * o.c2 * floats.Dot(w, w)
		floats.AddScaled(o.grad, -o.c2, w)
	}
	o.valid = true
	return nil
}

// CRFObjective is the conditional log-likelihood of a linear-chain CRF:
// for each instance, the constrained total weight minus the unconstrained
// total weight, minus an L2 penalty of c2/2·‖w‖². Its gradient is the
// constrained minus the unconstrained feature expectations, minus c2·w.
type CRFObjective struct {
	objectiveCache
	constraints []*Constraint
}

// NewCRFObjective builds the objective over labeled instances. The
// transducer's parameters become the optimization variables.
func NewCRFObjective(t *Transducer, instances []*Instance, config TrainerConfig) (*CRFObjective, error) {
	o := &CRFObjective{
		objectiveCache: newObjectiveCache(t, instances, config),
		constraints:    make([]*Constraint, len(instances)),
	}
	for i, inst := range instances {
		if err := checkTrainingInstance(t, inst); err != nil {
			return nil, &InstanceError{Index: i, Name: inst.Name, Err: err}
		}
		o.constraints[i] = NewExactConstraint(inst.Labels)
	}
	o.eval = o.instanceValue
	return o, nil
}

func newObjectiveCache(t *Transducer, instances []*Instance, config TrainerConfig) objectiveCache {
	return objectiveCache{
		t:           t,
		instances:   instances,
		c2:          config.C2,
		workers:     config.Workers,
		skipInvalid: config.SkipInvalid,
		warned:      make(map[int]bool),
	}
}

func checkTrainingInstance(t *Transducer, inst *Instance) error {
	if !inst.Labeled() {
		return fmt.Errorf("%w: training instance has no labels", ErrLengthMismatch)
	}
	return t.Validate(inst)
}

func (o *CRFObjective) instanceValue(inst *Instance, idx int, grad *Expectations) (float64, error) {
	num, err := NewSumLattice(o.t, inst, o.constraints[idx])
	if err != nil {
		return 0, err
	}
	if isNegInf(num.Total()) {
		return 0, fmt.Errorf("%w: labels are unreachable", ErrNoPath)
	}
	den, err := NewSumLattice(o.t, inst, nil)
	if err != nil {
		return 0, err
	}
	grad.AddLattice(num, 1)
	grad.AddLattice(den, -1)
	return num.Total() - den.Total(), nil
}
