package crf

import (
	"container/heap"
	"fmt"
)

// pathNode is a path suffix from (pos, state) to the end of the input.
// Nodes live in an arena and point at their successor by index.
type pathNode struct {
	pos    int
	state  int
	edge   int // transition from this node to next, -1 at the final column
	next   int // arena index of the successor, -1 at the final column
	suffix float64
}

type frontierItem struct {
	node     int
	priority float64
	seq      int
}

// frontier is a max-heap on priority; equal priorities pop in push order.
type frontier []frontierItem

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	if f[i].priority != f[j].priority {
		return f[i].priority > f[j].priority
	}
	return f[i].seq < f[j].seq
}
func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x any) { *f = append(*f, x.(frontierItem)) }
func (f *frontier) Pop() any {
	old := *f
	it := old[len(old)-1]
	*f = old[:len(old)-1]
	return it
}

// KBest returns up to k paths in non-increasing weight order.
//
// The search grows suffixes backward from the final column. A suffix at
// (pos, s) is ranked by Score(pos, s) + suffix weight, which is exactly the
// best weight of any complete path through it, so complete paths leave the
// frontier best first and none is produced twice.
func (l *MaxLattice) KBest(k int) ([]Path, error) {
	if k <= 0 {
		return nil, nil
	}
	arena := make([]pathNode, 0, 4*(l.n+1))
	fr := make(frontier, 0, l.t.NumStates())
	seq := 0
	push := func(nd pathNode) {
		prio := l.delta[nd.pos][nd.state] + nd.suffix
		if isNegInf(prio) {
			return
		}
		arena = append(arena, nd)
		heap.Push(&fr, frontierItem{node: len(arena) - 1, priority: prio, seq: seq})
		seq++
	}

	for s := range l.t.NumStates() {
		push(pathNode{pos: l.n, state: s, edge: -1, next: -1, suffix: l.t.states[s].Final})
	}

	var paths []Path
	for fr.Len() > 0 && len(paths) < k {
		it := heap.Pop(&fr).(frontierItem)
		nd := arena[it.node]
		if nd.pos == 0 {
			paths = append(paths, l.materialize(arena, it.node, it.priority))
			continue
		}
		w := l.weights[nd.pos-1]
		for _, e := range l.t.states[nd.state].In {
			if isNegInf(w[e]) {
				continue
			}
			push(pathNode{
				pos:    nd.pos - 1,
				state:  l.t.trans[e].From,
				edge:   e,
				next:   it.node,
				suffix: nd.suffix + w[e],
			})
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no final state reachable after %d positions", ErrNoPath, l.n)
	}
	return paths, nil
}

func (l *MaxLattice) materialize(arena []pathNode, head int, weight float64) Path {
	p := Path{
		States: make([]int, l.n+1),
		Edges:  make([]int, l.n),
		Labels: make([]int, l.n),
		Weight: weight,
	}
	nd := arena[head]
	p.States[0] = nd.state
	for nd.next >= 0 {
		p.Edges[nd.pos] = nd.edge
		p.Labels[nd.pos] = l.t.trans[nd.edge].Label
		nd = arena[nd.next]
		p.States[nd.pos] = nd.state
	}
	return p
}
