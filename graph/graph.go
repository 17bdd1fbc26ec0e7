package graph

import (
	"fmt"
	"strings"
)

// Graph is a directed graph with nodes kept in insertion order.
type Graph[T comparable] struct {
	nodes []T
	index map[T]int
	succ  [][]int
	edges map[[2]int]bool
}

// New returns an empty graph.
func New[T comparable]() *Graph[T] {
	return &Graph[T]{index: make(map[T]int), edges: make(map[[2]int]bool)}
}

// AddNode adds n if it is not present yet.
func (g *Graph[T]) AddNode(n T) {
	g.id(n)
}

func (g *Graph[T]) id(n T) int {
	if i, ok := g.index[n]; ok {
		return i
	}
	i := len(g.nodes)
	g.index[n] = i
	g.nodes = append(g.nodes, n)
	g.succ = append(g.succ, nil)
	return i
}

// AddEdge records that from must come before to.
func (g *Graph[T]) AddEdge(from, to T) {
	f, t := g.id(from), g.id(to)
	if g.edges[[2]int{f, t}] {
		return
	}
	g.edges[[2]int{f, t}] = true
	g.succ[f] = append(g.succ[f], t)
}

// HasEdge reports whether the edge from → to exists.
func (g *Graph[T]) HasEdge(from, to T) bool {
	f, ok1 := g.index[from]
	t, ok2 := g.index[to]
	return ok1 && ok2 && g.edges[[2]int{f, t}]
}

// Nodes returns the nodes in insertion order.
func (g *Graph[T]) Nodes() []T {
	return append([]T(nil), g.nodes...)
}

// Len returns the number of nodes.
func (g *Graph[T]) Len() int { return len(g.nodes) }

// Successors returns the nodes that must come after n.
func (g *Graph[T]) Successors(n T) []T {
	i, ok := g.index[n]
	if !ok {
		return nil
	}
	out := make([]T, len(g.succ[i]))
	for j, s := range g.succ[i] {
		out[j] = g.nodes[s]
	}
	return out
}

// Sort returns the nodes in dependency order using Kahn's algorithm. Of
// the nodes that are ready at any step, the earliest added goes first.
func (g *Graph[T]) Sort() ([]T, error) {
	indegree := make([]int, len(g.nodes))
	for _, succ := range g.succ {
		for _, s := range succ {
			indegree[s]++
		}
	}
	var (
		ready = newMinQueue()
		order = make([]T, 0, len(g.nodes))
	)
	for i, d := range indegree {
		if d == 0 {
			ready.push(i)
		}
	}
	for ready.len() > 0 {
		i := ready.pop()
		order = append(order, g.nodes[i])
		for _, s := range g.succ[i] {
			if indegree[s]--; indegree[s] == 0 {
				ready.push(s)
			}
		}
	}
	if len(order) == len(g.nodes) {
		return order, nil
	}
	var cycles [][]T
	for _, c := range g.Components() {
		if g.Cyclic(c) {
			cycles = append(cycles, c)
		}
	}
	return nil, &CycleError[T]{Cycles: cycles}
}

// Components returns the strongly connected components of the graph in
// dependency order: every edge between two components goes from an
// earlier component to a later one.
func (g *Graph[T]) Components() [][]T {
	var (
		next    int
		stack   []int
		indices = make([]int, len(g.nodes))
		lowlink = make([]int, len(g.nodes))
		onStack = make([]bool, len(g.nodes))
		comps   [][]int
	)
	for i := range indices {
		indices[i] = -1
	}
	var connect func(v int)
	connect = func(v int) {
		indices[v], lowlink[v] = next, next
		next++
		stack = append(stack, v)
		onStack[v] = true
		for _, w := range g.succ[v] {
			switch {
			case indices[w] < 0:
				connect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			case onStack[w]:
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}
		if lowlink[v] != indices[v] {
			return
		}
		var comp []int
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		comps = append(comps, comp)
	}
	for v := range g.nodes {
		if indices[v] < 0 {
			connect(v)
		}
	}
	// Tarjan emits a component after everything reachable from it.
	out := make([][]T, len(comps))
	for i, comp := range comps {
		sortInts(comp)
		nodes := make([]T, len(comp))
		for j, v := range comp {
			nodes[j] = g.nodes[v]
		}
		out[len(comps)-1-i] = nodes
	}
	return out
}

// Cyclic reports whether the component contains a cycle: more than one
// node, or a single node with an edge to itself.
func (g *Graph[T]) Cyclic(comp []T) bool {
	if len(comp) > 1 {
		return true
	}
	return len(comp) == 1 && g.HasEdge(comp[0], comp[0])
}

// Subgraph returns the graph induced by the given nodes.
func (g *Graph[T]) Subgraph(nodes []T) *Graph[T] {
	sub := New[T]()
	keep := make(map[int]bool, len(nodes))
	for _, n := range nodes {
		if i, ok := g.index[n]; ok {
			keep[i] = true
			sub.AddNode(n)
		}
	}
	for f := range g.nodes {
		if !keep[f] {
			continue
		}
		for _, t := range g.succ[f] {
			if keep[t] {
				sub.AddEdge(g.nodes[f], g.nodes[t])
			}
		}
	}
	return sub
}

// CycleError is returned by Sort when the graph has cycles.
type CycleError[T comparable] struct {
	Cycles [][]T
}

func (e *CycleError[T]) Error() string {
	parts := make([]string, len(e.Cycles))
	for i, c := range e.Cycles {
		names := make([]string, len(c))
		for j, n := range c {
			names[j] = fmt.Sprint(n)
		}
		parts[i] = strings.Join(names, ", ")
	}
	return "graph: dependency cycle between [" + strings.Join(parts, "], [") + "]"
}

// minQueue pops node indexes in ascending order.
type minQueue struct{ items []int }

func newMinQueue() *minQueue { return &minQueue{} }

func (q *minQueue) len() int { return len(q.items) }

func (q *minQueue) push(i int) {
	q.items = append(q.items, i)
	for c := len(q.items) - 1; c > 0; {
		p := (c - 1) / 2
		if q.items[p] <= q.items[c] {
			break
		}
		q.items[p], q.items[c] = q.items[c], q.items[p]
		c = p
	}
}

func (q *minQueue) pop() int {
	top := q.items[0]
	last := len(q.items) - 1
	q.items[0] = q.items[last]
	q.items = q.items[:last]
	for p := 0; ; {
		l, r, m := 2*p+1, 2*p+2, p
		if l < len(q.items) && q.items[l] < q.items[m] {
			m = l
		}
		if r < len(q.items) && q.items[r] < q.items[m] {
			m = r
		}
		if m == p {
			break
		}
		q.items[p], q.items[m] = q.items[m], q.items[p]
		p = m
	}
	return top
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
