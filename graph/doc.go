// Package graph provides dependency ordering over directed graphs.
//
// The unit of work orders mappers, and rows within a self-referential
// group of mappers, by building a Graph where an edge from A to B means A
// must be processed before B:
//
//	g := graph.New[string]()
//	g.AddEdge("users", "addresses")
//	order, err := g.Sort()
//
// Sort fails with a *CycleError naming the nodes involved when the graph
// is not acyclic. Components groups the nodes into strongly connected
// components, listed in dependency order, so that cycles can be handled as
// a unit.
//
// Node order is deterministic: among nodes that are free to go in any
// order, the order in which they were first added wins.
package graph
