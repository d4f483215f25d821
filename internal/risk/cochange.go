package risk

import "sort"

// Co-change defaults: pairs need at least this many shared events and this
// much coupling before an edge is emitted.
const (
	DefaultMinSharedEvents = 3
	DefaultMinCoupling     = 0.25
)

// CoChangeEdge links two entities that repeatedly change together.
// Coupling is shared events divided by the smaller entity's total.
type CoChangeEdge struct {
	A        string
	B        string
	Shared   int
	Coupling float64
}

// CoChange builds edges from change events (each event is the set of
// entities touched together) and returns them with the connected-component
// clusters of the resulting graph. minShared <= 0 and minCoupling <= 0 fall
// back to the defaults. Output ordering is deterministic.
func CoChange(events [][]string, minShared int, minCoupling float64) ([]CoChangeEdge, [][]string) {
	if minShared <= 0 {
		minShared = DefaultMinSharedEvents
	}
	if minCoupling <= 0 {
		minCoupling = DefaultMinCoupling
	}

	totals := make(map[string]int)
	type pair struct{ a, b string }
	shared := make(map[pair]int)
	for _, ev := range events {
		// Distinct entities per event; an entity listed twice counts once.
		seen := make(map[string]bool)
		var members []string
		for _, e := range ev {
			if !seen[e] {
				seen[e] = true
				members = append(members, e)
			}
		}
		sort.Strings(members)
		for _, e := range members {
			totals[e]++
		}
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				shared[pair{members[i], members[j]}]++
			}
		}
	}

	var edges []CoChangeEdge
	for p, n := range shared {
		if n < minShared {
			continue
		}
		smaller := totals[p.a]
		if totals[p.b] < smaller {
			smaller = totals[p.b]
		}
		coupling := float64(n) / float64(smaller)
		if coupling < minCoupling {
			continue
		}
		edges = append(edges, CoChangeEdge{A: p.a, B: p.b, Shared: n, Coupling: coupling})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].A != edges[j].A {
			return edges[i].A < edges[j].A
		}
		return edges[i].B < edges[j].B
	})

	return edges, components(edges)
}

// components returns the connected components of the edge graph, each
// sorted, components ordered by their first member.
func components(edges []CoChangeEdge) [][]string {
	parent := make(map[string]string)
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b string) {
		if _, ok := parent[a]; !ok {
			parent[a] = a
		}
		if _, ok := parent[b]; !ok {
			parent[b] = b
		}
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}
	for _, e := range edges {
		union(e.A, e.B)
	}

	byRoot := make(map[string][]string)
	for node := range parent {
		root := find(node)
		byRoot[root] = append(byRoot[root], node)
	}
	var out [][]string
	for _, members := range byRoot {
		sort.Strings(members)
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
