package resolver

import (
	"fmt"
	"sort"
	"strings"
)

// ArrowProperties describe one dependency edge.
type ArrowProperties struct {
	Build bool
	Run   bool
	Post  bool
	// BuildAllMet is set when every build-time requirement behind the
	// edge is already satisfied by the installed world.
	BuildAllMet bool
}

// An Arrow is one directed edge in the NAG, from a dependent resolvent to
// the resolvent it depends on. IgnorablePass grades how relaxable the
// edge is during cycle breaking: 0 never, 1 when the dependency is
// satisfied by an installed ID, 2 for runtime-or-later-only edges.
type Arrow struct {
	From, To      Resolvent
	IgnorablePass int
	Properties    ArrowProperties
}

// NAG is the node-arc graph over resolvents.
type NAG struct {
	nodes map[Resolvent]bool
	// edges[from][to] holds the strongest arrow recorded for the pair.
	edges map[Resolvent]map[Resolvent]*Arrow
}

// NewNAG returns an empty graph.
func NewNAG() *NAG {
	return &NAG{
		nodes: make(map[Resolvent]bool),
		edges: make(map[Resolvent]map[Resolvent]*Arrow),
	}
}

// AddNode ensures r is present.
func (g *NAG) AddNode(r Resolvent) { g.nodes[r] = true }

// AddArrow records an edge; a second arrow for the same pair keeps the
// harder (lower) ignorable pass and merges properties.
func (g *NAG) AddArrow(a Arrow) {
	g.AddNode(a.From)
	g.AddNode(a.To)
	m := g.edges[a.From]
	if m == nil {
		m = make(map[Resolvent]*Arrow)
		g.edges[a.From] = m
	}
	if have, ok := m[a.To]; ok {
		if a.IgnorablePass < have.IgnorablePass {
			have.IgnorablePass = a.IgnorablePass
		}
		have.Properties.Build = have.Properties.Build || a.Properties.Build
		have.Properties.Run = have.Properties.Run || a.Properties.Run
		have.Properties.Post = have.Properties.Post || a.Properties.Post
		have.Properties.BuildAllMet = have.Properties.BuildAllMet && a.Properties.BuildAllMet
		return
	}
	cp := a
	m[a.To] = &cp
}

// OrderingResult is the outcome of Order.
type OrderingResult struct {
	// Ordered holds every orderable resolvent, dependencies first.
	Ordered []Resolvent
	// ForcedBreaks describes each cycle broken by relaxing arrows, one
	// line per relaxation pass that was needed.
	ForcedBreaks []string
}

// UnorderableError reports the residual set when even the final
// relaxation pass leaves nothing emittable.
type UnorderableError struct {
	Remaining []Resolvent
	Cycle     []string
}

func (e *UnorderableError) Error() string {
	return fmt.Sprintf("cannot order %d resolutions; cycle: %s",
		len(e.Remaining), strings.Join(e.Cycle, " -> "))
}

func sortedResolvents(set map[Resolvent]bool) []Resolvent {
	out := make([]Resolvent, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Order emits resolvents so that every arrow's target precedes its
// source. When nothing is emittable it relaxes arrows of ignorable pass
// <= 1, then <= 2, recording a description of each forced break. If the
// graph still cannot advance, it fails with the remaining set and a cycle
// witness.
func (g *NAG) Order() (*OrderingResult, error) {
	emitted := make(map[Resolvent]bool)
	remaining := make(map[Resolvent]bool, len(g.nodes))
	for n := range g.nodes {
		remaining[n] = true
	}

	res := &OrderingResult{}
	relax := 0

	emittable := func(n Resolvent) bool {
		for to, a := range g.edges[n] {
			if to == n || emitted[to] {
				continue
			}
			if a.IgnorablePass > 0 && a.IgnorablePass <= relax {
				continue
			}
			return false
		}
		return true
	}

	for len(remaining) > 0 {
		progressed := false
		for _, n := range sortedResolvents(remaining) {
			if emittable(n) {
				res.Ordered = append(res.Ordered, n)
				emitted[n] = true
				delete(remaining, n)
				progressed = true
			}
		}
		if progressed {
			continue
		}
		if relax < 2 {
			relax++
			res.ForcedBreaks = append(res.ForcedBreaks,
				fmt.Sprintf("relaxing arrows of ignorable pass <= %d over {%s}",
					relax, describeSet(remaining)))
			continue
		}
		return nil, &UnorderableError{
			Remaining: sortedResolvents(remaining),
			Cycle:     g.findCycle(remaining),
		}
	}
	return res, nil
}

func describeSet(set map[Resolvent]bool) string {
	names := make([]string, 0, len(set))
	for _, r := range sortedResolvents(set) {
		names = append(names, r.String())
	}
	return strings.Join(names, ", ")
}

// findCycle walks unemitted edges from an arbitrary stuck node until a
// node repeats, producing a closed witness path.
func (g *NAG) findCycle(remaining map[Resolvent]bool) []string {
	nodes := sortedResolvents(remaining)
	if len(nodes) == 0 {
		return nil
	}
	seen := make(map[Resolvent]int)
	var path []Resolvent
	cur := nodes[0]
	for {
		if at, ok := seen[cur]; ok {
			var out []string
			for _, r := range path[at:] {
				out = append(out, r.String())
			}
			return append(out, cur.String())
		}
		seen[cur] = len(path)
		path = append(path, cur)

		next := cur
		found := false
		for _, to := range sortedResolvents(remaining) {
			if a, ok := g.edges[cur][to]; ok && a != nil && to != cur {
				next = to
				found = true
				break
			}
		}
		if !found {
			return []string{cur.String(), cur.String()}
		}
		cur = next
	}
}
