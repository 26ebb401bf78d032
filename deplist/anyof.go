package deplist

import (
	"sort"

	"github.com/negril/paludis/depspec"
	"github.com/negril/paludis/name"
	"github.com/negril/paludis/repository"
)

// Any-of scoring constants. These are tunable policy values, not a
// contract; tests assert ordering properties only.
const (
	scoreInstalledMatches          = 50
	scoreInstalledMatchesIgnoreUse = 40
	scoreWillBeInstalled           = 30
	scoreInstallableNow            = 20
	scoreExistsSomewhere           = 10
)

func operatorBias(op name.VersionOperator) int {
	switch op {
	case name.VersionOperatorGreaterEqual, name.VersionOperatorGreater:
		return 9
	case name.VersionOperatorEqual, name.VersionOperatorTildeEqual,
		name.VersionOperatorEqualStar, name.VersionOperatorTildeGreater:
		return 2
	case name.VersionOperatorLess, name.VersionOperatorLessEqual:
		return 1
	}
	return 9
}

func versionBias(vr name.VersionRequirements) int {
	if len(vr.Requirements) == 0 {
		// An unconstrained pick should not be penalised.
		return 9
	}
	bias := operatorBias(vr.Requirements[0].Operator)
	for _, r := range vr.Requirements[1:] {
		b := operatorBias(r.Operator)
		if vr.Mode == name.VersionRequirementsModeAnd && b < bias {
			bias = b
		}
		if vr.Mode == name.VersionRequirementsModeOr && b > bias {
			bias = b
		}
	}
	return bias
}

// scoreLeaf ranks one any-of alternative relative to the current state of
// the world: installed beats planned beats installable beats merely
// existing.
func (d *DepList) scoreLeaf(spec *depspec.PackageDepSpec) int {
	base := 0

	installed, _ := d.env.Query(spec, repository.QueryInstalledOnly, repository.OrderVersionDescending)
	if len(installed) > 0 {
		base = scoreInstalledMatches
	} else {
		noUse := spec.WithoutUseRequirements()
		if insNoUse, _ := d.env.Query(noUse, repository.QueryInstalledOnly, repository.OrderVersionDescending); len(insNoUse) > 0 {
			base = scoreInstalledMatchesIgnoreUse
		}
	}

	if base == 0 && spec.Name != nil && len(d.index[*spec.Name]) > 0 {
		base = scoreWillBeInstalled
	}

	if base == 0 {
		installable, _ := d.env.Query(spec, repository.QueryInstallableOnly, repository.OrderVersionDescending)
		for _, id := range installable {
			if d.env.MaskReasons(id).Empty() {
				base = scoreInstallableNow
				break
			}
		}
		if base == 0 && len(installable) > 0 {
			base = scoreExistsSomewhere
		}
	}

	if base == 0 {
		return 0
	}
	return base + versionBias(spec.Versions)
}

func (d *DepList) scoreChild(child depspec.DepSpec) int {
	switch t := child.(type) {
	case *depspec.PackageDepSpec:
		return d.scoreLeaf(t)
	case *depspec.AllOfDepSpec:
		// A group scores as its weakest member; every member must hold.
		best := -1
		for _, c := range t.Children {
			s := d.scoreChild(c)
			if best == -1 || s < best {
				best = s
			}
		}
		if best == -1 {
			return 0
		}
		return best
	case *depspec.BlockDepSpec:
		return 0
	}
	return 0
}

// orderAnyOfChildren sorts viable children most-interesting first; ties
// break lexicographically over the rendered child so the result is
// deterministic.
func (d *DepList) orderAnyOfChildren(children []depspec.DepSpec) []depspec.DepSpec {
	type scored struct {
		child depspec.DepSpec
		score int
	}
	ss := make([]scored, len(children))
	for i, c := range children {
		ss[i] = scored{c, d.scoreChild(c)}
	}
	sort.SliceStable(ss, func(i, j int) bool {
		if ss[i].score != ss[j].score {
			return ss[i].score > ss[j].score
		}
		return ss[i].child.String() < ss[j].child.String()
	})
	out := make([]depspec.DepSpec, len(ss))
	for i, s := range ss {
		out[i] = s.child
	}
	return out
}

// rewriteAnyOfRanges collapses compatible version-requirement siblings on
// the same package: ">=x-2 >=x-1 x" keeps only the weakest lower bound.
// Children that are not simple lower-bounded (or unconstrained) leaves on
// a shared name are left alone.
func rewriteAnyOfRanges(children []depspec.DepSpec) []depspec.DepSpec {
	type bucket struct {
		weakest *depspec.PackageDepSpec
		first   int
	}
	buckets := make(map[name.QualifiedPackageName]*bucket)
	rewritable := func(p *depspec.PackageDepSpec) bool {
		if p.Name == nil || p.Slot.Kind != depspec.SlotAny || p.Repository != nil ||
			len(p.Use) > 0 || len(p.Keys) > 0 {
			return false
		}
		for _, r := range p.Versions.Requirements {
			if r.Operator != name.VersionOperatorGreaterEqual && r.Operator != name.VersionOperatorGreater {
				return false
			}
		}
		return len(p.Versions.Requirements) <= 1
	}
	lowerBound := func(p *depspec.PackageDepSpec) *name.VersionSpec {
		if len(p.Versions.Requirements) == 0 {
			return nil
		}
		return p.Versions.Requirements[0].Version
	}

	var out []depspec.DepSpec
	for _, c := range children {
		p, ok := c.(*depspec.PackageDepSpec)
		if !ok || !rewritable(p) {
			out = append(out, c)
			continue
		}
		b, seen := buckets[*p.Name]
		if !seen {
			buckets[*p.Name] = &bucket{weakest: p, first: len(out)}
			out = append(out, c)
			continue
		}
		// Keep the lowest lower bound; an unconstrained sibling is
		// absorbed into a bounded one.
		cur, cand := lowerBound(b.weakest), lowerBound(p)
		if cand != nil && (cur == nil || cand.Compare(cur) < 0) {
			b.weakest = p
			out[b.first] = c
		}
	}
	return out
}
