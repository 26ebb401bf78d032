package resolver

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/negril/paludis/name"
	"github.com/negril/paludis/repository"
)

type world struct {
	repo *repository.FakeRepository
	inst *repository.FakeRepository
	env  *repository.DefaultEnvironment
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		repo: repository.NewFakeRepository("repo"),
		inst: repository.NewInstalledFakeRepository("installed", "/"),
	}
	w.env = repository.NewDefaultEnvironment(
		repository.NewPackageDatabase(w.repo, w.inst),
		repository.EnvironmentConfig{
			AcceptedKeywords: []name.KeywordName{"test"},
			AcceptedLicenses: []string{"*"},
		},
	)
	return w
}

func decisions(res *Result) []string {
	var out []string
	for _, r := range res.Resolutions {
		out = append(out, fmt.Sprintf("%s: %s", r.Resolvent.Name, r.Decision))
	}
	return out
}

func TestResolveSimpleChain(t *testing.T) {
	w := newWorld(t)
	w.repo.AddVersion("cat/leaf", "1")
	w.repo.AddVersion("cat/mid", "1").RunDependencies = "cat/leaf"
	w.repo.AddVersion("cat/top", "1").BuildDependencies = "cat/mid"

	r := NewResolver(w.env)
	require.NoError(t, r.AddTarget("cat/top"))
	res, err := r.Resolve()
	require.NoError(t, err)

	require.Len(t, res.Resolutions, 3)
	// Dependencies first.
	order := map[string]int{}
	for i, resolution := range res.Resolutions {
		order[resolution.Resolvent.Name.String()] = i
	}
	assert.Less(t, order["cat/leaf"], order["cat/mid"])
	assert.Less(t, order["cat/mid"], order["cat/top"])

	for _, resolution := range res.Resolutions {
		if _, ok := resolution.Decision.(ChangesToMakeDecision); !ok {
			t.Errorf("%s: expected install decision, got %s",
				resolution.Resolvent, resolution.Decision)
		}
	}
}

func TestResolveKeepsExisting(t *testing.T) {
	w := newWorld(t)
	w.repo.AddVersion("cat/dep", "1")
	w.inst.AddVersion("cat/dep", "1")
	w.repo.AddVersion("cat/top", "1").RunDependencies = "cat/dep"

	r := NewResolver(w.env)
	require.NoError(t, r.AddTarget("=cat/top-1"))
	res, err := r.Resolve()
	require.NoError(t, err)

	var depDecision Decision
	for _, resolution := range res.Resolutions {
		if resolution.Resolvent.Name.String() == "cat/dep" {
			depDecision = resolution.Decision
		}
	}
	if _, ok := depDecision.(ExistingNoChangeDecision); !ok {
		t.Errorf("dep should be kept, got %v (%v)", depDecision, decisions(res))
	}
}

func TestResolveConstraintIntersection(t *testing.T) {
	// Two dependents constrain the same resolvent; the decision must
	// satisfy both.
	// cat/a wants the lib directly; cat/b reaches it through cat/mid, so
	// the <3 constraint arrives only after the lib has been decided at 3
	// and must force a restart.
	w := newWorld(t)
	w.repo.AddVersion("cat/lib", "1")
	w.repo.AddVersion("cat/lib", "2")
	w.repo.AddVersion("cat/lib", "3")
	w.repo.AddVersion("cat/a", "1").RunDependencies = ">=cat/lib-2"
	w.repo.AddVersion("cat/mid", "1").RunDependencies = "<cat/lib-3"
	w.repo.AddVersion("cat/b", "1").RunDependencies = "cat/mid"

	r := NewResolver(w.env)
	require.NoError(t, r.AddTarget("=cat/a-1"))
	require.NoError(t, r.AddTarget("=cat/b-1"))
	res, err := r.Resolve()
	require.NoError(t, err)

	var lib *Resolution
	for _, resolution := range res.Resolutions {
		if resolution.Resolvent.Name.String() == "cat/lib" {
			lib = resolution
		}
	}
	require.NotNil(t, lib)
	d, ok := lib.Decision.(ChangesToMakeDecision)
	require.True(t, ok, "lib decision: %v", lib.Decision)
	assert.Equal(t, "2", d.Origin.Version().String(),
		"only lib-2 satisfies >=2 and <3")
	assert.GreaterOrEqual(t, res.Restarts, 1,
		"the second constraint must have forced a restart")
}

func TestResolveReasonChains(t *testing.T) {
	w := newWorld(t)
	w.repo.AddVersion("cat/dep", "1")
	w.repo.AddVersion("cat/top", "1").RunDependencies = "cat/dep"

	r := NewResolver(w.env)
	require.NoError(t, r.AddTarget("=cat/top-1"))
	res, err := r.Resolve()
	require.NoError(t, err)

	for _, resolution := range res.Resolutions {
		require.NotEmpty(t, resolution.Constraints)
		switch resolution.Resolvent.Name.String() {
		case "cat/top":
			_, ok := resolution.Constraints[0].Reason.(TargetReason)
			assert.True(t, ok, "top should carry a target reason")
		case "cat/dep":
			dr, ok := resolution.Constraints[0].Reason.(DependencyReason)
			require.True(t, ok, "dep should carry a dependency reason")
			assert.Equal(t, "cat/top", dr.Parent.Name.String())
			assert.True(t, dr.Dep.Labels.Has(LabelRun))
		}
	}
}

func TestResolveSlotsSplitResolvents(t *testing.T) {
	w := newWorld(t)
	m := w.repo.AddVersion("cat/gcc", "4")
	m.Slot = "4"
	m = w.repo.AddVersion("cat/gcc", "5")
	m.Slot = "5"

	r := NewResolver(w.env)
	require.NoError(t, r.AddTarget("cat/gcc:4"))
	require.NoError(t, r.AddTarget("cat/gcc:5"))
	res, err := r.Resolve()
	require.NoError(t, err)

	assert.Len(t, res.Resolutions, 2, "one resolution per slot resolvent")
	slots := map[name.SlotName]bool{}
	for _, resolution := range res.Resolutions {
		slots[resolution.Resolvent.Slot] = true
	}
	assert.True(t, slots["4"] && slots["5"])
}

func TestResolveCycleBreaking(t *testing.T) {
	// p and q need each other at runtime; run-only edges are relaxable,
	// so ordering succeeds with a forced break.
	w := newWorld(t)
	w.repo.AddVersion("cat/p", "1").RunDependencies = "cat/q"
	w.repo.AddVersion("cat/q", "1").RunDependencies = "cat/p"

	r := NewResolver(w.env)
	require.NoError(t, r.AddTarget("=cat/p-1"))
	res, err := r.Resolve()
	require.NoError(t, err)

	assert.Len(t, res.Resolutions, 2)
	require.NotEmpty(t, res.ForcedBreaks, "breaking the cycle must be recorded")
	assert.Contains(t, res.ForcedBreaks[0], "cat/")
}

func TestResolveHardCycleFails(t *testing.T) {
	// Mutual unmet build deps cannot be relaxed.
	w := newWorld(t)
	w.repo.AddVersion("cat/p", "1").BuildDependencies = "cat/q"
	w.repo.AddVersion("cat/q", "1").BuildDependencies = "cat/p"

	r := NewResolver(w.env)
	require.NoError(t, r.AddTarget("=cat/p-1"))
	_, err := r.Resolve()
	ue, ok := err.(*UnorderableError)
	require.True(t, ok, "expected UnorderableError, got %v", err)
	require.NotEmpty(t, ue.Cycle)
	assert.Equal(t, ue.Cycle[0], ue.Cycle[len(ue.Cycle)-1],
		"cycle witness must close on itself")
}

func TestResolveSuggestionsAreUntaken(t *testing.T) {
	w := newWorld(t)
	w.repo.AddVersion("cat/extra", "1")
	w.repo.AddVersion("cat/app", "1").SuggestDependencies = "cat/extra"

	r := NewResolver(w.env)
	require.NoError(t, r.AddTarget("=cat/app-1"))
	res, err := r.Resolve()
	require.NoError(t, err)

	assert.Len(t, res.Resolutions, 1, "only the app is taken")
	require.Len(t, res.Untaken, 1)
	assert.Equal(t, "cat/extra", res.Untaken[0].Resolvent.Name.String())
}

func TestResolveUnableToDecide(t *testing.T) {
	w := newWorld(t)
	m := w.repo.AddVersion("cat/bad", "1")
	m.Keywords = []name.KeywordName{"~test"}

	r := NewResolver(w.env)
	require.NoError(t, r.AddTarget("cat/bad"))
	res, err := r.Resolve()
	require.NoError(t, err)

	require.Len(t, res.Resolutions, 1)
	d, ok := res.Resolutions[0].Decision.(UnableToDecideDecision)
	require.True(t, ok, "expected unable-to-decide, got %v", res.Resolutions[0].Decision)
	require.NotEmpty(t, d.Unsuitable)
	assert.True(t, d.Unsuitable[0].MaskedBy.Has(repository.MaskKeyword))
}

func TestResolveNothingForAbsent(t *testing.T) {
	w := newWorld(t)
	w.repo.AddVersion("cat/real", "1")

	r := NewResolver(w.env)
	require.NoError(t, r.AddTarget("cat/missing"))
	res, err := r.Resolve()
	require.NoError(t, err)
	require.Len(t, res.Resolutions, 1)
	_, ok := res.Resolutions[0].Decision.(NothingNoChangeDecision)
	assert.True(t, ok)
}

func TestResolveDeterministic(t *testing.T) {
	build := func() []string {
		w := newWorld(t)
		w.repo.AddVersion("cat/z", "1")
		w.repo.AddVersion("cat/a", "1")
		w.repo.AddVersion("cat/m", "1").RunDependencies = "cat/z cat/a"
		r := NewResolver(w.env)
		require.NoError(t, r.AddTarget("=cat/m-1"))
		res, err := r.Resolve()
		require.NoError(t, err)
		return decisions(res)
	}
	first := build()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, build(), "ordering must be deterministic")
	}
}

func TestNAGOrderBasics(t *testing.T) {
	a := Resolvent{Name: mustQPN(t, "cat/a")}
	b := Resolvent{Name: mustQPN(t, "cat/b")}
	c := Resolvent{Name: mustQPN(t, "cat/c")}

	g := NewNAG()
	g.AddArrow(Arrow{From: a, To: b})
	g.AddArrow(Arrow{From: b, To: c})

	res, err := g.Order()
	require.NoError(t, err)
	require.Len(t, res.Ordered, 3)
	assert.Equal(t, "cat/c", res.Ordered[0].Name.String())
	assert.Equal(t, "cat/a", res.Ordered[2].Name.String())
	assert.Empty(t, res.ForcedBreaks)
}

func TestNAGArrowMerging(t *testing.T) {
	a := Resolvent{Name: mustQPN(t, "cat/a")}
	b := Resolvent{Name: mustQPN(t, "cat/b")}

	g := NewNAG()
	g.AddArrow(Arrow{From: a, To: b, IgnorablePass: 2, Properties: ArrowProperties{Run: true, BuildAllMet: true}})
	g.AddArrow(Arrow{From: a, To: b, IgnorablePass: 0, Properties: ArrowProperties{Build: true}})

	arrow := g.edges[a][b]
	require.NotNil(t, arrow)
	assert.Equal(t, 0, arrow.IgnorablePass, "harder pass wins")
	assert.True(t, arrow.Properties.Build && arrow.Properties.Run)
	assert.False(t, arrow.Properties.BuildAllMet, "all-met only if every edge agrees")
}

func mustQPN(t *testing.T, s string) name.QualifiedPackageName {
	t.Helper()
	q, err := name.NewQualifiedPackageName(s)
	require.NoError(t, err)
	return q
}
