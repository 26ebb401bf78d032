package resolver

import (
	"fmt"
	"log"
	"sort"

	"github.com/pkg/errors"

	"github.com/negril/paludis/depspec"
	"github.com/negril/paludis/name"
	"github.com/negril/paludis/repository"
)

var userEapi = depspec.LookupEapi("paludis-1")

// suggestRestart is the internal signal that a later constraint
// invalidated an earlier decision. It is always caught inside Resolve and
// never escapes to the caller.
type suggestRestart struct {
	Resolvent  Resolvent
	Constraint Constraint
}

func (s *suggestRestart) Error() string {
	return fmt.Sprintf("restart needed for %s (%s)", s.Resolvent, s.Constraint.Reason)
}

// Result is a finished resolution run.
type Result struct {
	// Resolutions in emission order, dependencies first.
	Resolutions []*Resolution
	// Untaken holds suggestion-only resolutions that were not pulled in.
	Untaken []*Resolution
	// ForcedBreaks describes cycle-breaking relaxations applied during
	// ordering.
	ForcedBreaks []string
	// Restarts counts how often a SuggestRestart forced a re-plan.
	Restarts int
}

// Resolver accumulates constraints per resolvent, decides each one, and
// orders the graph. State lives for one Resolve call.
type Resolver struct {
	env repository.Environment
	tl  *log.Logger

	targets []Constraint
	presets []preset

	resolutions map[Resolvent]*Resolution
	nag         *NAG
	restarts    int
}

type preset struct {
	resolvent  Resolvent
	constraint Constraint
}

// NewResolver assembles a resolver over env.
func NewResolver(env repository.Environment) *Resolver {
	return &Resolver{env: env}
}

// SetTraceLogger enables trace output; nil disables it.
func (r *Resolver) SetTraceLogger(tl *log.Logger) { r.tl = tl }

func (r *Resolver) tracef(format string, args ...interface{}) {
	if r.tl != nil {
		r.tl.Printf(format+"\n", args...)
	}
}

// AddTarget registers one user target: a named set or an atom.
func (r *Resolver) AddTarget(target string) error {
	if tree := r.env.Set(target); tree != nil {
		var err error
		depspec.WalkLeaves(tree, func(leaf depspec.DepSpec) {
			if p, ok := leaf.(*depspec.PackageDepSpec); ok {
				r.targets = append(r.targets, Constraint{
					Spec:        p,
					UseExisting: UseExistingIfPossible,
					Reason:      SetReason{Set: target},
				})
			} else if err == nil {
				err = errors.Errorf("set %q contains a non-package element", target)
			}
		})
		return err
	}

	spec, err := depspec.ParseAtom(target, userEapi, depspec.AtomOptions{AllowWildcards: true})
	if err != nil {
		return err
	}
	r.targets = append(r.targets, Constraint{
		Spec:        spec,
		UseExisting: UseExistingIfSame,
		Reason:      TargetReason{Target: target},
	})
	return nil
}

// Resolve runs the constraint loop to fixpoint, follows suggestions, then
// orders the graph. SuggestRestart signals re-enter the loop with the
// conflicting constraint preloaded.
func (r *Resolver) Resolve() (*Result, error) {
	for {
		err := r.resolveOnce()
		if err == nil {
			break
		}
		if sr, ok := err.(*suggestRestart); ok {
			r.restarts++
			if r.restarts > 1000 {
				return nil, errors.New("resolver is not converging")
			}
			r.presets = append(r.presets, preset{sr.Resolvent, sr.Constraint})
			r.tracef("restart %d for %s", r.restarts, sr.Resolvent)
			continue
		}
		return nil, err
	}

	ordered, err := r.nag.Order()
	if err != nil {
		return nil, err
	}

	res := &Result{Restarts: r.restarts, ForcedBreaks: ordered.ForcedBreaks}
	for _, rv := range ordered.Ordered {
		resolution := r.resolutions[rv]
		if resolution == nil {
			continue
		}
		if !resolution.Taken() {
			res.Untaken = append(res.Untaken, resolution)
			continue
		}
		res.Resolutions = append(res.Resolutions, resolution)
	}
	return res, nil
}

// resolveOnce runs one full pass from scratch: decisions are recomputed
// against the current preset set.
func (r *Resolver) resolveOnce() error {
	r.resolutions = make(map[Resolvent]*Resolution)
	r.nag = NewNAG()

	type workItem struct {
		rv Resolvent
	}
	var queue []workItem
	enqueue := func(rv Resolvent) { queue = append(queue, workItem{rv}) }

	apply := func(rv Resolvent, c Constraint) error {
		return r.applyConstraint(rv, c, enqueue)
	}

	for _, p := range r.presets {
		if err := apply(p.resolvent, p.constraint); err != nil {
			return err
		}
	}
	for _, c := range r.targets {
		rv, err := r.resolventFor(c.Spec, c.Destination)
		if err != nil {
			return err
		}
		if err := apply(rv, c); err != nil {
			return err
		}
	}

	// Hard deps settle first; suggestions are collected and only
	// followed once the hard world has a fixpoint, so they can never
	// force a restart of a hard decision.
	var suggestions []preset
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		resolution := r.resolutions[item.rv]
		if resolution == nil || resolution.Decision != nil {
			continue
		}
		if err := r.decide(resolution); err != nil {
			return err
		}
		sugg, err := r.expandDeps(resolution, enqueue)
		if err != nil {
			return err
		}
		suggestions = append(suggestions, sugg...)

		if len(queue) == 0 && len(suggestions) > 0 {
			for _, s := range suggestions {
				if err := apply(s.resolvent, s.constraint); err != nil {
					return err
				}
			}
			suggestions = nil
		}
	}
	return nil
}

// resolventFor derives the resolvent an atom aggregates under: the slot
// named by the atom, else the slot of the best candidate for it.
func (r *Resolver) resolventFor(spec *depspec.PackageDepSpec, dest DestinationType) (Resolvent, error) {
	qn, err := r.qualifiedName(spec)
	if err != nil {
		return Resolvent{}, err
	}
	rv := Resolvent{Name: qn, Destination: dest}
	if spec.Slot.Kind == depspec.SlotExact {
		rv.Slot = spec.Slot.Slot
		return rv, nil
	}
	if best := r.bestCandidate(spec); best != nil {
		rv.Slot = best.Slot()
	}
	return rv, nil
}

func (r *Resolver) qualifiedName(spec *depspec.PackageDepSpec) (name.QualifiedPackageName, error) {
	switch {
	case spec.Name != nil:
		return *spec.Name, nil
	case spec.PackagePart != nil:
		return r.env.PackageDatabase().ResolvePackageName(*spec.PackagePart)
	}
	return name.QualifiedPackageName{}, errors.Errorf("cannot resolve %q to a single package", spec)
}

func (r *Resolver) bestCandidate(spec *depspec.PackageDepSpec) *repository.PackageID {
	ids, _ := r.env.Query(spec, repository.QueryInstallableOnly, repository.OrderVersionDescending)
	for _, id := range ids {
		if r.env.MaskReasons(id).Empty() {
			return id
		}
	}
	installed, _ := r.env.Query(spec, repository.QueryInstalledOnly, repository.OrderVersionDescending)
	if len(installed) > 0 {
		return installed[0]
	}
	return nil
}

// applyConstraint attaches c to rv's resolution, creating it on first
// sight. A constraint that arrives after a decision and is not satisfied
// by it raises suggestRestart.
func (r *Resolver) applyConstraint(rv Resolvent, c Constraint, enqueue func(Resolvent)) error {
	resolution := r.resolutions[rv]
	if resolution == nil {
		resolution = &Resolution{Resolvent: rv}
		r.resolutions[rv] = resolution
		enqueue(rv)
	}
	resolution.Constraints = append(resolution.Constraints, c)

	if resolution.Decision != nil && !c.Untaken {
		if id := resolution.ID(); id != nil && !r.constraintSatisfied(c, id) {
			return &suggestRestart{Resolvent: rv, Constraint: c}
		}
	}
	return nil
}

func (r *Resolver) constraintSatisfied(c Constraint, id *repository.PackageID) bool {
	return c.Spec.Matches(r.env, id, depspec.MatchOptions{})
}

// decide scans candidates for one undecided resolution and picks one
// satisfying every constraint plus the strictest use-existing preference.
func (r *Resolver) decide(resolution *Resolution) error {
	specs := make([]*depspec.PackageDepSpec, 0, len(resolution.Constraints))
	useExisting := UseExistingIfPossible
	for _, c := range resolution.Constraints {
		if c.Untaken {
			continue
		}
		specs = append(specs, c.Spec)
		if c.UseExisting < useExisting {
			useExisting = c.UseExisting
		}
	}
	if len(specs) == 0 {
		for _, c := range resolution.Constraints {
			specs = append(specs, c.Spec)
		}
	}

	matchesAll := func(id *repository.PackageID) []string {
		var unmet []string
		for _, s := range specs {
			if !s.Matches(r.env, id, depspec.MatchOptions{}) {
				unmet = append(unmet, s.String())
			}
		}
		return unmet
	}

	installed, _ := r.env.Query(specs[0], repository.QueryInstalledOnly, repository.OrderVersionDescending)
	installable, _ := r.env.Query(specs[0], repository.QueryInstallableOnly, repository.OrderVersionDescending)

	var bestVisible *repository.PackageID
	for _, id := range installable {
		if len(matchesAll(id)) == 0 && r.env.MaskReasons(id).Empty() {
			bestVisible = id
			break
		}
	}

	// Existing installs satisfy the resolution when the strictest
	// use-existing preference admits them.
	for _, id := range installed {
		if len(matchesAll(id)) > 0 {
			continue
		}
		ok := false
		switch useExisting {
		case UseExistingIfPossible:
			ok = true
		case UseExistingIfSame, UseExistingIfSameVersion:
			ok = bestVisible == nil || bestVisible.Version().Compare(id.Version()) == 0
		case UseExistingIfTransient, UseExistingNever:
			ok = false
		}
		if ok {
			resolution.Decision = ExistingNoChangeDecision{Existing: id}
			r.tracef("decide %s: keep %s", resolution.Resolvent, id)
			return nil
		}
	}

	if bestVisible != nil {
		resolution.Decision = ChangesToMakeDecision{Origin: bestVisible}
		r.tracef("decide %s: install %s", resolution.Resolvent, bestVisible)
		return nil
	}

	if len(installable) == 0 && len(installed) == 0 {
		resolution.Decision = NothingNoChangeDecision{}
		return nil
	}

	var unsuitable []UnsuitableCandidate
	for _, id := range installable {
		unsuitable = append(unsuitable, UnsuitableCandidate{
			ID:         id,
			MaskedBy:   r.env.MaskReasons(id),
			UnmetSpecs: matchesAll(id),
		})
	}
	resolution.Decision = UnableToDecideDecision{Unsuitable: unsuitable}
	return nil
}

// expandDeps sanitises the decided ID's dependencies and folds each into
// its target resolvent, wiring NAG arrows. Suggestion edges are returned
// for deferred processing.
func (r *Resolver) expandDeps(resolution *Resolution, enqueue func(Resolvent)) ([]preset, error) {
	id := resolution.ID()
	r.nag.AddNode(resolution.Resolvent)
	if id == nil {
		return nil, nil
	}
	deps, err := sanitiser{env: r.env}.sanitise(id)
	if err != nil {
		return nil, errors.Wrapf(err, "expanding dependencies of %s", id)
	}
	resolution.SanitisedDeps = deps

	var suggestions []preset
	for _, dep := range deps {
		spec, ok := dep.Spec.(*depspec.PackageDepSpec)
		if !ok {
			// Blockers create no resolvent and no constraint here; they
			// are kept only in the resolution's SanitisedDeps.
			continue
		}

		target, err := r.resolventFor(spec, resolution.Resolvent.Destination)
		if err != nil {
			return nil, err
		}

		c := Constraint{
			Spec:        spec,
			Destination: resolution.Resolvent.Destination,
			UseExisting: UseExistingIfPossible,
			Untaken:     dep.Labels == LabelSuggestion,
			Reason: DependencyReason{
				Parent: resolution.Resolvent,
				Dep:    dep,
			},
		}

		if c.Untaken {
			suggestions = append(suggestions, preset{target, c})
		} else {
			if err := r.applyConstraint(target, c, enqueue); err != nil {
				return nil, err
			}
		}

		r.nag.AddArrow(Arrow{
			From:          resolution.Resolvent,
			To:            target,
			IgnorablePass: r.ignorablePass(spec, dep.Labels),
			Properties: ArrowProperties{
				Build:       dep.Labels.Has(LabelBuild),
				Run:         dep.Labels.Has(LabelRun),
				Post:        dep.Labels.Has(LabelPost),
				BuildAllMet: r.satisfiedByInstalled(spec),
			},
		})
	}
	return suggestions, nil
}

func (r *Resolver) satisfiedByInstalled(spec *depspec.PackageDepSpec) bool {
	ids, _ := r.env.Query(spec, repository.QueryInstalledOnly, repository.OrderVersionDescending)
	return len(ids) > 0
}

// ignorablePass grades an edge: hard for unmet build deps, 1 when the
// installed world already satisfies it, 2 for run/post-only edges.
func (r *Resolver) ignorablePass(spec *depspec.PackageDepSpec, labels DepLabels) int {
	if r.satisfiedByInstalled(spec) {
		return 1
	}
	if !labels.Has(LabelBuild) {
		return 2
	}
	return 0
}

// Preload seeds a constraint before Resolve, the host-facing equivalent
// of what SuggestRestart does internally.
func (r *Resolver) Preload(rv Resolvent, c Constraint) {
	r.presets = append(r.presets, preset{rv, c})
}

// ResolutionFor exposes the resolution for one resolvent after Resolve.
func (r *Resolver) ResolutionFor(rv Resolvent) *Resolution {
	return r.resolutions[rv]
}

// Resolvents returns all known resolvents, sorted, for inspection.
func (r *Resolver) Resolvents() []Resolvent {
	out := make([]Resolvent, 0, len(r.resolutions))
	for rv := range r.resolutions {
		out = append(out, rv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
