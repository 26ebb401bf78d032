package deplist

import (
	"fmt"
	"log"
	"time"

	"github.com/negril/paludis/depspec"
	"github.com/negril/paludis/name"
	"github.com/negril/paludis/repository"
)

var userEapi = depspec.LookupEapi("paludis-1")

// DepList is the recursive merge-list builder. It is not safe for
// concurrent use; one resolution owns it for the duration of its Add
// calls, then reads the result through Entries.
type DepList struct {
	env  repository.Environment
	opts Options
	tl   *log.Logger

	arena  []*Entry
	order  []int
	index  map[name.QualifiedPackageName][]int
	cursor int

	generation int
	warnings   []string

	topTargets   []*depspec.PackageDepSpec
	destinations []name.RepositoryName

	depth int
}

// New assembles a builder over env with the given policy bundle.
func New(env repository.Environment, opts Options) *DepList {
	return &DepList{
		env:    env,
		opts:   opts,
		index:  make(map[name.QualifiedPackageName][]int),
		cursor: 0,
	}
}

// SetTraceLogger enables trace output on logger; nil disables it.
func (d *DepList) SetTraceLogger(logger *log.Logger) { d.tl = logger }

// Entries returns the merge list in final order.
func (d *DepList) Entries() []*Entry {
	out := make([]*Entry, len(d.order))
	for i, idx := range d.order {
		out[i] = d.arena[idx]
	}
	return out
}

// EntryAt resolves an arena handle, as found in Entry.Associated.
func (d *DepList) EntryAt(handle int) *Entry { return d.arena[handle] }

// HasErrors reports whether any masked or blocker entry remains.
func (d *DepList) HasErrors() bool {
	for _, e := range d.arena {
		if e.Kind == EntryMasked || e.Kind == EntryBlocker {
			return true
		}
	}
	return false
}

// Warnings returns the warning records accumulated so far.
func (d *DepList) Warnings() []string { return d.warnings }

func (d *DepList) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	d.warnings = append(d.warnings, msg)
	d.tracef("! %s", msg)
}

// addContext carries the per-edge state of the recursion.
type addContext struct {
	parent      *repository.PackageID
	parentEntry int // arena handle, -1 at top level
	role        DepRole

	tag Tag // target or set tag at top level, nil below

	overrideMasks repository.MaskReasons
	throwOnBlock  bool
	circular      CircularPolicy

	chain []string
}

func (ctx *addContext) withChain(link string) *addContext {
	c := *ctx
	c.chain = append(append([]string(nil), ctx.chain...), link)
	return &c
}

// snapshot captures everything a speculative branch can disturb.
type snapshot struct {
	arenaLen  int
	order     []int
	index     map[name.QualifiedPackageName][]int
	cursor    int
	warnLen   int
	tagLens   []int
	states    []EntryState
	topTarget int
}

func (d *DepList) snapshot() *snapshot {
	s := &snapshot{
		arenaLen:  len(d.arena),
		order:     append([]int(nil), d.order...),
		index:     make(map[name.QualifiedPackageName][]int, len(d.index)),
		cursor:    d.cursor,
		warnLen:   len(d.warnings),
		tagLens:   make([]int, len(d.arena)),
		states:    make([]EntryState, len(d.arena)),
		topTarget: len(d.topTargets),
	}
	for k, v := range d.index {
		s.index[k] = append([]int(nil), v...)
	}
	for i, e := range d.arena {
		s.tagLens[i] = len(e.tags)
		s.states[i] = e.State
	}
	return s
}

func (d *DepList) restore(s *snapshot) {
	d.arena = d.arena[:s.arenaLen]
	d.order = s.order
	d.index = s.index
	d.cursor = s.cursor
	d.warnings = d.warnings[:s.warnLen]
	d.topTargets = d.topTargets[:s.topTarget]
	for i, e := range d.arena {
		e.tags = e.tags[:s.tagLens[i]]
		e.State = s.states[i]
	}
}

// AddTarget resolves one user target: a named set if the environment
// knows one by that name, otherwise an atom (wildcards permitted). The
// whole call is one transaction; on error the list is exactly as before.
func (d *DepList) AddTarget(target string) error {
	snap := d.snapshot()
	d.generation++

	var err error
	if tree := d.env.Set(target); tree != nil {
		saved := d.opts.TargetType
		d.opts.TargetType = TargetSet
		err = d.addTargetTree(tree, SetTag{Set: target})
		d.opts.TargetType = saved
	} else {
		var spec *depspec.PackageDepSpec
		spec, err = depspec.ParseAtom(target, userEapi, depspec.AtomOptions{AllowWildcards: true})
		if err == nil {
			err = d.addTargetTree(spec, TargetTag{Target: target})
		}
	}

	if err != nil {
		d.restore(snap)
		d.tracef("x target %s failed: %s", target, err)
		return err
	}
	d.tracef("+ target %s", target)
	return nil
}

// AddAtom is the programmatic form of AddTarget for pre-parsed atoms.
func (d *DepList) AddAtom(spec *depspec.PackageDepSpec) error {
	snap := d.snapshot()
	d.generation++
	err := d.addTargetTree(spec, TargetTag{Target: spec.String()})
	if err != nil {
		d.restore(snap)
	}
	return err
}

func (d *DepList) addTargetTree(tree depspec.DepSpec, tag Tag) error {
	depspec.WalkLeaves(tree, func(leaf depspec.DepSpec) {
		if p, ok := leaf.(*depspec.PackageDepSpec); ok {
			d.topTargets = append(d.topTargets, p)
		}
	})
	ctx := &addContext{
		parentEntry:   -1,
		tag:           tag,
		overrideMasks: d.opts.OverrideMasks,
		circular:      d.opts.Circular,
	}
	return d.add(tree, ctx)
}

// add walks one dep tree node.
func (d *DepList) add(node depspec.DepSpec, ctx *addContext) error {
	switch t := node.(type) {
	case *depspec.AllOfDepSpec:
		for _, c := range t.Children {
			if err := d.add(c, ctx); err != nil {
				return err
			}
		}
		return nil

	case *depspec.ConditionalDepSpec:
		if !d.conditionalActive(t, ctx) {
			return nil
		}
		for _, c := range t.Children {
			if err := d.add(c, ctx); err != nil {
				return err
			}
		}
		return nil

	case *depspec.AnyOfDepSpec:
		return d.addAnyOf(t.Children, ctx)

	case *depspec.ExactlyOneOfDepSpec:
		// For plan construction, exactly-one behaves as any-of; the
		// at-most-one half is a constraint on states the builder never
		// produces (it picks a single branch).
		return d.addAnyOf(t.Children, ctx)

	case *depspec.AtMostOneOfDepSpec:
		// Nothing is required to hold; nothing to install.
		return nil

	case *depspec.BlockDepSpec:
		return d.addBlock(t, ctx)

	case *depspec.PackageDepSpec:
		return d.addPackageDep(t, ctx)

	case *depspec.PlainTextDepSpec:
		return &depspec.PackageDepSpecError{Input: t.Text, Reason: "plain text in dependency position"}
	}
	panic(fmt.Sprintf("unhandled dep spec %T", node))
}

func (d *DepList) conditionalActive(t *depspec.ConditionalDepSpec, ctx *addContext) bool {
	switch d.opts.Use {
	case UseSkip:
		return false
	case UseTakeAll:
		return true
	}
	var target depspec.MatchTarget
	if ctx.parent != nil {
		target = ctx.parent
	}
	return d.env.QueryUse(t.Flag, target) == !t.Inverse
}

// addAnyOf implements the any-of branch search: prefer installed,
// then try branches most-interesting first, speculatively, with masks and
// block grace disabled so a doomed branch fails fast.
func (d *DepList) addAnyOf(children []depspec.DepSpec, ctx *addContext) error {
	var viable []depspec.DepSpec
	for _, c := range children {
		if cond, ok := c.(*depspec.ConditionalDepSpec); ok {
			if !d.conditionalActive(cond, ctx) {
				continue
			}
			viable = append(viable, &depspec.AllOfDepSpec{Children: cond.Children})
			continue
		}
		viable = append(viable, c)
	}
	if len(viable) == 0 {
		// Vacuously true (either empty by EAPI grace, or everything
		// conditional-skipped).
		return nil
	}

	viable = rewriteAnyOfRanges(viable)

	// An already-installed alternative wins outright.
	for _, c := range viable {
		p, ok := c.(*depspec.PackageDepSpec)
		if !ok {
			continue
		}
		if ids, _ := d.env.Query(p, repository.QueryInstalledOnly, repository.OrderVersionDescending); len(ids) > 0 {
			return d.add(p, ctx)
		}
	}

	ordered := d.orderAnyOfChildren(viable)

	for _, c := range ordered {
		snap := d.snapshot()
		trial := *ctx
		trial.overrideMasks = 0
		trial.throwOnBlock = true
		if err := d.add(c, &trial); err == nil {
			return nil
		}
		d.restore(snap)
		d.tracef("x any-of branch %s rejected", c)
	}

	// No branch worked; re-add the first alternative so the caller gets
	// the most meaningful error.
	return d.add(ordered[0], ctx)
}

// addBlock evaluates a blocker leaf.
func (d *DepList) addBlock(b *depspec.BlockDepSpec, ctx *addContext) error {
	var offenders []*repository.PackageID

	installed, _ := d.env.Query(b.Spec, repository.QueryInstalledOnly, repository.OrderVersionDescending)
	for _, id := range installed {
		if d.isSelfBlock(id, ctx) {
			continue
		}
		offenders = append(offenders, id)
	}

	for _, idx := range d.matchingEntries(b.Spec) {
		e := d.arena[idx]
		if idx == ctx.parentEntry {
			continue
		}
		switch e.Kind {
		case EntryPackage, EntryVirtual, EntryAlreadyInstalled:
			if !d.isSelfBlock(e.ID, ctx) {
				offenders = append(offenders, e.ID)
			}
		}
	}

	if len(offenders) == 0 {
		return nil
	}

	against := offenders[0].String()
	if ctx.throwOnBlock {
		return &BlockError{Spec: b.String(), Against: against}
	}

	switch d.opts.Blocks {
	case BlocksError:
		return &BlockError{Spec: b.String(), Against: against}
	case BlocksDiscard:
		d.warn("discarding block %s against %s", b, against)
		return nil
	}

	for _, id := range offenders {
		d.addErrorEntry(id, EntryBlocker, ctx)
	}
	return nil
}

// isSelfBlock recognises a package blocking other versions of itself in
// its own slot while being merged; such blocks are satisfied when the
// current entry replaces the blocked instance.
func (d *DepList) isSelfBlock(id *repository.PackageID, ctx *addContext) bool {
	return ctx.parent != nil &&
		id.Name() == ctx.parent.Name() &&
		id.Slot() == ctx.parent.Slot()
}

// matchingEntries consults the index for plan entries matching spec.
func (d *DepList) matchingEntries(spec *depspec.PackageDepSpec) []int {
	var names []name.QualifiedPackageName
	switch {
	case spec.Name != nil:
		names = []name.QualifiedPackageName{*spec.Name}
	case spec.CategoryPart != nil:
		for q := range d.index {
			if q.Category == *spec.CategoryPart {
				names = append(names, q)
			}
		}
	case spec.PackagePart != nil:
		for q := range d.index {
			if q.Package == *spec.PackagePart {
				names = append(names, q)
			}
		}
	}

	var out []int
	for _, q := range names {
		for _, idx := range d.index[q] {
			e := d.arena[idx]
			if e.Kind == EntryBlocker || e.Kind == EntryMasked || e.Kind == EntrySuggested {
				continue
			}
			if spec.Matches(d.env, e.ID, depspec.MatchOptions{IgnoreUseRequirements: true}) {
				out = append(out, idx)
			}
		}
	}
	return out
}

// maskOverrideOrder ranks override bits least-invasive first.
var maskOverrideOrder = []repository.MaskReasons{
	repository.MaskKeyword,
	repository.MaskLicense,
	repository.MaskProfile,
	repository.MaskRepository,
	repository.MaskUser,
	repository.MaskEapiUnsupported,
	repository.MaskByAssociation,
}

// addPackageDep is the central operation: resolve one package atom into a
// merge list entry, then walk its dependencies.
func (d *DepList) addPackageDep(spec *depspec.PackageDepSpec, ctx *addContext) error {
	// Step 1: already planned?
	if matched := d.matchingEntries(spec); len(matched) > 0 {
		e := d.arena[matched[0]]
		d.attachTags(e, ctx)
		if e.State == NoDepsSeen {
			// We have re-entered a package whose deps are still being
			// walked: a cycle. Benign if the installed world already
			// satisfies the atom.
			if ids, _ := d.env.Query(spec, repository.QueryInstalledOnly, repository.OrderVersionDescending); len(ids) > 0 {
				return nil
			}
			cycle := d.cycleFor(ctx, e.ID.Name().String())
			switch ctx.circular {
			case CircularDiscardSilently:
				return nil
			case CircularDiscard:
				d.warn("discarding circular dependency %v", cycle)
				return nil
			}
			return &CircularDependencyError{Cycle: cycle}
		}
		return nil
	}

	installed, err := d.env.Query(spec, repository.QueryInstalledOnly, repository.OrderVersionDescending)
	if err != nil {
		return err
	}
	installable, err := d.env.Query(spec, repository.QueryInstallableOnly, repository.OrderVersionDescending)
	if err != nil {
		return err
	}

	// Step 3: best visible installable candidate, newest first.
	var best *repository.PackageID
	var overridden repository.MaskReasons
	for _, id := range installable {
		if d.env.MaskReasons(id).Empty() {
			best = id
			break
		}
	}
	if best == nil && ctx.overrideMasks != 0 {
		for _, bit := range maskOverrideOrder {
			if !ctx.overrideMasks.Has(bit) {
				continue
			}
			for _, id := range installable {
				if d.env.MaskReasonsWithOverrides(id, bit).Empty() {
					best = id
					overridden = bit
					break
				}
			}
			if best != nil {
				break
			}
		}
	}

	// Step 4: nothing installable.
	if best == nil {
		if d.fallBackPermitted(spec) && len(installed) > 0 {
			return d.addAlreadyInstalled(installed[0], spec, ctx)
		}
		return d.noCandidateError(spec, installable, ctx)
	}

	// Step 5: the winning candidate defines the slot.
	slot := best.Slot()
	var sameSlot []*repository.PackageID
	for _, id := range installed {
		if id.Slot() == slot {
			sameSlot = append(sameSlot, id)
		}
	}

	// Step 6: prefer-installed heuristic.
	if len(sameSlot) > 0 && d.preferInstalledOverUninstalled(sameSlot[0], best) {
		return d.addAlreadyInstalled(sameSlot[0], spec, ctx)
	}

	// Step 7: new-slot policy.
	if len(sameSlot) == 0 && len(installed) > 0 && d.opts.NewSlots == NewSlotsAsNeeded {
		return d.addAlreadyInstalled(installed[0], spec, ctx)
	}

	// Step 8: downgrade gate.
	if len(sameSlot) > 0 && best.Version().Compare(sameSlot[0].Version()) < 0 {
		switch d.opts.Downgrade {
		case DowngradeError:
			return &DowngradeNotAllowedError{
				Spec:      spec.String(),
				Installed: sameSlot[0].String(),
				Candidate: best.String(),
			}
		case DowngradeWarning:
			d.warn("downgrading %s to %s", sameSlot[0], best)
		}
	}

	return d.addPackage(best, spec, ctx, overridden)
}

func (d *DepList) fallBackPermitted(spec *depspec.PackageDepSpec) bool {
	switch d.opts.FallBack {
	case FallBackNever:
		return false
	case FallBackAsNeeded:
		return true
	}
	return !d.isTopTarget(spec)
}

func (d *DepList) isTopTarget(spec *depspec.PackageDepSpec) bool {
	for _, t := range d.topTargets {
		if t == spec {
			return true
		}
	}
	return false
}

// matchesTopTarget reports whether id satisfies any explicit target atom.
func (d *DepList) matchesTopTarget(id *repository.PackageID) bool {
	for _, t := range d.topTargets {
		if t.Matches(d.env, id, depspec.MatchOptions{IgnoreUseRequirements: true}) {
			return true
		}
	}
	return false
}

func (d *DepList) noCandidateError(spec *depspec.PackageDepSpec, installable []*repository.PackageID, ctx *addContext) error {
	if len(spec.Use) > 0 {
		relaxed := spec.WithoutUseRequirements()
		ids, _ := d.env.Query(relaxed, repository.QueryInstallableOnly, repository.OrderVersionDescending)
		for _, id := range ids {
			if d.env.MaskReasons(id).Empty() {
				d.addErrorEntry(id, EntryMasked, ctx)
				return &UseRequirementsNotMetError{Spec: spec.String()}
			}
		}
	}
	fails := make([]CandidateFailure, 0, len(installable))
	for _, id := range installable {
		fails = append(fails, CandidateFailure{ID: id.String(), Reasons: d.env.MaskReasons(id)})
	}
	if len(installable) > 0 {
		d.addErrorEntry(installable[0], EntryMasked, ctx)
	}
	return &AllMaskedError{Spec: spec.String(), Candidates: fails}
}

// preferInstalledOverUninstalled decides whether a same-slot installed
// instance should be kept over the best visible candidate.
func (d *DepList) preferInstalledOverUninstalled(inst, cand *repository.PackageID) bool {
	if d.opts.Reinstall == ReinstallAlways {
		return false
	}
	if d.opts.Upgrade == UpgradeAsNeeded {
		return true
	}
	if d.opts.TargetType == TargetPackage && d.matchesTopTarget(cand) {
		return false
	}
	if d.scmWindowElapsed(inst) {
		return false
	}
	if inst.Version().Compare(cand.Version()) != 0 {
		return false
	}
	if d.opts.Reinstall == ReinstallIfUseChanged && d.relevantUseChanged(inst, cand) {
		return false
	}
	return true
}

func (d *DepList) scmWindowElapsed(inst *repository.PackageID) bool {
	if !inst.Version().IsScm() || d.opts.ReinstallScm == ReinstallScmNever {
		return false
	}
	if d.opts.ReinstallScm == ReinstallScmAlways {
		return true
	}
	md := inst.Metadata()
	if md == nil || md.InstalledTime == 0 {
		return true
	}
	window := 24 * time.Hour
	if d.opts.ReinstallScm == ReinstallScmWeekly {
		window = 7 * 24 * time.Hour
	}
	return time.Since(time.Unix(md.InstalledTime, 0)) > window
}

// relevantUseChanged compares the effective state of the flags each side
// declares in IUSE.
func (d *DepList) relevantUseChanged(inst, cand *repository.PackageID) bool {
	state := func(id *repository.PackageID) map[name.UseFlagName]bool {
		out := make(map[name.UseFlagName]bool)
		if md := id.Metadata(); md != nil {
			for _, f := range md.IUse {
				out[f] = d.env.QueryUse(f, id)
			}
		}
		return out
	}
	a, b := state(inst), state(cand)
	if len(a) != len(b) {
		return true
	}
	for f, v := range a {
		if bv, ok := b[f]; !ok || bv != v {
			return true
		}
	}
	return false
}

func (d *DepList) cycleFor(ctx *addContext, last string) []string {
	for i, link := range ctx.chain {
		if link == last {
			return append(append([]string(nil), ctx.chain[i:]...), last)
		}
	}
	return []string{last, last}
}

// defaultDestinations names the repositories a new install should be
// written to, computed once per builder.
func (d *DepList) defaultDestinations() []name.RepositoryName {
	if d.destinations == nil {
		for _, r := range d.env.PackageDatabase().Repositories() {
			if r.IsDefaultDestination() || (r.InstalledRoot() != "" && r.SupportsUninstallAction()) {
				d.destinations = append(d.destinations, r.Name())
			}
		}
	}
	return d.destinations
}

// insertEntry places a new entry at the cursor and advances it.
func (d *DepList) insertEntry(e *Entry) int {
	idx := len(d.arena)
	e.Generation = d.generation
	e.Associated = -1
	switch e.Kind {
	case EntryPackage, EntryVirtual, EntryProvidedVirtual, EntryMasked:
		e.Destinations = d.defaultDestinations()
	}
	d.arena = append(d.arena, e)

	at := d.cursor
	if at > len(d.order) {
		at = len(d.order)
	}
	d.order = append(d.order, 0)
	copy(d.order[at+1:], d.order[at:])
	d.order[at] = idx
	d.cursor = at + 1

	d.index[e.ID.Name()] = append(d.index[e.ID.Name()], idx)
	return idx
}

func (d *DepList) position(idx int) int {
	for p, h := range d.order {
		if h == idx {
			return p
		}
	}
	return -1
}

func (d *DepList) attachTags(e *Entry, ctx *addContext) {
	if ctx.tag != nil && !e.HasTag(ctx.tag) {
		e.tags = append(e.tags, taggedTag{ctx.tag, d.generation})
	}
	if d.opts.DependencyTags && ctx.parent != nil {
		t := DependencyTag{Dependent: ctx.parent.String(), Role: ctx.role}
		if !e.HasTag(t) {
			e.tags = append(e.tags, taggedTag{t, d.generation})
		}
	}
}

// addErrorEntry inserts a diagnostic entry at the front of the list,
// idempotently per (name, kind).
func (d *DepList) addErrorEntry(id *repository.PackageID, kind EntryKind, ctx *addContext) {
	for _, idx := range d.index[id.Name()] {
		if d.arena[idx].Kind == kind {
			return
		}
	}
	saved := d.cursor
	d.cursor = 0
	e := &Entry{ID: id, Kind: kind, State: AllDepsDone}
	d.insertEntry(e)
	d.attachTags(e, ctx)
	d.cursor = saved + 1
}

type depPhase struct {
	raw    string
	role   DepRole
	policy DepsPolicy
}

func (d *DepList) uninstalledPhases(md *repository.Metadata) []depPhase {
	phases := []depPhase{
		{md.BuildDependencies, RoleBuild, d.opts.UninstalledDepsPre},
		{md.RunDependencies, RoleRun, d.opts.UninstalledDepsRuntime},
		{md.PostDependencies, RolePost, d.opts.UninstalledDepsPost},
	}
	if d.opts.Suggested == SuggestedInstall {
		phases = append(phases, depPhase{md.SuggestDependencies, RoleSuggest, d.opts.UninstalledDepsSuggested})
	}
	return phases
}

func (d *DepList) installedPhases(md *repository.Metadata) []depPhase {
	return []depPhase{
		{md.BuildDependencies, RoleBuild, d.opts.InstalledDepsPre},
		{md.RunDependencies, RoleRun, d.opts.InstalledDepsRuntime},
		{md.PostDependencies, RolePost, d.opts.InstalledDepsPost},
	}
}

// addPackage inserts the chosen candidate, expands its
// provides, surface suggestions, then walk pre and post deps around the
// cursor.
func (d *DepList) addPackage(id *repository.PackageID, spec *depspec.PackageDepSpec, ctx *addContext, overridden repository.MaskReasons) error {
	if id.IsVirtual() && overridden.Empty() {
		return d.addVirtual(id, ctx)
	}

	kind := EntryPackage
	switch {
	case !overridden.Empty():
		kind = EntryMasked
	case id.Name().Category == "virtual":
		kind = EntryVirtual
	}

	e := &Entry{ID: id, Kind: kind, State: NoDepsSeen, MaskedBy: overridden}
	idx := d.insertEntry(e)
	d.attachTags(e, ctx)
	d.tracef("+ %s %s", kind, id)

	md := id.Metadata()
	if md == nil {
		e.State = AllDepsDone
		return nil
	}

	provides := 0
	if md.EapiProfile().HasProvide && md.Provide != "" {
		n, err := d.expandProvides(id, idx, ctx)
		if err != nil {
			return err
		}
		provides = n
	}

	if d.opts.Suggested == SuggestedShow && md.SuggestDependencies != "" {
		if err := d.showSuggestions(id, ctx); err != nil {
			return err
		}
	}

	return d.walkDeps(e, idx, id, provides, d.uninstalledPhases(md), ctx)
}

// addVirtual resolves a virtual ID by pulling in its real provider
// first, then tethering a provided-virtual entry to the provider's entry.
func (d *DepList) addVirtual(id *repository.PackageID, ctx *addContext) error {
	target := id.Metadata().VirtualFor

	pctx := ctx.withChain(id.Name().String())
	pctx.parent = id
	if err := d.addPackageDep(target, pctx); err != nil {
		return err
	}

	provider := d.matchingEntries(target)
	if len(provider) == 0 {
		return &AllMaskedError{Spec: target.String()}
	}
	provIdx := provider[len(provider)-1]

	ve := &Entry{ID: id, Kind: EntryProvidedVirtual, State: AllDepsDone}
	d.cursor = d.position(provIdx) + 1
	h := d.insertEntry(ve)
	d.arena[h].Associated = provIdx
	d.attachTags(ve, ctx)
	d.tracef("+ provided-virtual %s -> %s", id, d.arena[provIdx].ID)
	return nil
}

// addAlreadyInstalled has the same shape as addPackage, but the
// entry stays installed, only installed-deps policies apply and no
// provides are synthesized.
func (d *DepList) addAlreadyInstalled(id *repository.PackageID, spec *depspec.PackageDepSpec, ctx *addContext) error {
	e := &Entry{ID: id, Kind: EntryAlreadyInstalled, State: NoDepsSeen}
	idx := d.insertEntry(e)
	d.attachTags(e, ctx)
	d.tracef("+ already-installed %s", id)

	md := id.Metadata()
	if md == nil {
		e.State = AllDepsDone
		return nil
	}
	return d.walkDeps(e, idx, id, 0, d.installedPhases(md), ctx)
}

// walkDeps runs the pre pass, advances the entry state, then the post
// pass with try-post recovery.
func (d *DepList) walkDeps(e *Entry, idx int, id *repository.PackageID, provides int, phases []depPhase, ctx *addContext) error {
	d.depth++
	defer func() { d.depth-- }()

	childCtx := ctx.withChain(id.Name().String())
	childCtx.parent = id
	childCtx.parentEntry = idx
	childCtx.tag = nil

	eapi := depspec.LookupEapi("0")
	if md := id.Metadata(); md != nil {
		eapi = md.EapiProfile()
	}

	parseTree := func(raw string) (*depspec.AllOfDepSpec, error) {
		if raw == "" {
			return &depspec.AllOfDepSpec{}, nil
		}
		return depspec.Parse(raw, eapi, depspec.DependencyParse)
	}

	var deferred []depPhase

	// Pre-deps land before the entry.
	for _, ph := range phases {
		switch ph.policy {
		case DepsPre, DepsPreOrPost:
		default:
			continue
		}
		tree, err := parseTree(ph.raw)
		if err != nil {
			return err
		}
		pctx := *childCtx
		pctx.role = ph.role
		d.cursor = d.position(idx)
		err = d.add(tree, &pctx)
		if err != nil {
			if _, circ := err.(*CircularDependencyError); circ && ph.policy == DepsPreOrPost {
				deferred = append(deferred, depPhase{ph.raw, ph.role, DepsTryPost})
				continue
			}
			return err
		}
	}

	e.State = PreDepsDone
	after := d.position(idx) + 1 + provides
	d.cursor = after

	// Post-deps land at the end of the list; a circular failure under
	// try-post retries with the circular policy downgraded to discard,
	// then drops the dep with a warning.
	postPhases := append(append([]depPhase(nil), phases...), deferred...)
	for _, ph := range postPhases {
		switch ph.policy {
		case DepsPost, DepsTryPost:
		default:
			continue
		}
		tree, err := parseTree(ph.raw)
		if err != nil {
			return err
		}
		pctx := *childCtx
		pctx.role = ph.role
		d.cursor = len(d.order)
		err = d.add(tree, &pctx)
		if err != nil {
			_, circ := err.(*CircularDependencyError)
			if !circ || ph.policy != DepsTryPost {
				return err
			}
			retry := *childCtx
			retry.role = ph.role
			retry.circular = CircularDiscard
			d.cursor = len(d.order)
			if err := d.add(tree, &retry); err != nil {
				d.warn("dropping %s deps of %s: %s", ph.role, id, err)
			}
		}
	}

	e.State = AllDepsDone
	d.cursor = d.position(idx) + 1 + provides
	return nil
}

// expandProvides synthesizes provided-virtual entries directly after the
// providing entry, sharing its slot and pointing back via Associated.
func (d *DepList) expandProvides(id *repository.PackageID, idx int, ctx *addContext) (int, error) {
	md := id.Metadata()
	tree, err := md.ProvideTree()
	if err != nil {
		return 0, err
	}

	var specs []*depspec.PackageDepSpec
	d.flattenUnderUse(tree, id, func(leaf depspec.DepSpec) {
		if p, ok := leaf.(*depspec.PackageDepSpec); ok && p.Name != nil {
			specs = append(specs, p)
		}
	})

	count := 0
	for _, p := range specs {
		parentSpec, perr := depspec.ParseAtom("="+id.Name().String()+"-"+id.Version().String(),
			userEapi, depspec.AtomOptions{})
		if perr != nil {
			return count, perr
		}
		vm := &repository.Metadata{
			Eapi:       md.Eapi,
			Slot:       id.Slot(),
			Keywords:   md.Keywords,
			VirtualFor: parentSpec,
		}
		vid := repository.NewPackageID(*p.Name, id.Version(), "virtuals", vm)
		ve := &Entry{ID: vid, Kind: EntryProvidedVirtual, State: AllDepsDone}
		d.cursor = d.position(idx) + 1 + count
		h := d.insertEntry(ve)
		d.arena[h].Associated = idx
		d.attachTags(ve, ctx)
		count++
	}
	return count, nil
}

// flattenUnderUse walks a tree taking conditionals per the given ID's USE
// state, yielding active leaves.
func (d *DepList) flattenUnderUse(node depspec.DepSpec, id *repository.PackageID, fn func(depspec.DepSpec)) {
	switch t := node.(type) {
	case *depspec.AllOfDepSpec:
		for _, c := range t.Children {
			d.flattenUnderUse(c, id, fn)
		}
	case *depspec.AnyOfDepSpec:
		for _, c := range t.Children {
			d.flattenUnderUse(c, id, fn)
		}
	case *depspec.ConditionalDepSpec:
		if d.env.QueryUse(t.Flag, id) == !t.Inverse {
			for _, c := range t.Children {
				d.flattenUnderUse(c, id, fn)
			}
		}
	default:
		fn(node)
	}
}

// showSuggestions emits suggestion entries without recursing into their
// dependencies.
func (d *DepList) showSuggestions(id *repository.PackageID, ctx *addContext) error {
	md := id.Metadata()
	tree, err := md.SuggestDependencyTree()
	if err != nil {
		return err
	}
	d.flattenUnderUse(tree, id, func(leaf depspec.DepSpec) {
		p, ok := leaf.(*depspec.PackageDepSpec)
		if !ok {
			return
		}
		if len(d.matchingEntries(p)) > 0 {
			return
		}
		ids, _ := d.env.Query(p, repository.QueryInstallableOnly, repository.OrderVersionDescending)
		for _, cand := range ids {
			if !d.env.MaskReasons(cand).Empty() {
				continue
			}
			e := &Entry{ID: cand, Kind: EntrySuggested, State: AllDepsDone}
			d.insertEntry(e)
			sctx := *ctx
			sctx.parent = id
			sctx.role = RoleSuggest
			d.attachTags(e, &sctx)
			break
		}
	})
	return nil
}
