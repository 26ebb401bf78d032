package deplist

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/negril/paludis/depspec"
	"github.com/negril/paludis/name"
	"github.com/negril/paludis/repository"
)

// world is one test fixture: a source repository, an installed-state
// repository, and the environment over both.
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

func (w *world) list(mutate func(*Options)) *DepList {
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	return New(w.env, opts)
}

// plan renders entries as "kind cat/pkg-v" lines for comparison.
func plan(d *DepList) []string {
	var out []string
	for _, e := range d.Entries() {
		out = append(out, fmt.Sprintf("%s %s-%s", e.Kind, e.ID.Name(), e.ID.Version()))
	}
	return out
}

// serialize captures the full observable plan state, for the rollback
// bit-identity check.
func serialize(d *DepList) string {
	var b strings.Builder
	for _, e := range d.Entries() {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}

func TestSimpleInstallAlreadySatisfied(t *testing.T) {
	// The installed world already satisfies the target and
	// nothing is installable; fall-back keeps the installed instance.
	w := newWorld(t)
	w.inst.AddVersion("cat/test", "11")

	d := w.list(func(o *Options) { o.FallBack = FallBackAsNeeded })
	if err := d.AddTarget("=cat/test-11"); err != nil {
		t.Fatal(err)
	}
	want := []string{"already-installed cat/test-11"}
	if diff := cmp.Diff(want, plan(d)); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
	if d.HasErrors() {
		t.Error("HasErrors should be false")
	}
}

func TestUpgrade(t *testing.T) {
	// Both versions visible, target explicit: the upgrade
	// lands on the newer one with no already-installed entry.
	w := newWorld(t)
	w.inst.AddVersion("cat/foo", "1")
	w.repo.AddVersion("cat/foo", "1")
	w.repo.AddVersion("cat/foo", "2")

	d := w.list(nil)
	if err := d.AddTarget("cat/foo"); err != nil {
		t.Fatal(err)
	}
	want := []string{"package cat/foo-2"}
	if diff := cmp.Diff(want, plan(d)); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestVirtualExpansion(t *testing.T) {
	// Resolving a virtual pulls the real provider first
	// and tethers the provided-virtual entry to it.
	w := newWorld(t)
	w.repo.AddVersion("app-editors/vim", "7")
	ed := w.repo.AddVersion("virtual/editor", "0")
	target, err := depspec.ParseAtom("app-editors/vim", depspec.LookupEapi("paludis-1"), depspec.AtomOptions{})
	if err != nil {
		t.Fatal(err)
	}
	ed.VirtualFor = target

	d := w.list(nil)
	if err := d.AddTarget("virtual/editor"); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"package app-editors/vim-7",
		"provided-virtual virtual/editor-0",
	}
	if diff := cmp.Diff(want, plan(d)); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
	entries := d.Entries()
	if entries[1].Associated < 0 {
		t.Fatal("provided-virtual entry has no associated entry")
	}
	if got := d.EntryAt(entries[1].Associated); got.ID.Name().String() != "app-editors/vim" {
		t.Errorf("associated entry = %s, want the vim entry", got.ID)
	}
}

func TestProvideExpansionFollowsParent(t *testing.T) {
	// PROVIDE flattening: the synthesized virtual follows its provider
	// immediately, before any dependent of the provider.
	w := newWorld(t)
	m := w.repo.AddVersion("app-editors/vim", "7")
	m.Provide = "virtual/editor"
	m.Eapi = "0" // PROVIDE exists only in the old dialects

	d := w.list(nil)
	if err := d.AddTarget("app-editors/vim"); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"package app-editors/vim-7",
		"provided-virtual virtual/editor-7",
	}
	if diff := cmp.Diff(want, plan(d)); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
	entries := d.Entries()
	if entries[1].Associated < 0 || d.EntryAt(entries[1].Associated) != entries[0] {
		t.Error("provided virtual must point at its provider")
	}
	if entries[1].ID.Slot() != entries[0].ID.Slot() {
		t.Error("provided virtual must share its parent's slot")
	}

	// A later dep on the virtual is satisfied by the planned entry.
	w.repo.AddVersion("cat/user", "1").RunDependencies = "virtual/editor"
	if err := d.AddTarget("=cat/user-1"); err != nil {
		t.Fatal(err)
	}
	if len(d.Entries()) != 3 {
		t.Errorf("dep on provided virtual should not add new entries: %v", plan(d))
	}
}

func TestBlockerPolicies(t *testing.T) {
	// Blocker handling under each blocks policy.
	build := func(blocks BlocksPolicy) (*DepList, error) {
		w := newWorld(t)
		w.repo.AddVersion("cat/a", "2").RunDependencies = "!cat/b"
		w.inst.AddVersion("cat/b", "1")
		d := w.list(func(o *Options) { o.Blocks = blocks })
		return d, d.AddTarget("=cat/a-2")
	}

	d, err := build(BlocksError)
	if _, ok := err.(*BlockError); !ok {
		t.Fatalf("expected BlockError, got %v", err)
	}
	if len(d.Entries()) != 0 {
		t.Error("failed target must leave no plan")
	}

	d, err = build(BlocksAccumulate)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"blocker cat/b-1", "package cat/a-2"}
	if diff := cmp.Diff(want, plan(d)); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
	if !d.HasErrors() {
		t.Error("accumulated blocker must set HasErrors")
	}

	d, err = build(BlocksDiscard)
	if err != nil {
		t.Fatal(err)
	}
	if d.HasErrors() {
		t.Error("discarded blocker should not set HasErrors")
	}
	if len(d.Warnings()) == 0 {
		t.Error("discarded blocker should record a warning")
	}
}

func TestSelfBlockSatisfied(t *testing.T) {
	w := newWorld(t)
	w.repo.AddVersion("cat/a", "2").RunDependencies = "!cat/a"
	w.inst.AddVersion("cat/a", "1")

	d := w.list(func(o *Options) { o.Blocks = BlocksError })
	if err := d.AddTarget("=cat/a-2"); err != nil {
		t.Fatalf("self-block should be satisfied: %v", err)
	}
}

func TestAnyOfPrefersInstalled(t *testing.T) {
	// An installed alternative wins the any-of outright.
	w := newWorld(t)
	w.repo.AddVersion("cat/c", "1").RunDependencies = "|| ( cat/x cat/y )"
	w.repo.AddVersion("cat/x", "1")
	w.repo.AddVersion("cat/y", "1")
	w.inst.AddVersion("cat/y", "1")

	d := w.list(nil)
	if err := d.AddTarget("=cat/c-1"); err != nil {
		t.Fatal(err)
	}
	want := []string{"already-installed cat/y-1", "package cat/c-1"}
	if diff := cmp.Diff(want, plan(d)); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestAnyOfFirstBranchWhenNothingInstalled(t *testing.T) {
	w := newWorld(t)
	w.repo.AddVersion("cat/c", "1").RunDependencies = "|| ( cat/x cat/y )"
	w.repo.AddVersion("cat/x", "1")
	w.repo.AddVersion("cat/y", "1")

	d := w.list(nil)
	if err := d.AddTarget("=cat/c-1"); err != nil {
		t.Fatal(err)
	}
	entries := plan(d)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %v", entries)
	}
	// Tie-break is deterministic: lexicographic after scoring.
	if entries[0] != "package cat/x-1" {
		t.Errorf("deterministic tie-break should pick cat/x: %v", entries)
	}
}

func TestAnyOfSkipsBlockedBranch(t *testing.T) {
	// The first branch triggers a blocker; the trial must fail fast and
	// fall through to the second.
	w := newWorld(t)
	w.repo.AddVersion("cat/c", "1").RunDependencies = "|| ( cat/bad cat/good )"
	w.repo.AddVersion("cat/bad", "1").RunDependencies = "!cat/c"
	w.repo.AddVersion("cat/good", "1")

	d := w.list(nil)
	if err := d.AddTarget("=cat/c-1"); err != nil {
		t.Fatal(err)
	}
	for _, line := range plan(d) {
		if strings.Contains(line, "cat/bad") {
			t.Errorf("blocked branch should not be chosen: %v", plan(d))
		}
	}
}

func TestCircularDiscard(t *testing.T) {
	// A pre-dep cycle: p needs q at runtime, q
	// needs p to build.
	w := newWorld(t)
	w.repo.AddVersion("cat/p", "1").RunDependencies = "cat/q"
	w.repo.AddVersion("cat/q", "1").BuildDependencies = "cat/p"

	d := w.list(func(o *Options) { o.Circular = CircularDiscard })
	if err := d.AddTarget("=cat/p-1"); err != nil {
		t.Fatal(err)
	}
	want := []string{"package cat/q-1", "package cat/p-1"}
	if diff := cmp.Diff(want, plan(d)); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
	if len(d.Warnings()) == 0 {
		t.Fatal("discarded cycle must record a warning")
	}
	if !strings.Contains(d.Warnings()[0], "cat/p") {
		t.Errorf("warning should name the cycle: %q", d.Warnings()[0])
	}

	// discard-silently drops the dep without the warning.
	d = w.list(func(o *Options) { o.Circular = CircularDiscardSilently })
	if err := d.AddTarget("=cat/p-1"); err != nil {
		t.Fatal(err)
	}
	if len(d.Warnings()) != 0 {
		t.Errorf("discard-silently must not warn: %v", d.Warnings())
	}
}

func TestCircularError(t *testing.T) {
	w := newWorld(t)
	w.repo.AddVersion("cat/p", "1").BuildDependencies = "cat/q"
	w.repo.AddVersion("cat/q", "1").BuildDependencies = "cat/p"

	d := w.list(nil)
	err := d.AddTarget("=cat/p-1")
	ce, ok := err.(*CircularDependencyError)
	if !ok {
		t.Fatalf("expected CircularDependencyError, got %v", err)
	}
	if len(ce.Cycle) < 2 || ce.Cycle[0] != ce.Cycle[len(ce.Cycle)-1] {
		t.Errorf("cycle witness must close on itself: %v", ce.Cycle)
	}
	if len(d.Entries()) != 0 {
		t.Error("failed target must roll back")
	}
}

func TestBenignCycleViaInstalled(t *testing.T) {
	// The cycle participant is already satisfied by the installed set, so
	// re-entry is benign even under circular=error.
	w := newWorld(t)
	w.repo.AddVersion("cat/p", "2").BuildDependencies = "cat/q"
	w.repo.AddVersion("cat/q", "1").BuildDependencies = "cat/p"
	w.inst.AddVersion("cat/p", "1")

	d := w.list(nil)
	if err := d.AddTarget("=cat/p-2"); err != nil {
		t.Fatalf("cycle satisfied by installed should pass: %v", err)
	}
}

func TestPredecessorProperty(t *testing.T) {
	// Every build/run dependency that resolved to an entry appears before
	// its dependent.
	w := newWorld(t)
	w.repo.AddVersion("cat/top", "1").RunDependencies = "cat/mid"
	w.repo.AddVersion("cat/mid", "1").RunDependencies = "cat/leaf cat/leaf2"
	w.repo.AddVersion("cat/leaf", "1").BuildDependencies = "cat/leaf2"
	w.repo.AddVersion("cat/leaf2", "1")

	d := w.list(nil)
	if err := d.AddTarget("cat/top"); err != nil {
		t.Fatal(err)
	}
	pos := make(map[string]int)
	for i, e := range d.Entries() {
		pos[e.ID.Name().String()] = i
	}
	deps := map[string][]string{
		"cat/top":  {"cat/mid"},
		"cat/mid":  {"cat/leaf", "cat/leaf2"},
		"cat/leaf": {"cat/leaf2"},
	}
	for pkg, reqs := range deps {
		for _, r := range reqs {
			if pos[r] >= pos[pkg] {
				t.Errorf("%s must precede %s: %v", r, pkg, plan(d))
			}
		}
	}
}

func TestTransactionRollbackBitIdentical(t *testing.T) {
	w := newWorld(t)
	w.repo.AddVersion("cat/ok", "1")
	w.repo.AddVersion("cat/doomed", "1").BuildDependencies = "cat/missing"

	d := w.list(nil)
	if err := d.AddTarget("=cat/ok-1"); err != nil {
		t.Fatal(err)
	}
	before := serialize(d)

	if err := d.AddTarget("=cat/doomed-1"); err == nil {
		t.Fatal("doomed target should fail")
	}
	if after := serialize(d); after != before {
		t.Errorf("rollback not bit-identical:\nbefore:\n%s\nafter:\n%s", before, after)
	}

	// The surviving plan must still work as a base for further targets.
	if err := d.AddTarget("=cat/ok-1"); err != nil {
		t.Fatal(err)
	}
}

func TestTagPreservation(t *testing.T) {
	w := newWorld(t)
	w.repo.AddVersion("cat/shared", "1")
	w.repo.AddVersion("cat/user1", "1").RunDependencies = "cat/shared"
	w.repo.AddVersion("cat/user2", "1").RunDependencies = "cat/shared"

	d := w.list(func(o *Options) { o.DependencyTags = true })
	if err := d.AddTarget("=cat/user1-1"); err != nil {
		t.Fatal(err)
	}
	if err := d.AddTarget("=cat/user2-1"); err != nil {
		t.Fatal(err)
	}

	var shared *Entry
	for _, e := range d.Entries() {
		if e.ID.Name().String() == "cat/shared" {
			shared = e
		}
	}
	if shared == nil {
		t.Fatal("cat/shared not in plan")
	}
	var dependents []string
	for _, tag := range shared.Tags() {
		if dt, ok := tag.(DependencyTag); ok {
			dependents = append(dependents, dt.Dependent)
		}
	}
	if len(dependents) != 2 {
		t.Errorf("both dependents must be tagged, got %v", dependents)
	}
	for _, e := range d.Entries() {
		if len(e.Tags()) == 0 {
			t.Errorf("entry %s lost its provenance", e.ID)
		}
	}
}

func TestUseConditionalDeps(t *testing.T) {
	w := newWorld(t)
	m := w.repo.AddVersion("cat/app", "1")
	m.IUse = []name.UseFlagName{"ssl"}
	m.Choices["ssl"] = true
	m.RunDependencies = "ssl? ( cat/tls ) !ssl? ( cat/plain )"
	w.repo.AddVersion("cat/tls", "1")
	w.repo.AddVersion("cat/plain", "1")

	d := w.list(nil)
	if err := d.AddTarget("=cat/app-1"); err != nil {
		t.Fatal(err)
	}
	want := []string{"package cat/tls-1", "package cat/app-1"}
	if diff := cmp.Diff(want, plan(d)); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}

	// use=skip ignores the conditionals entirely.
	d = w.list(func(o *Options) { o.Use = UseSkip })
	if err := d.AddTarget("=cat/app-1"); err != nil {
		t.Fatal(err)
	}
	if len(d.Entries()) != 1 {
		t.Errorf("use=skip should plan the app alone: %v", plan(d))
	}

	// use=take-all follows both sides.
	d = w.list(func(o *Options) { o.Use = UseTakeAll })
	if err := d.AddTarget("=cat/app-1"); err != nil {
		t.Fatal(err)
	}
	if len(d.Entries()) != 3 {
		t.Errorf("use=take-all should follow both branches: %v", plan(d))
	}
}

func TestAllMasked(t *testing.T) {
	w := newWorld(t)
	m := w.repo.AddVersion("cat/bad", "1")
	m.Keywords = []name.KeywordName{"~test"}

	d := w.list(func(o *Options) { o.FallBack = FallBackNever })
	err := d.AddTarget("cat/bad")
	ame, ok := err.(*AllMaskedError)
	if !ok {
		t.Fatalf("expected AllMaskedError, got %v", err)
	}
	if len(ame.Candidates) == 0 || !ame.Candidates[0].Reasons.Has(repository.MaskKeyword) {
		t.Errorf("error should carry per-candidate mask reasons: %+v", ame)
	}
}

func TestOverrideMasks(t *testing.T) {
	w := newWorld(t)
	m := w.repo.AddVersion("cat/bad", "1")
	m.Keywords = []name.KeywordName{"~test"}

	d := w.list(func(o *Options) { o.OverrideMasks = repository.MaskKeyword })
	if err := d.AddTarget("cat/bad"); err != nil {
		t.Fatal(err)
	}
	entries := d.Entries()
	if len(entries) != 1 || entries[0].Kind != EntryMasked {
		t.Fatalf("override should yield a masked entry: %v", plan(d))
	}
	if !entries[0].MaskedBy.Has(repository.MaskKeyword) {
		t.Error("masked entry should record the overridden reason")
	}
	if !d.HasErrors() {
		t.Error("masked entries flag HasErrors")
	}
}

func TestUseRequirementsNotMet(t *testing.T) {
	w := newWorld(t)
	m := w.repo.AddVersion("cat/lib", "1")
	m.IUse = []name.UseFlagName{"ssl"}

	d := w.list(func(o *Options) { o.FallBack = FallBackNever })
	err := d.AddTarget("cat/lib[ssl]")
	if _, ok := err.(*UseRequirementsNotMetError); !ok {
		t.Fatalf("expected UseRequirementsNotMetError, got %v", err)
	}
}

func TestDowngradePolicies(t *testing.T) {
	w := newWorld(t)
	w.repo.AddVersion("cat/foo", "1")
	w.inst.AddVersion("cat/foo", "2")

	d := w.list(func(o *Options) { o.Downgrade = DowngradeError; o.Reinstall = ReinstallAlways })
	err := d.AddTarget("cat/foo")
	if _, ok := err.(*DowngradeNotAllowedError); !ok {
		t.Fatalf("expected DowngradeNotAllowedError, got %v", err)
	}

	d = w.list(func(o *Options) { o.Downgrade = DowngradeWarning; o.Reinstall = ReinstallAlways })
	if err := d.AddTarget("cat/foo"); err != nil {
		t.Fatal(err)
	}
	if len(d.Warnings()) == 0 {
		t.Error("downgrade=warning should record a warning")
	}
	want := []string{"package cat/foo-1"}
	if diff := cmp.Diff(want, plan(d)); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestUpgradeAsNeededIdempotence(t *testing.T) {
	// With everything satisfied and upgrade=as-needed the plan is all
	// already-installed entries.
	w := newWorld(t)
	w.repo.AddVersion("cat/top", "2")
	w.repo.AddVersion("cat/dep", "2")
	w.inst.AddVersion("cat/top", "1").RunDependencies = "cat/dep"
	w.inst.AddVersion("cat/dep", "1")

	d := w.list(func(o *Options) {
		o.Upgrade = UpgradeAsNeeded
		o.InstalledDepsRuntime = DepsPre
	})
	if err := d.AddTarget("cat/top"); err != nil {
		t.Fatal(err)
	}
	for _, e := range d.Entries() {
		if e.Kind != EntryAlreadyInstalled {
			t.Errorf("expected only already-installed entries: %v", plan(d))
		}
	}
	if d.HasErrors() {
		t.Error("no errors expected")
	}
}

func TestNewSlotsPolicies(t *testing.T) {
	w := newWorld(t)
	m := w.repo.AddVersion("cat/gcc", "5")
	m.Slot = "5"
	mi := w.inst.AddVersion("cat/gcc", "4")
	mi.Slot = "4"

	// as-needed keeps the installed other-slot instance for a dep.
	w.repo.AddVersion("cat/user", "1").RunDependencies = "cat/gcc"
	d := w.list(func(o *Options) { o.NewSlots = NewSlotsAsNeeded })
	if err := d.AddTarget("=cat/user-1"); err != nil {
		t.Fatal(err)
	}
	want := []string{"already-installed cat/gcc-4", "package cat/user-1"}
	if diff := cmp.Diff(want, plan(d)); diff != "" {
		t.Errorf("as-needed plan mismatch (-want +got):\n%s", diff)
	}

	// always introduces the new slot.
	d = w.list(nil)
	if err := d.AddTarget("=cat/user-1"); err != nil {
		t.Fatal(err)
	}
	want = []string{"package cat/gcc-5", "package cat/user-1"}
	if diff := cmp.Diff(want, plan(d)); diff != "" {
		t.Errorf("always plan mismatch (-want +got):\n%s", diff)
	}
}

func TestReinstallIfUseChanged(t *testing.T) {
	w := newWorld(t)
	mr := w.repo.AddVersion("cat/foo", "1")
	mr.IUse = []name.UseFlagName{"ssl"}
	mr.Choices["ssl"] = true
	mi := w.inst.AddVersion("cat/foo", "1")
	mi.IUse = []name.UseFlagName{"ssl"}

	// Exercise the use comparison through a dependent, so the top-target
	// short circuit stays out of the way.
	w.repo.AddVersion("cat/user", "1").RunDependencies = "cat/foo"
	d := w.list(func(o *Options) { o.Reinstall = ReinstallIfUseChanged })
	if err := d.AddTarget("=cat/user-1"); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, line := range plan(d) {
		if line == "package cat/foo-1" {
			found = true
		}
	}
	if !found {
		t.Errorf("changed USE should force a reinstall: %v", plan(d))
	}
}

func TestSuggestedPolicies(t *testing.T) {
	w := newWorld(t)
	w.repo.AddVersion("cat/app", "1").SuggestDependencies = "cat/extra"
	w.repo.AddVersion("cat/extra", "1").RunDependencies = "cat/deep"
	w.repo.AddVersion("cat/deep", "1")

	// show: the suggestion surfaces without recursion.
	d := w.list(nil)
	if err := d.AddTarget("=cat/app-1"); err != nil {
		t.Fatal(err)
	}
	want := []string{"package cat/app-1", "suggested cat/extra-1"}
	if diff := cmp.Diff(want, plan(d)); diff != "" {
		t.Errorf("show plan mismatch (-want +got):\n%s", diff)
	}

	// install: the suggestion is followed like a dep, including its own
	// deps.
	d = w.list(func(o *Options) { o.Suggested = SuggestedInstall })
	if err := d.AddTarget("=cat/app-1"); err != nil {
		t.Fatal(err)
	}
	got := plan(d)
	if len(got) != 3 {
		t.Errorf("install should pull the suggestion and its deps: %v", got)
	}

	// ignore: nothing.
	d = w.list(func(o *Options) { o.Suggested = SuggestedIgnore })
	if err := d.AddTarget("=cat/app-1"); err != nil {
		t.Fatal(err)
	}
	if len(d.Entries()) != 1 {
		t.Errorf("ignore should plan the app alone: %v", plan(d))
	}
}

func TestSetTarget(t *testing.T) {
	w := newWorld(t)
	w.repo.AddVersion("cat/a", "1")
	w.repo.AddVersion("cat/b", "1")
	tree, err := depspec.Parse("cat/a cat/b", depspec.LookupEapi("paludis-1"), depspec.DependencyParse)
	if err != nil {
		t.Fatal(err)
	}
	w.repo.AddSet("myset", tree)

	d := w.list(nil)
	if err := d.AddTarget("myset"); err != nil {
		t.Fatal(err)
	}
	if len(d.Entries()) != 2 {
		t.Fatalf("set should expand to both members: %v", plan(d))
	}
	for _, e := range d.Entries() {
		tags := e.Tags()
		if len(tags) != 1 {
			t.Fatalf("expected one tag, got %v", tags)
		}
		if st, ok := tags[0].(SetTag); !ok || st.Set != "myset" {
			t.Errorf("set members carry the set tag, got %v", tags[0])
		}
	}
}

func TestBareNameTarget(t *testing.T) {
	w := newWorld(t)
	w.repo.AddVersion("cat/unique", "1")

	d := w.list(nil)
	if err := d.AddTarget("unique"); err != nil {
		t.Fatal(err)
	}
	want := []string{"package cat/unique-1"}
	if diff := cmp.Diff(want, plan(d)); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}

	// A second category with the same package part makes the bare name
	// ambiguous. The database name index is built once, so use a fresh
	// world.
	w2 := newWorld(t)
	w2.repo.AddVersion("cat/unique", "1")
	w2.repo.AddVersion("other/unique", "1")
	d2 := w2.list(nil)
	err := d2.AddTarget("unique")
	if _, ok := err.(*repository.AmbiguousPackageNameError); !ok {
		t.Fatalf("expected AmbiguousPackageNameError, got %v", err)
	}
}

func TestParseOptions(t *testing.T) {
	o, err := ParseOptions(RawOptions{
		Reinstall: "if-use-changed",
		Upgrade:   "as-needed",
		Circular:  "discard-silently",
		Blocks:    "discard",
	})
	if err != nil {
		t.Fatal(err)
	}
	if o.Reinstall != ReinstallIfUseChanged || o.Upgrade != UpgradeAsNeeded ||
		o.Circular != CircularDiscardSilently || o.Blocks != BlocksDiscard {
		t.Errorf("options not applied: %+v", o)
	}

	_, err = ParseOptions(RawOptions{Upgrade: "sometimes"})
	ce, ok := err.(*ConfigurationError)
	if !ok {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if ce.Option != "upgrade" {
		t.Errorf("error should name the option: %+v", ce)
	}
}
