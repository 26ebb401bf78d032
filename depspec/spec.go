package depspec

import (
	"strings"

	"github.com/negril/paludis/name"
)

// SlotRequirementKind discriminates the slot forms an atom can carry.
type SlotRequirementKind int

const (
	// SlotAny is the absence of a slot requirement.
	SlotAny SlotRequirementKind = iota
	// SlotExact is ":slot".
	SlotExact
	// SlotAnyUnlocked is ":*": any slot, rebuild not forced on change.
	SlotAnyUnlocked
	// SlotAnyLocked is ":=": any slot, locked to whatever slot the
	// matching installed instance occupies.
	SlotAnyLocked
)

// SlotRequirement is an atom's slot constraint.
type SlotRequirement struct {
	Kind SlotRequirementKind
	Slot name.SlotName // set for SlotExact
	// Locked marks the ":slot=" form: exact slot, with the lock bit.
	Locked bool
}

// RepositoryRequirement is the "::repo" and "::src->dst" family.
type RepositoryRequirement struct {
	// FromRepository constrains the repository the ID comes from.
	FromRepository name.RepositoryName
	// ToRepository, when set, constrains the intended destination
	// ("::src->dst"). Either side of the arrow may be empty.
	ToRepository name.RepositoryName
	HasArrow     bool
}

// InstallableToRequirement is the "::repo?" / "::repo??" and "::/path?"
// forms: the ID must be installable to the named repository or path. The
// single-'?' form requires a visible (unmasked) candidate; the double form
// also admits masked ones.
type InstallableToRequirement struct {
	Repository    name.RepositoryName
	Path          string
	IncludeMasked bool
}

// UseRequirementState enumerates the "[flag...]" forms.
type UseRequirementState int

const (
	UseEnabled            UseRequirementState = iota // [flag]
	UseDisabled                                      // [-flag]
	UseEqual                                         // [flag=]
	UseNotEqual                                      // [!flag=]
	UseEnabledIfEnabled                              // [flag?]
	UseDisabledIfDisabled                            // [!flag?]
)

// A UseRequirement is one flag requirement inside "[...]".
type UseRequirement struct {
	Flag  name.UseFlagName
	State UseRequirementState
}

// A KeyRequirement is a "[.KEY=VALUE]" metadata filter.
type KeyRequirement struct {
	Key   string
	Value string
}

// A PackageDepSpec is a structured predicate over package IDs: the atom.
// Any field may be absent. It is immutable once parsed.
type PackageDepSpec struct {
	// Exactly one of the three name forms is set: a full qualified name,
	// just a category ("cat/*"), or just a package part ("pkg", permitted
	// only when the parse options allow wildcards).
	Name         *name.QualifiedPackageName
	CategoryPart *name.CategoryNamePart
	PackagePart  *name.PackageNamePart

	Versions      name.VersionRequirements
	Slot          SlotRequirement
	Repository    *RepositoryRequirement
	InstallableTo *InstallableToRequirement
	Use           []UseRequirement
	Keys          []KeyRequirement

	raw string
}

func (p *PackageDepSpec) String() string { return p.raw }

// A MatchTarget is the slice of a package ID the matcher needs. The
// repository package's PackageID satisfies it.
type MatchTarget interface {
	Name() name.QualifiedPackageName
	Version() *name.VersionSpec
	Slot() name.SlotName
	RepositoryName() name.RepositoryName
	// MetadataValue stringifies the named metadata key: strings literally,
	// collections space-joined, IDs in fully-qualified form. The bool is
	// false for keys the ID does not carry.
	MetadataValue(key string) (string, bool)
}

// A UseOracle answers effective USE state queries; the environment
// implements it.
type UseOracle interface {
	QueryUse(flag name.UseFlagName, target MatchTarget) bool
}

// MatchOptions tune a single Matches call.
type MatchOptions struct {
	// IgnoreUseRequirements skips clause 5, for "would match if USE
	// agreed" diagnostics.
	IgnoreUseRequirements bool
	// Parent is the ID whose dependency string contained this atom; the
	// conditional USE requirement forms are evaluated against it. With a
	// nil Parent those forms are vacuously satisfied.
	Parent MatchTarget
	// Destination is the intended destination repository, consulted by
	// the "::src->dst" form.
	Destination name.RepositoryName
	// InstalledSlot, when non-empty, is the slot the currently installed
	// instance occupies; the ":=" lock matches against it.
	InstalledSlot name.SlotName
}

// Matches reports whether target satisfies the atom. The installable-to
// requirement is intentionally not evaluated here: it needs a whole
// package database, and is applied by the environment's match query.
func (p *PackageDepSpec) Matches(uses UseOracle, target MatchTarget, opts MatchOptions) bool {
	tn := target.Name()
	switch {
	case p.Name != nil:
		if *p.Name != tn {
			return false
		}
	case p.CategoryPart != nil:
		if *p.CategoryPart != tn.Category {
			return false
		}
	case p.PackagePart != nil:
		if *p.PackagePart != tn.Package {
			return false
		}
	}

	if !p.Versions.Satisfied(target.Version()) {
		return false
	}

	switch p.Slot.Kind {
	case SlotExact:
		if target.Slot() != p.Slot.Slot {
			return false
		}
	case SlotAnyLocked:
		if opts.InstalledSlot != "" && target.Slot() != opts.InstalledSlot {
			return false
		}
	}

	if p.Repository != nil {
		if p.Repository.FromRepository != "" && target.RepositoryName() != p.Repository.FromRepository {
			return false
		}
		if p.Repository.HasArrow && p.Repository.ToRepository != "" &&
			opts.Destination != "" && opts.Destination != p.Repository.ToRepository {
			return false
		}
	}

	if !opts.IgnoreUseRequirements {
		for _, u := range p.Use {
			if !matchUseRequirement(uses, u, target, opts.Parent) {
				return false
			}
		}
	}

	for _, k := range p.Keys {
		v, ok := target.MetadataValue(k.Key)
		if !ok || v != k.Value {
			return false
		}
	}

	return true
}

func matchUseRequirement(uses UseOracle, u UseRequirement, target, parent MatchTarget) bool {
	cur := uses.QueryUse(u.Flag, target)
	switch u.State {
	case UseEnabled:
		return cur
	case UseDisabled:
		return !cur
	}
	if parent == nil {
		// Requirements relative to a parent are vacuous without one.
		return true
	}
	pcur := uses.QueryUse(u.Flag, parent)
	switch u.State {
	case UseEqual:
		return cur == pcur
	case UseNotEqual:
		return cur != pcur
	case UseEnabledIfEnabled:
		return !pcur || cur
	case UseDisabledIfDisabled:
		return pcur || !cur
	}
	return true
}

// WithoutUseRequirements returns a copy of p with the USE requirements
// stripped, used when diagnosing use-requirements-not-met.
func (p *PackageDepSpec) WithoutUseRequirements() *PackageDepSpec {
	if len(p.Use) == 0 {
		return p
	}
	q := *p
	q.Use = nil
	if i := strings.IndexByte(q.raw, '['); i > 0 {
		q.raw = q.raw[:i]
	}
	return &q
}
