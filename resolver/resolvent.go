// Package resolver is the second-generation planner: it aggregates
// constraints per resolvent, decides one outcome per resolvent, and
// orders the resulting resolvent graph with policy-driven cycle breaking.
package resolver

import (
	"fmt"
	"strings"

	"github.com/negril/paludis/depspec"
	"github.com/negril/paludis/name"
	"github.com/negril/paludis/repository"
)

// DestinationType says where a resolution's result is to be written.
type DestinationType int

const (
	InstallToSlash DestinationType = iota
	CreateBinary
)

func (d DestinationType) String() string {
	if d == CreateBinary {
		return "binary"
	}
	return "slash"
}

// A Resolvent is the identity under which constraints aggregate: one
// package line, in one slot (or none specified), for one destination.
type Resolvent struct {
	Name        name.QualifiedPackageName
	Slot        name.SlotName // "" when the slot is unconstrained
	Destination DestinationType
}

func (r Resolvent) String() string {
	slot := string(r.Slot)
	if slot == "" {
		slot = "*"
	}
	return fmt.Sprintf("%s:%s->%s", r.Name, slot, r.Destination)
}

// A Reason explains one constraint. The family is sealed.
type Reason interface {
	String() string
	reason()
}

// TargetReason: the user asked for this directly.
type TargetReason struct{ Target string }

// SetReason: pulled in by a named set.
type SetReason struct{ Set string }

// PresetReason: preloaded by a restart or by the host.
type PresetReason struct{ Explanation string }

// DependencyReason: required by a decided parent resolvent.
type DependencyReason struct {
	Parent Resolvent
	Dep    SanitisedDependency
}

// LikeOtherDestinationTypeReason: mirrored from the same package's
// resolution for another destination.
type LikeOtherDestinationTypeReason struct{ Other Resolvent }

// ViaBinaryReason: reached through a binary of the named resolvent.
type ViaBinaryReason struct{ Other Resolvent }

// WasUsedByReason: kept because installed dependents use it.
type WasUsedByReason struct{ Dependents []string }

// DependentReason: forced by a dependent being removed or changed.
type DependentReason struct{ Dependent string }

func (TargetReason) reason()                   {}
func (SetReason) reason()                      {}
func (PresetReason) reason()                   {}
func (DependencyReason) reason()               {}
func (LikeOtherDestinationTypeReason) reason() {}
func (ViaBinaryReason) reason()                {}
func (WasUsedByReason) reason()                {}
func (DependentReason) reason()                {}

func (r TargetReason) String() string { return "target:" + r.Target }
func (r SetReason) String() string    { return "set:" + r.Set }
func (r PresetReason) String() string { return "preset:" + r.Explanation }
func (r DependencyReason) String() string {
	return fmt.Sprintf("dependency of %s (%s)", r.Parent, r.Dep.Spec)
}
func (r LikeOtherDestinationTypeReason) String() string {
	return "like " + r.Other.String()
}
func (r ViaBinaryReason) String() string { return "via binary " + r.Other.String() }
func (r WasUsedByReason) String() string {
	return "was used by " + strings.Join(r.Dependents, ", ")
}
func (r DependentReason) String() string { return "dependent " + r.Dependent }

// UseExisting grades how eagerly an existing install satisfies a
// constraint; lower values are stricter.
type UseExisting int

const (
	UseExistingNever UseExisting = iota
	UseExistingIfTransient
	UseExistingIfSameVersion
	UseExistingIfSame
	UseExistingIfPossible
)

// A Constraint is one requirement accumulated against a resolvent.
type Constraint struct {
	Spec        *depspec.PackageDepSpec
	Destination DestinationType
	UseExisting UseExisting
	// Untaken constraints (suggestions) do not force a change on their
	// own.
	Untaken bool
	Reason  Reason
}

// A Decision is the chosen outcome for one resolvent. Sealed family.
type Decision interface {
	String() string
	decision()
}

// ChangesToMakeDecision installs or replaces with Origin.
type ChangesToMakeDecision struct {
	Origin *repository.PackageID
}

// ExistingNoChangeDecision keeps an existing install.
type ExistingNoChangeDecision struct {
	Existing *repository.PackageID
}

// NothingNoChangeDecision: nothing installed, nothing to do (blockers
// against things that are absent).
type NothingNoChangeDecision struct{}

// RemoveDecision removes the listed IDs.
type RemoveDecision struct {
	IDs []*repository.PackageID
}

// BreakDecision marks an ID broken by other changes.
type BreakDecision struct {
	ID *repository.PackageID
}

// UnableToDecideDecision carries the per-candidate explanations.
type UnableToDecideDecision struct {
	Unsuitable []UnsuitableCandidate
}

// UnsuitableCandidate explains why one candidate was rejected.
type UnsuitableCandidate struct {
	ID           *repository.PackageID
	MaskedBy     repository.MaskReasons
	UnmetSpecs   []string
}

func (ChangesToMakeDecision) decision()   {}
func (ExistingNoChangeDecision) decision() {}
func (NothingNoChangeDecision) decision() {}
func (RemoveDecision) decision()          {}
func (BreakDecision) decision()           {}
func (UnableToDecideDecision) decision()  {}

func (d ChangesToMakeDecision) String() string {
	return "install " + d.Origin.String()
}
func (d ExistingNoChangeDecision) String() string {
	return "keep " + d.Existing.String()
}
func (NothingNoChangeDecision) String() string { return "nothing" }
func (d RemoveDecision) String() string {
	parts := make([]string, len(d.IDs))
	for i, id := range d.IDs {
		parts[i] = id.String()
	}
	return "remove " + strings.Join(parts, ", ")
}
func (d BreakDecision) String() string { return "break " + d.ID.String() }
func (d UnableToDecideDecision) String() string {
	return fmt.Sprintf("unable to decide (%d unsuitable)", len(d.Unsuitable))
}

// A Resolution is the full state for one resolvent.
type Resolution struct {
	Resolvent   Resolvent
	Constraints []Constraint
	Decision    Decision
	SanitisedDeps []SanitisedDependency
}

// ID returns the decided package ID, nil for nothing/unable decisions.
func (r *Resolution) ID() *repository.PackageID {
	switch d := r.Decision.(type) {
	case ChangesToMakeDecision:
		return d.Origin
	case ExistingNoChangeDecision:
		return d.Existing
	case BreakDecision:
		return d.ID
	}
	return nil
}

// Taken reports whether any non-untaken constraint exists.
func (r *Resolution) Taken() bool {
	for _, c := range r.Constraints {
		if !c.Untaken {
			return true
		}
	}
	return false
}
