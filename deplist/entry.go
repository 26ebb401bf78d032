// Package deplist implements the recursive dep-list builder: it grows an
// ordered merge list from user targets by walking each selected package's
// declared dependencies, honoring slots, virtual providers, masks and the
// configured policy bundle.
package deplist

import (
	"fmt"
	"strings"

	"github.com/negril/paludis/name"
	"github.com/negril/paludis/repository"
)

// EntryKind classifies one merge list entry.
type EntryKind int

const (
	EntryPackage EntryKind = iota
	EntryVirtual
	EntryProvidedVirtual
	EntrySubpackage
	EntryAlreadyInstalled
	EntrySuggested
	EntryMasked
	EntryBlocker
)

var entryKindNames = map[EntryKind]string{
	EntryPackage:          "package",
	EntryVirtual:          "virtual",
	EntryProvidedVirtual:  "provided-virtual",
	EntrySubpackage:       "subpackage",
	EntryAlreadyInstalled: "already-installed",
	EntrySuggested:        "suggested",
	EntryMasked:           "masked",
	EntryBlocker:          "blocker",
}

func (k EntryKind) String() string {
	if s, ok := entryKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("EntryKind(%d)", int(k))
}

// EntryState tracks how far the builder has walked an entry's deps.
type EntryState int

const (
	NoDepsSeen EntryState = iota
	PreDepsDone
	AllDepsDone
)

// DepRole labels which dependency tree caused an edge.
type DepRole int

const (
	RoleBuild DepRole = iota
	RoleRun
	RolePost
	RoleSuggest
)

var depRoleNames = map[DepRole]string{
	RoleBuild:   "build",
	RoleRun:     "run",
	RolePost:    "post",
	RoleSuggest: "suggest",
}

func (r DepRole) String() string { return depRoleNames[r] }

// A Tag records why an entry is in the plan. The family is sealed.
type Tag interface {
	String() string
	tag()
}

// TargetTag marks an entry caused by an explicit user target.
type TargetTag struct{ Target string }

// SetTag marks an entry caused by a named set.
type SetTag struct{ Set string }

// DependencyTag marks an entry caused by a dependency edge from
// Dependent, in the given role.
type DependencyTag struct {
	Dependent string
	Role      DepRole
}

// GeneralTag carries free-form provenance.
type GeneralTag struct{ Text string }

func (TargetTag) tag()     {}
func (SetTag) tag()        {}
func (DependencyTag) tag() {}
func (GeneralTag) tag()    {}

func (t TargetTag) String() string { return "target:" + t.Target }
func (t SetTag) String() string    { return "set:" + t.Set }
func (t DependencyTag) String() string {
	return fmt.Sprintf("dep:%s(%s)", t.Dependent, t.Role)
}
func (t GeneralTag) String() string { return t.Text }

// An Entry is one planned action against the installed database. Entries
// live in an append-only arena and refer to each other by index.
type Entry struct {
	ID         *repository.PackageID
	Kind       EntryKind
	State      EntryState
	Generation int

	// MaskedBy is set on kind=masked entries taken via override-masks,
	// recording which reasons were overridden.
	MaskedBy repository.MaskReasons

	// Destinations names the repositories the entry should be written to.
	Destinations []name.RepositoryName

	// Associated points at the real provider for provided-virtual
	// entries, -1 otherwise.
	Associated int

	tags []taggedTag
}

type taggedTag struct {
	tag Tag
	gen int
}

// Tags returns the provenance tags in the order they were attached.
func (e *Entry) Tags() []Tag {
	out := make([]Tag, len(e.tags))
	for i, t := range e.tags {
		out[i] = t.tag
	}
	return out
}

// HasTag reports whether an equal tag is already attached.
func (e *Entry) HasTag(t Tag) bool {
	for _, have := range e.tags {
		if have.tag == t {
			return true
		}
	}
	return false
}

// String renders the stable textual form consumers serialise.
func (e *Entry) String() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteByte(' ')
	b.WriteString(e.ID.String())
	if len(e.tags) > 0 {
		parts := make([]string, len(e.tags))
		for i, t := range e.tags {
			parts[i] = t.tag.String()
		}
		b.WriteString(" <" + strings.Join(parts, " ") + ">")
	}
	if e.Associated >= 0 {
		fmt.Fprintf(&b, " ->%d", e.Associated)
	}
	return b.String()
}
