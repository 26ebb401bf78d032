package depspec

import (
	"strings"

	"github.com/negril/paludis/name"
)

// A DepSpec is one node in a parsed dependency expression. It is a sealed
// sum type: the only implementations are the node structs in this package,
// and consumers dispatch with an exhaustive type switch.
//
// The private method follows the same sealing trick the rest of the system
// uses for closed families; it exists so the compiler can verify that no
// foreign node kind sneaks into a tree.
type DepSpec interface {
	String() string
	depSpec()
}

func (*AllOfDepSpec) depSpec()        {}
func (*AnyOfDepSpec) depSpec()        {}
func (*ExactlyOneOfDepSpec) depSpec() {}
func (*AtMostOneOfDepSpec) depSpec()  {}
func (*ConditionalDepSpec) depSpec()  {}
func (*PackageDepSpec) depSpec()      {}
func (*BlockDepSpec) depSpec()        {}
func (*PlainTextDepSpec) depSpec()    {}

// AllOfDepSpec requires every child to hold. The root of every parsed
// dependency string is an all-of node.
type AllOfDepSpec struct {
	Children []DepSpec
}

// AnyOfDepSpec requires at least one child to hold.
type AnyOfDepSpec struct {
	Children []DepSpec
}

// ExactlyOneOfDepSpec requires exactly one child to hold.
type ExactlyOneOfDepSpec struct {
	Children []DepSpec
}

// AtMostOneOfDepSpec permits no more than one child to hold.
type AtMostOneOfDepSpec struct {
	Children []DepSpec
}

// ConditionalDepSpec gates its children on a USE flag's state.
type ConditionalDepSpec struct {
	Flag     name.UseFlagName
	Inverse  bool
	Children []DepSpec
}

// BlockDepSpec forbids anything matching Spec from being installed
// alongside the dependant. Strong blocks forbid even transient coexistence.
type BlockDepSpec struct {
	Spec   *PackageDepSpec
	Strong bool
}

// PlainTextDepSpec is a bare token, legal only in license and URI trees.
type PlainTextDepSpec struct {
	Text string
}

func renderChildren(cs []DepSpec) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}

func (d *AllOfDepSpec) String() string {
	return "( " + renderChildren(d.Children) + " )"
}

func (d *AnyOfDepSpec) String() string {
	return "|| ( " + renderChildren(d.Children) + " )"
}

func (d *ExactlyOneOfDepSpec) String() string {
	return "^^ ( " + renderChildren(d.Children) + " )"
}

func (d *AtMostOneOfDepSpec) String() string {
	return "?? ( " + renderChildren(d.Children) + " )"
}

func (d *ConditionalDepSpec) String() string {
	s := string(d.Flag) + "? ( " + renderChildren(d.Children) + " )"
	if d.Inverse {
		return "!" + s
	}
	return s
}

func (d *BlockDepSpec) String() string {
	if d.Strong {
		return "!!" + d.Spec.String()
	}
	return "!" + d.Spec.String()
}

func (d *PlainTextDepSpec) String() string { return d.Text }

// WalkLeaves calls fn for every leaf (package, block or plain-text node)
// reachable under d, with conditionals taken unconditionally. It is the
// traversal used by consumers that only care about what a tree could ever
// name, not what it currently requires.
func WalkLeaves(d DepSpec, fn func(DepSpec)) {
	switch t := d.(type) {
	case *AllOfDepSpec:
		for _, c := range t.Children {
			WalkLeaves(c, fn)
		}
	case *AnyOfDepSpec:
		for _, c := range t.Children {
			WalkLeaves(c, fn)
		}
	case *ExactlyOneOfDepSpec:
		for _, c := range t.Children {
			WalkLeaves(c, fn)
		}
	case *AtMostOneOfDepSpec:
		for _, c := range t.Children {
			WalkLeaves(c, fn)
		}
	case *ConditionalDepSpec:
		for _, c := range t.Children {
			WalkLeaves(c, fn)
		}
	default:
		fn(d)
	}
}
