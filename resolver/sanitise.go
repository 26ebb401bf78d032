package resolver

import (
	"github.com/negril/paludis/depspec"
	"github.com/negril/paludis/repository"
)

// DepLabels classify one sanitised dependency edge.
type DepLabels uint8

const (
	LabelBuild DepLabels = 1 << iota
	LabelRun
	LabelPost
	LabelSuggestion
)

// Has reports whether l carries the given label.
func (l DepLabels) Has(label DepLabels) bool { return l&label != 0 }

// A SanitisedDependency is one flattened dep edge: conditionals resolved
// under the chooser's USE state, any-of groups reduced to the preferred
// branch, labels attached.
type SanitisedDependency struct {
	Spec   depspec.DepSpec // *PackageDepSpec or *BlockDepSpec
	Labels DepLabels
}

// sanitiser flattens an ID's dependency trees.
type sanitiser struct {
	env repository.Environment
}

// sanitise returns the flattened dependency list for id.
func (s sanitiser) sanitise(id *repository.PackageID) ([]SanitisedDependency, error) {
	md := id.Metadata()
	if md == nil {
		return nil, nil
	}

	var out []SanitisedDependency
	add := func(raw string, labels DepLabels, parse func() (*depspec.AllOfDepSpec, error)) error {
		if raw == "" {
			return nil
		}
		tree, err := parse()
		if err != nil {
			return err
		}
		s.flatten(tree, id, labels, &out)
		return nil
	}

	if err := add(md.BuildDependencies, LabelBuild, md.BuildDependencyTree); err != nil {
		return nil, err
	}
	if err := add(md.RunDependencies, LabelRun, md.RunDependencyTree); err != nil {
		return nil, err
	}
	if err := add(md.PostDependencies, LabelPost, md.PostDependencyTree); err != nil {
		return nil, err
	}
	if err := add(md.SuggestDependencies, LabelSuggestion, md.SuggestDependencyTree); err != nil {
		return nil, err
	}
	return out, nil
}

func (s sanitiser) flatten(node depspec.DepSpec, id *repository.PackageID, labels DepLabels, out *[]SanitisedDependency) {
	switch t := node.(type) {
	case *depspec.AllOfDepSpec:
		for _, c := range t.Children {
			s.flatten(c, id, labels, out)
		}
	case *depspec.ConditionalDepSpec:
		if s.env.QueryUse(t.Flag, id) == !t.Inverse {
			for _, c := range t.Children {
				s.flatten(c, id, labels, out)
			}
		}
	case *depspec.AnyOfDepSpec:
		if chosen := s.chooseAnyOfBranch(t.Children, id, labels); chosen != nil {
			s.flatten(chosen, id, labels, out)
		}
	case *depspec.ExactlyOneOfDepSpec:
		if chosen := s.chooseAnyOfBranch(t.Children, id, labels); chosen != nil {
			s.flatten(chosen, id, labels, out)
		}
	case *depspec.AtMostOneOfDepSpec:
		// Constrains states, requires nothing.
	case *depspec.PackageDepSpec, *depspec.BlockDepSpec:
		*out = append(*out, SanitisedDependency{Spec: node, Labels: labels})
	}
}

// chooseAnyOfBranch prefers a branch satisfied by an installed ID, then a
// branch with a visible installable candidate, then the first branch.
func (s sanitiser) chooseAnyOfBranch(children []depspec.DepSpec, id *repository.PackageID, labels DepLabels) depspec.DepSpec {
	var viable []depspec.DepSpec
	for _, c := range children {
		if cond, ok := c.(*depspec.ConditionalDepSpec); ok {
			if s.env.QueryUse(cond.Flag, id) != !cond.Inverse {
				continue
			}
			viable = append(viable, &depspec.AllOfDepSpec{Children: cond.Children})
			continue
		}
		viable = append(viable, c)
	}
	if len(viable) == 0 {
		return nil
	}

	leafOf := func(c depspec.DepSpec) *depspec.PackageDepSpec {
		if p, ok := c.(*depspec.PackageDepSpec); ok {
			return p
		}
		return nil
	}

	for _, c := range viable {
		if p := leafOf(c); p != nil {
			if ids, _ := s.env.Query(p, repository.QueryInstalledOnly, repository.OrderVersionDescending); len(ids) > 0 {
				return c
			}
		}
	}
	for _, c := range viable {
		if p := leafOf(c); p != nil {
			ids, _ := s.env.Query(p, repository.QueryInstallableOnly, repository.OrderVersionDescending)
			for _, cand := range ids {
				if s.env.MaskReasons(cand).Empty() {
					return c
				}
			}
		}
	}
	return viable[0]
}
