package repository

import (
	"sort"
	"sync"

	radix "github.com/armon/go-radix"

	"github.com/negril/paludis/name"
)

// PackageDatabase is the priority-ordered list of configured repositories.
// Repositories added earlier take priority on ties. The database keeps a
// lazily-built radix index over known names; the index is populated at
// most once under a lock and is read lock-free afterwards, so hosts that
// drive concurrent reads stay safe without paying for the lock per query.
type PackageDatabase struct {
	repos []Repository

	indexOnce sync.Once
	// fullNames is keyed "cat/pkg"; bareNames is keyed by the bare
	// package part, valued []name.QualifiedPackageName.
	fullNames *radix.Tree
	bareNames *radix.Tree
}

// NewPackageDatabase assembles a database over repos, highest priority
// first.
func NewPackageDatabase(repos ...Repository) *PackageDatabase {
	return &PackageDatabase{repos: repos}
}

// AddRepository appends a repository at the lowest priority. Adding after
// the name index has been built is a programming error; the index is not
// rebuilt.
func (db *PackageDatabase) AddRepository(r Repository) {
	db.repos = append(db.repos, r)
}

// Repositories returns the repositories in priority order.
func (db *PackageDatabase) Repositories() []Repository { return db.repos }

// FetchRepository looks a repository up by name.
func (db *PackageDatabase) FetchRepository(rn name.RepositoryName) (Repository, error) {
	for _, r := range db.repos {
		if r.Name() == rn {
			return r, nil
		}
	}
	return nil, &NoSuchRepositoryError{rn}
}

// BetterRepository is the tie-break oracle: of two repository names it
// returns the one configured at higher priority.
func (db *PackageDatabase) BetterRepository(r1, r2 name.RepositoryName) name.RepositoryName {
	for _, r := range db.repos {
		switch r.Name() {
		case r1:
			return r1
		case r2:
			return r2
		}
	}
	return r1
}

func (db *PackageDatabase) buildIndex() {
	db.fullNames = radix.New()
	db.bareNames = radix.New()
	for _, r := range db.repos {
		for _, c := range r.CategoryNames() {
			for _, q := range r.PackageNames(c) {
				if _, ok := db.fullNames.Get(q.String()); !ok {
					db.fullNames.Insert(q.String(), q)
				}
				key := string(q.Package)
				var cands []name.QualifiedPackageName
				if v, ok := db.bareNames.Get(key); ok {
					cands = v.([]name.QualifiedPackageName)
				}
				dup := false
				for _, c := range cands {
					if c == q {
						dup = true
						break
					}
				}
				if !dup {
					db.bareNames.Insert(key, append(cands, q))
				}
			}
		}
	}
}

func (db *PackageDatabase) index() (*radix.Tree, *radix.Tree) {
	db.indexOnce.Do(db.buildIndex)
	return db.fullNames, db.bareNames
}

// ResolvePackageName turns a bare package part into its unique qualified
// name. With no candidate it returns NoSuchPackageError (with a synthetic
// empty category); with more than one it returns
// AmbiguousPackageNameError carrying the sorted candidate list.
func (db *PackageDatabase) ResolvePackageName(p name.PackageNamePart) (name.QualifiedPackageName, error) {
	_, bare := db.index()
	v, ok := bare.Get(string(p))
	if !ok {
		return name.QualifiedPackageName{}, &NoSuchPackageError{name.QualifiedPackageName{Package: p}}
	}
	cands := v.([]name.QualifiedPackageName)
	if len(cands) > 1 {
		sorted := append([]name.QualifiedPackageName(nil), cands...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
		return name.QualifiedPackageName{}, &AmbiguousPackageNameError{Name: p, Candidates: sorted}
	}
	return cands[0], nil
}

// NamesInCategory walks the full-name index for one category, using the
// radix tree's prefix scan.
func (db *PackageDatabase) NamesInCategory(c name.CategoryNamePart) []name.QualifiedPackageName {
	full, _ := db.index()
	var out []name.QualifiedPackageName
	full.WalkPrefix(string(c)+"/", func(_ string, v interface{}) bool {
		out = append(out, v.(name.QualifiedPackageName))
		return false
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// AllNames returns every known qualified name across all repositories.
func (db *PackageDatabase) AllNames() []name.QualifiedPackageName {
	full, _ := db.index()
	var out []name.QualifiedPackageName
	full.Walk(func(_ string, v interface{}) bool {
		out = append(out, v.(name.QualifiedPackageName))
		return false
	})
	return out
}
