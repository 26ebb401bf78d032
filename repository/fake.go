package repository

import (
	"io"
	"sort"
	"sync"

	toml "github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/negril/paludis/depspec"
	"github.com/negril/paludis/name"
)

// FakeRepository is the in-memory Repository used by tests and by hosts
// that assemble repository state programmatically. Packages are added
// through AddVersion or loaded from a TOML profile.
type FakeRepository struct {
	name name.RepositoryName

	mu       sync.Mutex
	packages map[name.QualifiedPackageName][]*fakeVersion
	sets     map[string]depspec.DepSpec

	profileMasks []*depspec.PackageDepSpec
	repoMasks    []*depspec.PackageDepSpec
	useMask      map[name.UseFlagName]bool
	useForce     map[name.UseFlagName]bool

	installedRoot      string
	defaultDestination bool
}

type fakeVersion struct {
	version  *name.VersionSpec
	metadata *Metadata
}

// NewFakeRepository returns an empty source repository.
func NewFakeRepository(rn name.RepositoryName) *FakeRepository {
	return &FakeRepository{
		name:     rn,
		packages: make(map[name.QualifiedPackageName][]*fakeVersion),
		sets:     make(map[string]depspec.DepSpec),
		useMask:  make(map[name.UseFlagName]bool),
		useForce: make(map[name.UseFlagName]bool),
	}
}

// NewInstalledFakeRepository returns a repository recording installed
// state at root. IDs added to it get a non-zero installed timestamp.
func NewInstalledFakeRepository(rn name.RepositoryName, root string) *FakeRepository {
	r := NewFakeRepository(rn)
	r.installedRoot = root
	return r
}

// SetDefaultDestination marks the repository as the default install
// target.
func (r *FakeRepository) SetDefaultDestination(v bool) { r.defaultDestination = v }

// AddVersion registers q-v and returns its metadata for further tweaking.
// Defaults are chosen so that tests only state what they care about: EAPI
// "0", slot "0", keyword "test", installed timestamp 1 for installed
// repositories.
func (r *FakeRepository) AddVersion(q string, v string) *Metadata {
	qpn, err := name.NewQualifiedPackageName(q)
	if err != nil {
		panic(err)
	}
	vs, err := name.ParseVersionSpec(v)
	if err != nil {
		panic(err)
	}
	m := &Metadata{
		Eapi:     "0",
		Slot:     "0",
		Keywords: []name.KeywordName{"test"},
		Choices:  make(map[name.UseFlagName]bool),
	}
	if r.installedRoot != "" {
		m.InstalledTime = 1
	}
	r.mu.Lock()
	r.packages[qpn] = append(r.packages[qpn], &fakeVersion{version: vs, metadata: m})
	sort.Slice(r.packages[qpn], func(i, j int) bool {
		return r.packages[qpn][i].version.Compare(r.packages[qpn][j].version) < 0
	})
	r.mu.Unlock()
	return m
}

// AddSet registers a named package set.
func (r *FakeRepository) AddSet(setName string, tree depspec.DepSpec) {
	r.mu.Lock()
	r.sets[setName] = tree
	r.mu.Unlock()
}

// AddProfileMask masks every ID matching spec at the profile level.
func (r *FakeRepository) AddProfileMask(spec *depspec.PackageDepSpec) {
	r.profileMasks = append(r.profileMasks, spec)
}

// AddRepositoryMask masks every ID matching spec at the repository level.
func (r *FakeRepository) AddRepositoryMask(spec *depspec.PackageDepSpec) {
	r.repoMasks = append(r.repoMasks, spec)
}

// SetUseMask marks flag as repository-masked.
func (r *FakeRepository) SetUseMask(flag name.UseFlagName) { r.useMask[flag] = true }

// SetUseForce marks flag as repository-forced.
func (r *FakeRepository) SetUseForce(flag name.UseFlagName) { r.useForce[flag] = true }

func (r *FakeRepository) Name() name.RepositoryName { return r.name }

func (r *FakeRepository) HasCategory(c name.CategoryNamePart) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for q := range r.packages {
		if q.Category == c {
			return true
		}
	}
	return false
}

func (r *FakeRepository) HasPackage(q name.QualifiedPackageName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.packages[q]) > 0
}

func (r *FakeRepository) HasVersion(q name.QualifiedPackageName, v *name.VersionSpec) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fv := range r.packages[q] {
		if fv.version.Compare(v) == 0 {
			return true
		}
	}
	return false
}

func (r *FakeRepository) CategoryNames() []name.CategoryNamePart {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[name.CategoryNamePart]bool)
	var out []name.CategoryNamePart
	for q := range r.packages {
		if !seen[q.Category] {
			seen[q.Category] = true
			out = append(out, q.Category)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *FakeRepository) PackageNames(c name.CategoryNamePart) []name.QualifiedPackageName {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []name.QualifiedPackageName
	for q := range r.packages {
		if q.Category == c {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (r *FakeRepository) VersionSpecs(q name.QualifiedPackageName) []*name.VersionSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*name.VersionSpec, len(r.packages[q]))
	for i, fv := range r.packages[q] {
		out[i] = fv.version
	}
	return out
}

func (r *FakeRepository) VersionMetadata(q name.QualifiedPackageName, v *name.VersionSpec) (*Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fvs, ok := r.packages[q]
	if !ok {
		return nil, &NoSuchPackageError{q}
	}
	for _, fv := range fvs {
		if fv.version.Compare(v) == 0 {
			return fv.metadata, nil
		}
	}
	return nil, &NoSuchVersionError{q, v}
}

func (r *FakeRepository) matchesAnyMask(specs []*depspec.PackageDepSpec, q name.QualifiedPackageName, v *name.VersionSpec) bool {
	m, err := r.VersionMetadata(q, v)
	if err != nil {
		return false
	}
	id := NewPackageID(q, v, r.name, m)
	for _, s := range specs {
		if s.Matches(noUses{}, id, depspec.MatchOptions{IgnoreUseRequirements: true}) {
			return true
		}
	}
	return false
}

func (r *FakeRepository) QueryProfileMasks(q name.QualifiedPackageName, v *name.VersionSpec) bool {
	return r.matchesAnyMask(r.profileMasks, q, v)
}

func (r *FakeRepository) QueryRepositoryMasks(q name.QualifiedPackageName, v *name.VersionSpec) bool {
	return r.matchesAnyMask(r.repoMasks, q, v)
}

func (r *FakeRepository) IsDefaultDestination() bool { return r.defaultDestination }
func (r *FakeRepository) InstalledRoot() string      { return r.installedRoot }

func (r *FakeRepository) SupportsInstallAction() bool   { return r.installedRoot == "" }
func (r *FakeRepository) SupportsUninstallAction() bool { return r.installedRoot != "" }

func (r *FakeRepository) IsSuitableDestinationFor(id *PackageID) bool {
	return r.installedRoot != ""
}

func (r *FakeRepository) PackageSet(setName string) depspec.DepSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sets[setName]
}

func (r *FakeRepository) QueryUseMask(flag name.UseFlagName, id *PackageID) bool {
	return r.useMask[flag]
}

func (r *FakeRepository) QueryUseForce(flag name.UseFlagName, id *PackageID) bool {
	return r.useForce[flag]
}

// noUses is the UseOracle for mask matching, where USE requirements are
// ignored anyway.
type noUses struct{}

func (noUses) QueryUse(name.UseFlagName, depspec.MatchTarget) bool { return false }

// rawFakeRepository is the TOML shape for a repository profile.
type rawFakeRepository struct {
	Name      string           `toml:"name"`
	Installed bool             `toml:"installed"`
	Root      string           `toml:"root"`
	Default   bool             `toml:"default_destination"`
	Packages  []rawFakePackage `toml:"package"`
}

type rawFakePackage struct {
	Name     string   `toml:"name"`
	Version  string   `toml:"version"`
	Eapi     string   `toml:"eapi"`
	Slot     string   `toml:"slot"`
	Keywords []string `toml:"keywords"`
	IUse     []string `toml:"iuse"`
	Use      []string `toml:"use"`
	License  string   `toml:"license"`
	Depend   string   `toml:"depend"`
	Rdepend  string   `toml:"rdepend"`
	Pdepend  string   `toml:"pdepend"`
	Sdepend  string   `toml:"sdepend"`
	Provide  string   `toml:"provide"`
}

// LoadFakeRepository reads a TOML repository profile. The format mirrors
// the builder API one to one; see the package tests for an example.
func LoadFakeRepository(rd io.Reader) (*FakeRepository, error) {
	var raw rawFakeRepository
	dec := toml.NewDecoder(rd)
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decoding repository profile")
	}
	rn, err := name.NewRepositoryName(raw.Name)
	if err != nil {
		return nil, err
	}

	var r *FakeRepository
	if raw.Installed {
		root := raw.Root
		if root == "" {
			root = "/"
		}
		r = NewInstalledFakeRepository(rn, root)
	} else {
		r = NewFakeRepository(rn)
	}
	r.defaultDestination = raw.Default

	for _, p := range raw.Packages {
		if _, err := name.NewQualifiedPackageName(p.Name); err != nil {
			return nil, err
		}
		if _, err := name.ParseVersionSpec(p.Version); err != nil {
			return nil, err
		}
		m := r.AddVersion(p.Name, p.Version)
		if p.Eapi != "" {
			m.Eapi = p.Eapi
		}
		if p.Slot != "" {
			m.Slot = name.SlotName(p.Slot)
		}
		if len(p.Keywords) > 0 {
			m.Keywords = nil
			for _, k := range p.Keywords {
				kn, err := name.NewKeywordName(k)
				if err != nil {
					return nil, err
				}
				m.Keywords = append(m.Keywords, kn)
			}
		}
		for _, u := range p.IUse {
			un, err := name.NewUseFlagName(u)
			if err != nil {
				return nil, err
			}
			m.IUse = append(m.IUse, un)
		}
		for _, u := range p.Use {
			un, err := name.NewUseFlagName(u)
			if err != nil {
				return nil, err
			}
			m.Choices[un] = true
		}
		m.License = p.License
		m.BuildDependencies = p.Depend
		m.RunDependencies = p.Rdepend
		m.PostDependencies = p.Pdepend
		m.SuggestDependencies = p.Sdepend
		m.Provide = p.Provide
	}
	return r, nil
}
