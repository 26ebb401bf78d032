package repository

import (
	"sort"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/negril/paludis/depspec"
	"github.com/negril/paludis/name"
)

// QueryFlavor selects which side of the world a candidate query reads.
type QueryFlavor int

const (
	// QueryAny consults every repository.
	QueryAny QueryFlavor = iota
	// QueryInstalledOnly consults only installed-state repositories.
	QueryInstalledOnly
	// QueryInstallableOnly consults only repositories supporting the
	// install action.
	QueryInstallableOnly
)

// QueryOrder selects result ordering.
type QueryOrder int

const (
	OrderVersionAscending QueryOrder = iota
	OrderVersionDescending
)

// Environment is the union view over the configured repositories plus
// user policy. It is the single seam between the resolution core and
// everything the host loads from disk.
type Environment interface {
	QueryUse(flag name.UseFlagName, target depspec.MatchTarget) bool
	AcceptKeyword(k name.KeywordName, id *PackageID) bool
	AcceptLicense(license string, id *PackageID) bool

	MaskReasons(id *PackageID) MaskReasons
	// MaskReasonsWithOverrides recomputes masks with the given bits
	// ignored, for autounmask-style overrides.
	MaskReasonsWithOverrides(id *PackageID, override MaskReasons) MaskReasons

	QueryUserMasks(id *PackageID) bool
	QueryUserUnmasks(id *PackageID) bool

	PackageDatabase() *PackageDatabase

	// Query returns the IDs matching spec under the given flavor and
	// order. Masking is not applied, except that an installable-to
	// requirement without the include-masked marker drops masked IDs;
	// callers filter with MaskReasons.
	Query(spec *depspec.PackageDepSpec, flavor QueryFlavor, order QueryOrder) ([]*PackageID, error)

	// Set expands a named package set to a dep tree, or nil if no
	// repository or user configuration defines it.
	Set(setName string) depspec.DepSpec

	// BashrcFiles is passed through to the external executor; the core
	// never reads the contents.
	BashrcFiles() []string
}

// PackageUseEntry attaches per-package USE overrides to a spec.
type PackageUseEntry struct {
	Spec  *depspec.PackageDepSpec
	Flags map[name.UseFlagName]bool
}

// EnvironmentConfig is the user policy the host loads from its
// configuration files. Loading is out of scope here; this struct is the
// seam.
type EnvironmentConfig struct {
	AcceptedKeywords []name.KeywordName
	// AcceptedLicenses accepts the literal "*" to mean everything.
	AcceptedLicenses []string

	UserMasks   []*depspec.PackageDepSpec
	UserUnmasks []*depspec.PackageDepSpec

	UseFlags   map[name.UseFlagName]bool
	PackageUse []PackageUseEntry

	// Sets maps set names to dependency strings, parsed on first use
	// with the paludis dialect.
	Sets map[string]string

	BashrcFiles []string
}

// DefaultEnvironment implements Environment over a PackageDatabase and an
// EnvironmentConfig. Mask computation is memoized in an LRU keyed by the
// ID's unique form; entries are invalidated never, matching the
// repository-lifetime ownership of IDs.
type DefaultEnvironment struct {
	db     *PackageDatabase
	config EnvironmentConfig

	mu        sync.Mutex
	maskCache *lru.Cache
	setCache  map[string]depspec.DepSpec
}

// NewDefaultEnvironment assembles an environment.
func NewDefaultEnvironment(db *PackageDatabase, config EnvironmentConfig) *DefaultEnvironment {
	return &DefaultEnvironment{
		db:        db,
		config:    config,
		maskCache: lru.New(4096),
		setCache:  make(map[string]depspec.DepSpec),
	}
}

// PackageDatabase returns the underlying database.
func (e *DefaultEnvironment) PackageDatabase() *PackageDatabase { return e.db }

// BashrcFiles returns the configured bashrc paths.
func (e *DefaultEnvironment) BashrcFiles() []string { return e.config.BashrcFiles }

// QueryUse computes the effective USE state of flag on target: repository
// force wins, then repository mask, then per-package user configuration,
// then global user configuration, then the ID's own choices.
func (e *DefaultEnvironment) QueryUse(flag name.UseFlagName, target depspec.MatchTarget) bool {
	id, _ := target.(*PackageID)
	if id != nil {
		if r, err := e.db.FetchRepository(id.RepositoryName()); err == nil {
			if uq, ok := r.(UseQueries); ok {
				if uq.QueryUseForce(flag, id) {
					return true
				}
				if uq.QueryUseMask(flag, id) {
					return false
				}
			}
		}
		for _, pu := range e.config.PackageUse {
			if pu.Spec.Matches(e, id, depspec.MatchOptions{IgnoreUseRequirements: true}) {
				if v, ok := pu.Flags[flag]; ok {
					return v
				}
			}
		}
	}
	if v, ok := e.config.UseFlags[flag]; ok {
		return v
	}
	if id != nil && id.Metadata() != nil {
		return id.Metadata().Choices[flag]
	}
	return false
}

// AcceptKeyword applies the acceptance rules: an exact entry accepts its
// keyword; a "~arch" entry also accepts the stable "arch"; "*" accepts
// any non-negative keyword; "~*" accepts any testing keyword.
func (e *DefaultEnvironment) AcceptKeyword(k name.KeywordName, id *PackageID) bool {
	if len(k) > 0 && k[0] == '-' {
		return false
	}
	for _, a := range e.config.AcceptedKeywords {
		switch {
		case a == k:
			return true
		case a == "*":
			return true
		case a == "~*" && k.IsTesting():
			return true
		case a.IsTesting() && a.Arch() == k.Arch():
			return true
		}
	}
	return false
}

// AcceptLicense reports whether a single license token is accepted.
func (e *DefaultEnvironment) AcceptLicense(license string, id *PackageID) bool {
	for _, a := range e.config.AcceptedLicenses {
		if a == "*" || a == license {
			return true
		}
	}
	return false
}

func (e *DefaultEnvironment) matchesAny(specs []*depspec.PackageDepSpec, id *PackageID) bool {
	for _, s := range specs {
		if s.Matches(e, id, depspec.MatchOptions{IgnoreUseRequirements: true}) {
			return true
		}
	}
	return false
}

// QueryUserMasks reports whether the user mask list covers id.
func (e *DefaultEnvironment) QueryUserMasks(id *PackageID) bool {
	return e.matchesAny(e.config.UserMasks, id)
}

// QueryUserUnmasks reports whether the user unmask list covers id.
func (e *DefaultEnvironment) QueryUserUnmasks(id *PackageID) bool {
	return e.matchesAny(e.config.UserUnmasks, id)
}

// MaskReasons computes the full reason set for id.
func (e *DefaultEnvironment) MaskReasons(id *PackageID) MaskReasons {
	key := id.Uniquely()
	e.mu.Lock()
	if v, ok := e.maskCache.Get(key); ok {
		e.mu.Unlock()
		return v.(MaskReasons)
	}
	e.mu.Unlock()

	m := e.computeMaskReasons(id)

	e.mu.Lock()
	e.maskCache.Add(key, m)
	e.mu.Unlock()
	return m
}

func (e *DefaultEnvironment) computeMaskReasons(id *PackageID) MaskReasons {
	var reasons MaskReasons
	md := id.Metadata()
	if md == nil {
		return reasons
	}

	if !md.EapiProfile().Supported {
		reasons |= MaskEapiUnsupported
	}

	accepted := false
	for _, k := range md.Keywords {
		if e.AcceptKeyword(k, id) {
			accepted = true
			break
		}
	}
	if !accepted {
		reasons |= MaskKeyword
	}

	if md.License != "" && !e.licenseTreeAccepted(id, md) {
		reasons |= MaskLicense
	}

	unmasked := e.QueryUserUnmasks(id)
	if !unmasked {
		if e.QueryUserMasks(id) {
			reasons |= MaskUser
		}
		if r, err := e.db.FetchRepository(id.RepositoryName()); err == nil {
			if r.QueryProfileMasks(id.Name(), id.Version()) {
				reasons |= MaskProfile
			}
			if r.QueryRepositoryMasks(id.Name(), id.Version()) {
				reasons |= MaskRepository
			}
		}
	}

	if md.VirtualFor != nil {
		if !e.hasUnmaskedProvider(md.VirtualFor) {
			reasons |= MaskByAssociation
		}
	}

	return reasons
}

// hasUnmaskedProvider looks for any installable ID matching the virtual's
// provider spec whose own masks are clear.
func (e *DefaultEnvironment) hasUnmaskedProvider(spec *depspec.PackageDepSpec) bool {
	ids, err := e.Query(spec, QueryInstallableOnly, OrderVersionDescending)
	if err != nil {
		return false
	}
	for _, id := range ids {
		if id.IsVirtual() {
			// Chains of virtuals would recurse here; a virtual provider
			// counts only if its own provider chain bottoms out, so skip
			// it and let the flattening in the builder handle depth.
			continue
		}
		if e.MaskReasons(id).Empty() {
			return true
		}
	}
	return false
}

func (e *DefaultEnvironment) licenseTreeAccepted(id *PackageID, md *Metadata) bool {
	tree, err := md.LicenseTree()
	if err != nil {
		return false
	}
	return e.licenseNodeAccepted(tree, id)
}

func (e *DefaultEnvironment) licenseNodeAccepted(node depspec.DepSpec, id *PackageID) bool {
	switch t := node.(type) {
	case *depspec.AllOfDepSpec:
		for _, c := range t.Children {
			if !e.licenseNodeAccepted(c, id) {
				return false
			}
		}
		return true
	case *depspec.AnyOfDepSpec:
		if len(t.Children) == 0 {
			return true
		}
		for _, c := range t.Children {
			if e.licenseNodeAccepted(c, id) {
				return true
			}
		}
		return false
	case *depspec.ConditionalDepSpec:
		if e.QueryUse(t.Flag, id) != !t.Inverse {
			return true
		}
		for _, c := range t.Children {
			if !e.licenseNodeAccepted(c, id) {
				return false
			}
		}
		return true
	case *depspec.PlainTextDepSpec:
		return e.AcceptLicense(t.Text, id)
	}
	return true
}

// MaskReasonsWithOverrides recomputes masks and clears the override bits.
// The result can be empty even when the plain reasons are not; callers
// flag such candidates as masked-but-taken.
func (e *DefaultEnvironment) MaskReasonsWithOverrides(id *PackageID, override MaskReasons) MaskReasons {
	return e.MaskReasons(id).Without(override)
}

func flavorAccepts(flavor QueryFlavor, r Repository) bool {
	switch flavor {
	case QueryInstalledOnly:
		return r.InstalledRoot() != ""
	case QueryInstallableOnly:
		return r.SupportsInstallAction()
	}
	return true
}

// Query enumerates matching IDs: primary order by version,
// repository priority as tie break.
func (e *DefaultEnvironment) Query(spec *depspec.PackageDepSpec, flavor QueryFlavor, order QueryOrder) ([]*PackageID, error) {
	names, err := e.namesFor(spec)
	if err != nil {
		return nil, err
	}

	var out []*PackageID
	for _, q := range names {
		for _, r := range e.db.Repositories() {
			if !flavorAccepts(flavor, r) {
				continue
			}
			for _, v := range r.VersionSpecs(q) {
				md, err := r.VersionMetadata(q, v)
				if err != nil {
					continue
				}
				id := NewPackageID(q, v, r.Name(), md)
				if !spec.Matches(e, id, depspec.MatchOptions{}) {
					continue
				}
				if it := spec.InstallableTo; it != nil && it.Repository != "" {
					dest, err := e.db.FetchRepository(it.Repository)
					if err != nil || !dest.IsSuitableDestinationFor(id) {
						continue
					}
					if !it.IncludeMasked && !e.MaskReasons(id).Empty() {
						continue
					}
				}
				out = append(out, id)
			}
		}
	}

	sort.Stable(ByVersion(out))
	if order == OrderVersionDescending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	// Same-version entries from different repositories: the better
	// repository should come first in the requested direction.
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Version().Compare(b.Version()) != 0 {
			return false
		}
		return e.db.BetterRepository(a.RepositoryName(), b.RepositoryName()) == a.RepositoryName()
	})
	return out, nil
}

func (e *DefaultEnvironment) namesFor(spec *depspec.PackageDepSpec) ([]name.QualifiedPackageName, error) {
	switch {
	case spec.Name != nil:
		return []name.QualifiedPackageName{*spec.Name}, nil
	case spec.CategoryPart != nil:
		return e.db.NamesInCategory(*spec.CategoryPart), nil
	case spec.PackagePart != nil:
		q, err := e.db.ResolvePackageName(*spec.PackagePart)
		if err != nil {
			return nil, err
		}
		return []name.QualifiedPackageName{q}, nil
	}
	return nil, nil
}

// Set expands a named set from user configuration first, then from any
// repository that defines it. Parsed expansions are memoized.
func (e *DefaultEnvironment) Set(setName string) depspec.DepSpec {
	e.mu.Lock()
	if t, ok := e.setCache[setName]; ok {
		e.mu.Unlock()
		return t
	}
	e.mu.Unlock()

	var tree depspec.DepSpec
	if raw, ok := e.config.Sets[setName]; ok {
		t, err := depspec.Parse(raw, depspec.LookupEapi("paludis-1"), depspec.DependencyParse)
		if err == nil {
			tree = t
		}
	}
	if tree == nil {
		for _, r := range e.db.Repositories() {
			if t := r.PackageSet(setName); t != nil {
				tree = t
				break
			}
		}
	}

	e.mu.Lock()
	e.setCache[setName] = tree
	e.mu.Unlock()
	return tree
}
