// Package repository provides the layered view the resolution core reads
// from: package IDs with their metadata, the repository interface, an
// in-memory fake implementation, the priority-ordered package database,
// and the environment with its masking policy.
package repository

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/negril/paludis/depspec"
	"github.com/negril/paludis/name"
)

// Metadata is the typed bundle of keys a repository reports for one
// version. Dependency and license strings are kept raw and parsed lazily,
// at most once, behind a lock.
type Metadata struct {
	Eapi        string
	Slot        name.SlotName
	Keywords    []name.KeywordName
	IUse        []name.UseFlagName
	Choices     map[name.UseFlagName]bool // effective USE state
	Description string
	License     string

	BuildDependencies   string
	RunDependencies     string
	PostDependencies    string
	SuggestDependencies string
	Provide             string

	// VirtualFor is set on virtual packages: the atom naming the real
	// provider the virtual aliases.
	VirtualFor *depspec.PackageDepSpec

	// InstalledTime is a unix timestamp, zero for uninstalled IDs.
	InstalledTime int64

	mu     sync.Mutex
	parsed map[string]*depspec.AllOfDepSpec
}

// EapiProfile resolves the declared EAPI against the registry.
func (m *Metadata) EapiProfile() depspec.EapiProfile {
	return depspec.LookupEapi(m.Eapi)
}

func (m *Metadata) parseTree(key, raw string, kind depspec.ParseKind) (*depspec.AllOfDepSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.parsed[key]; ok {
		return t, nil
	}
	t, err := depspec.Parse(raw, m.EapiProfile(), kind)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", key)
	}
	if m.parsed == nil {
		m.parsed = make(map[string]*depspec.AllOfDepSpec)
	}
	m.parsed[key] = t
	return t, nil
}

// BuildDependencyTree parses DEPEND.
func (m *Metadata) BuildDependencyTree() (*depspec.AllOfDepSpec, error) {
	return m.parseTree("DEPEND", m.BuildDependencies, depspec.DependencyParse)
}

// RunDependencyTree parses RDEPEND.
func (m *Metadata) RunDependencyTree() (*depspec.AllOfDepSpec, error) {
	return m.parseTree("RDEPEND", m.RunDependencies, depspec.DependencyParse)
}

// PostDependencyTree parses PDEPEND.
func (m *Metadata) PostDependencyTree() (*depspec.AllOfDepSpec, error) {
	return m.parseTree("PDEPEND", m.PostDependencies, depspec.DependencyParse)
}

// SuggestDependencyTree parses SDEPEND.
func (m *Metadata) SuggestDependencyTree() (*depspec.AllOfDepSpec, error) {
	return m.parseTree("SDEPEND", m.SuggestDependencies, depspec.DependencyParse)
}

// ProvideTree parses PROVIDE.
func (m *Metadata) ProvideTree() (*depspec.AllOfDepSpec, error) {
	return m.parseTree("PROVIDE", m.Provide, depspec.DependencyParse)
}

// LicenseTree parses LICENSE as a plain-text tree.
func (m *Metadata) LicenseTree() (*depspec.AllOfDepSpec, error) {
	return m.parseTree("LICENSE", m.License, depspec.LicenseParse)
}

// A PackageID names one (qualified name, version, repository) triple and
// carries its metadata. IDs are owned by their repository and live exactly
// as long as it does.
type PackageID struct {
	name     name.QualifiedPackageName
	version  *name.VersionSpec
	repo     name.RepositoryName
	metadata *Metadata
}

// NewPackageID assembles an ID. The metadata may be nil for IDs used
// purely as lookup keys.
func NewPackageID(q name.QualifiedPackageName, v *name.VersionSpec, repo name.RepositoryName, m *Metadata) *PackageID {
	return &PackageID{name: q, version: v, repo: repo, metadata: m}
}

// Name returns the qualified package name.
func (id *PackageID) Name() name.QualifiedPackageName { return id.name }

// Version returns the version spec.
func (id *PackageID) Version() *name.VersionSpec { return id.version }

// Slot returns the declared slot, "0" when metadata is silent.
func (id *PackageID) Slot() name.SlotName {
	if id.metadata == nil || id.metadata.Slot == "" {
		return "0"
	}
	return id.metadata.Slot
}

// RepositoryName returns the owning repository's name.
func (id *PackageID) RepositoryName() name.RepositoryName { return id.repo }

// Metadata returns the metadata bundle, possibly nil.
func (id *PackageID) Metadata() *Metadata { return id.metadata }

// IsVirtual reports whether the ID is a virtual alias for a real provider.
func (id *PackageID) IsVirtual() bool {
	return id.metadata != nil && id.metadata.VirtualFor != nil
}

// IsInstalled reports whether the ID came from an installed-state
// repository.
func (id *PackageID) IsInstalled() bool {
	return id.metadata != nil && id.metadata.InstalledTime != 0
}

// String renders the fully-qualified "cat/pkg-1.2::repo" form.
func (id *PackageID) String() string {
	return fmt.Sprintf("%s-%s::%s", id.name, id.version, id.repo)
}

// Uniquely returns a comparable key for the triple.
func (id *PackageID) Uniquely() string { return id.String() }

// MetadataValue stringifies the named metadata key per the matcher
// contract: strings literally, collections space-joined, IDs fully
// qualified.
func (id *PackageID) MetadataValue(key string) (string, bool) {
	m := id.metadata
	if m == nil {
		return "", false
	}
	switch key {
	case "EAPI":
		return m.Eapi, true
	case "SLOT":
		return string(id.Slot()), true
	case "DESCRIPTION":
		return m.Description, true
	case "LICENSE":
		return m.License, true
	case "KEYWORDS":
		parts := make([]string, len(m.Keywords))
		for i, k := range m.Keywords {
			parts[i] = string(k)
		}
		return strings.Join(parts, " "), true
	case "IUSE":
		parts := make([]string, len(m.IUse))
		for i, u := range m.IUse {
			parts[i] = string(u)
		}
		return strings.Join(parts, " "), true
	case "DEPEND":
		return m.BuildDependencies, true
	case "RDEPEND":
		return m.RunDependencies, true
	case "PDEPEND":
		return m.PostDependencies, true
	case "SDEPEND":
		return m.SuggestDependencies, true
	case "PROVIDE":
		return m.Provide, true
	case "VIRTUAL_FOR":
		if m.VirtualFor == nil {
			return "", false
		}
		return m.VirtualFor.String(), true
	}
	return "", false
}

// ByVersion sorts IDs ascending by version, with repository name as the
// tie break so ordering is deterministic across repositories.
type ByVersion []*PackageID

func (s ByVersion) Len() int      { return len(s) }
func (s ByVersion) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s ByVersion) Less(i, j int) bool {
	if c := s[i].version.Compare(s[j].version); c != 0 {
		return c < 0
	}
	return s[i].repo < s[j].repo
}
