package repository

import (
	"fmt"
	"strings"

	"github.com/negril/paludis/depspec"
	"github.com/negril/paludis/name"
)

// Repository is the read interface the core consumes. Implementations are
// expected to populate lazily; every method must be safe to call
// repeatedly and return stable results for unchanged backing data.
type Repository interface {
	Name() name.RepositoryName

	HasCategory(c name.CategoryNamePart) bool
	HasPackage(q name.QualifiedPackageName) bool
	HasVersion(q name.QualifiedPackageName, v *name.VersionSpec) bool

	CategoryNames() []name.CategoryNamePart
	PackageNames(c name.CategoryNamePart) []name.QualifiedPackageName
	VersionSpecs(q name.QualifiedPackageName) []*name.VersionSpec

	VersionMetadata(q name.QualifiedPackageName, v *name.VersionSpec) (*Metadata, error)

	QueryProfileMasks(q name.QualifiedPackageName, v *name.VersionSpec) bool
	QueryRepositoryMasks(q name.QualifiedPackageName, v *name.VersionSpec) bool

	IsDefaultDestination() bool
	// InstalledRoot returns the filesystem root this repository records
	// installed state for, or "" for source repositories.
	InstalledRoot() string
	SupportsInstallAction() bool
	SupportsUninstallAction() bool
	IsSuitableDestinationFor(id *PackageID) bool

	// PackageSet expands a named set to a dep tree, or nil if the
	// repository does not define it.
	PackageSet(setName string) depspec.DepSpec
}

// UseQueries is the optional per-repository USE interface.
type UseQueries interface {
	QueryUseMask(flag name.UseFlagName, id *PackageID) bool
	QueryUseForce(flag name.UseFlagName, id *PackageID) bool
}

// NoSuchPackageError is a repository lookup miss on a package name.
type NoSuchPackageError struct {
	Name name.QualifiedPackageName
}

func (e *NoSuchPackageError) Error() string {
	return fmt.Sprintf("no such package %q", e.Name.String())
}

// NoSuchVersionError is a repository lookup miss on a version.
type NoSuchVersionError struct {
	Name    name.QualifiedPackageName
	Version *name.VersionSpec
}

func (e *NoSuchVersionError) Error() string {
	return fmt.Sprintf("no such version %s-%s", e.Name, e.Version)
}

// NoSuchRepositoryError is a database lookup miss on a repository name.
type NoSuchRepositoryError struct {
	Name name.RepositoryName
}

func (e *NoSuchRepositoryError) Error() string {
	return fmt.Sprintf("no such repository %q", string(e.Name))
}

// AmbiguousPackageNameError reports a bare package name with more than one
// categorical candidate. Candidates is never empty.
type AmbiguousPackageNameError struct {
	Name       name.PackageNamePart
	Candidates []name.QualifiedPackageName
}

func (e *AmbiguousPackageNameError) Error() string {
	parts := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		parts[i] = c.String()
	}
	return fmt.Sprintf("package name %q is ambiguous; candidates: %s",
		string(e.Name), strings.Join(parts, " "))
}
