// Package name provides the validated value types at the bottom of the
// paludis data model: category, package, slot, keyword, USE flag and
// repository names, plus version specs and version requirements.
//
// All of these are immutable once constructed, and all of them are plain
// comparable Go values, so they can be used directly as map keys. Aliasing
// string types is usually a bit of an anti-pattern; it is done here as a
// means of clarifying API intent, because the package-management domain has
// a lot of different name-ish strings floating around (categories, slots,
// keywords, repositories) that must never be confused for one another.
package name

import (
	"fmt"
	"strings"
)

// A NameError reports a string that failed validation for one of the name
// types in this package. Role names the type that rejected it.
type NameError struct {
	Value  string
	Role   string
	Reason string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("name %q is not a valid %s: %s", e.Value, e.Role, e.Reason)
}

// CategoryNamePart is the category half of a qualified package name, such
// as "app-editors".
type CategoryNamePart string

// PackageNamePart is the package half of a qualified package name, such as
// "vim".
type PackageNamePart string

// SlotName identifies a sub-line of a package allowing parallel installs.
type SlotName string

// KeywordName is a stability marker such as "amd64", "~amd64" or "-*".
type KeywordName string

// UseFlagName is the name of a boolean capability toggle.
type UseFlagName string

// RepositoryName identifies one configured repository.
type RepositoryName string

func isNameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' || c == '-' || c == '_' || c == '+'
}

func checkNameBody(s, role string) error {
	if s == "" {
		return &NameError{s, role, "empty"}
	}
	for i := 0; i < len(s); i++ {
		if !isNameChar(s[i]) {
			return &NameError{s, role, fmt.Sprintf("illegal character %q at offset %d", s[i], i)}
		}
	}
	if s[0] == '-' || s[0] == '+' {
		return &NameError{s, role, fmt.Sprintf("may not begin with %q", s[0])}
	}
	return nil
}

// NewCategoryNamePart validates s as a category name.
func NewCategoryNamePart(s string) (CategoryNamePart, error) {
	if err := checkNameBody(s, "category name"); err != nil {
		return "", err
	}
	return CategoryNamePart(s), nil
}

// NewPackageNamePart validates s as a package name. Beyond the shared name
// grammar, a package name may not begin with a digit and may not end in a
// hyphen followed by digits, since such a tail would be indistinguishable
// from a version when the two are joined.
func NewPackageNamePart(s string) (PackageNamePart, error) {
	if err := checkNameBody(s, "package name"); err != nil {
		return "", err
	}
	if s[0] >= '0' && s[0] <= '9' {
		return "", &NameError{s, "package name", "may not begin with a digit"}
	}
	if i := strings.LastIndexByte(s, '-'); i >= 0 && i < len(s)-1 {
		allDigit := true
		for _, c := range []byte(s[i+1:]) {
			if c < '0' || c > '9' {
				allDigit = false
				break
			}
		}
		if allDigit {
			return "", &NameError{s, "package name", "ends in a hyphen-digits run, which is ambiguous with a version"}
		}
	}
	if s[len(s)-1] == '-' {
		return "", &NameError{s, "package name", "may not end with a hyphen"}
	}
	return PackageNamePart(s), nil
}

// NewSlotName validates s as a slot name. Slots additionally permit '.' and
// a single '/' separating slot from subslot.
func NewSlotName(s string) (SlotName, error) {
	if s == "" {
		return "", &NameError{s, "slot name", "empty"}
	}
	if s[0] == '-' || s[0] == '.' {
		return "", &NameError{s, "slot name", fmt.Sprintf("may not begin with %q", s[0])}
	}
	slash := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '/' {
			if slash || i == 0 || i == len(s)-1 {
				return "", &NameError{s, "slot name", "malformed subslot separator"}
			}
			slash = true
			continue
		}
		if !isNameChar(c) && c != '.' {
			return "", &NameError{s, "slot name", fmt.Sprintf("illegal character %q at offset %d", c, i)}
		}
	}
	return SlotName(s), nil
}

// NewKeywordName validates s as a keyword. A keyword is an architecture
// name, optionally prefixed with '~' (testing) or '-' (broken), or one of
// the special forms "*" and "-*".
func NewKeywordName(s string) (KeywordName, error) {
	if s == "*" || s == "-*" || s == "~*" {
		return KeywordName(s), nil
	}
	body := s
	if len(body) > 0 && (body[0] == '~' || body[0] == '-') {
		body = body[1:]
	}
	if err := checkNameBody(body, "keyword name"); err != nil {
		return "", &NameError{s, "keyword name", err.(*NameError).Reason}
	}
	return KeywordName(s), nil
}

// IsTesting reports whether k carries the '~' testing prefix.
func (k KeywordName) IsTesting() bool {
	return len(k) > 0 && k[0] == '~'
}

// Arch returns the keyword without any '~' or '-' prefix.
func (k KeywordName) Arch() string {
	s := string(k)
	if len(s) > 0 && (s[0] == '~' || s[0] == '-') {
		return s[1:]
	}
	return s
}

// NewUseFlagName validates s as a USE flag name. Flags additionally permit
// '@' and '.', which show up in expanded flag namespaces.
func NewUseFlagName(s string) (UseFlagName, error) {
	if s == "" {
		return "", &NameError{s, "use flag name", "empty"}
	}
	if s[0] == '-' {
		return "", &NameError{s, "use flag name", "may not begin with a hyphen"}
	}
	for i := 0; i < len(s); i++ {
		if !isNameChar(s[i]) && s[i] != '@' && s[i] != '.' {
			return "", &NameError{s, "use flag name", fmt.Sprintf("illegal character %q at offset %d", s[i], i)}
		}
	}
	return UseFlagName(s), nil
}

// NewRepositoryName validates s as a repository name.
func NewRepositoryName(s string) (RepositoryName, error) {
	if err := checkNameBody(s, "repository name"); err != nil {
		return "", err
	}
	return RepositoryName(s), nil
}

// QualifiedPackageName is the category/package pair that fully names one
// package line, e.g. "app-editors/vim".
type QualifiedPackageName struct {
	Category CategoryNamePart
	Package  PackageNamePart
}

// NewQualifiedPackageName parses and validates a "category/package" string.
func NewQualifiedPackageName(s string) (QualifiedPackageName, error) {
	i := strings.IndexByte(s, '/')
	if i < 0 {
		return QualifiedPackageName{}, &NameError{s, "qualified package name", "no / separator"}
	}
	if strings.IndexByte(s[i+1:], '/') >= 0 {
		return QualifiedPackageName{}, &NameError{s, "qualified package name", "more than one / separator"}
	}
	c, err := NewCategoryNamePart(s[:i])
	if err != nil {
		return QualifiedPackageName{}, err
	}
	p, err := NewPackageNamePart(s[i+1:])
	if err != nil {
		return QualifiedPackageName{}, err
	}
	return QualifiedPackageName{c, p}, nil
}

func (q QualifiedPackageName) String() string {
	return string(q.Category) + "/" + string(q.Package)
}

// Less provides a stable lexicographic order, category first.
func (q QualifiedPackageName) Less(other QualifiedPackageName) bool {
	if q.Category != other.Category {
		return q.Category < other.Category
	}
	return q.Package < other.Package
}
