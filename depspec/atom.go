package depspec

import (
	"strings"

	"github.com/negril/paludis/name"
)

// AtomOptions tune ParseAtom for its two callers: dependency strings from
// metadata, and user-supplied targets.
type AtomOptions struct {
	// AllowWildcards permits a bare package part with no category, and a
	// bare "cat/*" category form. User targets set it.
	AllowWildcards bool
}

var atomOperators = []string{"<=", ">=", "~>", "<", ">", "=", "~"}

// ParseAtom parses a single package dep spec. Stripping order: leading
// version operator, trailing "[...]" groups (innermost last), trailing
// "::repo" family, trailing ":slot" family, then the remaining text is the
// (possibly versioned) package name.
func ParseAtom(s string, eapi EapiProfile, opts AtomOptions) (*PackageDepSpec, error) {
	spec := &PackageDepSpec{raw: s}
	rest := s

	var op string
	for _, o := range atomOperators {
		if strings.HasPrefix(rest, o) {
			op = o
			rest = rest[len(o):]
			break
		}
	}

	// Bracket groups, outermost last in the text, so peel from the end.
	for strings.HasSuffix(rest, "]") {
		i := strings.LastIndexByte(rest, '[')
		if i < 0 {
			return nil, &PackageDepSpecError{s, "unmatched ] at end"}
		}
		if err := parseBracket(spec, rest[i+1:len(rest)-1], eapi, s); err != nil {
			return nil, err
		}
		rest = rest[:i]
	}

	if i := strings.Index(rest, "::"); i >= 0 {
		if err := parseRepositorySuffix(spec, rest[i+2:], s); err != nil {
			return nil, err
		}
		rest = rest[:i]
	}

	if i := strings.IndexByte(rest, ':'); i >= 0 {
		if err := parseSlotSuffix(spec, rest[i+1:], eapi, s); err != nil {
			return nil, err
		}
		rest = rest[:i]
	}

	if op != "" {
		var err error
		rest, err = parseVersionSuffix(spec, rest, op, s)
		if err != nil {
			return nil, err
		}
	}

	if err := parseNameText(spec, rest, opts, s); err != nil {
		return nil, err
	}
	return spec, nil
}

func parseVersionSuffix(spec *PackageDepSpec, rest, op, whole string) (string, error) {
	star := false
	if strings.HasSuffix(rest, "*") {
		if op != "=" {
			return "", &PackageDepSpecError{whole, "version glob only valid with the = operator"}
		}
		star = true
		rest = rest[:len(rest)-1]
	}

	// The version is the shortest trailing hyphen-delimited run that
	// parses as a VersionSpec; "-r1" alone does not, so "foo-1.0-r1"
	// splits at the hyphen before "1.0".
	for i := len(rest) - 1; i > 0; i-- {
		if rest[i] != '-' {
			continue
		}
		v, err := name.ParseVersionSpec(rest[i+1:])
		if err != nil {
			continue
		}
		vop, err := name.ParseVersionOperator(op)
		if err != nil {
			return "", &PackageDepSpecError{whole, err.Error()}
		}
		if star {
			vop = name.VersionOperatorEqualStar
		}
		spec.Versions.Requirements = append([]name.VersionRequirement{{Operator: vop, Version: v}}, spec.Versions.Requirements...)
		return rest[:i], nil
	}
	return "", &PackageDepSpecError{whole, "operator present but no version found"}
}

func parseSlotSuffix(spec *PackageDepSpec, text string, eapi EapiProfile, whole string) error {
	switch text {
	case "":
		return &PackageDepSpecError{whole, "empty slot requirement"}
	case "*":
		if !eapi.AllowSlotOperators {
			return &PackageDepSpecError{whole, ":* not permitted by EAPI " + eapi.Name}
		}
		spec.Slot = SlotRequirement{Kind: SlotAnyUnlocked}
		return nil
	case "=":
		if !eapi.AllowSlotOperators {
			return &PackageDepSpecError{whole, ":= not permitted by EAPI " + eapi.Name}
		}
		spec.Slot = SlotRequirement{Kind: SlotAnyLocked}
		return nil
	}
	locked := false
	if strings.HasSuffix(text, "=") {
		if !eapi.AllowSlotOperators {
			return &PackageDepSpecError{whole, "slot lock not permitted by EAPI " + eapi.Name}
		}
		locked = true
		text = text[:len(text)-1]
	}
	slot, err := name.NewSlotName(text)
	if err != nil {
		return &PackageDepSpecError{whole, err.Error()}
	}
	spec.Slot = SlotRequirement{Kind: SlotExact, Slot: slot, Locked: locked}
	return nil
}

func parseRepositorySuffix(spec *PackageDepSpec, text, whole string) error {
	includeMasked := false
	installable := false
	if strings.HasSuffix(text, "??") {
		installable, includeMasked = true, true
		text = text[:len(text)-2]
	} else if strings.HasSuffix(text, "?") {
		installable = true
		text = text[:len(text)-1]
	}

	if installable {
		if strings.HasPrefix(text, "/") {
			spec.InstallableTo = &InstallableToRequirement{Path: text, IncludeMasked: includeMasked}
			return nil
		}
		r, err := name.NewRepositoryName(text)
		if err != nil {
			return &PackageDepSpecError{whole, err.Error()}
		}
		spec.InstallableTo = &InstallableToRequirement{Repository: r, IncludeMasked: includeMasked}
		return nil
	}

	if i := strings.Index(text, "->"); i >= 0 {
		rr := &RepositoryRequirement{HasArrow: true}
		if from := text[:i]; from != "" {
			r, err := name.NewRepositoryName(from)
			if err != nil {
				return &PackageDepSpecError{whole, err.Error()}
			}
			rr.FromRepository = r
		}
		if to := text[i+2:]; to != "" {
			r, err := name.NewRepositoryName(to)
			if err != nil {
				return &PackageDepSpecError{whole, err.Error()}
			}
			rr.ToRepository = r
		}
		spec.Repository = rr
		return nil
	}

	r, err := name.NewRepositoryName(text)
	if err != nil {
		return &PackageDepSpecError{whole, err.Error()}
	}
	spec.Repository = &RepositoryRequirement{FromRepository: r}
	return nil
}

func parseBracket(spec *PackageDepSpec, body string, eapi EapiProfile, whole string) error {
	if body == "" {
		return &PackageDepSpecError{whole, "empty [] group"}
	}

	// A bracket group is either version requirements (pieces starting with
	// an operator character, '&' or '|' separated), or use / key
	// requirements (',' separated).
	if strings.IndexAny(body, "<>=~") == 0 {
		return parseVersionBracket(spec, body, eapi, whole)
	}

	for _, piece := range strings.Split(body, ",") {
		if piece == "" {
			return &PackageDepSpecError{whole, "empty requirement in []"}
		}
		if strings.HasPrefix(piece, ".") {
			if !eapi.AllowKeyValueRequirements {
				return &PackageDepSpecError{whole, "key requirements not permitted by EAPI " + eapi.Name}
			}
			eq := strings.IndexByte(piece, '=')
			if eq < 2 {
				return &PackageDepSpecError{whole, "key requirement must look like [.KEY=VALUE]"}
			}
			spec.Keys = append(spec.Keys, KeyRequirement{Key: piece[1:eq], Value: piece[eq+1:]})
			continue
		}
		if !eapi.AllowUseRequirements {
			return &PackageDepSpecError{whole, "use requirements not permitted by EAPI " + eapi.Name}
		}
		req, err := parseUseRequirement(piece)
		if err != nil {
			return &PackageDepSpecError{whole, err.Error()}
		}
		spec.Use = append(spec.Use, req)
	}
	return nil
}

func parseUseRequirement(piece string) (UseRequirement, error) {
	state := UseEnabled
	switch {
	case strings.HasPrefix(piece, "!") && strings.HasSuffix(piece, "="):
		state = UseNotEqual
		piece = piece[1 : len(piece)-1]
	case strings.HasPrefix(piece, "!") && strings.HasSuffix(piece, "?"):
		state = UseDisabledIfDisabled
		piece = piece[1 : len(piece)-1]
	case strings.HasSuffix(piece, "="):
		state = UseEqual
		piece = piece[:len(piece)-1]
	case strings.HasSuffix(piece, "?"):
		state = UseEnabledIfEnabled
		piece = piece[:len(piece)-1]
	case strings.HasPrefix(piece, "-"):
		state = UseDisabled
		piece = piece[1:]
	}
	flag, err := name.NewUseFlagName(piece)
	if err != nil {
		return UseRequirement{}, err
	}
	return UseRequirement{Flag: flag, State: state}, nil
}

func parseVersionBracket(spec *PackageDepSpec, body string, eapi EapiProfile, whole string) error {
	if !eapi.AllowRanges {
		return &PackageDepSpecError{whole, "ranged version requirements not permitted by EAPI " + eapi.Name}
	}

	mode := name.VersionRequirementsModeAnd
	var pieces []string
	switch {
	case strings.ContainsRune(body, '|') && strings.ContainsRune(body, '&'):
		return &PackageDepSpecError{whole, "mixed & and | in version requirements"}
	case strings.ContainsRune(body, '|'):
		mode = name.VersionRequirementsModeOr
		pieces = strings.Split(body, "|")
	default:
		pieces = strings.Split(body, "&")
	}

	if len(spec.Versions.Requirements) > 0 && spec.Versions.Mode != mode {
		return &PackageDepSpecError{whole, "conflicting version requirement modes"}
	}
	spec.Versions.Mode = mode

	for _, piece := range pieces {
		k := 0
		for k < len(piece) && (piece[k] == '<' || piece[k] == '>' || piece[k] == '=' || piece[k] == '~') {
			k++
		}
		if k == 0 || k == len(piece) {
			return &PackageDepSpecError{whole, "malformed version requirement " + piece}
		}
		star := strings.HasSuffix(piece, "*")
		vtext := piece[k:]
		if star {
			vtext = vtext[:len(vtext)-1]
		}
		op, err := name.ParseVersionOperator(piece[:k])
		if err != nil {
			return &PackageDepSpecError{whole, err.Error()}
		}
		if star {
			if op != name.VersionOperatorEqual {
				return &PackageDepSpecError{whole, "version glob only valid with the = operator"}
			}
			op = name.VersionOperatorEqualStar
		}
		v, err := name.ParseVersionSpec(vtext)
		if err != nil {
			return &PackageDepSpecError{whole, err.Error()}
		}
		spec.Versions.Requirements = append(spec.Versions.Requirements, name.VersionRequirement{Operator: op, Version: v})
	}
	return nil
}

func parseNameText(spec *PackageDepSpec, rest string, opts AtomOptions, whole string) error {
	if rest == "" {
		return &PackageDepSpecError{whole, "no package name"}
	}

	if strings.HasSuffix(rest, "/*") {
		if !opts.AllowWildcards {
			return &PackageDepSpecError{whole, "category wildcard not permitted here"}
		}
		c, err := name.NewCategoryNamePart(strings.TrimSuffix(rest, "/*"))
		if err != nil {
			return &PackageDepSpecError{whole, err.Error()}
		}
		spec.CategoryPart = &c
		return nil
	}

	if !strings.ContainsRune(rest, '/') {
		if !opts.AllowWildcards {
			return &PackageDepSpecError{whole, "bare package name not permitted here"}
		}
		p, err := name.NewPackageNamePart(rest)
		if err != nil {
			return &PackageDepSpecError{whole, err.Error()}
		}
		spec.PackagePart = &p
		return nil
	}

	q, err := name.NewQualifiedPackageName(rest)
	if err != nil {
		return &PackageDepSpecError{whole, err.Error()}
	}
	spec.Name = &q
	return nil
}
