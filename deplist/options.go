package deplist

import (
	"fmt"

	"github.com/negril/paludis/repository"
)

// A ConfigurationError reports an invalid policy value. It is raised only
// while constructing an Options bundle, never mid-resolution.
type ConfigurationError struct {
	Option string
	Value  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("bad value %q for dep list option %q", e.Value, e.Option)
}

// ReinstallPolicy says whether same-version IDs are reinstalled.
type ReinstallPolicy int

const (
	ReinstallNever ReinstallPolicy = iota
	ReinstallIfUseChanged
	ReinstallAlways
)

// ReinstallScmPolicy says when live packages are re-merged.
type ReinstallScmPolicy int

const (
	ReinstallScmNever ReinstallScmPolicy = iota
	ReinstallScmAlways
	ReinstallScmDaily
	ReinstallScmWeekly
)

// TargetType distinguishes explicit package targets from named sets.
type TargetType int

const (
	TargetPackage TargetType = iota
	TargetSet
)

// UpgradePolicy controls upgrades of already-installed packages.
type UpgradePolicy int

const (
	UpgradeAlways UpgradePolicy = iota
	UpgradeAsNeeded
)

// DowngradePolicy controls the best-candidate-below-installed case.
type DowngradePolicy int

const (
	DowngradeAsNeeded DowngradePolicy = iota
	DowngradeWarning
	DowngradeError
)

// NewSlotsPolicy controls introducing a slot that is not yet installed.
type NewSlotsPolicy int

const (
	NewSlotsAlways NewSlotsPolicy = iota
	NewSlotsAsNeeded
)

// FallBackPolicy controls accepting an installed package when nothing
// visible is installable.
type FallBackPolicy int

const (
	FallBackAsNeededExceptTargets FallBackPolicy = iota
	FallBackAsNeeded
	FallBackNever
)

// DepsPolicy says where one dependency tree of an entry lands.
type DepsPolicy int

const (
	DepsDiscard DepsPolicy = iota
	DepsPre
	DepsPost
	DepsTryPost
	DepsPreOrPost
)

// SuggestedPolicy controls suggested dependencies.
type SuggestedPolicy int

const (
	SuggestedShow SuggestedPolicy = iota
	SuggestedInstall
	SuggestedIgnore
)

// CircularPolicy controls circular-dependency handling.
type CircularPolicy int

const (
	CircularError CircularPolicy = iota
	CircularDiscard
	CircularDiscardSilently
)

// UsePolicy controls use-conditional interpretation.
type UsePolicy int

const (
	UseStandard UsePolicy = iota
	UseTakeAll
	UseSkip
)

// BlocksPolicy controls how triggered blockers surface.
type BlocksPolicy int

const (
	BlocksAccumulate BlocksPolicy = iota
	BlocksError
	BlocksDiscard
)

// Options is the complete policy bundle the builder recognises.
type Options struct {
	Reinstall    ReinstallPolicy
	ReinstallScm ReinstallScmPolicy
	TargetType   TargetType
	Upgrade      UpgradePolicy
	Downgrade    DowngradePolicy
	NewSlots     NewSlotsPolicy
	FallBack     FallBackPolicy

	InstalledDepsPre     DepsPolicy
	InstalledDepsRuntime DepsPolicy
	InstalledDepsPost    DepsPolicy

	UninstalledDepsPre       DepsPolicy
	UninstalledDepsRuntime   DepsPolicy
	UninstalledDepsPost      DepsPolicy
	UninstalledDepsSuggested DepsPolicy

	Suggested SuggestedPolicy
	Circular  CircularPolicy
	Use       UsePolicy
	Blocks    BlocksPolicy

	DependencyTags bool
	OverrideMasks  repository.MaskReasons
}

// DefaultOptions mirrors the stock install profile: upgrade when asked,
// keep installed things alone, runtime deps of new packages may float to
// post position to break cycles.
func DefaultOptions() Options {
	return Options{
		Reinstall:    ReinstallNever,
		ReinstallScm: ReinstallScmNever,
		TargetType:   TargetPackage,
		Upgrade:      UpgradeAlways,
		Downgrade:    DowngradeAsNeeded,
		NewSlots:     NewSlotsAlways,
		FallBack:     FallBackAsNeededExceptTargets,

		InstalledDepsPre:     DepsDiscard,
		InstalledDepsRuntime: DepsTryPost,
		InstalledDepsPost:    DepsTryPost,

		UninstalledDepsPre:       DepsPre,
		UninstalledDepsRuntime:   DepsPreOrPost,
		UninstalledDepsPost:      DepsPost,
		UninstalledDepsSuggested: DepsTryPost,

		Suggested: SuggestedShow,
		Circular:  CircularError,
		Use:       UseStandard,
		Blocks:    BlocksAccumulate,
	}
}

var reinstallValues = map[string]ReinstallPolicy{
	"never": ReinstallNever, "if-use-changed": ReinstallIfUseChanged, "always": ReinstallAlways,
}

var reinstallScmValues = map[string]ReinstallScmPolicy{
	"never": ReinstallScmNever, "always": ReinstallScmAlways,
	"daily": ReinstallScmDaily, "weekly": ReinstallScmWeekly,
}

var upgradeValues = map[string]UpgradePolicy{
	"always": UpgradeAlways, "as-needed": UpgradeAsNeeded,
}

var downgradeValues = map[string]DowngradePolicy{
	"as-needed": DowngradeAsNeeded, "warning": DowngradeWarning, "error": DowngradeError,
}

var newSlotsValues = map[string]NewSlotsPolicy{
	"always": NewSlotsAlways, "as-needed": NewSlotsAsNeeded,
}

var fallBackValues = map[string]FallBackPolicy{
	"never": FallBackNever, "as-needed": FallBackAsNeeded,
	"as-needed-except-targets": FallBackAsNeededExceptTargets,
}

var depsValues = map[string]DepsPolicy{
	"discard": DepsDiscard, "pre": DepsPre, "post": DepsPost,
	"try-post": DepsTryPost, "pre-or-post": DepsPreOrPost,
}

var suggestedValues = map[string]SuggestedPolicy{
	"show": SuggestedShow, "install": SuggestedInstall, "ignore": SuggestedIgnore,
}

var circularValues = map[string]CircularPolicy{
	"error": CircularError, "discard": CircularDiscard, "discard-silently": CircularDiscardSilently,
}

var useValues = map[string]UsePolicy{
	"standard": UseStandard, "take-all": UseTakeAll, "skip": UseSkip,
}

var blocksValues = map[string]BlocksPolicy{
	"error": BlocksError, "accumulate": BlocksAccumulate, "discard": BlocksDiscard,
}

func lookupOption[T any](values map[string]T, option, value string) (T, error) {
	if v, ok := values[value]; ok {
		return v, nil
	}
	var zero T
	return zero, &ConfigurationError{Option: option, Value: value}
}

// RawOptions is the string form of the policy bundle, as it appears in
// configuration files and on the command line. Empty fields keep their
// defaults.
type RawOptions struct {
	Reinstall    string `toml:"reinstall"`
	ReinstallScm string `toml:"reinstall_scm"`
	Upgrade      string `toml:"upgrade"`
	Downgrade    string `toml:"downgrade"`
	NewSlots     string `toml:"new_slots"`
	FallBack     string `toml:"fall_back"`

	InstalledDepsPre     string `toml:"installed_deps_pre"`
	InstalledDepsRuntime string `toml:"installed_deps_runtime"`
	InstalledDepsPost    string `toml:"installed_deps_post"`

	UninstalledDepsPre       string `toml:"uninstalled_deps_pre"`
	UninstalledDepsRuntime   string `toml:"uninstalled_deps_runtime"`
	UninstalledDepsPost      string `toml:"uninstalled_deps_post"`
	UninstalledDepsSuggested string `toml:"uninstalled_deps_suggested"`

	Suggested string `toml:"suggested"`
	Circular  string `toml:"circular"`
	Use       string `toml:"use"`
	Blocks    string `toml:"blocks"`

	DependencyTags bool `toml:"dependency_tags"`
}

// ParseOptions applies raw string values over the defaults.
func ParseOptions(raw RawOptions) (Options, error) {
	o := DefaultOptions()
	var err error

	set := func(dst interface{}, option, value string) {
		if err != nil || value == "" {
			return
		}
		switch d := dst.(type) {
		case *ReinstallPolicy:
			*d, err = lookupOption(reinstallValues, option, value)
		case *ReinstallScmPolicy:
			*d, err = lookupOption(reinstallScmValues, option, value)
		case *UpgradePolicy:
			*d, err = lookupOption(upgradeValues, option, value)
		case *DowngradePolicy:
			*d, err = lookupOption(downgradeValues, option, value)
		case *NewSlotsPolicy:
			*d, err = lookupOption(newSlotsValues, option, value)
		case *FallBackPolicy:
			*d, err = lookupOption(fallBackValues, option, value)
		case *DepsPolicy:
			*d, err = lookupOption(depsValues, option, value)
		case *SuggestedPolicy:
			*d, err = lookupOption(suggestedValues, option, value)
		case *CircularPolicy:
			*d, err = lookupOption(circularValues, option, value)
		case *UsePolicy:
			*d, err = lookupOption(useValues, option, value)
		case *BlocksPolicy:
			*d, err = lookupOption(blocksValues, option, value)
		}
	}

	set(&o.Reinstall, "reinstall", raw.Reinstall)
	set(&o.ReinstallScm, "reinstall-scm", raw.ReinstallScm)
	set(&o.Upgrade, "upgrade", raw.Upgrade)
	set(&o.Downgrade, "downgrade", raw.Downgrade)
	set(&o.NewSlots, "new-slots", raw.NewSlots)
	set(&o.FallBack, "fall-back", raw.FallBack)
	set(&o.InstalledDepsPre, "installed-deps-pre", raw.InstalledDepsPre)
	set(&o.InstalledDepsRuntime, "installed-deps-runtime", raw.InstalledDepsRuntime)
	set(&o.InstalledDepsPost, "installed-deps-post", raw.InstalledDepsPost)
	set(&o.UninstalledDepsPre, "uninstalled-deps-pre", raw.UninstalledDepsPre)
	set(&o.UninstalledDepsRuntime, "uninstalled-deps-runtime", raw.UninstalledDepsRuntime)
	set(&o.UninstalledDepsPost, "uninstalled-deps-post", raw.UninstalledDepsPost)
	set(&o.UninstalledDepsSuggested, "uninstalled-deps-suggested", raw.UninstalledDepsSuggested)
	set(&o.Suggested, "suggested", raw.Suggested)
	set(&o.Circular, "circular", raw.Circular)
	set(&o.Use, "use", raw.Use)
	set(&o.Blocks, "blocks", raw.Blocks)
	o.DependencyTags = raw.DependencyTags

	if err != nil {
		return Options{}, err
	}
	return o, nil
}
