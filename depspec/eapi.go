package depspec

// An EapiProfile is the full set of dialect switches selected by an EAPI
// identifier. It is threaded as a value through the parser, the atom
// matcher and the dep-list builder, so that no algorithm ever branches on
// an EAPI string directly.
type EapiProfile struct {
	Name      string
	Supported bool

	// Dep-string constructs.
	AllowExactlyOneOf bool // ^^ ( ... )
	AllowAtMostOneOf  bool // ?? ( ... )
	AllowEmptyGroups  bool // || ( ) is vacuously true rather than an error

	// Atom constructs.
	AllowSlotOperators        bool // :=, :*
	AllowUseRequirements      bool // [flag], [flag=], ...
	AllowKeyValueRequirements bool // [.KEY=VALUE]
	AllowRanges               bool // multiple version requirements in []

	// Metadata constructs.
	HasProvide bool // PROVIDE exists; virtual expansion applies
}

var eapiRegistry = map[string]EapiProfile{}

func registerEapi(p EapiProfile) {
	p.Supported = true
	eapiRegistry[p.Name] = p
}

func init() {
	registerEapi(EapiProfile{Name: "0", AllowEmptyGroups: true, HasProvide: true})
	registerEapi(EapiProfile{Name: "1", AllowEmptyGroups: true, HasProvide: true})
	registerEapi(EapiProfile{Name: "2", AllowEmptyGroups: true, AllowUseRequirements: true})
	registerEapi(EapiProfile{Name: "3", AllowEmptyGroups: true, AllowUseRequirements: true})
	registerEapi(EapiProfile{Name: "4", AllowEmptyGroups: true, AllowUseRequirements: true})
	for _, n := range []string{"5", "6", "7", "8"} {
		registerEapi(EapiProfile{
			Name:              n,
			AllowExactlyOneOf: true,
			AllowAtMostOneOf:  true,
			AllowSlotOperators: true,
			AllowUseRequirements: true,
		})
	}
	// The paludis-1 dialect is EAPI 5 plus the user-spec extensions:
	// key-value requirements and ranged version requirements.
	registerEapi(EapiProfile{
		Name:                      "paludis-1",
		AllowExactlyOneOf:         true,
		AllowAtMostOneOf:          true,
		AllowSlotOperators:        true,
		AllowUseRequirements:      true,
		AllowKeyValueRequirements: true,
		AllowRanges:               true,
	})
}

// LookupEapi returns the profile registered for the given EAPI name. An
// unknown name yields an unsupported profile with every construct
// disabled; the environment turns that into an EAPI mask.
func LookupEapi(name string) EapiProfile {
	if p, ok := eapiRegistry[name]; ok {
		return p
	}
	return EapiProfile{Name: name}
}
