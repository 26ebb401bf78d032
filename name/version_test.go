package name

import (
	"sort"
	"testing"
)

func mustVersion(t *testing.T, s string) *VersionSpec {
	t.Helper()
	v, err := ParseVersionSpec(s)
	if err != nil {
		t.Fatalf("ParseVersionSpec(%q): %s", s, err)
	}
	return v
}

func TestVersionParse(t *testing.T) {
	good := []string{
		"1", "1.0", "1.2.3", "1.2.3a", "1.0_alpha", "1.0_alpha1",
		"1.0_beta2_rc1", "2.0_p20240101", "1.2-r1", "1.0b_pre1-r2",
		"scm", "1.2-scm", "1.2-scm-r3", "9999",
	}
	for _, s := range good {
		if _, err := ParseVersionSpec(s); err != nil {
			t.Errorf("ParseVersionSpec(%q) unexpected error: %s", s, err)
		}
	}

	bad := []string{"", "a", "1..2", "1.", "1.0_omega", "1.0-r", "1.0-rX", "1.0xyz", "-1"}
	for _, s := range bad {
		if _, err := ParseVersionSpec(s); err == nil {
			t.Errorf("ParseVersionSpec(%q) should have failed", s)
		}
	}
}

func TestVersionOrder(t *testing.T) {
	// Each version must sort strictly after the previous one.
	ordered := []string{
		"1.0_alpha",
		"1.0_alpha1",
		"1.0_beta",
		"1.0_pre1",
		"1.0_rc1",
		"1.0",
		"1.0-r1",
		"1.0_p1",
		"1.0a",
		"1.01",
		"1.1",
		"1.2_pre1",
		"1.2",
		"1.2-scm",
		"1.10",
		"2.0",
	}
	for i := 1; i < len(ordered); i++ {
		a := mustVersion(t, ordered[i-1])
		b := mustVersion(t, ordered[i])
		if a.Compare(b) >= 0 {
			t.Errorf("expected %s < %s", a, b)
		}
		if b.Compare(a) <= 0 {
			t.Errorf("expected %s > %s", b, a)
		}
	}
}

func TestVersionTotalOrder(t *testing.T) {
	vs := []string{"1.0", "1.0-r1", "1.0_alpha", "2", "1.5b", "1.0_p3", "1.01"}
	specs := make([]*VersionSpec, len(vs))
	for i, s := range vs {
		specs[i] = mustVersion(t, s)
	}
	// Exactly one of <, =, > must hold for every pair.
	for _, a := range specs {
		for _, b := range specs {
			c1, c2 := a.Compare(b), b.Compare(a)
			if c1 != -c2 {
				t.Errorf("Compare(%s, %s) = %d but Compare(%s, %s) = %d", a, b, c1, b, a, c2)
			}
			if c1 == 0 && a.String() != b.String() {
				t.Errorf("%s and %s compare equal", a, b)
			}
		}
	}
	// And sorting must be deterministic.
	sort.Slice(specs, func(i, j int) bool { return specs[i].Compare(specs[j]) < 0 })
	if specs[0].String() != "1.0_alpha" || specs[len(specs)-1].String() != "2" {
		t.Errorf("unexpected sort result: %v", specs)
	}
}

func TestVersionOperators(t *testing.T) {
	cases := []struct {
		op        VersionOperator
		candidate string
		required  string
		want      bool
	}{
		{VersionOperatorEqual, "1.0", "1.0", true},
		{VersionOperatorEqual, "1.0-r1", "1.0", false},
		{VersionOperatorTildeEqual, "1.0-r1", "1.0", true},
		{VersionOperatorTildeEqual, "1.0-r99", "1.0", true},
		{VersionOperatorTildeEqual, "1.1", "1.0", false},
		{VersionOperatorEqualStar, "1.2.3", "1.2", true},
		{VersionOperatorEqualStar, "1.2", "1.2", true},
		{VersionOperatorEqualStar, "1.2b", "1.2", true},
		{VersionOperatorEqualStar, "1.20", "1.2", false},
		{VersionOperatorGreaterEqual, "1.2", "1.0", true},
		{VersionOperatorGreater, "1.0", "1.0", false},
		{VersionOperatorLess, "1.0_alpha", "1.0", true},
		{VersionOperatorLessEqual, "1.0", "1.0", true},
		{VersionOperatorTildeGreater, "1.2.4", "1.2.3", true},
		{VersionOperatorTildeGreater, "1.2.3", "1.2.3", true},
		{VersionOperatorTildeGreater, "1.3", "1.2.3", false},
		{VersionOperatorTildeGreater, "1.2.2", "1.2.3", false},
	}
	for _, c := range cases {
		got := c.op.Matches(mustVersion(t, c.candidate), mustVersion(t, c.required))
		if got != c.want {
			t.Errorf("%s %s against %s = %v, want %v", c.candidate, c.op, c.required, got, c.want)
		}
	}
}

func TestVersionRequirements(t *testing.T) {
	ge1 := VersionRequirement{VersionOperatorGreaterEqual, mustVersion(t, "1")}
	lt2 := VersionRequirement{VersionOperatorLess, mustVersion(t, "2")}

	and := VersionRequirements{Requirements: []VersionRequirement{ge1, lt2}, Mode: VersionRequirementsModeAnd}
	or := VersionRequirements{Requirements: []VersionRequirement{ge1, lt2}, Mode: VersionRequirementsModeOr}
	empty := VersionRequirements{}

	v15 := mustVersion(t, "1.5")
	v3 := mustVersion(t, "3")
	v05 := mustVersion(t, "0.5")

	if !and.Satisfied(v15) || and.Satisfied(v3) || and.Satisfied(v05) {
		t.Error("and-mode requirements misbehaved")
	}
	if !or.Satisfied(v3) || !or.Satisfied(v05) || !or.Satisfied(v15) {
		t.Error("or-mode requirements misbehaved")
	}
	if !empty.Satisfied(v3) {
		t.Error("empty requirements must match everything")
	}
}

func TestVersionScm(t *testing.T) {
	for s, want := range map[string]bool{
		"1.0":      false,
		"1.0-scm":  true,
		"scm":      true,
		"9999":     true,
		"1.9999.2": true,
	} {
		if got := mustVersion(t, s).IsScm(); got != want {
			t.Errorf("IsScm(%s) = %v, want %v", s, got, want)
		}
	}
}
