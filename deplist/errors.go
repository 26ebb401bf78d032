package deplist

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/negril/paludis/repository"
)

// CandidateFailure records why one candidate was rejected, for compound
// error messages.
type CandidateFailure struct {
	ID      string
	Reasons repository.MaskReasons
}

// AllMaskedError means no acceptable candidate exists for an atom, even
// after exhausting the permitted override masks.
type AllMaskedError struct {
	Spec       string
	Candidates []CandidateFailure
}

func (e *AllMaskedError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("no versions found for %q", e.Spec)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "all versions of %q are masked:", e.Spec)
	for _, c := range e.Candidates {
		fmt.Fprintf(&buf, "\n\t%s: %s", c.ID, c.Reasons)
	}
	return buf.String()
}

// UseRequirementsNotMetError means an atom fails only because of its USE
// requirements.
type UseRequirementsNotMetError struct {
	Spec string
}

func (e *UseRequirementsNotMetError) Error() string {
	return fmt.Sprintf("use requirements of %q are not met", e.Spec)
}

// BlockError means a blocker against an installed or planned package
// could not be discarded.
type BlockError struct {
	Spec    string
	Against string
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("%q blocks %s", e.Spec, e.Against)
}

// DowngradeNotAllowedError means the best candidate is older than the
// installed version under downgrade=error.
type DowngradeNotAllowedError struct {
	Spec      string
	Installed string
	Candidate string
}

func (e *DowngradeNotAllowedError) Error() string {
	return fmt.Sprintf("resolving %q would downgrade %s to %s", e.Spec, e.Installed, e.Candidate)
}

// CircularDependencyError carries the witness cycle; the first and last
// node names coincide.
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return "circular dependency: " + strings.Join(e.Cycle, " -> ")
}
