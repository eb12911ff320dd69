// Package policy derives the immutable behavior toggles for one compilation
// from its language-version target. Nothing here is process-global: every
// analysis call receives its Policy explicitly, so one process can analyze
// compilations under different versions concurrently.
package policy

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/calyx-lang/initcheck/internal/diagnostics"
)

// Policy is a versioned bundle of behavior toggles. Values are plain data
// and safe to copy; treat them as immutable after ForVersion.
type Policy struct {
	// Version is the normalized language-version string the policy was
	// derived from.
	Version string `yaml:"version"`

	// CheckAllFieldKinds makes opacity inspect accessibility of every field
	// kind. When false, only value-typed fields are inspected, reproducing
	// the historical narrower check.
	CheckAllFieldKinds bool `yaml:"checkAllFieldKinds"`

	// AllowZeroInitWhenCtorExists keeps the historical default-argument
	// leniency: a default-argument site may zero-initialize a type whose
	// only parameterless constructor failed accessibility.
	AllowZeroInitWhenCtorExists bool `yaml:"allowZeroInitWhenCtorExists"`

	// SynthesizeDefaultCtor generates a parameterless constructor running
	// field initializers when other constructors exist. Off in every
	// shipped version policy; the language design has not settled it.
	SynthesizeDefaultCtor bool `yaml:"synthesizeDefaultCtor"`

	// SuspiciousSeverity is the reporting level for the "suspicious default
	// construction" advisory. Warning by default, Silent selectable.
	SuspiciousSeverity diagnostics.Severity `yaml:"suspiciousSeverity"`
}

// CurrentVersion is the language version new compilations target.
const CurrentVersion = "2.0.0"

// strictBoundary is the first version with uniform strict checking.
var strictBoundary = semver.MustParse("2.0.0")

// ForVersion resolves a language-version token into a Policy. Tokens are
// semver, with a bare major or major.minor accepted ("1", "1.4").
func ForVersion(version string) (Policy, error) {
	v, err := semver.NewVersion(strings.TrimSpace(version))
	if err != nil {
		return Policy{}, fmt.Errorf("parsing language version %q: %w", version, err)
	}

	p := Policy{
		Version:            v.String(),
		SuspiciousSeverity: diagnostics.Warning,
	}
	if v.LessThan(strictBoundary) {
		// Legacy behavior: opacity looked at value-typed fields only, and
		// default arguments tolerated inaccessible parameterless ctors.
		p.CheckAllFieldKinds = false
		p.AllowZeroInitWhenCtorExists = true
	} else {
		p.CheckAllFieldKinds = true
		p.AllowZeroInitWhenCtorExists = false
	}
	return p, nil
}

// Current returns the policy for CurrentVersion.
func Current() Policy {
	p, err := ForVersion(CurrentVersion)
	if err != nil {
		panic(err) // CurrentVersion is a constant; this cannot fail
	}
	return p
}

// Fingerprint returns a stable string distinguishing policies that can
// produce different analysis results. Memo caches key on it.
func (p Policy) Fingerprint() string {
	return fmt.Sprintf("v%s;fields=%t;lenient=%t;synth=%t;susp=%d",
		p.Version, p.CheckAllFieldKinds, p.AllowZeroInitWhenCtorExists,
		p.SynthesizeDefaultCtor, p.SuspiciousSeverity)
}
