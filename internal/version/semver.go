package version

import (
	"fmt"
	"strconv"
	"strings"
)

// BumpKind selects which semver component a bump increments.
type BumpKind string

const (
	BumpPatch BumpKind = "patch"
	BumpMinor BumpKind = "minor"
	BumpMajor BumpKind = "major"
)

// ParseBumpKind validates an operator-supplied bump kind.
func ParseBumpKind(s string) (BumpKind, error) {
	switch BumpKind(strings.ToLower(s)) {
	case BumpPatch:
		return BumpPatch, nil
	case BumpMinor:
		return BumpMinor, nil
	case BumpMajor:
		return BumpMajor, nil
	}
	return "", fmt.Errorf("unknown bump kind %q (want patch, minor or major)", s)
}

// Semver is a MAJOR.MINOR.PATCH version.
type Semver struct {
	Major, Minor, Patch int
}

func Parse(s string) (Semver, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return Semver{}, fmt.Errorf("invalid semantic version %q", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Semver{}, fmt.Errorf("invalid semantic version %q", s)
		}
		nums[i] = n
	}
	return Semver{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func (v Semver) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Bump returns the next version for the given kind: patch increments the
// third component, minor resets patch, major resets minor and patch.
func (v Semver) Bump(kind BumpKind) Semver {
	switch kind {
	case BumpMajor:
		return Semver{Major: v.Major + 1}
	case BumpMinor:
		return Semver{Major: v.Major, Minor: v.Minor + 1}
	default:
		return Semver{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
	}
}

// Less reports strict semver precedence.
func (v Semver) Less(o Semver) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}
