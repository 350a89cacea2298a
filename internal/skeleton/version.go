package skeleton

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a Knossos release number as recorded in the annotation
// parameters ("4.1.2").
type Version struct {
	Major int
	Minor int
	Patch int
}

// MinSavedVersion is the oldest Knossos release whose annotation files
// carry usable work time tracking.
var MinSavedVersion = Version{Major: 4, Minor: 1, Patch: 2}

// ParseVersion reads a dotted version string. Missing components default
// to zero, so "4.1" parses as 4.1.0.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("empty version string")
	}
	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Compare returns -1, 0 or 1 when v is older than, equal to or newer
// than other.
func (v Version) Compare(other Version) int {
	pairs := [3][2]int{
		{v.Major, other.Major},
		{v.Minor, other.Minor},
		{v.Patch, other.Patch},
	}
	for _, p := range pairs {
		if p[0] < p[1] {
			return -1
		}
		if p[0] > p[1] {
			return 1
		}
	}
	return 0
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
