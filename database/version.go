package database

import (
	"cmp"
	"slices"

	"github.com/blang/semver"
)

// CompareVersions orders versions by semantic version. Versions that do not
// parse compare lower than every valid one and as strings among themselves.
func CompareVersions(a, b string) int {
	va, errA := semver.ParseTolerant(a)
	vb, errB := semver.ParseTolerant(b)
	switch {
	case errA == nil && errB == nil:
		return va.Compare(vb)
	case errA == nil:
		return 1
	case errB == nil:
		return -1
	}
	return cmp.Compare(a, b)
}

// SortVersions sorts versions newest first.
func SortVersions(versions []string) {
	slices.SortStableFunc(versions, func(a, b string) int {
		return CompareVersions(b, a)
	})
}

// SortPackages sorts by name, then version newest first.
func SortPackages(pkgs []Package) {
	slices.SortStableFunc(pkgs, func(a, b Package) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return CompareVersions(b.Version, a.Version)
	})
}
