// Package version parses and compares accelerator runtime versions and
// decides which estimator patches a runtime can serve.
//
// Versions are year-based, "2023.2.0". The numeric form used by native
// libraries is major*10000 + minor*100 + patch, e.g. 20230200.
package version

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// Version is a runtime version.
type Version struct {
	Major int
	Minor int
	Patch int
}

// Binary is the ABI version pair a native library was built against.
type Binary struct {
	Major int
	Minor int
}

// Builtin is the version reported by the in-process host kernels.
var Builtin = Version{Major: 2024, Minor: 1, Patch: 0}

// Parse parses "2023.2", "2023.2.1" or "v2023.2.1".
func Parse(s string) (Version, error) {
	v := "v" + strings.TrimPrefix(strings.TrimSpace(s), "v")
	if !semver.IsValid(v) {
		return Version{}, scigoerrors.NewValueError("version.Parse", fmt.Sprintf("invalid version %q", s))
	}
	parts := strings.SplitN(strings.TrimPrefix(semver.Canonical(v), "v"), ".", 3)
	nums := [3]int{}
	for i, p := range parts {
		if i == 2 {
			p, _, _ = strings.Cut(p, "-")
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, scigoerrors.NewValueError("version.Parse", fmt.Sprintf("invalid version %q", s))
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// MustParse is Parse for package-level constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromNumeric decodes major*10000 + minor*100 + patch.
func FromNumeric(n int) Version {
	return Version{Major: n / 10000, Minor: (n / 100) % 100, Patch: n % 100}
}

// Numeric encodes v as major*10000 + minor*100 + patch.
func (v Version) Numeric() int {
	return v.Major*10000 + v.Minor*100 + v.Patch
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func (v Version) semver() string {
	return "v" + v.String()
}

// IsZero reports whether v is unset.
func (v Version) IsZero() bool {
	return v == Version{}
}

// Compare returns -1, 0 or +1.
func (v Version) Compare(other Version) int {
	return semver.Compare(v.semver(), other.semver())
}

// AtLeast reports whether v >= min.
func (v Version) AtLeast(min Version) bool {
	return v.Compare(min) >= 0
}

var defineRE = regexp.MustCompile(`^\s*#define\s+(SGX_VERSION_MAJOR|SGX_VERSION_MINOR|SGX_VERSION_PATCH|SGX_BINARY_MAJOR|SGX_BINARY_MINOR)\s+(\d+)`)

// ParseHeader reads the version macros from a native library header:
//
//	#define SGX_VERSION_MAJOR 2024
//	#define SGX_VERSION_MINOR 1
//	#define SGX_BINARY_MAJOR 2
//	#define SGX_BINARY_MINOR 0
//
// SGX_VERSION_PATCH is optional. The other four macros are required.
func ParseHeader(r io.Reader) (Version, Binary, error) {
	found := map[string]int{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		m := defineRE.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return Version{}, Binary{}, scigoerrors.Wrapf(err, "parse %s", m[1])
		}
		found[m[1]] = n
	}
	if err := sc.Err(); err != nil {
		return Version{}, Binary{}, scigoerrors.Wrap(err, "read version header")
	}
	for _, name := range []string{"SGX_VERSION_MAJOR", "SGX_VERSION_MINOR", "SGX_BINARY_MAJOR", "SGX_BINARY_MINOR"} {
		if _, ok := found[name]; !ok {
			return Version{}, Binary{}, scigoerrors.NewValueError("version.ParseHeader", "missing "+name)
		}
	}
	v := Version{Major: found["SGX_VERSION_MAJOR"], Minor: found["SGX_VERSION_MINOR"], Patch: found["SGX_VERSION_PATCH"]}
	b := Binary{Major: found["SGX_BINARY_MAJOR"], Minor: found["SGX_BINARY_MINOR"]}
	return v, b, nil
}
