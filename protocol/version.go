package protocol

import (
	"fmt"
)

const (
	MajorVersion = 1
	MinorVersion = 0
)

// Version is the UMA protocol version spoken by this implementation.
var Version = fmt.Sprintf("%d.%d", MajorVersion, MinorVersion)

// backcompatVersions are older versions we still answer in their own shape.
var backcompatVersions = []string{"0.3"}

// ParsedVersion is a major.minor protocol version.
type ParsedVersion struct {
	Major int
	Minor int
}

// ParseVersion parses a "major.minor" version string.
func ParseVersion(version string) (*ParsedVersion, error) {
	var v ParsedVersion
	_, err := fmt.Sscanf(version, "%d.%d", &v.Major, &v.Minor)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", version, err)
	}

	return &v, nil
}

func (v ParsedVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// SupportedMajorVersions lists every major version we can speak, newest
// first.
func SupportedMajorVersions() []int {
	majors := []int{MajorVersion}
	for _, version := range backcompatVersions {
		parsed, err := ParseVersion(version)
		if err != nil {
			continue
		}
		majors = append(majors, parsed.Major)
	}

	return majors
}

// IsVersionSupported reports whether version's major version is one we
// support.
func IsVersionSupported(version string) bool {
	parsed, err := ParseVersion(version)
	if err != nil {
		return false
	}

	for _, major := range SupportedMajorVersions() {
		if major == parsed.Major {
			return true
		}
	}

	return false
}

// SelectLowerVersion returns the lower of the two versions.
func SelectLowerVersion(a, b string) (string, error) {
	va, err := ParseVersion(a)
	if err != nil {
		return "", err
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return "", err
	}

	if va.Major > vb.Major || (va.Major == vb.Major && va.Minor > vb.Minor) {
		return b, nil
	}

	return a, nil
}

// MajorVersionOf returns the major component of version, or the current
// major version if it cannot be parsed.
func MajorVersionOf(version string) int {
	parsed, err := ParseVersion(version)
	if err != nil {
		return MajorVersion
	}

	return parsed.Major
}

func unsupportedVersionError(version string) *Error {
	return &Error{
		Code:                   CodeUnsupportedVersion,
		Reason:                 fmt.Sprintf("unsupported version: %s", version),
		SupportedMajorVersions: SupportedMajorVersions(),
		UnsupportedVersion:     version,
	}
}
