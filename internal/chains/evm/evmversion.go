package evm

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// EVM versions known to solc, oldest first.
var evmVersions = []string{
	"homestead",
	"tangerineWhistle",
	"spuriousDragon",
	"byzantium",
	"constantinople",
	"petersburg",
	"istanbul",
	"berlin",
	"london",
	"paris",
	"shanghai",
	"cancun",
	"prague",
}

// DefaultEVMVersion is used when neither the explorer nor the compiler
// version tells us which hard fork the contract was compiled for.
const DefaultEVMVersion = "cancun"

// solc changed its default target at these releases.
var compilerDefaults = []struct {
	since   string
	version string
}{
	{"v0.8.30", "prague"},
	{"v0.8.25", "cancun"},
	{"v0.8.20", "shanghai"},
	{"v0.8.18", "paris"},
	{"v0.8.7", "london"},
	{"v0.8.5", "berlin"},
	{"v0.5.14", "istanbul"},
	{"v0.5.5", "petersburg"},
	{"v0.4.21", "byzantium"},
}

// EVMVersionLevel returns the position of version in the fork ordering.
func EVMVersionLevel(version string) (int, error) {
	for i, v := range evmVersions {
		if strings.EqualFold(v, version) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown EVM version %q", version)
}

// NormalizeEVMVersion maps case variants and the "default" placeholder some
// explorers return onto the canonical solc spelling. An empty result means
// no version was reported.
func NormalizeEVMVersion(version string) string {
	version = strings.TrimSpace(version)
	if version == "" || strings.EqualFold(version, "default") {
		return ""
	}
	for _, v := range evmVersions {
		if strings.EqualFold(v, version) {
			return v
		}
	}
	return version
}

// ResolveEVMVersion picks the EVM version to replay with. A reported version
// wins; otherwise the default of the reported compiler release is used, and
// fallback when the compiler version is unknown too.
func ResolveEVMVersion(reported, compilerVersion, fallback string) (string, error) {
	if v := NormalizeEVMVersion(reported); v != "" {
		if _, err := EVMVersionLevel(v); err != nil {
			return "", err
		}
		return v, nil
	}
	if v := compilerDefaultEVMVersion(compilerVersion); v != "" {
		return v, nil
	}
	if fallback == "" {
		fallback = DefaultEVMVersion
	}
	v := NormalizeEVMVersion(fallback)
	if _, err := EVMVersionLevel(v); err != nil {
		return "", err
	}
	return v, nil
}

// compilerDefaultEVMVersion accepts "v0.8.20+commit.a1b2c3d4" style strings.
func compilerDefaultEVMVersion(compilerVersion string) string {
	v := strings.TrimSpace(compilerVersion)
	if v == "" {
		return ""
	}
	if i := strings.IndexByte(v, '+'); i >= 0 {
		v = v[:i]
	}
	v = "v" + strings.TrimPrefix(v, "v")
	if !semver.IsValid(v) {
		return ""
	}
	for _, d := range compilerDefaults {
		if semver.Compare(v, d.since) >= 0 {
			return d.version
		}
	}
	return "spuriousDragon"
}
