package build

import (
	"fmt"
	"runtime/debug"
	"strings"
)

const (
	// AppMajor defines the major version of this binary.
	AppMajor uint = 0

	// AppMinor defines the minor version of this binary.
	AppMinor uint = 3

	// AppPatch defines the application patch for this binary.
	AppPatch uint = 0

	// AppPreRelease is appended to the version when set.
	AppPreRelease = "beta"
)

var (
	// Commit is set at link time with -ldflags "-X ...build.Commit=...".
	Commit string

	// RawTags is set at link time to the comma separated build tags.
	RawTags string

	// CommitHash and GoVersion are filled from the embedded build info.
	CommitHash string
	GoVersion  string
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	GoVersion = info.GoVersion
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			CommitHash = setting.Value
		}
	}
}

// Version returns the application version as a semver string.
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", AppMajor, AppMinor, AppPatch)
	if AppPreRelease != "" {
		version += "-" + AppPreRelease
	}

	return version
}

// Tags returns the build tags the binary was built with.
func Tags() []string {
	if RawTags == "" {
		return nil
	}

	return strings.Split(RawTags, ",")
}
