package version

import "fmt"

var (
	// GitCommit is the git commit the binary was built from, set by the
	// linker at build time.
	GitCommit string
	// GitDescribe is the most recent tag, set by the linker at build time.
	GitDescribe string

	Version           = "0.1.0"
	VersionPrerelease = "dev"
)

// GetHumanVersion composes the parts of the version into a human readable
// string, mirroring the convention used by the rest of the CertDeploy
// tooling (<describe-or-version>[-<prerelease>] (<commit>)). A build with
// neither a git describe nor a prerelease is reported with the "dev"
// prerelease.
func GetHumanVersion() string {
	version := Version
	if GitDescribe != "" {
		version = GitDescribe
	}

	release := VersionPrerelease
	if GitDescribe == "" && release == "" {
		release = "dev"
	}
	if release != "" {
		version += fmt.Sprintf("-%s", release)
	}

	if GitCommit != "" {
		version += fmt.Sprintf(" (%s)", GitCommit)
	}

	return version
}
