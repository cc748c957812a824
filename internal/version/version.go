package version

import "fmt"

// Set at build time with -ldflags "-X .../internal/version.Version=...".
var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the build information for -version and the API.
func String() string {
	return fmt.Sprintf("dashcam %s (%s, built %s)", Version, GitSHA, BuildTime)
}
