package version

var (
	// Version is the orchestrator release. Populated by the build system
	// via ldflags; the fallback matches the current release tag.
	Version = "v1.2.0"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)
