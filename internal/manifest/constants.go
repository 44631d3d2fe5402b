package manifest

const (
	// GlobalName is the Lua global a manifest must assign.
	GlobalName = "cask"

	// VersionLatest makes the resolver query the livecheck source.
	VersionLatest = "latest"

	// NoCheck disables digest verification.
	NoCheck = "no_check"

	// StrategyFeed scans an Atom feed with the livecheck regex.
	StrategyFeed = "feed"
	// StrategyGitHubLatest reads tag_name from the GitHub latest-release API.
	StrategyGitHubLatest = "github_latest"

	// DefaultLivecheckRegex matches release tag links in a GitHub releases feed.
	DefaultLivecheckRegex = `(?i)/releases/tag/v?(\d+(?:\.\d+)*)`

	// DefaultMode is the permission applied to installed binaries.
	DefaultMode = 0o755

	// MaxManifestSize bounds the size of a manifest file.
	MaxManifestSize = 1 << 20

	// MaxZapTargets bounds the number of zap paths.
	MaxZapTargets = 64
)
