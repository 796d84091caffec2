package common

var (
	// PackageName is used as the metrics namespace and the default log service tag.
	PackageName = "election-ceremony-console"

	// Version is set at build time via -ldflags.
	Version = "dev"
)
