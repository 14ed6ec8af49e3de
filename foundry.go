package foundry

import (
	_ "embed"
)

// Version is the release of the synchronizer, read from the VERSION file.
//
//go:embed VERSION
var Version string
