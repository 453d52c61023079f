package buildconfig

import (
	"fmt"
	"runtime"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/Harshitk-cp/resona/internal/buildconfig.version=v1.2.0"
var (
	version = "dev"
	commit  = "unknown"
)

func Version() string {
	return version
}

func Commit() string {
	return commit
}

// Info is the build identity reported by /health and `resonactl version`.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

func Current() Info {
	return Info{Version: version, Commit: commit, GoVersion: runtime.Version()}
}

func (i Info) String() string {
	return fmt.Sprintf("resona %s (commit %s, %s)", i.Version, i.Commit, i.GoVersion)
}
