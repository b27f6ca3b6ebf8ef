package version

import (
	"fmt"
	"runtime"
)

// Set at build time with -ldflags "-X github.com/zsiec/lockstep/pkg/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

const product = "Lockstep"

type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func GetInfo() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, go: %s, platform: %s)",
		product, i.Version, i.GitCommit, i.BuildTime, i.GoVersion, i.Platform)
}

func (i Info) Short() string {
	return product + " " + i.Version
}

// UserAgent identifies the dashboard client to the control API.
func (i Info) UserAgent(client string) string {
	return fmt.Sprintf("%s/%s (%s)", client, i.Version, i.Platform)
}
