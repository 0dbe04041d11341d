// Package version carries the build identity stamped in by ldflags and
// exports it as the titledoctor_build_info gauge.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Set with -ldflags "-X .../internal/version.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "titledoctor_build_info",
	Help: "Always 1; labelled with the running build",
}, []string{"version", "commit", "go_version"})

var registerOnce sync.Once

// Info returns the build identity. When GitCommit was not stamped it falls
// back to the VCS revision the Go toolchain embeds.
func Info() VersionInfo {
	info := VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	if info.GitCommit != "unknown" {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.GitCommit = shortRevision(s.Value)
		case "vcs.time":
			if info.BuildTime == "unknown" {
				info.BuildTime = s.Value
			}
		}
	}
	return info
}

// VersionInfo holds all version-related information
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version,omitempty"`
}

// String renders "version (commit, built time)" for CLI output.
func (v VersionInfo) String() string {
	return fmt.Sprintf("%s (%s, built %s)", v.Version, v.GitCommit, v.BuildTime)
}

// Register exports the build info gauge on reg. Repeated calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		info := Info()
		buildInfo.WithLabelValues(info.Version, info.GitCommit, info.GoVersion).Set(1)
		reg.MustRegister(buildInfo)
	})
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
