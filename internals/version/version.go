// Package version reports which somedaex build is running.
package version

import (
	"runtime/debug"
	"strings"
	"sync"
)

// SemVer is stamped by release builds:
//
//	-ldflags "-X github.com/Oudwins/somedaex/internals/version.SemVer=1.2.3"
var SemVer = "0.0.0-dev"

type buildInfo struct {
	module   string
	revision string
	dirty    bool
}

var (
	infoOnce sync.Once
	info     buildInfo
)

func readBuildInfo() buildInfo {
	infoOnce.Do(func() {
		bi, ok := debug.ReadBuildInfo()
		if !ok || bi == nil {
			return
		}
		info = parseBuildInfo(bi)
	})
	return info
}

func parseBuildInfo(bi *debug.BuildInfo) buildInfo {
	out := buildInfo{module: strings.TrimSpace(bi.Main.Version)}
	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			out.revision = strings.TrimSpace(setting.Value)
			if len(out.revision) > 12 {
				out.revision = out.revision[:12]
			}
		case "vcs.modified":
			out.dirty = setting.Value == "true"
		}
	}
	return out
}

// metadata is the short VCS revision with a dirty marker for uncommitted
// builds. Empty when the build carries no VCS stamp.
func (b buildInfo) metadata() string {
	if b.revision == "" {
		return ""
	}
	if b.dirty {
		return b.revision + ".dirty"
	}
	return b.revision
}

// Version returns SemVer with build metadata appended, for example
// 1.2.3+a1b2c3d4e5f6 or 0.0.0-dev+a1b2c3d4e5f6.dirty. Binaries installed with
// go install fall back to the module version when SemVer was not stamped.
func Version() string {
	return format(SemVer, readBuildInfo())
}

func format(semver string, b buildInfo) string {
	v := strings.TrimSpace(semver)
	if (v == "" || v == "0.0.0-dev") && strings.HasPrefix(b.module, "v") {
		v = strings.TrimPrefix(b.module, "v")
	}
	if v == "" {
		v = "0.0.0-dev"
	}
	meta := b.metadata()
	if meta == "" || strings.Contains(v, "+") {
		return v
	}
	return v + "+" + meta
}
