package model

import "runtime/debug"

const SourceCodeURL = "https://github.com/JulianFP/project-W-runner"

type BuildInfo struct {
	Version   string
	GoVersion string
	Revision  string
	Time      string
	Dirty     bool
}

// ReadBuildInfo collects the module version and vcs settings stamped by the
// go toolchain. Missing values are reported as "unknown".
func ReadBuildInfo() BuildInfo {
	bi := BuildInfo{Version: "unknown", GoVersion: "unknown", Revision: "unknown"}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return bi
	}
	bi.GoVersion = info.GoVersion
	if info.Main.Version != "" {
		bi.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			bi.Revision = s.Value
		case "vcs.time":
			bi.Time = s.Value
		case "vcs.modified":
			bi.Dirty = s.Value == "true"
		}
	}
	return bi
}

// GitHash is the revision trimmed to the 40 characters the backend accepts.
func (b BuildInfo) GitHash() string {
	if len(b.Revision) > 40 {
		return b.Revision[:40]
	}
	return b.Revision
}
