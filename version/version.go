package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// These variables are set during build time
var (
	// Version is the current version
	Version = "0.0.0"

	// Branch is current branch name the code is built off.
	Branch = "unknown"

	// Revision is the short commit hash of source tree
	Revision = "unknown"

	// BuiltAt is the build time
	BuiltAt = "unknown"
)

// Info contains version information
type Info struct {
	Version   string `json:"version"`
	Branch    string `json:"branch"`
	Revision  string `json:"revision"`
	BuiltAt   string `json:"builtAt"`
	GoVersion string `json:"goVersion"`
}

// GetVersionInfo returns version information. Values not set by ldflags fall
// back to the VCS stamp the toolchain embeds in the binary.
func GetVersionInfo() Info {
	info := Info{
		Version:   Version,
		Branch:    Branch,
		Revision:  Revision,
		BuiltAt:   BuiltAt,
		GoVersion: runtime.Version(),
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "0.0.0" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Revision == "unknown" && len(s.Value) >= 7 {
				info.Revision = s.Value[:7]
			}
		case "vcs.time":
			if info.BuiltAt == "unknown" {
				info.BuiltAt = s.Value
			}
		}
	}
	return info
}

// String formats the info on one line
func (i Info) String() string {
	return fmt.Sprintf("relay %s (%s, %s) built %s with %s",
		i.Version, i.Branch, i.Revision, i.BuiltAt, i.GoVersion)
}
