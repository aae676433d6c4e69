// Package version reports build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the build line printed by `stocklisten version`. Unstamped
// builds fall back to the module version recorded by `go install`.
func String() string {
	v := Version
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			v = info.Main.Version
		}
	}
	return fmt.Sprintf("stocklisten %s (commit=%s, date=%s, go=%s)", v, Commit, Date, runtime.Version())
}
