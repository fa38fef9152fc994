// Package buildinfo carries version data stamped in with -ldflags -X.
package buildinfo

import "runtime/debug"

var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

func Info() map[string]string {
    out := map[string]string{
        "version": Version,
        "commit":  Commit,
        "builtAt": BuiltAt,
    }
    if bi, ok := debug.ReadBuildInfo(); ok {
        out["goVersion"] = bi.GoVersion
        out["module"] = bi.Main.Path
        // fall back to VCS stamping when ldflags were not set
        for _, s := range bi.Settings {
            if s.Key == "vcs.revision" && out["commit"] == "" { out["commit"] = s.Value }
        }
    }
    return out
}
