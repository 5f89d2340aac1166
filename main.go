package main

import (
	"runtime/debug"

	"github.com/outpost-labs/okta-idx-go/cmd"
)

// overrideable by linker flags, but if not overridden, will be looked up from
// module build info
var Version = ""

func init() {
	if Version != "" {
		return
	}

	if buildinfo, ok := debug.ReadBuildInfo(); ok {
		Version = buildinfo.Main.Version
	}
}

func main() {
	cmd.Execute(Version)
}
