package version

import (
	"fmt"
	"log"

	"github.com/pterm/pterm"
)

var (
	Name    = "proxypool"
	Version = "v0.0.1"
	Commit  = "none"
	Date    = "nowish"
)

// PrintVersionInfo writes a short banner to vlog, with build metadata when
// extendedInfo is set. Mirrors the teacher's startup banner, stripped of its
// ASCII art and hyperlink theming since this project carries no theme
// package of its own.
func PrintVersionInfo(extendedInfo bool, vlog *log.Logger) {
	vlog.Println(pterm.Bold.Sprintf("%s %s", Name, Version))

	if extendedInfo {
		vlog.Println(fmt.Sprintf("  commit: %s", Commit))
		vlog.Println(fmt.Sprintf("   built: %s", Date))
	}
}
