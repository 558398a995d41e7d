package version

import (
	"fmt"
	"log"
	"strings"

	"github.com/openjproxy/ojp/theme"
)

var (
	Name        = "ojp"
	Description = "Open J Proxy - remote SQL proxy"
	Version     = "v0.0.1"
	Commit      = "none"
	Date        = "nowish"
	User        = "local"
)

const (
	GithubHomeText = "github.com/openjproxy/ojp"
)

func PrintVersionInfo(extendedInfo bool, vlog *log.Logger) {
	var b strings.Builder

	b.WriteString(theme.ColourSplash(`
  ██████╗      ██╗██████╗
 ██╔═══██╗     ██║██╔══██╗
 ██║   ██║     ██║██████╔╝
 ██║   ██║██   ██║██╔═══╝
 ╚██████╔╝╚█████╔╝██║
  ╚═════╝  ╚════╝ ╚═╝` + "\n"))
	b.WriteString(theme.ColourSplash(" " + GithubHomeText + " "))
	b.WriteString(theme.ColourVersion(Version))

	if extendedInfo {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf(" Commit: %s\n", Commit))
		b.WriteString(fmt.Sprintf("  Built: %s\n", Date))
		b.WriteString(fmt.Sprintf("  Using: %s\n", User))
	}

	vlog.Println(b.String())
}
