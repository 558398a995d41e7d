package theme

import (
	"github.com/pterm/pterm"
)

// Theme defines the colour scheme and styling for the application
type Theme struct {
	// Log level colours
	Debug *pterm.Style
	Info  *pterm.Style
	Warn  *pterm.Style
	Error *pterm.Style
	Fatal *pterm.Style

	// Component colours
	Success   *pterm.Style
	Highlight *pterm.Style
	Muted     *pterm.Style
	Accent    *pterm.Style

	// Proxy state colours
	Endpoint        *pterm.Style
	Session         *pterm.Style
	HealthHealthy   *pterm.Style
	HealthUnhealthy *pterm.Style
	Counts          *pterm.Style
}

// Default returns the default application theme
func Default() *Theme {
	return &Theme{
		Debug: pterm.NewStyle(pterm.FgLightBlue),
		Info:  pterm.NewStyle(pterm.FgGreen),
		Warn:  pterm.NewStyle(pterm.FgYellow, pterm.Bold),
		Error: pterm.NewStyle(pterm.FgRed, pterm.Bold),
		Fatal: pterm.NewStyle(pterm.FgWhite, pterm.BgRed, pterm.Bold),

		Success:   pterm.NewStyle(pterm.FgGreen, pterm.Bold),
		Highlight: pterm.NewStyle(pterm.FgCyan, pterm.Bold),
		Muted:     pterm.NewStyle(pterm.FgGray),
		Accent:    pterm.NewStyle(pterm.FgMagenta),

		Endpoint:        pterm.NewStyle(pterm.FgCyan),
		Session:         pterm.NewStyle(pterm.FgMagenta),
		HealthHealthy:   pterm.NewStyle(pterm.FgGreen, pterm.Bold),
		HealthUnhealthy: pterm.NewStyle(pterm.FgRed, pterm.Bold),
		Counts:          pterm.NewStyle(pterm.FgLightYellow),
	}
}

// Dark returns a dark theme variant
func Dark() *Theme {
	t := Default()
	t.Debug = pterm.NewStyle(pterm.FgLightBlue)
	t.Info = pterm.NewStyle(pterm.FgLightGreen)
	t.Warn = pterm.NewStyle(pterm.FgLightYellow, pterm.Bold)
	t.Error = pterm.NewStyle(pterm.FgLightRed, pterm.Bold)
	t.Endpoint = pterm.NewStyle(pterm.FgLightCyan)
	t.Session = pterm.NewStyle(pterm.FgLightMagenta)
	t.HealthHealthy = pterm.NewStyle(pterm.FgLightGreen, pterm.Bold)
	t.HealthUnhealthy = pterm.NewStyle(pterm.FgLightRed, pterm.Bold)
	return t
}

// GetTheme returns the appropriate theme based on environment or preference
func GetTheme(name string) *Theme {
	switch name {
	case "dark":
		return Dark()
	default:
		return Default()
	}
}

// ColourSplash Colours for the banner
func ColourSplash(message ...any) string {
	return pterm.LightGreen(message...)
}

// ColourVersion Colours version numbers, used for the banner
func ColourVersion(message ...any) string {
	return pterm.LightYellow(message...)
}
