// Package tui provides the terminal user interface for simlink.
package tui

import "github.com/gdamore/tcell/v2"

// Theme holds the colors and tview color tags for one palette.
type Theme struct {
	Name string

	Text    tcell.Color
	TextDim tcell.Color
	Border  tcell.Color
	Accent  tcell.Color

	TagText       string
	TagTextDim    string
	TagAccent     string
	TagPrimary    string
	TagSecondary  string
	TagSuccess    string
	TagError      string
	TagHotkey     string
	TagActionText string
	TagReset      string
}

var themes = []Theme{
	{
		Name:          "default",
		Text:          tcell.ColorWhite,
		TextDim:       tcell.ColorGray,
		Border:        tcell.ColorSteelBlue,
		Accent:        tcell.ColorGold,
		TagText:       "[#ffffff]",
		TagTextDim:    "[#808080]",
		TagAccent:     "[#ffd700]",
		TagPrimary:    "[#4682b4]",
		TagSecondary:  "[#20b2aa]",
		TagSuccess:    "[#32cd32]",
		TagError:      "[#ff4500]",
		TagHotkey:     "[#ffd700::b]",
		TagActionText: "[#c0c0c0::-]",
		TagReset:      "[-::-]",
	},
	{
		Name:          "mono",
		Text:          tcell.ColorWhite,
		TextDim:       tcell.ColorSilver,
		Border:        tcell.ColorWhite,
		Accent:        tcell.ColorWhite,
		TagText:       "[#ffffff]",
		TagTextDim:    "[#c0c0c0]",
		TagAccent:     "[#ffffff]",
		TagPrimary:    "[#ffffff]",
		TagSecondary:  "[#ffffff]",
		TagSuccess:    "[#ffffff]",
		TagError:      "[#ffffff::r]",
		TagHotkey:     "[#ffffff::bu]",
		TagActionText: "[#c0c0c0::-]",
		TagReset:      "[-::-]",
	},
}

// CurrentTheme is the active palette.
var CurrentTheme = themes[0]

var themeIndex int

// SetTheme activates the named theme. Unknown names keep the current one.
func SetTheme(name string) bool {
	for i, th := range themes {
		if th.Name == name {
			themeIndex = i
			CurrentTheme = th
			return true
		}
	}
	return false
}

// NextTheme cycles to the next theme and returns its name.
func NextTheme() string {
	themeIndex = (themeIndex + 1) % len(themes)
	CurrentTheme = themes[themeIndex]
	return CurrentTheme.Name
}

// GetThemeName returns the active theme name.
func GetThemeName() string {
	return CurrentTheme.Name
}

// Status indicator strings
const (
	StatusIndicatorRunning      = "[green]●[-]"
	StatusIndicatorIdle         = "[yellow]●[-]"
	StatusIndicatorConnecting   = "[yellow]◐[-]"
	StatusIndicatorDisconnected = "[gray]○[-]"
)

// Tab labels
const (
	TabTelemetry = "Telemetry"
	TabSinks     = "Sinks"
	TabDebug     = "Debug"
)

// Help text
const HelpText = `
 Keyboard Shortcuts
 ──────────────────────────────────────

 Navigation
   Shift+Tab    Switch tabs
   Escape       Close dialog
   ?            Show this help
   F6           Cycle theme
   F7           Toggle REST API
   F8           Toggle metrics endpoint

 Telemetry Tab
   s            Start / stop sampling
   p            Force publish to all sinks
   /            Filter names

 Sinks Tab
   c            Connect selected
   C            Disconnect selected

 Debug Tab
   c            Clear
   g / G        Top / bottom

 Application
   Q            Quit
`
