package servers

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme holds the styles used by View. The zero value renders plain text.
//
// Selection (first match wins):
//  1. explicit name passed to LoadTheme
//  2. $REMOTE_PROJECTS_THEME = none | dark | light | catppuccin | catppuccin-mocha
//  3. dark when the terminal has color, none otherwise
type Theme struct {
	Header   lipgloss.Style
	Accent   lipgloss.Style
	Selected lipgloss.Style
	Project  lipgloss.Style
	Dim      lipgloss.Style
	Help     lipgloss.Style
	Error    lipgloss.Style
	Success  lipgloss.Style
	Warn     lipgloss.Style
	Frame    lipgloss.Style
}

const ThemeEnv = "REMOTE_PROJECTS_THEME"

// LoadTheme resolves a theme by name, then $REMOTE_PROJECTS_THEME, then terminal detection.
func LoadTheme(name string) Theme {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "auto" {
		name = strings.ToLower(strings.TrimSpace(os.Getenv(ThemeEnv)))
	}
	switch name {
	case "none", "off", "disabled":
		return NoTheme()
	case "light":
		return LightTheme()
	case "dark":
		return DarkTheme()
	case "catppuccin", "catppuccin-mocha", "mocha":
		return CatppuccinMochaTheme()
	}
	return AutoTheme()
}

// NoTheme disables all styling.
func NoTheme() Theme {
	plain := lipgloss.NewStyle()
	return Theme{
		Header: plain, Accent: plain, Selected: plain, Project: plain, Dim: plain,
		Help: plain, Error: plain, Success: plain, Warn: plain, Frame: plain.Padding(0, 1),
	}
}

// AutoTheme enables the dark palette when the terminal likely supports color.
func AutoTheme() Theme {
	if os.Getenv("NO_COLOR") != "" || strings.TrimSpace(os.Getenv("TERM")) == "dumb" {
		return NoTheme()
	}
	return DarkTheme()
}

func palette(header, accent, selected, project, dim, help, errc, success, warn, frame lipgloss.TerminalColor) Theme {
	return Theme{
		Header:   lipgloss.NewStyle().Bold(true).Foreground(header),
		Accent:   lipgloss.NewStyle().Foreground(accent),
		Selected: lipgloss.NewStyle().Bold(true).Foreground(selected),
		Project:  lipgloss.NewStyle().Foreground(project),
		Dim:      lipgloss.NewStyle().Foreground(dim),
		Help:     lipgloss.NewStyle().Foreground(help),
		Error:    lipgloss.NewStyle().Foreground(errc),
		Success:  lipgloss.NewStyle().Foreground(success),
		Warn:     lipgloss.NewStyle().Foreground(warn),
		Frame: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(frame).
			Padding(0, 1),
	}
}

// DarkTheme provides a sane default palette for dark terminals.
func DarkTheme() Theme {
	return palette(
		lipgloss.Color("15"), // header: bright white
		lipgloss.Color("6"),  // accent: cyan
		lipgloss.Color("15"), // selected
		lipgloss.Color("5"),  // project: magenta
		lipgloss.Color("8"),  // dim
		lipgloss.Color("6"),  // help
		lipgloss.Color("1"),  // error
		lipgloss.Color("2"),  // success
		lipgloss.Color("3"),  // warn
		lipgloss.Color("8"),  // frame
	)
}

// LightTheme provides a default palette for light terminals.
func LightTheme() Theme {
	return palette(
		lipgloss.Color("0"),
		lipgloss.Color("4"),
		lipgloss.Color("0"),
		lipgloss.Color("5"),
		lipgloss.Color("8"),
		lipgloss.Color("4"),
		lipgloss.Color("1"),
		lipgloss.Color("2"),
		lipgloss.Color("3"),
		lipgloss.Color("7"),
	)
}

// CatppuccinMochaTheme approximates Catppuccin Mocha with 256-color codes:
// mauve 183, lavender 147, peach 216, teal 44, subtext 245.
func CatppuccinMochaTheme() Theme {
	return palette(
		lipgloss.Color("183"),
		lipgloss.Color("44"),
		lipgloss.Color("216"),
		lipgloss.Color("147"),
		lipgloss.Color("245"),
		lipgloss.Color("44"),
		lipgloss.Color("203"),
		lipgloss.Color("114"),
		lipgloss.Color("215"),
		lipgloss.Color("240"),
	)
}

// SelectedPrefix returns a styled " > " or "   " prefix.
func (t Theme) SelectedPrefix(selected bool) string {
	if !selected {
		return "   "
	}
	return t.Selected.Render(" > ")
}
