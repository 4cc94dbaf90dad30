package logger

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Level colours of the pretty handler.
var (
	debugColor = lipgloss.Color("#8B5CF6")
	infoColor  = lipgloss.Color("#667085")
	warnColor  = lipgloss.Color("#F59E0B")
	errorColor = lipgloss.Color("#D93025")
)

// Level markers prefixed to messages below info and at warn and error.
const (
	debugMarker = "●"
	warnMarker  = "!"
	errorMarker = "✗"
)

// colorProfile returns Ascii when NO_COLOR is set and the detected profile otherwise.
func colorProfile() termenv.Profile {
	if os.Getenv("NO_COLOR") != "" {
		return termenv.Ascii
	}
	return termenv.EnvColorProfile()
}

func newOutput(w io.Writer) *termenv.Output {
	return termenv.NewOutput(w, termenv.WithProfile(colorProfile()), termenv.WithTTY(true))
}

func rgb(c lipgloss.Color) termenv.Color {
	return termenv.RGBColor(string(c))
}
