package mpwbuild

import (
	"fmt"

	"github.com/gookit/color"
)

// Debug and Verbose gate diagnostic output. They mirror the resolved
// configuration and are set once by Main before any pipeline work starts.
var (
	Debug   bool
	Verbose bool
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)

// color-compatible printer interface (works with *color.Theme and *color.Style)
type colorPrinter interface {
	Printf(format string, a ...any)
	Println(a ...any)
}

// cPrintf prints with a colored style or falls back to fmt.Printf when nil
func cPrintf(p colorPrinter, format string, a ...any) {
	if p == nil {
		fmt.Printf(format, a...)
		return
	}
	p.Printf(format, a...)
}

// arrowf prints the standard "-> message" progress line.
func arrowf(format string, a ...any) {
	colArrow.Print("-> ")
	colSuccess.Printf(format, a...)
}

// warnf prints the standard "-> warning" line.
func warnf(format string, a ...any) {
	colArrow.Print("-> ")
	colWarn.Printf(format, a...)
}

// debugf prints debug messages when Debug is true
func debugf(format string, args ...any) {
	if Debug {
		fmt.Printf(format, args...)
	}
}
