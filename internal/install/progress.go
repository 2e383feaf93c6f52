package install

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	okMark   = color.New(color.FgGreen).Sprint("[OK]")
	failMark = color.New(color.FgRed).Sprint("[FAIL]")
	warnMark = color.New(color.FgYellow).Sprint("[WARN]")
)

// Step prints msg padded to a column followed by the outcome of err.
func Step(w io.Writer, msg string, err error) {
	if err != nil {
		fmt.Fprintf(w, "%-70s%s\n", msg, failMark)
		return
	}
	fmt.Fprintf(w, "%-70s%s\n", msg, okMark)
}

// Warn prints msg with a warning marker.
func Warn(w io.Writer, msg string) {
	fmt.Fprintf(w, "%-70s%s\n", msg, warnMark)
}
