package install

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Prompter asks for missing values on a terminal.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter reads answers from in and writes questions to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// Ask prints help and prompt, and returns the trimmed answer or def when the
// answer is empty.
func (p *Prompter) Ask(prompt, help, def string) string {
	fmt.Fprintln(p.out)
	if help != "" {
		color.New(color.Faint).Fprintln(p.out, help)
	}
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", prompt)
	}

	input, err := p.in.ReadString('\n')
	if err != nil && input == "" {
		return def
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

// Confirm asks a yes/no question that defaults to no.
func (p *Prompter) Confirm(prompt string) bool {
	answer := p.Ask(prompt+" [y/N]", "", "")
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
}

// IsInteractive reports whether f is a terminal.
func IsInteractive(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
